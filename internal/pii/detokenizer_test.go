package pii

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDetokenize(t *testing.T) {
	t.Run("PartialMappingTolerance", func(t *testing.T) {
		mapping := NewTokenMapping()
		mapping.Set("[PII_PERSON_1]", "Ann")

		got := Detokenize("[PII_PERSON_1] and [PII_EMAIL_1]", mapping)
		if got != "Ann and [PII_EMAIL_1]" {
			t.Errorf("Got %q", got)
		}
	})

	t.Run("EmptyMapping", func(t *testing.T) {
		input := "[PII_PERSON_1] stays"
		if got := Detokenize(input, NewTokenMapping()); got != input {
			t.Errorf("Got %q", got)
		}
	})

	t.Run("LiteralNotPattern", func(t *testing.T) {
		// Values with regex metacharacters must be inserted verbatim.
		mapping := NewTokenMapping()
		mapping.Set("[PII_URL_1]", `https://x.example/?q=a+b&r=(c)`)

		got := Detokenize("see [PII_URL_1]", mapping)
		if got != `see https://x.example/?q=a+b&r=(c)` {
			t.Errorf("Got %q", got)
		}
	})

	t.Run("NoPartialTokenConfusion", func(t *testing.T) {
		// [PII_EMAIL_1] must not be replaced inside [PII_EMAIL_10].
		mapping := NewTokenMapping()
		mapping.Set("[PII_EMAIL_1]", "one@example.com")

		got := Detokenize("[PII_EMAIL_10] then [PII_EMAIL_1]", mapping)
		if got != "[PII_EMAIL_10] then one@example.com" {
			t.Errorf("Got %q", got)
		}
	})
}

func TestDetokenizeDocument(t *testing.T) {
	t.Run("NestedStructure", func(t *testing.T) {
		mapping := NewTokenMapping()
		mapping.Set("[PII_PERSON_1]", "Jane Smith")
		mapping.Set("[PII_EMAIL_1]", "jane@example.com")

		raw := []byte(`{
			"contract_summary": {"main_parties": ["[PII_PERSON_1]", "Acme Corp"]},
			"notes": "reach [PII_PERSON_1] at [PII_EMAIL_1]"
		}`)

		out, err := DetokenizeDocument(raw, mapping)
		if err != nil {
			t.Fatalf("DetokenizeDocument failed: %v", err)
		}

		var doc map[string]interface{}
		if err := json.Unmarshal(out, &doc); err != nil {
			t.Fatalf("Output is not valid JSON: %v", err)
		}
		if doc["notes"] != "reach Jane Smith at jane@example.com" {
			t.Errorf("notes = %v", doc["notes"])
		}
		parties := doc["contract_summary"].(map[string]interface{})["main_parties"].([]interface{})
		if parties[0] != "Jane Smith" {
			t.Errorf("parties[0] = %v", parties[0])
		}
	})

	t.Run("ValueWithQuotesStaysValidJSON", func(t *testing.T) {
		// The fragile strategy (replace over serialized bytes, reparse)
		// breaks here; the tree walk must not.
		mapping := NewTokenMapping()
		mapping.Set("[PII_PERSON_1]", `Jane "JJ" Smith`)

		out, err := DetokenizeDocument([]byte(`{"party": "[PII_PERSON_1]"}`), mapping)
		if err != nil {
			t.Fatalf("DetokenizeDocument failed: %v", err)
		}
		var doc map[string]string
		if err := json.Unmarshal(out, &doc); err != nil {
			t.Fatalf("Output is not valid JSON: %v\n%s", err, out)
		}
		if doc["party"] != `Jane "JJ" Smith` {
			t.Errorf("party = %q", doc["party"])
		}
	})

	t.Run("MalformedInputSignalsCorruption", func(t *testing.T) {
		_, err := DetokenizeDocument([]byte(`{"broken":`), NewTokenMapping())
		if err == nil {
			t.Fatal("Expected error for malformed document")
		}
		if !strings.Contains(err.Error(), "structure corruption") {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("TokenInObjectKey", func(t *testing.T) {
		mapping := NewTokenMapping()
		mapping.Set("[PII_PERSON_1]", "Ann")

		out, err := DetokenizeDocument([]byte(`{"[PII_PERSON_1]": "owner"}`), mapping)
		if err != nil {
			t.Fatalf("DetokenizeDocument failed: %v", err)
		}
		var doc map[string]string
		if err := json.Unmarshal(out, &doc); err != nil {
			t.Fatalf("Output is not valid JSON: %v", err)
		}
		if doc["Ann"] != "owner" {
			t.Errorf("doc = %v", doc)
		}
	})
}

func TestTokenMappingJSON(t *testing.T) {
	mapping := NewTokenMapping()
	mapping.Set("[PII_PERSON_1]", "Ann")
	mapping.Set("[PII_EMAIL_1]", "ann@example.com")
	mapping.Set("[PII_PERSON_2]", "Bob")

	data, err := json.Marshal(mapping)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"[PII_PERSON_1]":"Ann","[PII_EMAIL_1]":"ann@example.com","[PII_PERSON_2]":"Bob"}`
	if string(data) != want {
		t.Errorf("Marshal order not preserved:\n got %s\nwant %s", data, want)
	}

	var back TokenMapping
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got := back.Tokens(); len(got) != 3 || got[0] != "[PII_PERSON_1]" || got[2] != "[PII_PERSON_2]" {
		t.Errorf("Unmarshal lost allocation order: %v", got)
	}
	if v, _ := back.Value("[PII_EMAIL_1]"); v != "ann@example.com" {
		t.Errorf("Value lost: %q", v)
	}
}
