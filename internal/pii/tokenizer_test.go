package pii

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/logger"
)

func nopLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func newPatternTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	fallback, err := NewPatternDetector([]string{"all"}, nopLogger())
	if err != nil {
		t.Fatalf("Failed to create pattern detector: %v", err)
	}
	return NewTokenizer(nil, fallback, nopLogger())
}

// failingDetector simulates an unavailable primary detector.
type failingDetector struct{}

func (failingDetector) Name() string { return "failing" }
func (failingDetector) Detect(context.Context, string) ([]Span, error) {
	return nil, ErrDetectorUnavailable
}

// staticDetector returns a fixed span set regardless of input.
type staticDetector struct {
	spans []Span
}

func (staticDetector) Name() string { return "static" }
func (d staticDetector) Detect(_ context.Context, _ string) ([]Span, error) {
	return d.spans, nil
}

func TestTokenize(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyInput", func(t *testing.T) {
		tok := newPatternTokenizer(t)
		result, err := tok.Tokenize(ctx, "")
		if err != nil {
			t.Fatalf("Tokenize failed: %v", err)
		}
		if result.TokenizedText != "" {
			t.Errorf("Expected empty output, got %q", result.TokenizedText)
		}
		if result.Mapping.Len() != 0 {
			t.Errorf("Expected empty mapping, got %d entries", result.Mapping.Len())
		}
	})

	t.Run("NoPIIIsIdentity", func(t *testing.T) {
		tok := newPatternTokenizer(t)
		input := "the quick brown fox jumps over the lazy dog"
		result, err := tok.Tokenize(ctx, input)
		if err != nil {
			t.Fatalf("Tokenize failed: %v", err)
		}
		if result.TokenizedText != input {
			t.Errorf("Text without PII was modified: %q", result.TokenizedText)
		}
		if result.Mapping.Len() != 0 {
			t.Errorf("Expected empty mapping, got %d entries", result.Mapping.Len())
		}
	})

	t.Run("RoundTripRestoration", func(t *testing.T) {
		tok := newPatternTokenizer(t)
		input := "Contact Jane Smith at jane.smith@example.com or 555-123-4567. " +
			"Server logs at https://logs.example.com/x show 192.168.1.10."
		result, err := tok.Tokenize(ctx, input)
		if err != nil {
			t.Fatalf("Tokenize failed: %v", err)
		}
		if result.Mapping.Len() == 0 {
			t.Fatal("Expected PII to be detected")
		}
		restored := Detokenize(result.TokenizedText, result.Mapping)
		if restored != input {
			t.Errorf("Round trip mismatch:\n got: %q\nwant: %q", restored, input)
		}
	})

	t.Run("NoLeakage", func(t *testing.T) {
		tok := newPatternTokenizer(t)
		input := "Email a.user@corp.example and b.user@corp.example about 4111-1111-1111-1111"
		result, err := tok.Tokenize(ctx, input)
		if err != nil {
			t.Fatalf("Tokenize failed: %v", err)
		}
		for _, token := range result.Mapping.Tokens() {
			original, _ := result.Mapping.Value(token)
			if strings.Contains(result.TokenizedText, original) {
				t.Errorf("Original value %q leaked into tokenized text", original)
			}
		}
	})

	t.Run("TokenUniqueness", func(t *testing.T) {
		tok := newPatternTokenizer(t)
		input := "same@example.com appears twice: same@example.com"
		result, err := tok.Tokenize(ctx, input)
		if err != nil {
			t.Fatalf("Tokenize failed: %v", err)
		}
		tokens := result.Mapping.Tokens()
		if len(tokens) != 2 {
			t.Fatalf("Expected 2 tokens for repeated value, got %d", len(tokens))
		}
		if tokens[0] == tokens[1] {
			t.Errorf("Repeated value reused token %q", tokens[0])
		}
	})

	t.Run("CategoryCountersIndependent", func(t *testing.T) {
		tok := newPatternTokenizer(t)
		input := "Alice Johnson met Robert Brown, email hq@example.org"
		result, err := tok.Tokenize(ctx, input)
		if err != nil {
			t.Fatalf("Tokenize failed: %v", err)
		}
		for _, want := range []string{"[PII_PERSON_1]", "[PII_PERSON_2]", "[PII_EMAIL_1]"} {
			if !strings.Contains(result.TokenizedText, want) {
				t.Errorf("Expected token %s in %q", want, result.TokenizedText)
			}
		}
	})

	t.Run("OffsetSafety", func(t *testing.T) {
		// Naive forward-order replacement corrupts the second span's
		// offsets because the first token changes the text length.
		tok := newPatternTokenizer(t)
		input := "X@a.com and Y@b.com"
		result, err := tok.Tokenize(ctx, input)
		if err != nil {
			t.Fatalf("Tokenize failed: %v", err)
		}
		if strings.Contains(result.TokenizedText, "X@a.com") || strings.Contains(result.TokenizedText, "Y@b.com") {
			t.Errorf("Original emails survived tokenization: %q", result.TokenizedText)
		}
		if got := len(TokenPattern.FindAllString(result.TokenizedText, -1)); got != 2 {
			t.Errorf("Expected exactly 2 tokens, got %d in %q", got, result.TokenizedText)
		}
		if restored := Detokenize(result.TokenizedText, result.Mapping); restored != input {
			t.Errorf("Round trip mismatch: %q", restored)
		}
	})

	t.Run("FallbackActivation", func(t *testing.T) {
		fallback, err := NewPatternDetector([]string{"all"}, nopLogger())
		if err != nil {
			t.Fatalf("Failed to create pattern detector: %v", err)
		}
		tok := NewTokenizer(failingDetector{}, fallback, nopLogger())

		result, err := tok.Tokenize(ctx, "Email me at a@b.com")
		if err != nil {
			t.Fatalf("Tokenize failed: %v", err)
		}
		value, ok := result.Mapping.Value("[PII_EMAIL_1]")
		if !ok {
			t.Fatalf("Expected [PII_EMAIL_1] in mapping, got %v", result.Mapping.Tokens())
		}
		if value != "a@b.com" {
			t.Errorf("Expected a@b.com, got %q", value)
		}
	})

	t.Run("InvalidSpansDropped", func(t *testing.T) {
		input := "Hello world"
		primary := staticDetector{spans: []Span{
			{Start: -1, End: 5, Category: "PERSON", Text: "Hello"},
			{Start: 6, End: 100, Category: "PERSON", Text: "world"},
			{Start: 8, End: 4, Category: "PERSON"},
			{Start: 0, End: 5, Category: "GREETING", Text: "Hello"},
		}}
		fallback, _ := NewPatternDetector(nil, nopLogger())
		tok := NewTokenizer(primary, fallback, nopLogger())

		result, err := tok.Tokenize(context.Background(), input)
		if err != nil {
			t.Fatalf("Tokenize failed: %v", err)
		}
		if result.TokenizedText != "[PII_GREETING_1] world" {
			t.Errorf("Unexpected output: %q", result.TokenizedText)
		}
	})

	t.Run("OverlapPrefersLongerSpan", func(t *testing.T) {
		input := "meeting on January 5, 2025 in Boston"
		primary := staticDetector{spans: []Span{
			{Start: 11, End: 26, Category: "DATE_TIME", Text: "January 5, 2025"},
			{Start: 11, End: 18, Category: "LOCATION", Text: "January"},
			{Start: 30, End: 36, Category: "LOCATION", Text: "Boston"},
		}}
		fallback, _ := NewPatternDetector(nil, nopLogger())
		tok := NewTokenizer(primary, fallback, nopLogger())

		result, err := tok.Tokenize(context.Background(), input)
		if err != nil {
			t.Fatalf("Tokenize failed: %v", err)
		}
		want := "meeting on [PII_DATE_TIME_1] in [PII_LOCATION_1]"
		if result.TokenizedText != want {
			t.Errorf("Overlap resolution produced %q, want %q", result.TokenizedText, want)
		}
	})
}

func TestNormalizeCategory(t *testing.T) {
	cases := map[string]string{
		"EMAIL_ADDRESS": "EMAIL_ADDRESS",
		"email address": "EMAIL_ADDRESS",
		"Us-Ssn":        "US_SSN",
		"crédit":        "CR_DIT",
		"":              "UNKNOWN",
		"___":           "UNKNOWN",
	}
	for in, want := range cases {
		if got := NormalizeCategory(in); got != want {
			t.Errorf("NormalizeCategory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectorFallbackError(t *testing.T) {
	if !errors.Is(ErrDetectorUnavailable, ErrDetectorUnavailable) {
		t.Fatal("sentinel identity broken")
	}
}
