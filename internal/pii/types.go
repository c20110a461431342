package pii

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrDetectorUnavailable indicates the primary detector could not be
	// reached or failed mid-call; the tokenizer falls back to patterns.
	ErrDetectorUnavailable = errors.New("pii: detector unavailable")

	// ErrStructureCorruption indicates a document no longer parses as JSON
	// around token substitution.
	ErrStructureCorruption = errors.New("pii: structure corruption")
)

// TokenPattern matches the placeholder grammar [PII_<CATEGORY>_<N>].
var TokenPattern = regexp.MustCompile(`\[PII_[A-Z0-9_]+_[1-9][0-9]*\]`)

// Span is a detected substring of interest with byte offsets into the
// source text. Spans live only within one Tokenize call.
type Span struct {
	Start    int
	End      int
	Category string
	Text     string
}

// Valid reports whether the span's offsets are sane for a text of the
// given byte length.
func (s Span) Valid(textLen int) bool {
	return s.Start >= 0 && s.Start < s.End && s.End <= textLen
}

// TokenMapping records token -> original value in allocation order.
// It marshals to a JSON object whose key order is the allocation order,
// so a stored mapping round-trips byte-identically.
type TokenMapping struct {
	tokens []string
	values map[string]string
}

// NewTokenMapping returns an empty mapping.
func NewTokenMapping() *TokenMapping {
	return &TokenMapping{values: make(map[string]string)}
}

// Set appends a token -> value pair. A token is never set twice within
// one session by construction.
func (m *TokenMapping) Set(token, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, exists := m.values[token]; !exists {
		m.tokens = append(m.tokens, token)
	}
	m.values[token] = value
}

// Value returns the original value for a token.
func (m *TokenMapping) Value(token string) (string, bool) {
	v, ok := m.values[token]
	return v, ok
}

// Len returns the number of recorded tokens.
func (m *TokenMapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.tokens)
}

// Tokens returns the tokens in allocation order.
func (m *TokenMapping) Tokens() []string {
	out := make([]string, len(m.tokens))
	copy(out, m.tokens)
	return out
}

// MarshalJSON writes the mapping as an object in allocation order.
func (m *TokenMapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, tok := range m.tokens {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(tok)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(m.values[tok])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping its key order as the
// allocation order.
func (m *TokenMapping) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	t, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := t.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("token mapping: expected JSON object, got %v", t)
	}

	m.tokens = nil
	m.values = make(map[string]string)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("token mapping: non-string key %v", kt)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("token mapping: value for %q: %w", key, err)
		}
		m.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// TokenizationResult is the outcome of one Tokenize call. The caller
// owns the mapping and threads it through the AI call, storage, and
// detokenization.
type TokenizationResult struct {
	TokenizedText string
	Mapping       *TokenMapping
	Detector      string
}

// CategoryCounts summarizes how many tokens were allocated per
// category. Safe to broadcast: it never carries original values.
func (r *TokenizationResult) CategoryCounts() map[string]int {
	counts := make(map[string]int)
	for _, tok := range r.Mapping.Tokens() {
		sub := TokenPattern.FindString(tok)
		if sub == "" {
			continue
		}
		// [PII_CATEGORY_N] -> CATEGORY
		inner := sub[len("[PII_") : len(sub)-1]
		if i := lastIndexByte(inner, '_'); i > 0 {
			counts[inner[:i]]++
		}
	}
	return counts
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}
