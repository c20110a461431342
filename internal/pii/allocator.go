package pii

import (
	"fmt"
	"strings"
	"unicode"
)

// allocator hands out session-scoped placeholder tokens. Counters are
// per normalized category, start at 1, and are never reused. A fresh
// allocator is constructed for every Tokenize call, so a shared
// Tokenizer stays safe for concurrent use.
type allocator struct {
	counters map[string]int
	mapping  *TokenMapping
}

func newAllocator() *allocator {
	return &allocator{
		counters: make(map[string]int),
		mapping:  NewTokenMapping(),
	}
}

// next allocates a token for the category and records the original
// value in the session mapping. Repeated identical values still get
// distinct tokens.
func (a *allocator) next(category, original string) string {
	normalized := NormalizeCategory(category)
	a.counters[normalized]++
	token := fmt.Sprintf("[PII_%s_%d]", normalized, a.counters[normalized])
	a.mapping.Set(token, original)
	return token
}

// NormalizeCategory maps a detector label onto the token grammar:
// uppercase, with any rune outside [A-Z0-9_] replaced by '_'. An empty
// result becomes UNKNOWN.
func NormalizeCategory(label string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(label) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '.':
			b.WriteByte('_')
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "UNKNOWN"
	}
	return out
}
