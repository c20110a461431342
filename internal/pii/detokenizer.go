package pii

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Detokenize restores original values by literal, whole-token
// substring replacement. Tokens absent from the mapping are left
// untouched, which supports partial restoration. Replacement iterates
// in reverse allocation order so a value that itself embeds an
// earlier token is still fully restored; for well-formed token sets
// the order is unobservable since no whole token is a substring of
// another.
func Detokenize(text string, mapping *TokenMapping) string {
	if mapping.Len() == 0 {
		return text
	}
	tokens := mapping.Tokens()
	for i := len(tokens) - 1; i >= 0; i-- {
		value, _ := mapping.Value(tokens[i])
		text = strings.ReplaceAll(text, tokens[i], value)
	}
	return text
}

// DetokenizeDocument restores original values inside a JSON document
// by walking its typed tree and substituting tokens in every string
// leaf: object keys and values, array elements, nested arbitrarily.
// Operating on the tree instead of the raw bytes means a restored
// value containing quotes or backslashes is re-escaped correctly on
// serialization.
//
// If the input does not parse, the error wraps ErrStructureCorruption
// and the caller keeps the pre-substitution document.
func DetokenizeDocument(raw []byte, mapping *TokenMapping) ([]byte, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructureCorruption, err)
	}

	restored := detokenizeValue(doc, mapping)

	out, err := json.Marshal(restored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructureCorruption, err)
	}
	return out, nil
}

func detokenizeValue(v interface{}, mapping *TokenMapping) interface{} {
	switch val := v.(type) {
	case string:
		return Detokenize(val, mapping)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[Detokenize(k, mapping)] = detokenizeValue(inner, mapping)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = detokenizeValue(inner, mapping)
		}
		return out
	default:
		return v
	}
}
