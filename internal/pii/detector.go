package pii

import "context"

// SpanDetector finds candidate PII spans in text. Implementations must
// be side-effect free with respect to the text and deterministic for a
// fixed input. A failing detector returns an error wrapping
// ErrDetectorUnavailable so the tokenizer can substitute the fallback.
type SpanDetector interface {
	Name() string
	Detect(ctx context.Context, text string) ([]Span, error)
}
