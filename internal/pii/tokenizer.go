package pii

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/logger"
)

// Tokenizer detects PII spans and rewrites the text with placeholder
// tokens. Its fields are immutable after construction; all per-call
// state (counters, mapping) lives in a fresh allocator, so one
// Tokenizer may be shared by concurrent callers.
type Tokenizer struct {
	primary  SpanDetector // may be nil
	fallback SpanDetector
	logger   *logger.Logger
}

// NewTokenizer builds a tokenizer. primary may be nil, in which case
// the fallback detector is used directly. fallback must never be nil.
func NewTokenizer(primary, fallback SpanDetector, log *logger.Logger) *Tokenizer {
	return &Tokenizer{
		primary:  primary,
		fallback: fallback,
		logger:   log,
	}
}

// Tokenize replaces every detected PII span with a unique placeholder
// token and returns the rewritten text with the session mapping. It
// never fails outright: a broken primary detector degrades to the
// pattern fallback, and invalid spans are dropped.
func (t *Tokenizer) Tokenize(ctx context.Context, text string) (*TokenizationResult, error) {
	if text == "" {
		return &TokenizationResult{TokenizedText: "", Mapping: NewTokenMapping()}, nil
	}

	spans, detectorName := t.detect(ctx, text)
	spans = t.validate(spans, len(text))
	spans = resolveOverlaps(spans)

	// Replace from the highest offset down so earlier span offsets are
	// never invalidated by the rewrite.
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start > spans[j].Start })

	alloc := newAllocator()
	out := []byte(text)
	for _, s := range spans {
		token := alloc.next(s.Category, s.Text)
		out = append(out[:s.Start], append([]byte(token), out[s.End:]...)...)
	}

	if t.logger != nil && alloc.mapping.Len() > 0 {
		t.logger.Debug("PII tokenized",
			zap.String("detector", detectorName),
			zap.Int("entities", alloc.mapping.Len()),
		)
	}

	return &TokenizationResult{
		TokenizedText: string(out),
		Mapping:       alloc.mapping,
		Detector:      detectorName,
	}, nil
}

// detect runs the primary detector and falls back to patterns when it
// errors. Availability beats strict correctness here: a degraded
// detection is logged, never surfaced.
func (t *Tokenizer) detect(ctx context.Context, text string) ([]Span, string) {
	if t.primary != nil {
		spans, err := t.primary.Detect(ctx, text)
		if err == nil {
			return spans, t.primary.Name()
		}
		if t.logger != nil {
			t.logger.Warn("Primary detector failed, using fallback",
				zap.String("detector", t.primary.Name()),
				zap.Error(err),
			)
		}
	}

	spans, err := t.fallback.Detect(ctx, text)
	if err != nil {
		// The pattern detector cannot fail in practice; treat an error
		// as an empty detection rather than aborting.
		if t.logger != nil {
			t.logger.Error("Fallback detector failed", zap.Error(err))
		}
		return nil, t.fallback.Name()
	}
	return spans, t.fallback.Name()
}

// validate drops spans with out-of-bounds or inverted offsets.
func (t *Tokenizer) validate(spans []Span, textLen int) []Span {
	valid := spans[:0]
	for _, s := range spans {
		if !s.Valid(textLen) {
			if t.logger != nil {
				t.logger.Warn("Dropping invalid span",
					zap.Int("start", s.Start),
					zap.Int("end", s.End),
					zap.String("category", s.Category),
				)
			}
			continue
		}
		valid = append(valid, s)
	}
	return valid
}

// resolveOverlaps picks a deterministic winner among overlapping
// spans: longer span first, then earlier start, then the
// lexicographically smaller category. Losers are dropped.
func resolveOverlaps(spans []Span) []Span {
	if len(spans) < 2 {
		return spans
	}

	ranked := make([]Span, len(spans))
	copy(ranked, spans)
	sort.Slice(ranked, func(i, j int) bool {
		li, lj := ranked[i].End-ranked[i].Start, ranked[j].End-ranked[j].Start
		if li != lj {
			return li > lj
		}
		if ranked[i].Start != ranked[j].Start {
			return ranked[i].Start < ranked[j].Start
		}
		return ranked[i].Category < ranked[j].Category
	})

	var kept []Span
	for _, s := range ranked {
		if !overlapsAny(s, kept) {
			kept = append(kept, s)
		}
	}
	return kept
}
