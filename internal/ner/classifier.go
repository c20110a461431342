package ner

import "context"

// TokenClassifier runs token-classification inference over an encoded
// input and returns one logit vector per sequence position.
// Implementations live behind build tags: the real ONNX Runtime
// backend requires the 'onnx' tag, the default build gets a stub that
// reports itself unavailable so the detector factory falls back to
// patterns.
type TokenClassifier interface {
	// Classify returns logits shaped [seq][labels] for the encoding.
	Classify(ctx context.Context, enc *Encoding) ([][]float32, error)
	// IsReady reports whether the backend is initialized.
	IsReady() bool
	// Close releases any native resources.
	Close() error
}
