package ner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/config"
	"github.com/wardenhq/contract-warden/internal/logger"
	"github.com/wardenhq/contract-warden/internal/pii"
)

// DefaultLabels is the CoNLL-2003 BIO label set most public NER
// checkpoints ship with.
var DefaultLabels = []string{
	"O",
	"B-PER", "I-PER",
	"B-ORG", "I-ORG",
	"B-LOC", "I-LOC",
	"B-MISC", "I-MISC",
}

// categoryNames maps BIO entity suffixes onto the detector categories
// used for token allocation.
var categoryNames = map[string]string{
	"PER":  "PERSON",
	"ORG":  "ORGANIZATION",
	"LOC":  "LOCATION",
	"MISC": "MISC",
}

// Detector is a local token-classification span detector for
// air-gapped deployments. It satisfies the same contract as the
// remote analyzer and the regex fallback.
type Detector struct {
	encoder    *Encoder
	classifier TokenClassifier
	labels     []string
	logger     *logger.Logger

	// Inference through the native runtime is serialized.
	mu sync.Mutex
}

// NewDetector loads the vocabulary and the ONNX session. In builds
// without the 'onnx' tag the classifier is a stub and every Detect
// call reports the detector unavailable, which sends the tokenizer to
// the pattern fallback.
func NewDetector(cfg config.NERConfig, log *logger.Logger) (*Detector, error) {
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = 512
	}
	encoder, err := NewEncoder(cfg.VocabPath, maxLength)
	if err != nil {
		return nil, fmt.Errorf("ner encoder: %w", err)
	}

	labels := cfg.Labels
	if len(labels) == 0 {
		labels = DefaultLabels
	}

	classifier := NewTokenClassifier(log.Logger, cfg.ModelPath, maxLength, len(labels))
	if classifier.IsReady() {
		log.Info("NER detector ready",
			zap.String("model", cfg.ModelPath),
			zap.Int("labels", len(labels)),
			zap.Int("max_length", maxLength),
		)
	} else {
		log.Warn("NER classifier not available in this build; detection will fall back to patterns")
	}

	return &Detector{
		encoder:    encoder,
		classifier: classifier,
		labels:     labels,
		logger:     log,
	}, nil
}

// Name identifies the detector in logs and events.
func (d *Detector) Name() string { return "ner" }

// Detect encodes the text, runs inference, and decodes BIO tags back
// into byte spans on the original text.
func (d *Detector) Detect(ctx context.Context, text string) ([]pii.Span, error) {
	if !d.classifier.IsReady() {
		return nil, fmt.Errorf("%w: ner classifier not ready", pii.ErrDetectorUnavailable)
	}

	enc := d.encoder.Encode(text)

	d.mu.Lock()
	logits, err := d.classifier.Classify(ctx, enc)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pii.ErrDetectorUnavailable, err)
	}
	if len(logits) < len(enc.Pieces) {
		return nil, fmt.Errorf("%w: logits shorter than sequence (%d < %d)",
			pii.ErrDetectorUnavailable, len(logits), len(enc.Pieces))
	}

	return d.decode(text, enc, logits), nil
}

// Close releases the classifier's native resources.
func (d *Detector) Close() error {
	return d.classifier.Close()
}

// decode argmaxes each position and merges BIO-tagged pieces into
// spans. A B-X starts an entity, I-X continues a matching one, and an
// I-X with no open entity starts a new one (lenient decoding).
func (d *Detector) decode(text string, enc *Encoding, logits [][]float32) []pii.Span {
	var spans []pii.Span
	var open *pii.Span
	openEntity := ""

	closeOpen := func() {
		if open != nil {
			open.Text = text[open.Start:open.End]
			spans = append(spans, *open)
			open = nil
			openEntity = ""
		}
	}

	for i, piece := range enc.Pieces {
		if piece.Special || enc.AttentionMask[i] == 0 {
			closeOpen()
			continue
		}

		label := d.labels[argmax(logits[i])]
		switch {
		case label == "O":
			closeOpen()
		case strings.HasPrefix(label, "B-"):
			closeOpen()
			entity := label[2:]
			open = &pii.Span{Start: piece.Start, End: piece.End, Category: categoryName(entity)}
			openEntity = entity
		case strings.HasPrefix(label, "I-"):
			entity := label[2:]
			if open != nil && openEntity == entity {
				open.End = piece.End
			} else {
				closeOpen()
				open = &pii.Span{Start: piece.Start, End: piece.End, Category: categoryName(entity)}
				openEntity = entity
			}
		default:
			closeOpen()
		}
	}
	closeOpen()
	return spans
}

func categoryName(entity string) string {
	if name, ok := categoryNames[entity]; ok {
		return name
	}
	return entity
}

func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
