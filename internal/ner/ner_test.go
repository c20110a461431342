package ner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/config"
	"github.com/wardenhq/contract-warden/internal/logger"
)

// writeVocab writes a minimal vocab file: specials first, then the
// listed tokens.
func writeVocab(t *testing.T, tokens ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.txt")
	content := "[PAD]\n[UNK]\n[CLS]\n[SEP]\n"
	for _, tok := range tokens {
		content += tok + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	return path
}

func TestEncoder(t *testing.T) {
	t.Run("OffsetsAndSpecials", func(t *testing.T) {
		vocab := writeVocab(t, "jane", "smith", "lives", "in", "boston", ".")
		enc, err := NewEncoder(vocab, 16)
		if err != nil {
			t.Fatalf("NewEncoder failed: %v", err)
		}

		e := enc.Encode("Jane Smith lives in Boston.")
		if e.InputIDs[0] != 2 { // [CLS]
			t.Errorf("Expected [CLS] first, got %d", e.InputIDs[0])
		}
		if !e.Pieces[0].Special {
			t.Error("First piece should be special")
		}
		// "jane" is piece 1 at bytes [0,4)
		if e.Pieces[1].Start != 0 || e.Pieces[1].End != 4 {
			t.Errorf("jane offsets = [%d,%d)", e.Pieces[1].Start, e.Pieces[1].End)
		}
		// "boston" at bytes [20,26), "." at [26,27)
		if e.Pieces[5].Start != 20 || e.Pieces[5].End != 26 {
			t.Errorf("boston offsets = [%d,%d)", e.Pieces[5].Start, e.Pieces[5].End)
		}
		if len(e.InputIDs) != 16 {
			t.Errorf("Expected padded length 16, got %d", len(e.InputIDs))
		}
		if e.AttentionMask[15] != 0 {
			t.Error("Padding should have zero attention")
		}
	})

	t.Run("WordpieceContinuation", func(t *testing.T) {
		vocab := writeVocab(t, "law", "##yer")
		enc, err := NewEncoder(vocab, 8)
		if err != nil {
			t.Fatalf("NewEncoder failed: %v", err)
		}

		e := enc.Encode("lawyer")
		// [CLS] law ##yer [SEP]
		if e.InputIDs[1] != 4 || e.InputIDs[2] != 5 {
			t.Errorf("Unexpected ids: %v", e.InputIDs[:4])
		}
		if e.Pieces[1].Start != 0 || e.Pieces[1].End != 3 {
			t.Errorf("law offsets = [%d,%d)", e.Pieces[1].Start, e.Pieces[1].End)
		}
		if e.Pieces[2].Start != 3 || e.Pieces[2].End != 6 {
			t.Errorf("##yer offsets = [%d,%d)", e.Pieces[2].Start, e.Pieces[2].End)
		}
	})

	t.Run("UnknownWordBecomesUNK", func(t *testing.T) {
		vocab := writeVocab(t, "hello")
		enc, err := NewEncoder(vocab, 8)
		if err != nil {
			t.Fatalf("NewEncoder failed: %v", err)
		}
		e := enc.Encode("zzz")
		if e.InputIDs[1] != 1 { // [UNK]
			t.Errorf("Expected [UNK], got %d", e.InputIDs[1])
		}
		if e.Pieces[1].Start != 0 || e.Pieces[1].End != 3 {
			t.Errorf("unk offsets = [%d,%d)", e.Pieces[1].Start, e.Pieces[1].End)
		}
	})
}

// fixedClassifier returns canned labels per sequence position.
type fixedClassifier struct {
	labels    []string
	perPiece  []string // label name per position, "" means O
	numLabels int
}

func (f fixedClassifier) IsReady() bool { return true }
func (f fixedClassifier) Close() error  { return nil }
func (f fixedClassifier) Classify(_ context.Context, enc *Encoding) ([][]float32, error) {
	index := make(map[string]int, len(f.labels))
	for i, l := range f.labels {
		index[l] = i
	}
	logits := make([][]float32, len(enc.InputIDs))
	for i := range logits {
		row := make([]float32, f.numLabels)
		name := "O"
		if i < len(f.perPiece) && f.perPiece[i] != "" {
			name = f.perPiece[i]
		}
		row[index[name]] = 1
		logits[i] = row
	}
	return logits, nil
}

func TestDetectorBIODecoding(t *testing.T) {
	vocab := writeVocab(t, "jane", "smith", "lives", "in", "boston", ".")
	log := &logger.Logger{Logger: zap.NewNop()}

	det, err := NewDetector(config.NERConfig{VocabPath: vocab, MaxLength: 16}, log)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	// Positions: 0=[CLS] 1=jane 2=smith 3=lives 4=in 5=boston 6=. 7=[SEP]
	det.classifier = fixedClassifier{
		labels:    DefaultLabels,
		numLabels: len(DefaultLabels),
		perPiece:  []string{"", "B-PER", "I-PER", "", "", "B-LOC", "", ""},
	}

	text := "Jane Smith lives in Boston."
	spans, err := det.Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %+v", spans)
	}
	if spans[0].Text != "Jane Smith" || spans[0].Category != "PERSON" {
		t.Errorf("Unexpected span: %+v", spans[0])
	}
	if spans[1].Text != "Boston" || spans[1].Category != "LOCATION" {
		t.Errorf("Unexpected span: %+v", spans[1])
	}
}

func TestDetectorUnavailableWithoutBackend(t *testing.T) {
	vocab := writeVocab(t, "hello")
	log := &logger.Logger{Logger: zap.NewNop()}

	det, err := NewDetector(config.NERConfig{VocabPath: vocab, MaxLength: 8}, log)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	if _, err := det.Detect(context.Background(), "hello"); err == nil {
		t.Fatal("Expected error from stub classifier")
	}
}
