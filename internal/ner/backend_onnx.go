//go:build onnx
// +build onnx

package ner

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// onnxClassifier implements TokenClassifier using ONNX Runtime.
// Requires build tag 'onnx' and a shared library path in
// ONNXRUNTIME_SHARED_LIB (or ORT_SHLIB).
type onnxClassifier struct {
	session   *ort.DynamicAdvancedSession
	maxLength int
	numLabels int
	logger    *zap.Logger
	ready     bool
	mu        sync.Mutex
}

// NewTokenClassifier initializes the ONNX Runtime backend. A failed
// initialization returns a classifier that reports not-ready rather
// than an error, so the caller degrades to the pattern fallback.
func NewTokenClassifier(logger *zap.Logger, modelPath string, maxLength, numLabels int) TokenClassifier {
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return stubLike{}
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		nil,
	)
	if err != nil {
		logger.Error("ONNX Runtime session creation failed",
			zap.Error(err), zap.String("model", modelPath))
		ort.DestroyEnvironment()
		return stubLike{}
	}

	logger.Info("ONNX token classifier ready",
		zap.String("model", modelPath),
		zap.Int("max_length", maxLength),
		zap.Int("labels", numLabels))

	return &onnxClassifier{
		session:   session,
		maxLength: maxLength,
		numLabels: numLabels,
		logger:    logger,
		ready:     true,
	}
}

func (c *onnxClassifier) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready && c.session != nil
}

func (c *onnxClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
	ort.DestroyEnvironment()
	c.ready = false
	return nil
}

// Classify runs a single-sequence inference and returns logits shaped
// [seq][labels].
func (c *onnxClassifier) Classify(ctx context.Context, enc *Encoding) ([][]float32, error) {
	if !c.IsReady() {
		return nil, fmt.Errorf("onnx classifier not ready")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	seqLen := len(enc.InputIDs)
	shape := ort.NewShape(1, int64(seqLen))

	idsTensor, err := ort.NewTensor[int64](shape, enc.InputIDs)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor[int64](shape, enc.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := c.session.Run([]ort.Value{idsTensor, maskTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	data := outTensor.GetData()
	outShape := outTensor.GetShape()
	if len(outShape) != 3 || int(outShape[1]) != seqLen {
		return nil, fmt.Errorf("unexpected logits shape %v for seq %d", outShape, seqLen)
	}
	labels := int(outShape[2])
	if len(data) != seqLen*labels {
		return nil, fmt.Errorf("unexpected flat data length %d for shape %v", len(data), outShape)
	}

	logits := make([][]float32, seqLen)
	for i := 0; i < seqLen; i++ {
		row := make([]float32, labels)
		copy(row, data[i*labels:(i+1)*labels])
		logits[i] = row
	}
	return logits, nil
}

// stubLike mirrors the !onnx stub for failed initializations within an
// onnx build.
type stubLike struct{}

func (stubLike) Classify(context.Context, *Encoding) ([][]float32, error) {
	return nil, fmt.Errorf("onnx classifier failed to initialize")
}
func (stubLike) IsReady() bool { return false }
func (stubLike) Close() error  { return nil }
