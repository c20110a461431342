//go:build !onnx
// +build !onnx

package ner

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// stubClassifier is used when the 'onnx' build tag is not set. It
// avoids the CGO dependency and reports itself unavailable.
type stubClassifier struct{}

// NewTokenClassifier returns a stub in builds without ONNX Runtime.
func NewTokenClassifier(logger *zap.Logger, modelPath string, maxLength, numLabels int) TokenClassifier {
	logger.Debug("ONNX token classifier not compiled in (build without 'onnx' tag)",
		zap.String("model", modelPath))
	return stubClassifier{}
}

func (stubClassifier) Classify(context.Context, *Encoding) ([][]float32, error) {
	return nil, fmt.Errorf("onnx runtime support not compiled in (rebuild with -tags onnx)")
}

func (stubClassifier) IsReady() bool { return false }
func (stubClassifier) Close() error  { return nil }
