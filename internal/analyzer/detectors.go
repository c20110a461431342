package analyzer

import (
	"fmt"

	"github.com/wardenhq/contract-warden/internal/config"
	"github.com/wardenhq/contract-warden/internal/logger"
	"github.com/wardenhq/contract-warden/internal/ner"
	"github.com/wardenhq/contract-warden/internal/pii"
)

// NewDetectors builds the configured primary span detector and the
// regex fallback. With detector "patterns" there is no separate
// primary; the fallback does all detection.
func NewDetectors(cfg config.PIIConfig, log *logger.Logger) (pii.SpanDetector, *pii.PatternDetector, error) {
	fallback, err := pii.NewPatternDetector(cfg.Patterns.Enabled, log)
	if err != nil {
		return nil, nil, fmt.Errorf("pattern detector: %w", err)
	}

	switch cfg.Detector {
	case "", "patterns":
		return nil, fallback, nil
	case "presidio":
		return pii.NewPresidioDetector(cfg.Presidio), fallback, nil
	case "ner":
		detector, err := ner.NewDetector(cfg.NER, log)
		if err != nil {
			return nil, nil, fmt.Errorf("ner detector: %w", err)
		}
		return detector, fallback, nil
	default:
		return nil, nil, fmt.Errorf("unknown detector %q", cfg.Detector)
	}
}
