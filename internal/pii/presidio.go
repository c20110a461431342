package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wardenhq/contract-warden/internal/config"
)

// PresidioDetector is the primary detector. It calls a Presidio-style
// analyzer sidecar over HTTP and passes entity labels through
// unmodified; normalization happens at token allocation.
type PresidioDetector struct {
	url            string
	language       string
	entities       []string
	scoreThreshold float64
	client         *http.Client
}

// NewPresidioDetector creates the remote analyzer detector.
func NewPresidioDetector(cfg config.PresidioConfig) *PresidioDetector {
	return &PresidioDetector{
		url:            cfg.URL,
		language:       cfg.Language,
		entities:       cfg.Entities,
		scoreThreshold: cfg.ScoreThreshold,
		client:         &http.Client{Timeout: cfg.Timeout},
	}
}

// Name identifies the detector in logs and events.
func (d *PresidioDetector) Name() string { return "presidio" }

type analyzeRequest struct {
	Text     string   `json:"text"`
	Language string   `json:"language"`
	Entities []string `json:"entities,omitempty"`
}

type analyzeResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// Detect posts the text to the analyzer and converts its results into
// spans. Any transport or protocol failure wraps
// ErrDetectorUnavailable so the tokenizer can fall back to patterns.
func (d *PresidioDetector) Detect(ctx context.Context, text string) ([]Span, error) {
	body, err := json.Marshal(analyzeRequest{
		Text:     text,
		Language: d.language,
		Entities: d.entities,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: analyzer returned %d", ErrDetectorUnavailable, resp.StatusCode)
	}

	var results []analyzeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("%w: decode analyzer response: %v", ErrDetectorUnavailable, err)
	}

	spans := make([]Span, 0, len(results))
	for _, r := range results {
		if r.Score < d.scoreThreshold {
			continue
		}
		s := Span{Start: r.Start, End: r.End, Category: r.EntityType}
		if !s.Valid(len(text)) {
			continue
		}
		s.Text = text[s.Start:s.End]
		spans = append(spans, s)
	}
	return spans, nil
}
