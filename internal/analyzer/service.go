package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/cache"
	"github.com/wardenhq/contract-warden/internal/events"
	"github.com/wardenhq/contract-warden/internal/extract"
	"github.com/wardenhq/contract-warden/internal/logger"
	"github.com/wardenhq/contract-warden/internal/pii"
	"github.com/wardenhq/contract-warden/internal/store"
)

// AIClient produces a structured analysis for tokenized contract text.
type AIClient interface {
	AnalyzeContract(ctx context.Context, tokenizedText string) (json.RawMessage, error)
}

// ContractStore persists parsed contracts.
type ContractStore interface {
	Save(ctx context.Context, contract *store.ParsedContract) error
	Get(ctx context.Context, id int64) (*store.ParsedContract, error)
	List(ctx context.Context, limit, offset int) ([]store.ContractSummary, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// AnalysisCache is the optional Redis layer in front of the AI client.
type AnalysisCache interface {
	Get(ctx context.Context, tokenizedText string) (*cache.CachedAnalysis, error)
	Set(ctx context.Context, tokenizedText string, analysis *cache.CachedAnalysis) error
	Ping(ctx context.Context) error
}

// Publisher fans events out to stream clients.
type Publisher interface {
	Publish(event events.Event)
}

// AnalyzeRequest is one contract to analyze.
type AnalyzeRequest struct {
	RequestID string
	FileName  string
	Text      string
}

// AnalysisResult is the caller-facing outcome. The analysis document
// has original values restored; the tokenized text shows what the
// provider actually saw.
type AnalysisResult struct {
	ContractID     int64           `json:"contract_id"`
	FileName       string          `json:"file_name,omitempty"`
	Analysis       json.RawMessage `json:"analysis"`
	TokenizedText  string          `json:"tokenized_text"`
	CategoryCounts map[string]int  `json:"pii_category_counts"`
	CacheHit       bool            `json:"cache_hit"`
	Degraded       bool            `json:"degraded,omitempty"`
	DurationMS     float64         `json:"duration_ms"`
}

// Service runs the analysis pipeline: clean, tokenize, analyze (with
// cache), restore, persist, publish.
type Service struct {
	tokenizer *pii.Tokenizer
	ai        AIClient
	store     ContractStore
	cache     AnalysisCache // may be nil
	hub       Publisher     // may be nil
	logger    *logger.Logger
	model     string

	started       time.Time
	totalAnalyses int64
}

// New creates the analysis service. cache and hub are optional.
func New(tokenizer *pii.Tokenizer, ai AIClient, st ContractStore, ca AnalysisCache, hub Publisher, model string, log *logger.Logger) *Service {
	return &Service{
		tokenizer: tokenizer,
		ai:        ai,
		store:     st,
		cache:     ca,
		hub:       hub,
		logger:    log.WithComponent("analyzer"),
		model:     model,
		started:   time.Now(),
	}
}

// Analyze runs the full pipeline for one contract.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalysisResult, error) {
	start := time.Now()
	log := s.logger.WithRequestID(req.RequestID)

	text := extract.CleanText(req.Text)
	if text == "" {
		return nil, extract.ErrEmptyDocument
	}

	s.publish(events.Event{
		Type:      events.EventTypeAnalysisStarted,
		RequestID: req.RequestID,
		Data:      events.AnalysisEvent{RequestID: req.RequestID, FileName: req.FileName},
	})

	tok, err := s.tokenizer.Tokenize(ctx, text)
	if err != nil {
		s.publishFailure(req, err)
		return nil, fmt.Errorf("tokenization failed: %w", err)
	}
	tokenizeMS := float64(time.Since(start).Microseconds()) / 1000

	counts := tok.CategoryCounts()
	s.publish(events.Event{
		Type:      events.EventTypePIIDetected,
		RequestID: req.RequestID,
		Data: events.PIIDetectedEvent{
			RequestID:      req.RequestID,
			FileName:       req.FileName,
			Detector:       tok.Detector,
			CategoryCounts: counts,
			TotalTokens:    tok.Mapping.Len(),
			ProcessingMS:   tokenizeMS,
		},
	})

	aiResponse, cacheHit, err := s.analysis(ctx, tok.TokenizedText)
	if err != nil {
		s.publishFailure(req, err)
		return nil, err
	}

	restored, degraded := s.restore(log, aiResponse, tok.Mapping)

	mappingJSON, err := json.Marshal(tok.Mapping)
	if err != nil {
		s.publishFailure(req, err)
		return nil, fmt.Errorf("marshal token mapping: %w", err)
	}

	contract := &store.ParsedContract{
		FileName:            req.FileName,
		TokenizedText:       tok.TokenizedText,
		AIResponse:          aiResponse,
		DetokenizedResponse: restored,
		TokenMapping:        mappingJSON,
	}
	if err := s.store.Save(ctx, contract); err != nil {
		s.publishFailure(req, err)
		return nil, err
	}

	atomic.AddInt64(&s.totalAnalyses, 1)
	duration := float64(time.Since(start).Microseconds()) / 1000

	log.WithContract(contract.ID).Info("Contract analyzed",
		zap.String("file_name", req.FileName),
		zap.Int("pii_tokens", tok.Mapping.Len()),
		zap.Bool("cache_hit", cacheHit),
		zap.Bool("degraded", degraded),
		zap.Float64("duration_ms", duration))

	s.publish(events.Event{
		Type:      events.EventTypeAnalysisCompleted,
		RequestID: req.RequestID,
		Data: events.AnalysisEvent{
			RequestID:  req.RequestID,
			FileName:   req.FileName,
			ContractID: contract.ID,
			CacheHit:   cacheHit,
			DurationMS: duration,
		},
	})

	return &AnalysisResult{
		ContractID:     contract.ID,
		FileName:       req.FileName,
		Analysis:       restored,
		TokenizedText:  tok.TokenizedText,
		CategoryCounts: counts,
		CacheHit:       cacheHit,
		Degraded:       degraded,
		DurationMS:     duration,
	}, nil
}

// analysis returns the provider document for the tokenized text,
// consulting the cache first when one is configured.
func (s *Service) analysis(ctx context.Context, tokenizedText string) (json.RawMessage, bool, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, tokenizedText); err == nil && cached != nil {
			return cached.AIResponse, true, nil
		}
	}

	response, err := s.ai.AnalyzeContract(ctx, tokenizedText)
	if err != nil {
		return nil, false, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, tokenizedText, &cache.CachedAnalysis{
			AIResponse: response,
			Model:      s.model,
		}); err != nil {
			s.logger.Warn("Failed to cache analysis", zap.Error(err))
		}
	}
	return response, false, nil
}

// restore swaps placeholder tokens back to original values throughout
// the provider document. If the document cannot be walked as JSON the
// tokenized version is returned unchanged, marked degraded, so tokens
// are never half-restored.
func (s *Service) restore(log *logger.Logger, aiResponse json.RawMessage, mapping *pii.TokenMapping) (json.RawMessage, bool) {
	restored, err := pii.DetokenizeDocument(aiResponse, mapping)
	if err != nil {
		if errors.Is(err, pii.ErrStructureCorruption) {
			log.Warn("Provider response structure corrupted, returning tokenized document", zap.Error(err))
			return aiResponse, true
		}
		log.Warn("Detokenization failed, returning tokenized document", zap.Error(err))
		return aiResponse, true
	}
	return restored, false
}

// Get returns a stored contract.
func (s *Service) Get(ctx context.Context, id int64) (*store.ParsedContract, error) {
	return s.store.Get(ctx, id)
}

// List returns stored contract summaries.
func (s *Service) List(ctx context.Context, limit, offset int) ([]store.ContractSummary, error) {
	return s.store.List(ctx, limit, offset)
}

// Delete removes a stored contract and publishes the removal.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(events.Event{
		Type: events.EventTypeContractDeleted,
		Data: events.ContractDeletedEvent{ContractID: id},
	})
	return nil
}

// ComponentHealth is one dependency's health state.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Health reports per-dependency health. The service is degraded, not
// down, when only the cache is unreachable.
func (s *Service) Health(ctx context.Context) (string, map[string]ComponentHealth) {
	components := map[string]ComponentHealth{}
	overall := "healthy"

	if err := s.store.Ping(ctx); err != nil {
		components["database"] = ComponentHealth{Status: "down", Error: err.Error()}
		overall = "unhealthy"
	} else {
		components["database"] = ComponentHealth{Status: "up"}
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			components["cache"] = ComponentHealth{Status: "down", Error: err.Error()}
			if overall == "healthy" {
				overall = "degraded"
			}
		} else {
			components["cache"] = ComponentHealth{Status: "up"}
		}
	}

	return overall, components
}

// PublishSystemStats emits a system.stats event. Called periodically
// from the server's stats loop.
func (s *Service) PublishSystemStats(ctx context.Context, connectedClients int) {
	stored, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Warn("Failed to count stored contracts", zap.Error(err))
	}
	s.publish(events.Event{
		Type: events.EventTypeSystemStats,
		Data: events.SystemStatsEvent{
			Status:           "running",
			Uptime:           time.Since(s.started).Round(time.Second).String(),
			TotalAnalyses:    atomic.LoadInt64(&s.totalAnalyses),
			StoredContracts:  stored,
			ConnectedClients: connectedClients,
		},
	})
}

func (s *Service) publish(event events.Event) {
	if s.hub != nil {
		s.hub.Publish(event)
	}
}

func (s *Service) publishFailure(req AnalyzeRequest, err error) {
	s.publish(events.Event{
		Type:      events.EventTypeAnalysisFailed,
		RequestID: req.RequestID,
		Data: events.AnalysisEvent{
			RequestID: req.RequestID,
			FileName:  req.FileName,
			Error:     err.Error(),
		},
	})
}
