package etl

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/analyzer"
	"github.com/wardenhq/contract-warden/internal/cache"
	"github.com/wardenhq/contract-warden/internal/extract"
	"github.com/wardenhq/contract-warden/internal/logger"
	"github.com/wardenhq/contract-warden/internal/pii"
	"github.com/wardenhq/contract-warden/internal/store"
)

// BatchStore persists batches of parsed contracts.
type BatchStore interface {
	BatchInsert(ctx context.Context, contracts []*store.ParsedContract) (*store.BatchInsertResult, error)
}

// BatchCache warms the analysis cache in bulk.
type BatchCache interface {
	SetBatch(ctx context.Context, texts []string, analyses []*cache.CachedAnalysis) error
}

// Pipeline bulk-processes contract datasets: tokenize each document,
// analyze it, restore the analysis, and batch-insert the results. A
// dry run stops after tokenization and reports what would be sent.
type Pipeline struct {
	tokenizer *pii.Tokenizer
	ai        analyzer.AIClient
	store     BatchStore
	cache     BatchCache // may be nil
	config    *Config
	logger    *logger.Logger
	model     string

	mu    sync.Mutex
	start time.Time
}

// NewPipeline creates a pipeline. cache is optional.
func NewPipeline(tokenizer *pii.Tokenizer, ai analyzer.AIClient, st BatchStore, ca BatchCache, cfg *Config, model string, log *logger.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.ProgressReport <= 0 {
		cfg.ProgressReport = 1000
	}
	return &Pipeline{
		tokenizer: tokenizer,
		ai:        ai,
		store:     st,
		cache:     ca,
		config:    cfg,
		logger:    log.WithComponent("etl"),
		model:     model,
	}
}

// ProcessFile runs the pipeline over a dataset file (CSV, JSONL, or
// Parquet).
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*ProcessingResult, error) {
	p.mu.Lock()
	p.start = time.Now()
	p.mu.Unlock()

	format := DetectFileFormat(filePath)
	p.logger.Info("Starting batch pipeline",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount),
		zap.Bool("dry_run", p.config.DryRun))

	result := &ProcessingResult{}
	var err error
	switch format {
	case FormatCSV:
		err = p.processCSV(ctx, filePath, result)
	case FormatParquet:
		err = p.processParquet(ctx, filePath, result)
	case FormatJSONL:
		err = p.processJSONL(ctx, filePath, result)
	default:
		return result, fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return result, err
	}

	result.Duration = time.Since(p.start)
	p.logger.Info("Batch pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("pii_tokens", result.PIITokens),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (p *Pipeline) processCSV(ctx context.Context, filePath string, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	nameIdx, textIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.ToLower(col)) {
		case "file_name":
			nameIdx = i
		case "text":
			textIdx = i
		}
	}
	if textIdx < 0 {
		return fmt.Errorf("CSV header missing required column %q", "text")
	}

	return p.processBatches(ctx, func() ([]DocumentRecord, error) {
		var batch []DocumentRecord
		for len(batch) < p.config.BatchSize {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read CSV record", zap.Error(err))
				continue
			}
			if textIdx >= len(row) {
				continue
			}
			rec := DocumentRecord{Text: row[textIdx]}
			if nameIdx >= 0 && nameIdx < len(row) {
				rec.FileName = row[nameIdx]
			}
			if validRecord(rec) {
				batch = append(batch, rec)
			}
		}
		return batch, nil
	}, result)
}

func (p *Pipeline) processParquet(ctx context.Context, filePath string, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	return p.processBatches(ctx, func() ([]DocumentRecord, error) {
		var batch []DocumentRecord
		for len(batch) < p.config.BatchSize {
			var rec DocumentRecord
			err := reader.Read(&rec)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read Parquet record", zap.Error(err))
				continue
			}
			if validRecord(rec) {
				batch = append(batch, rec)
			}
		}
		return batch, nil
	}, result)
}

func (p *Pipeline) processJSONL(ctx context.Context, filePath string, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	return p.processBatches(ctx, func() ([]DocumentRecord, error) {
		var batch []DocumentRecord
		for len(batch) < p.config.BatchSize {
			var rec DocumentRecord
			err := decoder.Decode(&rec)
			if err == io.EOF {
				break
			}
			if err != nil {
				return batch, fmt.Errorf("malformed JSONL record: %w", err)
			}
			if validRecord(rec) {
				batch = append(batch, rec)
			}
		}
		return batch, nil
	}, result)
}

func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]DocumentRecord, error), result *ProcessingResult) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		p.processBatch(ctx, batch, result)
		result.TotalRecords += int64(len(batch))

		if result.TotalRecords%int64(p.config.ProgressReport) == 0 {
			p.reportProgress(result)
		}
	}
}

// batchItem is one worker's outcome for a record.
type batchItem struct {
	contract *store.ParsedContract
	tokens   int
	err      error
}

// processBatch fans a batch out over the worker pool, then persists
// the successes in one insert.
func (p *Pipeline) processBatch(ctx context.Context, batch []DocumentRecord, result *ProcessingResult) {
	analysisStart := time.Now()

	items := make([]batchItem, len(batch))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.config.WorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				items[i] = p.processRecord(ctx, batch[i])
			}
		}()
	}
	for i := range batch {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	result.AnalysisTime += time.Since(analysisStart)

	var contracts []*store.ParsedContract
	var cacheTexts []string
	var cacheEntries []*cache.CachedAnalysis
	for i, item := range items {
		if item.err != nil {
			result.ProcessedFailed++
			if len(result.Errors) < 20 {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", batch[i].FileName, item.err))
			}
			continue
		}
		result.PIITokens += int64(item.tokens)
		if item.contract == nil {
			// Dry run: counted, not persisted.
			result.ProcessedOK++
			continue
		}
		contracts = append(contracts, item.contract)
		cacheTexts = append(cacheTexts, item.contract.TokenizedText)
		cacheEntries = append(cacheEntries, &cache.CachedAnalysis{
			AIResponse: item.contract.AIResponse,
			Model:      p.model,
		})
	}

	if len(contracts) > 0 {
		dbStart := time.Now()
		batchResult, err := p.store.BatchInsert(ctx, contracts)
		result.DatabaseTime += time.Since(dbStart)
		if err != nil {
			result.ProcessedFailed += int64(len(contracts))
			if len(result.Errors) < 20 {
				result.Errors = append(result.Errors, err.Error())
			}
			return
		}
		result.ProcessedOK += batchResult.Inserted
		result.ProcessedFailed += batchResult.Failed

		if p.cache != nil && !p.config.SkipCache {
			cacheStart := time.Now()
			if err := p.cache.SetBatch(ctx, cacheTexts, cacheEntries); err != nil {
				p.logger.Warn("Failed to warm cache", zap.Error(err))
			}
			result.CacheTime += time.Since(cacheStart)
		}
	}
}

// processRecord runs one document through tokenize, analyze, restore.
func (p *Pipeline) processRecord(ctx context.Context, rec DocumentRecord) batchItem {
	text := extract.CleanText(rec.Text)
	if text == "" {
		return batchItem{err: extract.ErrEmptyDocument}
	}

	tok, err := p.tokenizer.Tokenize(ctx, text)
	if err != nil {
		return batchItem{err: fmt.Errorf("tokenization failed: %w", err)}
	}

	if p.config.DryRun {
		return batchItem{tokens: tok.Mapping.Len()}
	}

	aiResponse, err := p.ai.AnalyzeContract(ctx, tok.TokenizedText)
	if err != nil {
		return batchItem{err: err}
	}

	restored, err := pii.DetokenizeDocument(aiResponse, tok.Mapping)
	if err != nil {
		restored = aiResponse
	}

	mappingJSON, err := json.Marshal(tok.Mapping)
	if err != nil {
		return batchItem{err: fmt.Errorf("marshal token mapping: %w", err)}
	}

	return batchItem{
		contract: &store.ParsedContract{
			FileName:            rec.FileName,
			TokenizedText:       tok.TokenizedText,
			AIResponse:          aiResponse,
			DetokenizedResponse: restored,
			TokenMapping:        mappingJSON,
		},
		tokens: tok.Mapping.Len(),
	}
}

func (p *Pipeline) reportProgress(result *ProcessingResult) {
	elapsed := time.Since(p.start)
	rate := float64(result.TotalRecords) / elapsed.Seconds()
	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

func validRecord(rec DocumentRecord) bool {
	return strings.TrimSpace(rec.Text) != ""
}
