package etl

import (
	"strings"
	"time"
)

// DocumentRecord is one contract document from an input dataset.
type DocumentRecord struct {
	FileName string `csv:"file_name" parquet:"file_name" json:"file_name"`
	Text     string `csv:"text" parquet:"text" json:"text"`
}

// ProcessingResult summarizes one pipeline run.
type ProcessingResult struct {
	TotalRecords    int64         `json:"total_records"`
	ProcessedOK     int64         `json:"processed_ok"`
	ProcessedFailed int64         `json:"processed_failed"`
	PIITokens       int64         `json:"pii_tokens"`
	Duration        time.Duration `json:"duration"`
	AnalysisTime    time.Duration `json:"analysis_time"`
	DatabaseTime    time.Duration `json:"database_time"`
	CacheTime       time.Duration `json:"cache_time"`
	Errors          []string      `json:"errors,omitempty"`
}

// Config contains pipeline configuration.
type Config struct {
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`
	WorkerCount    int  `yaml:"worker_count" mapstructure:"worker_count"`
	DryRun         bool `yaml:"dry_run" mapstructure:"dry_run"`
	SkipCache      bool `yaml:"skip_cache" mapstructure:"skip_cache"`
	ProgressReport int  `yaml:"progress_report" mapstructure:"progress_report"`
}

// FileFormat identifies a supported dataset format.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
)

// DetectFileFormat picks the format from the file extension.
func DetectFileFormat(filename string) FileFormat {
	switch {
	case strings.HasSuffix(filename, ".parquet"):
		return FormatParquet
	case strings.HasSuffix(filename, ".jsonl") || strings.HasSuffix(filename, ".json"):
		return FormatJSONL
	default:
		return FormatCSV
	}
}
