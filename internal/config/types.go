package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	PII      PIIConfig      `yaml:"pii" mapstructure:"pii"`
	AI       AIConfig       `yaml:"ai" mapstructure:"ai"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Events   EventsConfig   `yaml:"events" mapstructure:"events"`
	Security SecurityConfig `yaml:"security" mapstructure:"security"`
	Extract  ExtractConfig  `yaml:"extract" mapstructure:"extract"`
	ETL      ETLConfig      `yaml:"etl" mapstructure:"etl"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// PIIConfig selects and configures the span detector used for tokenization
type PIIConfig struct {
	Detector string         `yaml:"detector" mapstructure:"detector"` // patterns, presidio, or ner
	Patterns PatternsConfig `yaml:"patterns" mapstructure:"patterns"`
	Presidio PresidioConfig `yaml:"presidio" mapstructure:"presidio"`
	NER      NERConfig      `yaml:"ner" mapstructure:"ner"`
}

// PatternsConfig configures the regex fallback detector
type PatternsConfig struct {
	Enabled []string `yaml:"enabled" mapstructure:"enabled"` // rule names, or "all"
}

// PresidioConfig configures the remote analyzer detector
type PresidioConfig struct {
	URL            string        `yaml:"url" mapstructure:"url"`
	Language       string        `yaml:"language" mapstructure:"language"`
	Entities       []string      `yaml:"entities" mapstructure:"entities"`
	ScoreThreshold float64       `yaml:"score_threshold" mapstructure:"score_threshold"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// NERConfig configures the local ONNX token-classification detector
type NERConfig struct {
	ModelPath string   `yaml:"model_path" mapstructure:"model_path"`
	VocabPath string   `yaml:"vocab_path" mapstructure:"vocab_path"`
	Labels    []string `yaml:"labels" mapstructure:"labels"`
	MaxLength int      `yaml:"max_length" mapstructure:"max_length"`
}

// AIConfig contains the analysis provider configuration
type AIConfig struct {
	BaseURL     string          `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string          `yaml:"api_key" mapstructure:"api_key"`
	Model       string          `yaml:"model" mapstructure:"model"`
	Temperature float64         `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int             `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout     time.Duration   `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries  int             `yaml:"max_retries" mapstructure:"max_retries"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig is a token bucket description, reused for the AI client
// and for per-client request throttling on the server
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// DatabaseConfig contains the contract store configuration
type DatabaseConfig struct {
	URL             string        `yaml:"url" mapstructure:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// CacheConfig contains the analysis cache configuration
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	URL          string        `yaml:"url" mapstructure:"url"`
	KeyPrefix    string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	TTL          time.Duration `yaml:"ttl" mapstructure:"ttl"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// EventsConfig contains the websocket event stream configuration
type EventsConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Auth            struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Username string `yaml:"username" mapstructure:"username"`
		Password string `yaml:"password" mapstructure:"password"`
	} `yaml:"auth" mapstructure:"auth"`
	Broadcast struct {
		Detections  bool `yaml:"detections" mapstructure:"detections"`
		Analyses    bool `yaml:"analyses" mapstructure:"analyses"`
		System      bool `yaml:"system" mapstructure:"system"`
		Connections bool `yaml:"connections" mapstructure:"connections"`
	} `yaml:"broadcast" mapstructure:"broadcast"`
}

// SecurityConfig contains request throttling configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ExtractConfig contains document extraction limits
type ExtractConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	MaxPDFPages    int   `yaml:"max_pdf_pages" mapstructure:"max_pdf_pages"`
}

// ETLConfig contains batch pipeline defaults
type ETLConfig struct {
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
	WorkerCount int `yaml:"worker_count" mapstructure:"worker_count"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		PII: PIIConfig{
			Detector: "patterns",
			Patterns: PatternsConfig{
				Enabled: []string{"all"},
			},
			Presidio: PresidioConfig{
				URL:      "http://localhost:5002",
				Language: "en",
				Entities: []string{
					"PERSON", "EMAIL_ADDRESS", "PHONE_NUMBER", "CREDIT_CARD",
					"US_SSN", "US_DRIVER_LICENSE", "DATE_TIME", "LOCATION",
					"IP_ADDRESS", "URL", "US_BANK_NUMBER", "IBAN_CODE",
				},
				ScoreThreshold: 0.5,
				Timeout:        5 * time.Second,
			},
			NER: NERConfig{
				ModelPath: "./models/ner.onnx",
				VocabPath: "./models/vocab.txt",
				MaxLength: 512,
			},
		},
		AI: AIConfig{
			BaseURL:     "https://api.x.ai/v1",
			Model:       "grok-beta",
			Temperature: 0.1,
			MaxTokens:   4000,
			Timeout:     120 * time.Second,
			MaxRetries:  3,
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 60,
				Burst:          5,
			},
		},
		Database: DatabaseConfig{
			URL:             "postgres://localhost:5432/contract_warden?sslmode=disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:      false,
			URL:          "redis://localhost:6379/0",
			KeyPrefix:    "warden:analysis:",
			TTL:          6 * time.Hour,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Events: EventsConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    54 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  512,
			AllowedOrigins:  []string{"*"},
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 120,
				Burst:          20,
			},
		},
		Extract: ExtractConfig{
			MaxUploadBytes: 20 << 20,
			MaxPDFPages:    50,
		},
		ETL: ETLConfig{
			BatchSize:   500,
			WorkerCount: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	cfg.Events.Broadcast.Detections = true
	cfg.Events.Broadcast.Analyses = true
	cfg.Events.Broadcast.System = true
	cfg.Events.Broadcast.Connections = true

	return cfg
}
