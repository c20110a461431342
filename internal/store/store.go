package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/config"
	"github.com/wardenhq/contract-warden/internal/logger"
)

// ErrNotFound indicates no stored contract has the requested ID.
var ErrNotFound = errors.New("store: contract not found")

// ParsedContract is a stored analysis result. The tokenized text and
// the token mapping are persisted so earlier analyses can be restored
// or re-rendered; raw contract text is never stored.
type ParsedContract struct {
	ID                  int64           `db:"id" json:"id"`
	FileName            string          `db:"file_name" json:"file_name"`
	TokenizedText       string          `db:"tokenized_text" json:"tokenized_text"`
	AIResponse          json.RawMessage `db:"ai_response" json:"ai_response"`
	DetokenizedResponse json.RawMessage `db:"detokenized_response" json:"detokenized_response"`
	TokenMapping        json.RawMessage `db:"token_mapping" json:"token_mapping"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
}

// ContractSummary is the listing view: no tokenized text or mapping.
type ContractSummary struct {
	ID        int64     `db:"id" json:"id"`
	FileName  string    `db:"file_name" json:"file_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS parsed_contracts (
	id                   BIGSERIAL PRIMARY KEY,
	file_name            TEXT NOT NULL,
	tokenized_text       TEXT NOT NULL,
	ai_response          JSONB NOT NULL,
	detokenized_response JSONB NOT NULL,
	token_mapping        JSONB NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_parsed_contracts_created_at
	ON parsed_contracts (created_at DESC);`

// Store persists parsed contracts in PostgreSQL.
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// New connects to the database, configures the pool, and ensures the
// schema exists.
func New(cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	s := &Store{db: db, logger: log}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	log.Info("Contract store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.URL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return s, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

// Save inserts a parsed contract and fills in its ID and timestamp.
func (s *Store) Save(ctx context.Context, contract *ParsedContract) error {
	query := `
		INSERT INTO parsed_contracts
			(file_name, tokenized_text, ai_response, detokenized_response, token_mapping)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	// json.RawMessage goes over the wire as text; pq would otherwise
	// encode []byte as bytea, which JSONB columns reject.
	err := s.db.QueryRowContext(ctx, query,
		contract.FileName,
		contract.TokenizedText,
		string(contract.AIResponse),
		string(contract.DetokenizedResponse),
		string(contract.TokenMapping),
	).Scan(&contract.ID, &contract.CreatedAt)
	if err != nil {
		s.logger.Error("Failed to save contract",
			zap.Error(err),
			zap.String("file_name", contract.FileName))
		return fmt.Errorf("failed to save contract: %w", err)
	}

	s.logger.Debug("Contract saved",
		zap.Int64("id", contract.ID),
		zap.String("file_name", contract.FileName))
	return nil
}

// Get fetches one parsed contract by ID.
func (s *Store) Get(ctx context.Context, id int64) (*ParsedContract, error) {
	var contract ParsedContract
	query := `
		SELECT id, file_name, tokenized_text, ai_response,
		       detokenized_response, token_mapping, created_at
		FROM parsed_contracts
		WHERE id = $1`

	if err := s.db.GetContext(ctx, &contract, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get contract %d: %w", id, err)
	}
	return &contract, nil
}

// List returns contract summaries, newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]ContractSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	summaries := []ContractSummary{}
	query := `
		SELECT id, file_name, created_at
		FROM parsed_contracts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	if err := s.db.SelectContext(ctx, &summaries, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	return summaries, nil
}

// Delete removes one parsed contract.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM parsed_contracts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete contract %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm delete: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Info("Contract deleted", zap.Int64("id", id))
	return nil
}

// Count returns the number of stored contracts.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM parsed_contracts"); err != nil {
		return 0, fmt.Errorf("failed to count contracts: %w", err)
	}
	return count, nil
}

// BatchInsertResult summarizes a batch insert.
type BatchInsertResult struct {
	Inserted int64
	Failed   int64
	Duration time.Duration
}

// BatchInsert saves many parsed contracts in one statement. Used by
// the batch pipeline; the interactive path uses Save.
func (s *Store) BatchInsert(ctx context.Context, contracts []*ParsedContract) (*BatchInsertResult, error) {
	if len(contracts) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	valueStrings := make([]string, 0, len(contracts))
	valueArgs := make([]interface{}, 0, len(contracts)*5)
	for i, c := range contracts {
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", i*5+1, i*5+2, i*5+3, i*5+4, i*5+5))
		valueArgs = append(valueArgs,
			c.FileName, c.TokenizedText,
			string(c.AIResponse), string(c.DetokenizedResponse), string(c.TokenMapping))
	}

	query := fmt.Sprintf(`
		INSERT INTO parsed_contracts
			(file_name, tokenized_text, ai_response, detokenized_response, token_mapping)
		VALUES %s`, strings.Join(valueStrings, ","))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		s.logger.Error("Batch insert failed", zap.Error(err))
		return &BatchInsertResult{Failed: int64(len(contracts))}, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(contracts))
	}

	result := &BatchInsertResult{
		Inserted: inserted,
		Failed:   int64(len(contracts)) - inserted,
		Duration: time.Since(start),
	}
	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// Ping checks database connectivity for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password in a database URL for logging.
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
