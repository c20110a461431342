package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/config"
	"github.com/wardenhq/contract-warden/internal/logger"
)

// CachedAnalysis is what gets stored per contract text: the provider's
// JSON document plus bookkeeping. The raw contract text is never
// cached, only its hash is used in the key.
type CachedAnalysis struct {
	AIResponse json.RawMessage `json:"ai_response"`
	Model      string          `json:"model"`
	CachedAt   time.Time       `json:"cached_at"`
}

// Stats reports cache performance counters.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// AnalysisCache caches provider analysis results in Redis, keyed by a
// hash of the tokenized text. All failures degrade to a cache miss so
// an unavailable Redis never blocks analysis.
type AnalysisCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *logger.Logger

	// Touched from concurrent request handlers; access atomically.
	hits   int64
	misses int64
}

// New connects to Redis and verifies the connection.
func New(cfg config.CacheConfig, log *logger.Logger) (*AnalysisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Analysis cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.URL)),
		zap.String("key_prefix", cfg.KeyPrefix),
		zap.Duration("ttl", cfg.TTL))

	return &AnalysisCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		logger:    log,
	}, nil
}

// Key derives the cache key for a tokenized contract text.
func (c *AnalysisCache) Key(tokenizedText string) string {
	sum := sha256.Sum256([]byte(tokenizedText))
	return c.keyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached analysis for the text, or nil on a miss.
func (c *AnalysisCache) Get(ctx context.Context, tokenizedText string) (*CachedAnalysis, error) {
	key := c.Key(tokenizedText)

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.recordMiss()
		c.logger.Debug("Cache miss", zap.String("key", key))
		return nil, nil
	} else if err != nil {
		c.recordMiss()
		c.logger.Error("Cache lookup failed", zap.Error(err))
		return nil, nil
	}

	var cached CachedAnalysis
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		c.logger.Error("Failed to unmarshal cached analysis", zap.Error(err))
		c.client.Del(ctx, key)
		c.recordMiss()
		return nil, nil
	}

	c.recordHit()
	c.logger.Debug("Cache hit", zap.String("key", key))
	return &cached, nil
}

// Set caches an analysis result with the configured TTL.
func (c *AnalysisCache) Set(ctx context.Context, tokenizedText string, analysis *CachedAnalysis) error {
	analysis.CachedAt = time.Now()

	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis for caching: %w", err)
	}

	key := c.Key(tokenizedText)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Error("Failed to cache analysis", zap.Error(err))
		return fmt.Errorf("failed to cache analysis: %w", err)
	}

	c.logger.Debug("Analysis cached", zap.String("key", key))
	return nil
}

// SetBatch caches multiple analyses in one pipeline round trip. Used
// by the batch pipeline.
func (c *AnalysisCache) SetBatch(ctx context.Context, texts []string, analyses []*CachedAnalysis) error {
	if len(texts) != len(analyses) {
		return fmt.Errorf("texts and analyses length mismatch")
	}
	if len(analyses) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for i, analysis := range analyses {
		analysis.CachedAt = time.Now()
		data, err := json.Marshal(analysis)
		if err != nil {
			c.logger.Error("Failed to marshal analysis for batch caching", zap.Error(err))
			continue
		}
		pipe.Set(ctx, c.Key(texts[i]), data, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Batch cache operation failed", zap.Error(err))
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	c.logger.Debug("Batch cache operation completed", zap.Int("cached", len(analyses)))
	return nil
}

func (c *AnalysisCache) recordHit()  { atomic.AddInt64(&c.hits, 1) }
func (c *AnalysisCache) recordMiss() { atomic.AddInt64(&c.misses, 1) }

// GetStats returns cache performance statistics.
func (c *AnalysisCache) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}
	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, "used_memory:") {
			if mem, err := strconv.ParseInt(strings.TrimPrefix(line, "used_memory:"), 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := c.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}
	return stats, nil
}

// Clear removes all cached analyses under the key prefix.
func (c *AnalysisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			c.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	c.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Ping checks Redis connectivity for health reporting.
func (c *AnalysisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *AnalysisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// maskRedisURL masks the password in a Redis URL for logging.
func maskRedisURL(url string) string {
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
