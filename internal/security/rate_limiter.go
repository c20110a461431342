package security

import (
	"sync"
	"time"

	"github.com/wardenhq/contract-warden/internal/config"
)

// RateLimiter throttles requests per client IP with token buckets.
// Capacity comes from the configured burst, refill from the per-minute
// rate.
type RateLimiter struct {
	cfg     config.RateLimitConfig
	buckets map[string]*tokenBucket
	mu      sync.RWMutex
}

type tokenBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a rate limiter from config.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*tokenBucket),
	}
}

// Allow reports whether a request from the client IP may proceed.
func (r *RateLimiter) Allow(clientIP string) bool {
	if !r.cfg.Enabled {
		return true
	}
	return r.getBucket(clientIP).consume(1)
}

func (r *RateLimiter) getBucket(clientIP string) *tokenBucket {
	r.mu.RLock()
	bucket, exists := r.buckets[clientIP]
	r.mu.RUnlock()
	if exists {
		return bucket
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if bucket, exists := r.buckets[clientIP]; exists {
		return bucket
	}

	capacity := float64(r.cfg.Burst)
	if capacity <= 0 {
		capacity = float64(r.cfg.RequestsPerMin)
	}
	bucket = &tokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: float64(r.cfg.RequestsPerMin) / 60.0,
		lastRefill: time.Now(),
	}
	r.buckets[clientIP] = bucket
	return bucket
}

func (b *tokenBucket) consume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// CleanupOldBuckets drops buckets idle for over an hour.
func (r *RateLimiter) CleanupOldBuckets() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	for ip, bucket := range r.buckets {
		bucket.mu.Lock()
		idle := bucket.lastRefill.Before(cutoff)
		bucket.mu.Unlock()
		if idle {
			delete(r.buckets, ip)
		}
	}
}

// StartCleanupRoutine periodically removes idle buckets.
func (r *RateLimiter) StartCleanupRoutine() {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			r.CleanupOldBuckets()
		}
	}()
}
