package hardening

import (
	"sync"
	"time"
)

// RateLimitConfig configures a token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	Enabled           bool
}

// DefaultRateLimitConfig returns a sane default: 10 req/s, burst of 20.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 10.0, BurstSize: 20, Enabled: true}
}

// bucket implements token-bucket limiting with refill computed lazily on
// access rather than via a background ticker.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(cfg RateLimitConfig) *bucket {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10.0
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.RequestsPerSecond * 2)
	}
	return &bucket{
		tokens:     float64(cfg.BurstSize),
		maxTokens:  float64(cfg.BurstSize),
		refillRate: cfg.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

func (b *bucket) allowN(n int) bool {
	if n <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true
	}
	return false
}

func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

func (b *bucket) tokensRemaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

func (b *bucket) waitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	needed := 1 - b.tokens
	return time.Duration(needed / b.refillRate * float64(time.Second))
}

// maxLimiterKeys bounds the per-key bucket map; once exceeded, buckets
// sitting at (near) full capacity are pruned as probably-inactive.
const maxLimiterKeys = 10000

// RateLimiter enforces a per-key request budget (per session, per tool, or
// per plugin) plus an optional shared global budget that applies across
// every key.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  RateLimitConfig
	global  *bucket
}

// NewRateLimiter builds a RateLimiter. If global is non-zero-valued and
// Enabled, every Allow call must also clear a single shared bucket.
func NewRateLimiter(perKey RateLimitConfig, global *RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{buckets: make(map[string]*bucket), config: perKey}
	if global != nil && global.Enabled {
		b := newBucket(*global)
		rl.global = b
	}
	return rl
}

// Allow reports whether one request for key may proceed, consuming a
// token from both the per-key bucket and (if configured) the global one.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.AllowN(key, 1)
}

// AllowN reports whether n requests for key may proceed.
func (rl *RateLimiter) AllowN(key string, n int) bool {
	if !rl.config.Enabled {
		return true
	}
	if rl.global != nil && !rl.global.allowN(n) {
		return false
	}
	return rl.getBucket(key).allowN(n)
}

func (rl *RateLimiter) getBucket(key string) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[key]; ok {
		return b
	}
	if len(rl.buckets) >= maxLimiterKeys {
		rl.pruneLocked()
	}
	b := newBucket(rl.config)
	rl.buckets[key] = b
	return b
}

func (rl *RateLimiter) pruneLocked() {
	for key, b := range rl.buckets {
		if b.tokensRemaining() >= b.maxTokens*0.9 {
			delete(rl.buckets, key)
		}
	}
}

// Reset clears key's bucket, restoring it to full burst capacity on next use.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

// LimitStatus reports the current budget state for one key.
type LimitStatus struct {
	Key             string        `json:"key"`
	AllowedNow      bool          `json:"allowed_now"`
	TokensRemaining float64       `json:"tokens_remaining"`
	WaitTime        time.Duration `json:"wait_time"`
}

// Status returns key's current budget without consuming a token.
func (rl *RateLimiter) Status(key string) LimitStatus {
	if !rl.config.Enabled {
		return LimitStatus{Key: key, AllowedNow: true}
	}
	b := rl.getBucket(key)
	tokens := b.tokensRemaining()
	return LimitStatus{
		Key:             key,
		AllowedNow:      tokens >= 1,
		TokensRemaining: tokens,
		WaitTime:        b.waitTime(),
	}
}
