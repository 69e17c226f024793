// Package ratelimit provides per-client token bucket rate limiting for the
// HTTP API.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// RequestsPerSecond is the sustained refill rate.
	RequestsPerSecond float64
	// Burst is the maximum number of requests allowed at once.
	Burst int
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 20,
		Burst:             40,
	}
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RequestsPerSecond * 2)
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
	return c
}

// Bucket implements token bucket rate limiting.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewBucket creates a full bucket.
func NewBucket(cfg Config) *Bucket {
	return newBucket(cfg.withDefaults(), time.Now())
}

func newBucket(cfg Config, now time.Time) *Bucket {
	return &Bucket{
		tokens:     float64(cfg.Burst),
		maxTokens:  float64(cfg.Burst),
		refillRate: cfg.RequestsPerSecond,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow consumes a token if one is available. When it is not, the returned
// duration is how long until the next token.
func (b *Bucket) Allow() (bool, time.Duration) {
	return b.allowAt(time.Now())
}

func (b *Bucket) allowAt(now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)
	b.lastUsed = now
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
	return false, wait
}

func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now
}

func (b *Bucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastUsed)
}

// Limiter keeps one bucket per key.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*Bucket

	// Buckets idle this long are dropped on the next prune.
	idleTTL   time.Duration
	lastPrune time.Time
	now       func() time.Time
}

// NewLimiter creates a keyed limiter.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg.withDefaults(),
		buckets: make(map[string]*Bucket),
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

// Allow checks the bucket for key.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.now()
	return l.bucket(key, now).allowAt(now)
}

func (l *Limiter) bucket(key string, now time.Time) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > l.idleTTL {
		l.prune(now)
		l.lastPrune = now
	}
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(l.cfg, now)
		l.buckets[key] = b
	}
	return b
}

func (l *Limiter) prune(now time.Time) {
	for key, b := range l.buckets {
		if b.idleSince(now) > l.idleTTL {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
