package primitive

import (
	"sync"
	"time"
)

// TokenBucket is a float-based token bucket: starts full (burst tokens
// available immediately), refills continuously by elapsed wall-clock time,
// and never refunds on consumption.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a bucket that starts full at burstSize and refills
// at tokensPerSecond.
func NewTokenBucket(tokensPerSecond, burstSize float64) *TokenBucket {
	return newTokenBucketWithClock(tokensPerSecond, burstSize, time.Now)
}

func newTokenBucketWithClock(tokensPerSecond, burstSize float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   burstSize,
		tokens:     burstSize,
		refillRate: tokensPerSecond,
		lastRefill: now(),
		now:        now,
	}
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// TryAcquire consumes one token if available.
func (b *TokenBucket) TryAcquire() bool { return b.TryAcquireN(1) }

// TryAcquireN consumes n tokens if that many are available.
func (b *TokenBucket) TryAcquireN(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Refund returns n tokens to the bucket, capped at capacity. Used only for
// calls rejected before primitive execution ran (validation/approval
// denial) — never for primitive execution failure.
func (b *TokenBucket) Refund(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens += n
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// AvailableTokens returns the current (truncated) token count.
func (b *TokenBucket) AvailableTokens() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return uint64(b.tokens)
}

// TimeUntilAvailable returns how long until a single token is available.
func (b *TokenBucket) TimeUntilAvailable() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1.0 {
		return 0
	}
	if b.refillRate <= 0 {
		return time.Duration(1<<63 - 1) // effectively "never"
	}
	seconds := (1.0 - b.tokens) / b.refillRate
	return time.Duration(seconds * float64(time.Second))
}

// RateLimitConfig bounds the global bucket plus per-primitive buckets.
type RateLimitConfig struct {
	GlobalTokensPerSecond  float64
	GlobalBurstSize        float64
	DefaultTokensPerSecond float64
	DefaultBurstSize       float64
	PrimitiveLimits        map[string][2]float64 // name -> {tokens_per_second, burst}
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		GlobalTokensPerSecond:  200,
		GlobalBurstSize:        500,
		DefaultTokensPerSecond: 50,
		DefaultBurstSize:       100,
		PrimitiveLimits: map[string][2]float64{
			"read_file":   {100, 200},
			"list_files":  {50, 100},
			"bash":        {10, 20},
			"edit_file":   {20, 40},
			"code_search": {30, 60},
		},
	}
}

// DisabledRateLimitConfig removes all limiting (used in tests / explicit
// opt-out).
func DisabledRateLimitConfig() RateLimitConfig {
	const unlimited = 1 << 40
	return RateLimitConfig{GlobalTokensPerSecond: unlimited, GlobalBurstSize: unlimited,
		DefaultTokensPerSecond: unlimited, DefaultBurstSize: unlimited, PrimitiveLimits: map[string][2]float64{}}
}

// RateLimiter owns one global bucket plus independent per-primitive
// buckets, so contention is per-name except for the shared global bucket.
type RateLimiter struct {
	cfg    RateLimitConfig
	mu     sync.Mutex
	global *TokenBucket
	byName map[string]*TokenBucket
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:    cfg,
		global: NewTokenBucket(cfg.GlobalTokensPerSecond, cfg.GlobalBurstSize),
		byName: map[string]*TokenBucket{},
	}
}

func (r *RateLimiter) bucketFor(name string) *TokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byName[name]; ok {
		return b
	}
	tps, burst := r.cfg.DefaultTokensPerSecond, r.cfg.DefaultBurstSize
	if lim, ok := r.cfg.PrimitiveLimits[name]; ok {
		tps, burst = lim[0], lim[1]
	}
	b := NewTokenBucket(tps, burst)
	r.byName[name] = b
	return b
}

// TryAcquire consumes one token from both the global bucket and the named
// primitive's bucket; both must have a token available. On rejection,
// whichever bucket DID succeed is refunded, so a denial is free overall.
func (r *RateLimiter) TryAcquire(name string) (ok bool, retryAfter time.Duration) {
	perName := r.bucketFor(name)

	globalOK := r.global.TryAcquire()
	nameOK := perName.TryAcquire()

	if globalOK && nameOK {
		return true, 0
	}
	if globalOK && !nameOK {
		r.global.Refund(1)
	}
	if nameOK && !globalOK {
		perName.Refund(1)
	}

	retryAfter = r.global.TimeUntilAvailable()
	if d := perName.TimeUntilAvailable(); d > retryAfter {
		retryAfter = d
	}
	return false, retryAfter
}
