// Package ratelimit provides per-key token bucket rate limiting for the
// merge MCP tools.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Limiter keeps one token bucket per key. Buckets start full, refill at
// rate tokens per second and hold at most burst tokens. Safe for concurrent
// use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   int
	now     func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// refill credits the tokens earned since the bucket was last seen.
func (b *bucket) refill(now time.Time, rate float64, burst int) {
	if elapsed := now.Sub(b.seen).Seconds(); elapsed > 0 {
		b.tokens = min(b.tokens+rate*elapsed, float64(burst))
		b.seen = now
	}
}

// NewLimiter returns a limiter refilling at rate tokens per second with the
// given burst.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
}

// Allow takes a token from key's bucket, reporting false when none is left.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), seen: now}
		l.buckets[key] = b
	}
	b.refill(now, l.rate, l.burst)

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// ErrRateLimited is returned by CheckLimit when a tool's bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// Rule is the refill rate (tokens/sec) and burst for one tool.
type Rule struct {
	Rate  float64
	Burst int
}

// DefaultRules are sized for an external controller stepping an episode as
// fast as it can while a human occasionally inspects it.
var DefaultRules = map[string]Rule{
	"merge_step":        {Rate: 200, Burst: 200},
	"merge_is_end":      {Rate: 400, Burst: 400},
	"merge_is_terminal": {Rate: 200, Burst: 200},
	"merge_reset":       {Rate: 20, Burst: 20},
	"merge_status":      {Rate: 10, Burst: 20},
	"merge_render":      {Rate: 10, Burst: 20},
}

// ToolLimiters maps tool names to their rate limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters creates one limiter per tool from DefaultRules.
func NewToolLimiters() ToolLimiters {
	return NewToolLimitersFrom(DefaultRules)
}

// NewToolLimitersFrom creates one limiter per rule. Rules with a
// non-positive burst are skipped, which leaves that tool unlimited.
func NewToolLimitersFrom(rules map[string]Rule) ToolLimiters {
	limiters := make(ToolLimiters, len(rules))
	for tool, r := range rules {
		if r.Burst <= 0 {
			continue
		}
		limiters[tool] = NewLimiter(r.Rate, r.Burst)
	}
	return limiters
}

// CheckLimit checks the rate limit for a given tool name.
// Returns nil if allowed, or an error wrapping ErrRateLimited.
// Tools without a configured limiter are always allowed.
func CheckLimit(limiters ToolLimiters, toolName string) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil
	}

	if !limiter.Allow(toolName) {
		return fmt.Errorf("%w for %s, please try again shortly", ErrRateLimited, toolName)
	}

	return nil
}
