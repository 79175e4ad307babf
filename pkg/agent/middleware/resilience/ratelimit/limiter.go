// Package ratelimit bounds provider throughput with a token bucket plus a concurrency cap.
// Concurrent sessions share one limiter per generator chain.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/utils"
)

// bufferFactor keeps headroom for token estimation error.
const bufferFactor = 0.9

// pollInterval is how often a blocked Acquire re-checks the bucket.
const pollInterval = 50 * time.Millisecond

// Config defines rate limiting configuration for a provider.
type Config struct {
	TokensPerMinute int
	MaxConcurrency  int
}

// TokenEstimator estimates the number of tokens needed for a request.
type TokenEstimator interface {
	EstimatePrompt(req llm.CompletionRequest) int
}

// DefaultTokenEstimator estimates prompt tokens with tiktoken.
type DefaultTokenEstimator struct{}

// EstimatePrompt sums token counts across all messages.
func (DefaultTokenEstimator) EstimatePrompt(req llm.CompletionRequest) int {
	total := 0
	for i := range req.Messages {
		total += utils.CountTokensSimple(req.Messages[i].Content)
	}
	return total
}

// Stats is a point-in-time view of the limiter.
type Stats struct {
	AvailableTokens int   `json:"available_tokens"`
	MaxCapacity     int   `json:"max_capacity"`
	ActiveRequests  int   `json:"active_requests"`
	MaxConcurrency  int   `json:"max_concurrency"`
	TokenLimitHits  int64 `json:"token_limit_hits"`
	ConcurrencyHits int64 `json:"concurrency_hits"`
}

// TokenBucketLimiter refills continuously from elapsed time; no background goroutine is started.
//
//nolint:govet // fieldalignment: Struct layout optimized for readability over memory
type TokenBucketLimiter struct {
	mu sync.Mutex

	now        func() time.Time
	lastRefill time.Time

	available   float64
	perSecond   float64
	maxCapacity int

	activeRequests int
	maxConcurrency int

	tokenLimitHits  int64
	concurrencyHits int64
}

// NewTokenBucketLimiter creates a limiter starting with a full bucket.
func NewTokenBucketLimiter(cfg Config) *TokenBucketLimiter {
	capacity := int(float64(cfg.TokensPerMinute) * bufferFactor)
	if capacity <= 0 {
		capacity = 1
	}
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &TokenBucketLimiter{
		now:            time.Now,
		lastRefill:     time.Now(),
		available:      float64(capacity),
		perSecond:      float64(cfg.TokensPerMinute) / 60,
		maxCapacity:    capacity,
		maxConcurrency: concurrency,
	}
}

func (l *TokenBucketLimiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.available += elapsed * l.perSecond
		if l.available > float64(l.maxCapacity) {
			l.available = float64(l.maxCapacity)
		}
		l.lastRefill = now
	}
}

// tryAcquire takes tokens and a slot if both are available. Oversized requests are clamped to capacity.
func (l *TokenBucketLimiter) tryAcquire(tokens int) (ok bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tokens > l.maxCapacity {
		tokens = l.maxCapacity
	}
	l.refillLocked()
	if l.activeRequests >= l.maxConcurrency {
		l.concurrencyHits++
		return false, "concurrency"
	}
	if l.available < float64(tokens) {
		l.tokenLimitHits++
		return false, "tokens"
	}
	l.available -= float64(tokens)
	l.activeRequests++
	return true, ""
}

// Acquire blocks until tokens and a concurrency slot are available or ctx is done.
// The returned release func must be called exactly once.
func (l *TokenBucketLimiter) Acquire(ctx context.Context, tokens int) (func(), string, error) {
	waitedFor := ""
	for {
		ok, reason := l.tryAcquire(tokens)
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					l.activeRequests--
					l.mu.Unlock()
				})
			}, waitedFor, nil
		}
		if waitedFor == "" {
			waitedFor = reason
		}
		select {
		case <-ctx.Done():
			return nil, waitedFor, fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// GetStats returns current limiter statistics.
func (l *TokenBucketLimiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return Stats{
		AvailableTokens: int(l.available),
		MaxCapacity:     l.maxCapacity,
		ActiveRequests:  l.activeRequests,
		MaxConcurrency:  l.maxConcurrency,
		TokenLimitHits:  l.tokenLimitHits,
		ConcurrencyHits: l.concurrencyHits,
	}
}
