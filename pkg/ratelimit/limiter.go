// Package ratelimit implements sliding window rate limiting backed by redis
// or by process memory.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a single rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Limit     int
}

// Limiter records a hit for key and reports whether it fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
	Reset(ctx context.Context, key string) error
}
