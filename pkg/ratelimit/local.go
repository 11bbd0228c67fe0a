package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

// LocalLimiter is a sliding window log held in memory. Windows are not shared
// between processes.
type LocalLimiter struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	calls int
	now   func() time.Time
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(now, window)
	}

	hits := prune(l.hits[key], now.Add(-window))
	res := &Result{Limit: limit, ResetAt: now.Add(window)}

	if len(hits) < limit {
		hits = append(hits, now)
		res.Allowed = true
		res.Remaining = limit - len(hits)
	} else if len(hits) > 0 {
		res.ResetAt = hits[0].Add(window)
	}

	if len(hits) == 0 {
		delete(l.hits, key)
	} else {
		l.hits[key] = hits
	}
	return res, nil
}

func (l *LocalLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hits, key)
	return nil
}

// sweep drops keys without a hit inside the window.
func (l *LocalLimiter) sweep(now time.Time, window time.Duration) {
	start := now.Add(-window)
	for key, hits := range l.hits {
		if hits = prune(hits, start); len(hits) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = hits
		}
	}
}

// prune drops hits at or before start. hits is ordered oldest first.
func prune(hits []time.Time, start time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(start) {
		i++
	}
	return hits[i:]
}
