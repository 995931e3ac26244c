package service

import (
	"context"
	"sync"
	"time"
)

type rateWindow struct {
	start time.Time
	count int
}

type MemoryRateLimiterOption func(*MemoryRateLimiter)

func WithRateLimitClock(now func() time.Time) MemoryRateLimiterOption {
	return func(l *MemoryRateLimiter) {
		l.now = now
	}
}

// MemoryRateLimiter keeps counters in process. Run must be started to reclaim
// windows that have elapsed.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewMemoryRateLimiter(limit int, window time.Duration, opts ...MemoryRateLimiterOption) *MemoryRateLimiter {
	l := &MemoryRateLimiter{
		windows: make(map[string]*rateWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (RateLimitResult, error) {
	now := l.now()

	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) > l.window {
		w = &rateWindow{start: now}
		l.windows[key] = w
	}
	w.count++
	count, start := w.count, w.start
	l.mu.Unlock()

	return newResult(count, l.limit, start.Add(l.window), now), nil
}

// Run sweeps elapsed windows every window until ctx is done.
func (l *MemoryRateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *MemoryRateLimiter) sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) > l.window {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

func (l *MemoryRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
