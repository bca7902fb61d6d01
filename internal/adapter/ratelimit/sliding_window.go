package ratelimit

/*
	Solgate Rate Limit Adapter - Sliding Window Limiter

	SlidingWindowLimiter enforces per-endpoint request budgets using a rolling
	window of timestamps. Acquire blocks the caller until the window has a free
	slot, which keeps us inside each provider's published rate limit instead of
	burning retries on 429s.

	Acquires for the same URL are serialised: the per-entry mutex is held across
	the wait so concurrent callers observe a total order. That is the only lock
	in the system held across a suspension.
*/

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/tidemill/solgate/internal/core/domain"
	"github.com/tidemill/solgate/internal/core/ports"
	"github.com/tidemill/solgate/internal/logger"
)

type windowEntry struct {
	limit       domain.RateLimitConfig
	timestamps  []time.Time
	totalWaits  int64
	totalWaitMs int64
	mu          sync.Mutex
}

type SlidingWindowLimiter struct {
	entries *xsync.Map[string, *windowEntry]
	logger  logger.StyledLogger
}

func NewSlidingWindowLimiter(logger logger.StyledLogger) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		entries: xsync.NewMap[string, *windowEntry](),
		logger:  logger,
	}
}

// Configure sets the budget for url, replacing any previous one. The window
// history survives reconfiguration so a tighter limit applies immediately.
func (l *SlidingWindowLimiter) Configure(url string, limit domain.RateLimitConfig) {
	entry, _ := l.entries.LoadOrStore(url, &windowEntry{})
	entry.mu.Lock()
	entry.limit = limit
	if cap(entry.timestamps) < limit.MaxRequests {
		grown := make([]time.Time, len(entry.timestamps), limit.MaxRequests)
		copy(grown, entry.timestamps)
		entry.timestamps = grown
	}
	entry.mu.Unlock()
}

// Acquire blocks until the rolling window for url has a free slot, then
// records the request. Returns ErrRateLimited if ctx expires while queued.
func (l *SlidingWindowLimiter) Acquire(ctx context.Context, url string) error {
	entry := l.entryFor(url)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.limit.MaxRequests <= 0 {
		return nil
	}

	waited := time.Duration(0)
	for {
		now := time.Now()
		entry.prune(now)

		if len(entry.timestamps) < entry.limit.MaxRequests {
			entry.timestamps = append(entry.timestamps, now)
			if waited > 0 {
				entry.totalWaits++
				entry.totalWaitMs += waited.Milliseconds()
			}
			return nil
		}

		wait := entry.timestamps[0].Add(entry.limit.Window).Sub(now)
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s: %v", domain.ErrRateLimited, url, ctx.Err())
		case <-timer.C:
			waited += wait
		}
	}
}

// TryAcquire records a request only if a slot is free right now.
func (l *SlidingWindowLimiter) TryAcquire(url string) bool {
	entry := l.entryFor(url)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.limit.MaxRequests <= 0 {
		return true
	}

	now := time.Now()
	entry.prune(now)

	if len(entry.timestamps) >= entry.limit.MaxRequests {
		return false
	}
	entry.timestamps = append(entry.timestamps, now)
	return true
}

func (l *SlidingWindowLimiter) Stats() map[string]ports.RateLimiterStats {
	stats := make(map[string]ports.RateLimiterStats)
	now := time.Now()
	l.entries.Range(func(url string, entry *windowEntry) bool {
		entry.mu.Lock()
		entry.prune(now)
		stats[url] = ports.RateLimiterStats{
			URL:         url,
			MaxRequests: entry.limit.MaxRequests,
			WindowMs:    entry.limit.Window.Milliseconds(),
			InWindow:    len(entry.timestamps),
			TotalWaits:  entry.totalWaits,
			TotalWaitMs: entry.totalWaitMs,
		}
		entry.mu.Unlock()
		return true
	})
	return stats
}

// entryFor returns the window for url, falling back to the provider
// catalogue for URLs nobody configured explicitly.
func (l *SlidingWindowLimiter) entryFor(url string) *windowEntry {
	if entry, ok := l.entries.Load(url); ok {
		return entry
	}

	limit := LookupProviderLimit(url)
	entry, loaded := l.entries.LoadOrStore(url, &windowEntry{
		limit:      limit,
		timestamps: make([]time.Time, 0, limit.MaxRequests),
	})
	if !loaded && l.logger != nil {
		l.logger.Debug("rate limit from catalogue", "url", url,
			"max_requests", limit.MaxRequests, "window_ms", limit.Window.Milliseconds())
	}
	return entry
}

// prune drops timestamps older than the window. Caller holds mu.
func (e *windowEntry) prune(now time.Time) {
	cutoff := now.Add(-e.limit.Window)
	kept := e.timestamps[:0]
	for _, t := range e.timestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.timestamps = kept
}
