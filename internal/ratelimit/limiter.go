// Package ratelimit paces outbound calls so each upstream source sees at
// most one request per minimum interval.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/DeafMist/legal-radar/backend/internal/models"
	"github.com/DeafMist/legal-radar/backend/internal/sourceerr"
)

// DefaultInterval is the courtesy gap between two requests to one source.
const DefaultInterval = 3 * time.Second

// WaitObserver is told how long each acquisition waited.
type WaitObserver func(src models.Source, waited time.Duration)

// Limiter holds one single-slot token bucket per source. A bucket of size
// one refilled every interval admits the next caller exactly interval after
// the previous admission started, and reservations are handed out in call
// order.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[models.Source]*rate.Limiter
	intervals map[models.Source]time.Duration
	fallback  time.Duration
	observe   WaitObserver
}

// New creates a limiter using fallback for every source without an override.
func New(fallback time.Duration, overrides map[models.Source]time.Duration) *Limiter {
	if fallback < 0 {
		fallback = DefaultInterval
	}
	intervals := make(map[models.Source]time.Duration, len(overrides))
	for src, d := range overrides {
		intervals[src] = d
	}
	return &Limiter{
		buckets:   make(map[models.Source]*rate.Limiter),
		intervals: intervals,
		fallback:  fallback,
	}
}

// Observe registers a callback for acquisition wait times.
func (l *Limiter) Observe(fn WaitObserver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observe = fn
}

// Interval returns the minimum gap enforced for src.
func (l *Limiter) Interval(src models.Source) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.intervalLocked(src)
}

// Acquire blocks until src may be called. When ctx ends first, including
// when the required wait would outlast the deadline, it returns a
// sourceerr Timeout wrapping context.DeadlineExceeded or context.Canceled.
func (l *Limiter) Acquire(ctx context.Context, src models.Source) error {
	bucket, observe := l.bucket(src)

	start := time.Now()
	if err := bucket.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sourceerr.New(src, sourceerr.Timeout, fmt.Errorf("acquire: %w", ctxErr))
		}
		return sourceerr.New(src, sourceerr.Timeout, fmt.Errorf("acquire: %w: %v", context.DeadlineExceeded, err))
	}
	if observe != nil {
		observe(src, time.Since(start))
	}
	return nil
}

func (l *Limiter) bucket(src models.Source) (*rate.Limiter, WaitObserver) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[src]
	if !ok {
		limit := rate.Inf
		if d := l.intervalLocked(src); d > 0 {
			limit = rate.Every(d)
		}
		b = rate.NewLimiter(limit, 1)
		l.buckets[src] = b
	}
	return b, l.observe
}

func (l *Limiter) intervalLocked(src models.Source) time.Duration {
	if d, ok := l.intervals[src]; ok && d >= 0 {
		return d
	}
	return l.fallback
}
