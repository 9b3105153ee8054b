package ratelimit_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/legal-radar/backend/internal/models"
	"github.com/DeafMist/legal-radar/backend/internal/ratelimit"
	"github.com/DeafMist/legal-radar/backend/internal/sourceerr"
)

func TestAcquireSpacesConcurrentCallers(t *testing.T) {
	const interval = 40 * time.Millisecond
	const callers = 4
	l := ratelimit.New(interval, nil)

	var (
		mu    sync.Mutex
		times []time.Time
		errs  []error
		wg    sync.WaitGroup
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Acquire(context.Background(), models.SourceGazette)
			mu.Lock()
			times = append(times, time.Now())
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	require.Len(t, times, callers)
	require.GreaterOrEqual(t, times[callers-1].Sub(times[0]), time.Duration(callers-1)*interval-5*time.Millisecond)
}

func TestSourcesAreIndependent(t *testing.T) {
	l := ratelimit.New(time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, models.SourceGazette))

	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx, models.SourceCaseLaw) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("case-law acquisition blocked behind gazette")
	}
}

func TestAcquireHonoursDeadline(t *testing.T) {
	l := ratelimit.New(time.Hour, nil)
	require.NoError(t, l.Acquire(context.Background(), models.SourceGazette))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx, models.SourceGazette)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.True(t, sourceerr.Is(err, sourceerr.Timeout))
}

func TestOverridesAndObserver(t *testing.T) {
	l := ratelimit.New(time.Hour, map[models.Source]time.Duration{models.SourceCaseLaw: 0})
	require.Equal(t, time.Hour, l.Interval(models.SourceGazette))
	require.Equal(t, time.Duration(0), l.Interval(models.SourceCaseLaw))

	var calls int
	l.Observe(func(src models.Source, _ time.Duration) {
		require.Equal(t, models.SourceCaseLaw, src)
		calls++
	})
	for range 3 {
		require.NoError(t, l.Acquire(context.Background(), models.SourceCaseLaw))
	}
	require.Equal(t, 3, calls)
}
