package aggregator_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/legal-radar/backend/internal/aggregator"
	"github.com/DeafMist/legal-radar/backend/internal/models"
	"github.com/DeafMist/legal-radar/backend/internal/ratelimit"
	"github.com/DeafMist/legal-radar/backend/internal/sourceerr"
	"github.com/DeafMist/legal-radar/backend/internal/sources"
)

var now = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	source  models.Source
	records []models.CanonicalRecord
	err     error
	limiter *ratelimit.Limiter

	calls atomic.Int32
	mu    sync.Mutex
	times []time.Time
	byID  map[string]models.CanonicalRecord
}

func (f *fakeAdapter) Source() models.Source { return f.source }

func (f *fakeAdapter) Search(ctx context.Context, spec models.QuerySpec) ([]models.CanonicalRecord, int, error) {
	if f.limiter != nil {
		if err := f.limiter.Acquire(ctx, f.source); err != nil {
			return nil, 0, sourceerr.FromTransport(ctx, f.source, err)
		}
	}
	f.calls.Add(1)
	f.mu.Lock()
	f.times = append(f.times, time.Now())
	f.mu.Unlock()
	if f.err != nil {
		return nil, 0, f.err
	}
	out := f.records
	if spec.Limit > 0 && len(out) > spec.Limit {
		out = out[:spec.Limit]
	}
	return append([]models.CanonicalRecord(nil), out...), len(f.records), nil
}

func (f *fakeAdapter) GetByNativeID(_ context.Context, nativeID string) (models.CanonicalRecord, error) {
	f.calls.Add(1)
	if f.err != nil {
		return models.CanonicalRecord{}, f.err
	}
	rec, ok := f.byID[models.RecordID(f.source, nativeID)]
	if !ok {
		return models.CanonicalRecord{}, sourceerr.New(f.source, sourceerr.NotFound, errors.New("missing"))
	}
	return rec, nil
}

func record(src models.Source, native string) models.CanonicalRecord {
	return models.CanonicalRecord{
		ID:          models.RecordID(src, native),
		Title:       "Registro " + native,
		Kind:        models.KindOther,
		Source:      src,
		PublishedAt: now.Truncate(24 * time.Hour),
		URL:         "https://example.test/" + native,
	}
}

type recordingSyncer struct {
	mu      sync.Mutex
	batches [][]models.CanonicalRecord
	err     error
}

func (s *recordingSyncer) Upsert(_ context.Context, records []models.CanonicalRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
	if s.err != nil {
		return 0, s.err
	}
	return len(records), nil
}

type mapStore map[string]models.CanonicalRecord

func (m mapStore) Get(_ context.Context, id string) (models.CanonicalRecord, bool, error) {
	rec, ok := m[id]
	return rec, ok, nil
}

func newAggregator(t *testing.T, cfg aggregator.Config) *aggregator.Aggregator {
	t.Helper()
	if cfg.Clock == nil {
		cfg.Clock = testclock.NewClock(now)
	}
	agg, err := aggregator.New(cfg)
	require.NoError(t, err)
	return agg
}

func TestSearchCachesWithinTTL(t *testing.T) {
	gazette := &fakeAdapter{source: models.SourceGazette, records: []models.CanonicalRecord{record(models.SourceGazette, "A-2024-1")}}
	caselaw := &fakeAdapter{source: models.SourceCaseLaw, records: []models.CanonicalRecord{record(models.SourceCaseLaw, "1")}}
	clk := testclock.NewClock(now)
	var hits, misses atomic.Int32
	agg := newAggregator(t, aggregator.Config{
		Adapters: []sources.Adapter{gazette, caselaw},
		CacheTTL: time.Hour,
		Clock:    clk,
		OnCache: func(_ models.Source, hit bool) {
			if hit {
				hits.Add(1)
			} else {
				misses.Add(1)
			}
		},
	})
	ctx := context.Background()

	first, err := agg.Search(ctx, models.QuerySpec{Query: "Contrato"}, nil, aggregator.Options{})
	require.NoError(t, err)
	require.Len(t, first.Records, 2)

	second, err := agg.Search(ctx, models.QuerySpec{Query: "  contrato "}, nil, aggregator.Options{})
	require.NoError(t, err)
	require.Equal(t, first.Records, second.Records)
	require.True(t, second.Sources[0].Cached)
	require.True(t, second.Sources[1].Cached)
	require.NotNil(t, second.Sources[0].FetchedAt)
	require.Equal(t, now, *second.Sources[0].FetchedAt)
	require.Nil(t, first.Sources[0].FetchedAt)

	require.EqualValues(t, 1, gazette.calls.Load())
	require.EqualValues(t, 1, caselaw.calls.Load())
	require.EqualValues(t, 2, hits.Load())
	require.EqualValues(t, 2, misses.Load())

	clk.Advance(time.Hour)
	_, err = agg.Search(ctx, models.QuerySpec{Query: "contrato"}, nil, aggregator.Options{})
	require.NoError(t, err)
	require.EqualValues(t, 2, gazette.calls.Load())
}

func TestSearchDoesNotCacheFailures(t *testing.T) {
	gazette := &fakeAdapter{source: models.SourceGazette, err: sourceerr.New(models.SourceGazette, sourceerr.SourceUnavailable, errors.New("503"))}
	agg := newAggregator(t, aggregator.Config{Adapters: []sources.Adapter{gazette}})
	selector := []models.Source{models.SourceGazette}

	for range 2 {
		_, err := agg.Search(context.Background(), models.QuerySpec{Query: "contrato"}, selector, aggregator.Options{})
		require.ErrorIs(t, err, aggregator.ErrAllSourcesFailed)
	}
	require.EqualValues(t, 2, gazette.calls.Load())
}

func TestSearchIsolatesPartialFailure(t *testing.T) {
	gazette := &fakeAdapter{source: models.SourceGazette, records: []models.CanonicalRecord{record(models.SourceGazette, "A-2024-1")}}
	caselaw := &fakeAdapter{source: models.SourceCaseLaw, err: sourceerr.New(models.SourceCaseLaw, sourceerr.SourceUnavailable, errors.New("503"))}
	agg := newAggregator(t, aggregator.Config{Adapters: []sources.Adapter{gazette, caselaw}})

	res, err := agg.Search(context.Background(), models.QuerySpec{Query: "contrato"}, nil, aggregator.Options{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, models.SourceGazette, res.Records[0].Source)
	require.Len(t, res.PartialFailures, 1)
	require.Equal(t, models.SourceCaseLaw, res.PartialFailures[0].Source)
	require.Equal(t, sourceerr.SourceUnavailable, res.PartialFailures[0].Kind)
	require.NotEmpty(t, res.PartialFailures[0].Reason)
	require.True(t, res.PartialFailures[0].Retryable)
}

func TestSearchMarksBlockedSourceNotRetryable(t *testing.T) {
	gazette := &fakeAdapter{source: models.SourceGazette, records: []models.CanonicalRecord{record(models.SourceGazette, "A-2024-1")}}
	caselaw := &fakeAdapter{source: models.SourceCaseLaw, err: sourceerr.New(models.SourceCaseLaw, sourceerr.SourceBlocked, errors.New("403"))}
	agg := newAggregator(t, aggregator.Config{Adapters: []sources.Adapter{gazette, caselaw}})

	res, err := agg.Search(context.Background(), models.QuerySpec{Query: "contrato"}, nil, aggregator.Options{})
	require.NoError(t, err)
	require.Len(t, res.PartialFailures, 1)
	require.Equal(t, sourceerr.SourceBlocked, res.PartialFailures[0].Kind)
	require.False(t, res.PartialFailures[0].Retryable)
}

func TestSearchAllFailedReturnsAggregateError(t *testing.T) {
	gazette := &fakeAdapter{source: models.SourceGazette, err: sourceerr.New(models.SourceGazette, sourceerr.RateLimited, errors.New("429"))}
	caselaw := &fakeAdapter{source: models.SourceCaseLaw, err: errors.New("connection reset")}
	agg := newAggregator(t, aggregator.Config{Adapters: []sources.Adapter{gazette, caselaw}})

	res, err := agg.Search(context.Background(), models.QuerySpec{Query: "contrato"}, nil, aggregator.Options{})
	require.ErrorIs(t, err, aggregator.ErrAllSourcesFailed)
	require.NotNil(t, res)
	require.Len(t, res.PartialFailures, 2)
	require.Equal(t, sourceerr.RateLimited, res.PartialFailures[0].Kind)
	require.Equal(t, sourceerr.SourceUnavailable, res.PartialFailures[1].Kind)
}

func TestSearchEmptyResultIsNotFailure(t *testing.T) {
	gazette := &fakeAdapter{source: models.SourceGazette}
	agg := newAggregator(t, aggregator.Config{Adapters: []sources.Adapter{gazette}})

	res, err := agg.Search(context.Background(), models.QuerySpec{Query: "nada"}, []models.Source{models.SourceGazette}, aggregator.Options{})
	require.NoError(t, err)
	require.Empty(t, res.Records)
	require.Empty(t, res.PartialFailures)
	require.True(t, res.Sources[0].Empty)
}

func TestSearchRejectsInvertedRange(t *testing.T) {
	agg := newAggregator(t, aggregator.Config{Adapters: []sources.Adapter{&fakeAdapter{source: models.SourceGazette}}})
	from := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := agg.Search(context.Background(), models.QuerySpec{Query: "x", From: &from, To: &to}, nil, aggregator.Options{})
	require.ErrorIs(t, err, models.ErrInvalidRange)
}

func TestSearchSerializesSameSourceThroughLimiter(t *testing.T) {
	const interval = 30 * time.Millisecond
	const callers = 3
	gazette := &fakeAdapter{
		source:  models.SourceGazette,
		records: []models.CanonicalRecord{record(models.SourceGazette, "A-2024-1")},
		limiter: ratelimit.New(interval, nil),
	}
	agg := newAggregator(t, aggregator.Config{Adapters: []sources.Adapter{gazette}})

	var wg sync.WaitGroup
	errs := make([]error, callers)
	queries := []string{"uno", "dos", "tres"}
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = agg.Search(context.Background(), models.QuerySpec{Query: queries[i]}, []models.Source{models.SourceGazette}, aggregator.Options{})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	gazette.mu.Lock()
	times := append([]time.Time(nil), gazette.times...)
	gazette.mu.Unlock()
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	require.Len(t, times, callers)
	require.GreaterOrEqual(t, times[callers-1].Sub(times[0]), (callers-1)*interval-5*time.Millisecond)
}

func TestSearchTimesOutWhileQueued(t *testing.T) {
	limiter := ratelimit.New(time.Hour, nil)
	require.NoError(t, limiter.Acquire(context.Background(), models.SourceGazette))
	gazette := &fakeAdapter{source: models.SourceGazette, limiter: limiter}
	caselaw := &fakeAdapter{source: models.SourceCaseLaw, records: []models.CanonicalRecord{record(models.SourceCaseLaw, "1")}}
	agg := newAggregator(t, aggregator.Config{Adapters: []sources.Adapter{gazette, caselaw}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := agg.Search(ctx, models.QuerySpec{Query: "contrato"}, nil, aggregator.Options{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Len(t, res.PartialFailures, 1)
	require.Equal(t, sourceerr.Timeout, res.PartialFailures[0].Kind)
	require.Zero(t, gazette.calls.Load())
}

func TestSearchSyncsOnlyFreshRecords(t *testing.T) {
	gazette := &fakeAdapter{source: models.SourceGazette, records: []models.CanonicalRecord{record(models.SourceGazette, "A-2024-1")}}
	caselaw := &fakeAdapter{source: models.SourceCaseLaw, records: []models.CanonicalRecord{record(models.SourceCaseLaw, "1")}}
	syncer := &recordingSyncer{}
	agg := newAggregator(t, aggregator.Config{Adapters: []sources.Adapter{gazette, caselaw}, Syncer: syncer})
	ctx := context.Background()

	_, err := agg.Search(ctx, models.QuerySpec{Query: "contrato"}, []models.Source{models.SourceGazette}, aggregator.Options{})
	require.NoError(t, err)
	require.Empty(t, syncer.batches)

	res, err := agg.Search(ctx, models.QuerySpec{Query: "contrato"}, nil, aggregator.Options{Sync: true})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.Equal(t, 1, res.Synced)
	require.Len(t, syncer.batches, 1)
	require.Equal(t, []string{"CENDOJ-1"}, ids(syncer.batches[0]))

	res, err = agg.Search(ctx, models.QuerySpec{Query: "contrato"}, nil, aggregator.Options{Sync: true})
	require.NoError(t, err)
	require.Zero(t, res.Synced)
	require.Len(t, syncer.batches, 1)
}

func TestSearchReportsSyncErrorSeparately(t *testing.T) {
	gazette := &fakeAdapter{source: models.SourceGazette, records: []models.CanonicalRecord{record(models.SourceGazette, "A-2024-1")}}
	syncer := &recordingSyncer{err: errors.New("database is locked")}
	agg := newAggregator(t, aggregator.Config{Adapters: []sources.Adapter{gazette}, Syncer: syncer})

	res, err := agg.Search(context.Background(), models.QuerySpec{Query: "contrato"}, nil, aggregator.Options{Sync: true})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Error(t, res.SyncErr)
	require.Contains(t, res.SyncError, "database is locked")
	require.Len(t, res.PartialFailures, 1)
}

func TestSearchSyncWithoutStore(t *testing.T) {
	gazette := &fakeAdapter{source: models.SourceGazette, records: []models.CanonicalRecord{record(models.SourceGazette, "A-2024-1")}}
	agg := newAggregator(t, aggregator.Config{Adapters: []sources.Adapter{gazette}})

	res, err := agg.Search(context.Background(), models.QuerySpec{Query: "contrato"}, []models.Source{models.SourceGazette}, aggregator.Options{Sync: true})
	require.NoError(t, err)
	require.ErrorIs(t, res.SyncErr, aggregator.ErrNoStore)
}

func TestGetByIDRoutesByPrefix(t *testing.T) {
	want := record(models.SourceCaseLaw, "28079130012024100001")
	caselaw := &fakeAdapter{source: models.SourceCaseLaw, byID: map[string]models.CanonicalRecord{want.ID: want}}
	gazette := &fakeAdapter{source: models.SourceGazette}
	agg := newAggregator(t, aggregator.Config{Adapters: []sources.Adapter{gazette, caselaw}})
	ctx := context.Background()

	got, err := agg.GetByID(ctx, want.ID, aggregator.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = agg.GetByID(ctx, want.ID, aggregator.GetOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 2, caselaw.calls.Load())
	require.Zero(t, gazette.calls.Load())

	_, err = agg.GetByID(ctx, "XYZ-1", aggregator.GetOptions{})
	require.True(t, sourceerr.Is(err, sourceerr.NotFound))

	_, err = agg.GetByID(ctx, "CENDOJ-404", aggregator.GetOptions{})
	require.True(t, sourceerr.Is(err, sourceerr.NotFound))
}

func TestGetByIDStoreFallback(t *testing.T) {
	stored := record(models.SourceGazette, "A-2020-99")
	gazette := &fakeAdapter{source: models.SourceGazette, err: sourceerr.New(models.SourceGazette, sourceerr.SourceUnavailable, errors.New("503"))}
	agg := newAggregator(t, aggregator.Config{
		Adapters: []sources.Adapter{gazette},
		Store:    mapStore{stored.ID: stored},
	})
	ctx := context.Background()

	got, err := agg.GetByID(ctx, stored.ID, aggregator.GetOptions{StoreFallback: true})
	require.NoError(t, err)
	require.Equal(t, stored, got)

	_, err = agg.GetByID(ctx, stored.ID, aggregator.GetOptions{})
	require.True(t, sourceerr.Is(err, sourceerr.SourceUnavailable))

	_, err = agg.GetByID(ctx, "BOE-A-2020-1", aggregator.GetOptions{StoreFallback: true})
	require.True(t, sourceerr.Is(err, sourceerr.SourceUnavailable))
}

func TestNewValidatesAdapters(t *testing.T) {
	_, err := aggregator.New(aggregator.Config{})
	require.Error(t, err)

	_, err = aggregator.New(aggregator.Config{Adapters: []sources.Adapter{
		&fakeAdapter{source: models.SourceGazette},
		&fakeAdapter{source: models.SourceGazette},
	}})
	require.Error(t, err)

	agg := newAggregator(t, aggregator.Config{Adapters: []sources.Adapter{&fakeAdapter{source: models.SourceCaseLaw}}})
	require.Equal(t, []models.Source{models.SourceCaseLaw}, agg.Sources())
}

func ids(records []models.CanonicalRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestSearchClassifiesUpstreamFailures(t *testing.T) {
	unavailable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(unavailable.Close)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)

	fetcher, err := sources.NewFetcher(sources.FetcherConfig{
		Client: &http.Client{
			Timeout:   50 * time.Millisecond,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
		Limiter: ratelimit.New(0, nil),
	})
	require.NoError(t, err)
	gazette, err := sources.NewGazette(sources.GazetteConfig{BaseURL: unavailable.URL, Fetcher: fetcher})
	require.NoError(t, err)
	caselaw, err := sources.NewCaseLaw(sources.CaseLawConfig{BaseURL: slow.URL, Fetcher: fetcher})
	require.NoError(t, err)

	stored := record(models.SourceCaseLaw, "28079130012024100001")
	agg := newAggregator(t, aggregator.Config{
		Adapters: []sources.Adapter{gazette, caselaw},
		Store:    mapStore{stored.ID: stored},
	})

	res, err := agg.Search(context.Background(), models.QuerySpec{Query: "contrato"}, nil, aggregator.Options{})
	require.ErrorIs(t, err, aggregator.ErrAllSourcesFailed)
	require.Len(t, res.PartialFailures, 2)
	for _, f := range res.PartialFailures {
		require.Equal(t, sourceerr.SourceUnavailable, f.Kind, f.Source)
	}

	// A slow upstream is not the caller's deadline, so the stored copy is served.
	rec, err := agg.GetByID(context.Background(), stored.ID, aggregator.GetOptions{StoreFallback: true})
	require.NoError(t, err)
	require.Equal(t, stored.ID, rec.ID)
}
