// Package aggregator is the entry point of the legal-source layer: it fans a
// query out to the selected sources, memoizes successful source results and
// reports per-source failures without failing the whole search.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/legal-radar/backend/internal/cache"
	"github.com/DeafMist/legal-radar/backend/internal/models"
	"github.com/DeafMist/legal-radar/backend/internal/sourceerr"
	"github.com/DeafMist/legal-radar/backend/internal/sources"
)

// DefaultLimit is applied to queries that set no limit.
const DefaultLimit = 10

// ErrAllSourcesFailed is returned when no selected source produced a result.
// The returned error also wraps every per-source *sourceerr.Error.
var ErrAllSourcesFailed = errors.New("all sources failed")

// ErrNoStore is reported as SyncErr when sync is requested but no store is wired.
var ErrNoStore = errors.New("sync requested but no record store is configured")

// Syncer persists freshly fetched records.
type Syncer interface {
	Upsert(ctx context.Context, records []models.CanonicalRecord) (int, error)
}

// RecordReader reads previously persisted records.
type RecordReader interface {
	Get(ctx context.Context, id string) (models.CanonicalRecord, bool, error)
}

// CacheObserver is told about every cache lookup.
type CacheObserver func(src models.Source, hit bool)

// Config wires an Aggregator.
type Config struct {
	Adapters      []sources.Adapter
	Syncer        Syncer
	Store         RecordReader
	CacheTTL      time.Duration
	CacheCapacity int
	DefaultLimit  int
	Clock         clock.Clock
	Logger        *slog.Logger
	OnCache       CacheObserver
}

// Options tune a single search.
type Options struct {
	// Sync upserts the records fetched by this call (cache misses only).
	Sync bool
}

// GetOptions tune a single-document lookup.
type GetOptions struct {
	// StoreFallback serves the persisted copy when the source cannot.
	StoreFallback bool
}

// Failure describes why one source contributed nothing.
type Failure struct {
	Source models.Source  `json:"source"`
	Kind   sourceerr.Kind `json:"kind"`
	Reason string         `json:"reason"`
	// Retryable is false when retrying cannot help without operator action.
	Retryable bool  `json:"retryable"`
	Err       error `json:"-"`
}

// SourceOutcome summarizes one source's part of a search.
type SourceOutcome struct {
	Source   models.Source `json:"source"`
	Returned int           `json:"returned"`
	Total    int           `json:"total"`
	Cached   bool          `json:"cached"`
	// FetchedAt is when a cached answer was fetched from the source.
	FetchedAt *time.Time `json:"fetchedAt,omitempty"`
	// Empty marks a successful response that held no parseable records.
	Empty  bool `json:"empty"`
	Failed bool `json:"failed"`
}

// Result is the combined answer of a search.
type Result struct {
	Records         []models.CanonicalRecord `json:"records"`
	PartialFailures []Failure                `json:"partialFailures"`
	Sources         []SourceOutcome          `json:"sources"`
	Synced          int                      `json:"synced,omitempty"`
	SyncErr         error                    `json:"-"`
	SyncError       string                   `json:"syncError,omitempty"`
}

type cachedResult struct {
	records []models.CanonicalRecord
	total   int
}

// Aggregator is safe for concurrent use. The only blocking points are the
// per-source rate limiters inside the adapters.
type Aggregator struct {
	adapters     map[models.Source]sources.Adapter
	cache        *cache.Cache[cachedResult]
	syncer       Syncer
	store        RecordReader
	defaultLimit int
	log          *slog.Logger
	onCache      CacheObserver
}

// New builds an Aggregator. At least one adapter is required.
func New(cfg Config) (*Aggregator, error) {
	if len(cfg.Adapters) == 0 {
		return nil, fmt.Errorf("aggregator: no adapters")
	}
	adapters := make(map[models.Source]sources.Adapter, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		if a == nil {
			return nil, fmt.Errorf("aggregator: nil adapter")
		}
		if _, dup := adapters[a.Source()]; dup {
			return nil, fmt.Errorf("aggregator: duplicate adapter for %s", a.Source())
		}
		adapters[a.Source()] = a
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = 1000
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Aggregator{
		adapters:     adapters,
		cache:        cache.New[cachedResult](cfg.CacheCapacity, cfg.CacheTTL, cfg.Clock),
		syncer:       cfg.Syncer,
		store:        cfg.Store,
		defaultLimit: cfg.DefaultLimit,
		log:          cfg.Logger,
		onCache:      cfg.OnCache,
	}, nil
}

type sourceRun struct {
	records []models.CanonicalRecord
	outcome SourceOutcome
	fresh   bool
	err     error
}

// Search runs spec against every source in selector (all sources when
// empty). It returns an error only for invalid specs or when every selected
// source failed; in the latter case the result still lists the failures.
func (a *Aggregator) Search(ctx context.Context, spec models.QuerySpec, selector []models.Source, opts Options) (*Result, error) {
	spec = spec.Normalize(a.defaultLimit)
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	selected := dedupeSources(selector)

	runs := make([]sourceRun, len(selected))
	var g errgroup.Group
	for i, src := range selected {
		g.Go(func() error {
			runs[i] = a.searchSource(ctx, src, spec)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Records: []models.CanonicalRecord{}, PartialFailures: []Failure{}}
	var (
		fresh []models.CanonicalRecord
		errs  []error
	)
	for _, run := range runs {
		res.Sources = append(res.Sources, run.outcome)
		if run.err != nil {
			res.PartialFailures = append(res.PartialFailures, failureOf(run.outcome.Source, run.err))
			errs = append(errs, run.err)
			continue
		}
		res.Records = append(res.Records, run.records...)
		if run.fresh {
			fresh = append(fresh, run.records...)
		}
	}

	if len(errs) == len(runs) {
		return res, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
	}

	if opts.Sync {
		a.sync(ctx, res, fresh)
	}
	return res, nil
}

func (a *Aggregator) searchSource(ctx context.Context, src models.Source, spec models.QuerySpec) sourceRun {
	run := sourceRun{outcome: SourceOutcome{Source: src}}
	key := spec.CacheKey(src)

	if hit, ok := a.cache.Get(key); ok {
		a.observeCache(src, true)
		run.records = append([]models.CanonicalRecord(nil), hit.records...)
		run.outcome.Cached = true
		run.outcome.Returned = len(hit.records)
		run.outcome.Total = hit.total
		run.outcome.Empty = len(hit.records) == 0
		if at, ok := a.cache.StoredAt(key); ok {
			run.outcome.FetchedAt = &at
		}
		return run
	}
	a.observeCache(src, false)

	adapter, ok := a.adapters[src]
	if !ok {
		run.err = sourceerr.New(src, sourceerr.SourceUnavailable, errors.New("source not configured"))
		run.outcome.Failed = true
		return run
	}

	records, total, err := adapter.Search(ctx, spec)
	if err != nil {
		run.err = classify(ctx, src, err)
		run.outcome.Failed = true
		a.log.Warn("source search failed",
			slog.String("source", string(src)), slog.String("query", spec.Query), slog.Any("err", run.err))
		return run
	}
	if total < len(records) {
		total = len(records)
	}

	a.cache.Set(key, cachedResult{records: append([]models.CanonicalRecord(nil), records...), total: total}, 0)
	run.records = records
	run.fresh = true
	run.outcome.Returned = len(records)
	run.outcome.Total = total
	run.outcome.Empty = len(records) == 0
	return run
}

func (a *Aggregator) sync(ctx context.Context, res *Result, fresh []models.CanonicalRecord) {
	if a.syncer == nil {
		res.SyncErr = ErrNoStore
		res.SyncError = ErrNoStore.Error()
		return
	}
	if len(fresh) == 0 {
		return
	}
	n, err := a.syncer.Upsert(ctx, fresh)
	res.Synced = n
	if err != nil {
		a.log.Error("sync fetched records", slog.Int("records", len(fresh)), slog.Any("err", err))
		res.SyncErr = err
		res.SyncError = err.Error()
	}
}

// GetByID fetches one record from the source its id prefix names. Lookups
// bypass the cache but still pass through the source's rate limiter.
func (a *Aggregator) GetByID(ctx context.Context, id string, opts GetOptions) (models.CanonicalRecord, error) {
	src, native, ok := models.SplitID(id)
	if !ok {
		return models.CanonicalRecord{}, sourceerr.New("", sourceerr.NotFound, fmt.Errorf("unrecognized record id %q", id))
	}
	adapter, ok := a.adapters[src]
	if !ok {
		return models.CanonicalRecord{}, sourceerr.New(src, sourceerr.SourceUnavailable, errors.New("source not configured"))
	}

	rec, err := adapter.GetByNativeID(ctx, native)
	if err == nil {
		return rec, nil
	}
	err = classify(ctx, src, err)

	if opts.StoreFallback && a.store != nil && sourceerr.KindOf(err) != sourceerr.Timeout {
		stored, found, storeErr := a.store.Get(ctx, models.RecordID(src, native))
		switch {
		case storeErr != nil:
			a.log.Warn("store fallback failed", slog.String("id", id), slog.Any("err", storeErr))
		case found:
			a.log.Info("served record from store", slog.String("id", id), slog.Any("source_err", err))
			return stored, nil
		}
	}
	return models.CanonicalRecord{}, err
}

// Sources lists the configured sources in query order.
func (a *Aggregator) Sources() []models.Source {
	out := make([]models.Source, 0, len(a.adapters))
	for _, src := range models.Sources {
		if _, ok := a.adapters[src]; ok {
			out = append(out, src)
		}
	}
	return out
}

func (a *Aggregator) observeCache(src models.Source, hit bool) {
	if a.onCache != nil {
		a.onCache(src, hit)
	}
}

// classify guarantees a typed error so callers can always report a kind.
func classify(ctx context.Context, src models.Source, err error) error {
	var typed *sourceerr.Error
	if errors.As(err, &typed) {
		return err
	}
	return sourceerr.FromTransport(ctx, src, err)
}

func failureOf(src models.Source, err error) Failure {
	f := Failure{Source: src, Kind: sourceerr.KindOf(err), Reason: err.Error(), Retryable: true, Err: err}
	var se *sourceerr.Error
	if errors.As(err, &se) {
		f.Retryable = se.Retryable()
	}
	return f
}

func dedupeSources(selector []models.Source) []models.Source {
	if len(selector) == 0 {
		return append([]models.Source(nil), models.Sources...)
	}
	seen := make(map[models.Source]struct{}, len(selector))
	out := make([]models.Source, 0, len(selector))
	for _, src := range selector {
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out
}
