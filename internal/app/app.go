// Package app wires the source layer from configuration. Every binary
// builds its services through here so they share one limiter and one cache
// per process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/juju/clock"

	"github.com/DeafMist/legal-radar/backend/internal/aggregator"
	"github.com/DeafMist/legal-radar/backend/internal/alerts"
	"github.com/DeafMist/legal-radar/backend/internal/config"
	"github.com/DeafMist/legal-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/legal-radar/backend/internal/metrics"
	"github.com/DeafMist/legal-radar/backend/internal/models"
	"github.com/DeafMist/legal-radar/backend/internal/persist"
	"github.com/DeafMist/legal-radar/backend/internal/ratelimit"
	"github.com/DeafMist/legal-radar/backend/internal/sources"
	"github.com/DeafMist/legal-radar/backend/internal/storage"
)

// RecordStore is the durable record store behind sync and store reads.
type RecordStore interface {
	persist.RecordWriter
	aggregator.RecordReader
	Ping(ctx context.Context) error
}

// AlertOptions tune the matcher; zero values use the matcher defaults.
type AlertOptions struct {
	Timeout     time.Duration
	SeenLimit   int
	Concurrency int
}

// Services holds the wired components.
type Services struct {
	Log        *slog.Logger
	Metrics    *metrics.Collector
	Limiter    *ratelimit.Limiter
	Aggregator *aggregator.Aggregator
	Syncer     *persist.Syncer
	Records    RecordStore
	DB         *storage.DB
	Elastic    *elasticsearch.Client
	Matcher    *alerts.Matcher
}

// Build wires every component from cfg. The SQLite database always holds
// alerts; records go to the configured backend.
func Build(cfg *config.Common, log *slog.Logger, opts AlertOptions) (*Services, error) {
	s := &Services{Log: log, Metrics: metrics.NewCollector()}

	var err error
	s.DB, err = storage.Open(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s.Records = s.DB
	if cfg.Backend == config.BackendElasticsearch {
		s.Elastic, err = elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
		if err != nil {
			s.DB.Close()
			return nil, fmt.Errorf("init elasticsearch: %w", err)
		}
		s.Records = s.Elastic
	}
	s.Syncer = persist.NewSyncer(s.Records, log)

	s.Limiter = ratelimit.New(cfg.MinInterval, map[models.Source]time.Duration{
		models.SourceGazette: cfg.GazetteInterval,
		models.SourceCaseLaw: cfg.CaseLawInterval,
	})
	s.Limiter.Observe(s.Metrics.ObserveWait)
	for _, src := range models.Sources {
		log.Info("source rate limit", slog.String("source", string(src)), slog.Duration("interval", s.Limiter.Interval(src)))
	}

	fetcher, err := sources.NewFetcher(sources.FetcherConfig{
		Client:    &http.Client{Timeout: cfg.HTTPTimeout},
		Limiter:   s.Limiter,
		UserAgent: cfg.UserAgent,
		Logger:    log,
		Observer:  s.Metrics.ObserveRequest,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	gazette, err := sources.NewGazette(sources.GazetteConfig{
		BaseURL:  cfg.GazetteBaseURL,
		PageSize: cfg.GazettePageSize,
		Fetcher:  fetcher,
		Clock:    clock.WallClock,
		Logger:   log.With("source", string(models.SourceGazette)),
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	keywords := sources.DefaultCaseLawKeywords
	if cfg.KeywordsFile != "" {
		keywords, err = sources.LoadKeywordTable(cfg.KeywordsFile)
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	caseLaw, err := sources.NewCaseLaw(sources.CaseLawConfig{
		BaseURL:      cfg.CaseLawBaseURL,
		DefaultLimit: cfg.CaseLawLimit,
		Keywords:     keywords,
		Fetcher:      fetcher,
		Clock:        clock.WallClock,
		Logger:       log.With("source", string(models.SourceCaseLaw)),
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Aggregator, err = aggregator.New(aggregator.Config{
		Adapters:      []sources.Adapter{gazette, caseLaw},
		Syncer:        s.Syncer,
		Store:         s.Records,
		CacheTTL:      cfg.CacheTTL,
		CacheCapacity: cfg.CacheCapacity,
		DefaultLimit:  cfg.DefaultLimit,
		Clock:         clock.WallClock,
		Logger:        log,
		OnCache:       s.Metrics.ObserveCache,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Matcher, err = alerts.New(alerts.Config{
		Searcher:    s.Aggregator,
		Store:       s.DB,
		SeenLimit:   opts.SeenLimit,
		Timeout:     opts.Timeout,
		Concurrency: opts.Concurrency,
		Logger:      log,
		OnResult:    s.Metrics.ObserveAlert,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Health checks the stores the services depend on.
func (s *Services) Health(ctx context.Context) error {
	if err := s.DB.Ping(ctx); err != nil {
		return err
	}
	if s.Elastic != nil {
		return s.Elastic.Health(ctx)
	}
	return nil
}

// Close releases the database handle.
func (s *Services) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// CountRecords reports how many records the configured backend holds.
func (s *Services) CountRecords(ctx context.Context) (int, error) {
	if s.Elastic != nil {
		return s.Elastic.Count(ctx)
	}
	return s.DB.Count(ctx)
}

// SearchStored queries persisted records on the configured backend.
func (s *Services) SearchStored(ctx context.Context, q storage.StoredQuery) ([]models.CanonicalRecord, error) {
	if s.Elastic == nil {
		return s.DB.SearchStored(ctx, q)
	}
	res, err := s.Elastic.SearchRecords(ctx, elasticsearch.SearchParams{
		Query:  q.Query,
		Source: q.Source,
		Kind:   q.Kind,
		From:   q.Offset,
		Size:   q.Limit,
	})
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}
