package sources

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DeafMist/legal-radar/backend/internal/models"
	"github.com/DeafMist/legal-radar/backend/internal/sourceerr"
)

// DefaultUserAgent identifies us to the courtesy-scraped public sources.
const DefaultUserAgent = "legal-radar/1.0 (+https://github.com/DeafMist/legal-radar)"

const maxBodyBytes = 10 << 20

// Acquirer gates outbound calls per source.
type Acquirer interface {
	Acquire(ctx context.Context, src models.Source) error
}

// RequestObserver is told the outcome of every outbound request.
// Outcome is "ok" or a sourceerr.Kind.
type RequestObserver func(src models.Source, outcome string, took time.Duration)

// Fetcher performs single rate-limited GET requests. It never retries:
// a retry would spend another slot of the source's request budget.
type Fetcher struct {
	client    *http.Client
	limiter   Acquirer
	userAgent string
	log       *slog.Logger
	observe   RequestObserver
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Client    *http.Client
	Limiter   Acquirer
	UserAgent string
	Timeout   time.Duration
	Logger    *slog.Logger
	Observer  RequestObserver
}

// NewFetcher builds a Fetcher. Limiter is required.
func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("fetcher: nil limiter")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fetcher{client: client, limiter: cfg.Limiter, userAgent: ua, log: log, observe: cfg.Observer}, nil
}

// Get acquires a slot for src and fetches url, returning the body of a 2xx
// response or a *sourceerr.Error.
func (f *Fetcher) Get(ctx context.Context, src models.Source, url, accept string) ([]byte, error) {
	if err := f.limiter.Acquire(ctx, src); err != nil {
		return nil, f.done(src, time.Now(), sourceerr.FromTransport(ctx, src, err))
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, f.done(src, start, sourceerr.New(src, sourceerr.SourceUnavailable, fmt.Errorf("create request: %w", err)))
	}
	req.Header.Set("User-Agent", f.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.done(src, start, sourceerr.FromTransport(ctx, src, fmt.Errorf("do request: %w", err)))
	}
	defer resp.Body.Close()

	if err := sourceerr.FromStatus(src, resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, f.done(src, start, err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, f.done(src, start, sourceerr.FromTransport(ctx, src, fmt.Errorf("read response: %w", err)))
	}

	f.done(src, start, nil)
	return body, nil
}

func (f *Fetcher) done(src models.Source, start time.Time, err error) error {
	outcome := "ok"
	if err != nil {
		outcome = string(sourceerr.KindOf(err))
		f.log.Warn("source request failed", slog.String("source", string(src)), slog.Any("err", err))
	}
	if f.observe != nil {
		f.observe(src, outcome, time.Since(start))
	}
	return err
}
