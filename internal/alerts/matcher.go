// Package alerts re-runs saved keyword queries and reports the records each
// alert has not reported before.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/juju/collections/set"
	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/legal-radar/backend/internal/aggregator"
	"github.com/DeafMist/legal-radar/backend/internal/models"
)

const (
	// DefaultSeenLimit bounds how many ids an alert remembers.
	DefaultSeenLimit = 500
	// DefaultTimeout is the budget of one alert verification.
	DefaultTimeout = 10 * time.Second

	defaultConcurrency = 4
)

// Searcher runs a query across sources.
type Searcher interface {
	Search(ctx context.Context, spec models.QuerySpec, selector []models.Source, opts aggregator.Options) (*aggregator.Result, error)
}

// Store loads alerts and remembers what they have seen.
type Store interface {
	ListAlerts(ctx context.Context, ownerID string) ([]models.Alert, error)
	ListActiveAlerts(ctx context.Context) ([]models.Alert, error)
	SaveSeen(ctx context.Context, alertID string, ids []string) error
}

// Config wires a Matcher.
type Config struct {
	Searcher    Searcher
	Store       Store
	SeenLimit   int
	Timeout     time.Duration
	Concurrency int
	// Limit caps results per source for each alert query; zero uses the
	// aggregator default.
	Limit    int
	Logger   *slog.Logger
	OnResult func(models.AlertResult)
}

// Matcher verifies alerts. It is safe for concurrent use as long as callers
// do not verify the same alert value concurrently.
type Matcher struct {
	search      Searcher
	store       Store
	seenLimit   int
	timeout     time.Duration
	concurrency int
	limit       int
	log         *slog.Logger
	onResult    func(models.AlertResult)
}

// New builds a Matcher.
func New(cfg Config) (*Matcher, error) {
	if cfg.Searcher == nil {
		return nil, fmt.Errorf("alerts: nil searcher")
	}
	if cfg.SeenLimit <= 0 {
		cfg.SeenLimit = DefaultSeenLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Matcher{
		search:      cfg.Searcher,
		store:       cfg.Store,
		seenLimit:   cfg.SeenLimit,
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		limit:       cfg.Limit,
		log:         cfg.Logger,
		onResult:    cfg.OnResult,
	}, nil
}

// Verify searches for the alert's keywords and returns the ids not in
// alert.LastSeenIDs, in result order. LastSeenIDs is updated in place (and
// persisted when a store is configured) even when nothing is new, so ids
// seen again move to the most recent end of the window.
func (m *Matcher) Verify(ctx context.Context, alert *models.Alert) ([]string, error) {
	fresh, err := m.check(ctx, alert)
	if err != nil {
		return nil, err
	}
	if err := m.save(ctx, alert); err != nil {
		return fresh, err
	}
	return fresh, nil
}

// check runs the alert query and merges the found ids into LastSeenIDs
// without persisting them. On error LastSeenIDs is left untouched.
func (m *Matcher) check(ctx context.Context, alert *models.Alert) ([]string, error) {
	var selector []models.Source
	if alert.SourceFilter != "" {
		selector = []models.Source{alert.SourceFilter}
	}

	res, err := m.search.Search(ctx, models.QuerySpec{Query: alert.Keywords, Limit: m.limit}, selector, aggregator.Options{})
	if err != nil {
		return nil, fmt.Errorf("search alert %s: %w", alert.ID, err)
	}
	for _, f := range res.PartialFailures {
		m.log.Warn("alert search partially failed",
			slog.String("alert_id", alert.ID), slog.String("source", string(f.Source)), slog.String("reason", f.Reason))
	}

	found := make([]string, 0, len(res.Records))
	for _, r := range res.Records {
		found = append(found, r.ID)
	}
	fresh := diff(alert.LastSeenIDs, found)
	alert.LastSeenIDs = merge(alert.LastSeenIDs, found, m.seenLimit)
	return fresh, nil
}

func (m *Matcher) save(ctx context.Context, alert *models.Alert) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveSeen(ctx, alert.ID, alert.LastSeenIDs); err != nil {
		return fmt.Errorf("save seen ids of alert %s: %w", alert.ID, err)
	}
	return nil
}

// VerifyAll verifies each alert under its own timeout. A failing alert is
// reported in its result and never stops the others. Results follow the
// order of alerts, whose LastSeenIDs are updated in place.
func (m *Matcher) VerifyAll(ctx context.Context, alerts []models.Alert) []models.AlertResult {
	return m.verifyAll(ctx, alerts, true)
}

func (m *Matcher) verifyAll(ctx context.Context, alerts []models.Alert, persist bool) []models.AlertResult {
	results := make([]models.AlertResult, len(alerts))

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i := range alerts {
		g.Go(func() error {
			results[i] = m.verifyOne(ctx, &alerts[i], persist)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Matcher) verifyOne(ctx context.Context, alert *models.Alert, persist bool) models.AlertResult {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	started := time.Now()
	var (
		fresh []string
		err   error
	)
	if persist {
		fresh, err = m.Verify(ctx, alert)
	} else {
		fresh, err = m.check(ctx, alert)
	}
	result := models.AlertResult{AlertID: alert.ID, OwnerID: alert.OwnerID, NewRecordIDs: fresh}
	if result.NewRecordIDs == nil {
		result.NewRecordIDs = []string{}
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("alert %s exceeded %s: %w", alert.ID, m.timeout, err)
		}
		result.Err = err
		result.Error = err.Error()
		m.log.Warn("alert verification failed", slog.String("alert_id", alert.ID), slog.Any("err", err))
	} else {
		m.log.Debug("alert verified",
			slog.String("alert_id", alert.ID), slog.Int("new", len(fresh)), slog.Duration("took", time.Since(started)))
	}
	if m.onResult != nil {
		m.onResult(result)
	}
	return result
}

// VerifyOwner verifies the active alerts of ownerID.
func (m *Matcher) VerifyOwner(ctx context.Context, ownerID string) ([]models.AlertResult, error) {
	if m.store == nil {
		return nil, fmt.Errorf("alerts: no store configured")
	}
	all, err := m.store.ListAlerts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list alerts of %s: %w", ownerID, err)
	}
	active := all[:0]
	for _, a := range all {
		if a.Active {
			active = append(active, a)
		}
	}
	return m.VerifyAll(ctx, active), nil
}

// Batch holds the outcome of verifying every active alert. The merged seen
// lists stay in memory until Commit so hits that were never delivered are
// reported again by the next sweep.
type Batch struct {
	Results []models.AlertResult
	alerts  []models.Alert
}

// Sweep verifies every active alert without persisting their seen ids.
func (m *Matcher) Sweep(ctx context.Context) (*Batch, error) {
	if m.store == nil {
		return nil, fmt.Errorf("alerts: no store configured")
	}
	active, err := m.store.ListActiveAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	return &Batch{Results: m.verifyAll(ctx, active, false), alerts: active}, nil
}

// Commit persists the seen ids of every alert the sweep verified
// successfully. Failed alerts keep their previous lists.
func (m *Matcher) Commit(ctx context.Context, sw *Batch) error {
	var errs []error
	for i := range sw.alerts {
		if sw.Results[i].Err != nil {
			continue
		}
		if err := m.save(ctx, &sw.alerts[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// diff returns the ids of found missing from seen, once each, in found order.
func diff(seen, found []string) []string {
	known := set.NewStrings(seen...)
	out := []string{}
	for _, id := range found {
		if known.Contains(id) {
			continue
		}
		known.Add(id)
		out = append(out, id)
	}
	return out
}

// merge moves the ids of this pass to the newest end of the window and
// evicts from the oldest end beyond limit.
func merge(seen, found []string, limit int) []string {
	current := set.NewStrings(found...)
	out := make([]string, 0, len(seen)+len(found))
	for _, id := range seen {
		if !current.Contains(id) {
			out = append(out, id)
		}
	}
	added := set.NewStrings()
	for _, id := range found {
		if added.Contains(id) {
			continue
		}
		added.Add(id)
		out = append(out, id)
	}
	if len(out) > limit {
		out = append([]string(nil), out[len(out)-limit:]...)
	}
	return out
}
