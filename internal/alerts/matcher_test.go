package alerts_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/legal-radar/backend/internal/aggregator"
	"github.com/DeafMist/legal-radar/backend/internal/alerts"
	"github.com/DeafMist/legal-radar/backend/internal/models"
)

type fakeSearcher struct {
	mu        sync.Mutex
	byQuery   map[string][]string
	failing   map[string]error
	slow      map[string]bool
	selectors map[string][]models.Source
}

func (f *fakeSearcher) Search(ctx context.Context, spec models.QuerySpec, selector []models.Source, _ aggregator.Options) (*aggregator.Result, error) {
	f.mu.Lock()
	if f.selectors == nil {
		f.selectors = map[string][]models.Source{}
	}
	f.selectors[spec.Query] = selector
	ids := f.byQuery[spec.Query]
	err := f.failing[spec.Query]
	slow := f.slow[spec.Query]
	f.mu.Unlock()

	if slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return &aggregator.Result{}, err
	}
	res := &aggregator.Result{}
	for _, id := range ids {
		res.Records = append(res.Records, models.CanonicalRecord{ID: id})
	}
	return res, nil
}

type memStore struct {
	mu     sync.Mutex
	alerts []models.Alert
	saved  map[string][]string
	err    error
}

func (s *memStore) ListAlerts(_ context.Context, owner string) ([]models.Alert, error) {
	var out []models.Alert
	for _, a := range s.alerts {
		if a.OwnerID == owner {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) ListActiveAlerts(context.Context) ([]models.Alert, error) {
	var out []models.Alert
	for _, a := range s.alerts {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) SaveSeen(_ context.Context, id string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.saved == nil {
		s.saved = map[string][]string{}
	}
	s.saved[id] = append([]string(nil), ids...)
	return nil
}

func newMatcher(t *testing.T, cfg alerts.Config) *alerts.Matcher {
	t.Helper()
	m, err := alerts.New(cfg)
	require.NoError(t, err)
	return m
}

func TestVerifyReportsOnlyUnseen(t *testing.T) {
	searcher := &fakeSearcher{byQuery: map[string][]string{"contrato": {"B", "C"}}}
	m := newMatcher(t, alerts.Config{Searcher: searcher})
	alert := &models.Alert{ID: "a1", Keywords: "contrato", LastSeenIDs: []string{"A", "B"}}

	fresh, err := m.Verify(context.Background(), alert)
	require.NoError(t, err)
	require.Equal(t, []string{"C"}, fresh)
	require.Equal(t, []string{"A", "B", "C"}, alert.LastSeenIDs)

	fresh, err = m.Verify(context.Background(), alert)
	require.NoError(t, err)
	require.Empty(t, fresh)
	require.Equal(t, []string{"A", "B", "C"}, alert.LastSeenIDs)
}

func TestVerifyBoundsSeenWindow(t *testing.T) {
	var found []string
	for i := range 6 {
		found = append(found, fmt.Sprintf("N%d", i))
	}
	searcher := &fakeSearcher{byQuery: map[string][]string{"ayudas": found}}
	m := newMatcher(t, alerts.Config{Searcher: searcher, SeenLimit: 4})
	alert := &models.Alert{ID: "a1", Keywords: "ayudas", LastSeenIDs: []string{"OLD1", "OLD2", "N0"}}

	fresh, err := m.Verify(context.Background(), alert)
	require.NoError(t, err)
	require.Equal(t, []string{"N1", "N2", "N3", "N4", "N5"}, fresh)
	require.Equal(t, []string{"N2", "N3", "N4", "N5"}, alert.LastSeenIDs)
}

func TestVerifyUsesSourceFilterAndPersists(t *testing.T) {
	searcher := &fakeSearcher{byQuery: map[string][]string{"sentencia": {"CENDOJ-1"}}}
	store := &memStore{}
	m := newMatcher(t, alerts.Config{Searcher: searcher, Store: store})
	alert := &models.Alert{ID: "a1", Keywords: "sentencia", SourceFilter: models.SourceCaseLaw}

	_, err := m.Verify(context.Background(), alert)
	require.NoError(t, err)
	require.Equal(t, []models.Source{models.SourceCaseLaw}, searcher.selectors["sentencia"])
	require.Equal(t, []string{"CENDOJ-1"}, store.saved["a1"])
}

func TestVerifyAllIsolatesFailures(t *testing.T) {
	searcher := &fakeSearcher{
		byQuery: map[string][]string{"ok": {"X"}},
		failing: map[string]error{"broken": fmt.Errorf("%w: gazette down", aggregator.ErrAllSourcesFailed)},
		slow:    map[string]bool{"slow": true},
	}
	var mu sync.Mutex
	var observed int
	m := newMatcher(t, alerts.Config{
		Searcher: searcher,
		Timeout:  30 * time.Millisecond,
		OnResult: func(models.AlertResult) {
			mu.Lock()
			observed++
			mu.Unlock()
		},
	})
	batch := []models.Alert{
		{ID: "slow", OwnerID: "o", Keywords: "slow"},
		{ID: "broken", OwnerID: "o", Keywords: "broken"},
		{ID: "ok", OwnerID: "o", Keywords: "ok"},
	}

	results := m.VerifyAll(context.Background(), batch)
	require.Len(t, results, 3)

	require.Equal(t, "slow", results[0].AlertID)
	require.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	require.NotEmpty(t, results[0].Error)

	require.ErrorIs(t, results[1].Err, aggregator.ErrAllSourcesFailed)
	require.Empty(t, results[1].NewRecordIDs)

	require.NoError(t, results[2].Err)
	require.Equal(t, []string{"X"}, results[2].NewRecordIDs)
	require.Equal(t, []string{"X"}, batch[2].LastSeenIDs)
	require.Equal(t, 3, observed)
}

func TestVerifyOwnerSkipsInactive(t *testing.T) {
	searcher := &fakeSearcher{byQuery: map[string][]string{"a": {"1"}, "b": {"2"}}}
	store := &memStore{alerts: []models.Alert{
		{ID: "a", OwnerID: "o1", Keywords: "a", Active: true},
		{ID: "b", OwnerID: "o1", Keywords: "b", Active: false},
		{ID: "c", OwnerID: "o2", Keywords: "a", Active: true},
	}}
	m := newMatcher(t, alerts.Config{Searcher: searcher, Store: store})

	results, err := m.VerifyOwner(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "a", results[0].AlertID)
	require.Equal(t, []string{"1"}, results[0].NewRecordIDs)

	swept, err := m.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, swept.Results, 2)
}

func TestSweepPersistsSeenOnlyOnCommit(t *testing.T) {
	searcher := &fakeSearcher{
		byQuery: map[string][]string{"ok": {"1", "2"}},
		failing: map[string]error{"broken": errors.New("all sources failed")},
	}
	store := &memStore{alerts: []models.Alert{
		{ID: "a", OwnerID: "o1", Keywords: "ok", Active: true, LastSeenIDs: []string{"1"}},
		{ID: "b", OwnerID: "o1", Keywords: "broken", Active: true, LastSeenIDs: []string{"9"}},
	}}
	m := newMatcher(t, alerts.Config{Searcher: searcher, Store: store})

	first, err := m.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, first.Results[0].NewRecordIDs)
	require.Empty(t, store.saved)

	// Nothing was committed, so the next sweep reports the same hit.
	second, err := m.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, second.Results[0].NewRecordIDs)

	require.NoError(t, m.Commit(context.Background(), second))
	require.Equal(t, map[string][]string{"a": {"1", "2"}}, store.saved)
}

func TestCommitReportsSaveFailure(t *testing.T) {
	searcher := &fakeSearcher{byQuery: map[string][]string{"ok": {"1"}}}
	store := &memStore{alerts: []models.Alert{{ID: "a", Keywords: "ok", Active: true}}}
	m := newMatcher(t, alerts.Config{Searcher: searcher, Store: store})

	sw, err := m.Sweep(context.Background())
	require.NoError(t, err)
	store.err = errors.New("readonly database")
	require.Error(t, m.Commit(context.Background(), sw))
}

func TestVerifySaveFailureIsReported(t *testing.T) {
	searcher := &fakeSearcher{byQuery: map[string][]string{"q": {"1"}}}
	store := &memStore{err: errors.New("readonly database")}
	m := newMatcher(t, alerts.Config{Searcher: searcher, Store: store})

	fresh, err := m.Verify(context.Background(), &models.Alert{ID: "a", Keywords: "q"})
	require.Error(t, err)
	require.Equal(t, []string{"1"}, fresh)
}

func TestNewRequiresSearcher(t *testing.T) {
	_, err := alerts.New(alerts.Config{})
	require.Error(t, err)
}
