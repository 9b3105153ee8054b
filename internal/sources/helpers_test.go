package sources_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/legal-radar/backend/internal/ratelimit"
	"github.com/DeafMist/legal-radar/backend/internal/sources"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type upstream struct {
	*httptest.Server
	hits      atomic.Int32
	lastQuery atomic.Value
	lastUA    atomic.Value
}

func newUpstream(t *testing.T, status int, contentType, body string) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.lastQuery.Store(r.URL.RawQuery)
		u.lastUA.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(u.Close)
	return u
}

func newFetcher(t *testing.T) *sources.Fetcher {
	t.Helper()
	f, err := sources.NewFetcher(sources.FetcherConfig{
		Limiter:   ratelimit.New(0, nil),
		UserAgent: "legal-radar-test/1.0",
		Timeout:   2 * time.Second,
	})
	require.NoError(t, err)
	return f
}

func testClock() *testclock.Clock {
	return testclock.NewClock(now)
}
