package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/legal-radar/backend/internal/aggregator"
	"github.com/DeafMist/legal-radar/backend/internal/config"
	"github.com/DeafMist/legal-radar/backend/internal/models"
	"github.com/DeafMist/legal-radar/backend/internal/sourceerr"
	"github.com/DeafMist/legal-radar/backend/internal/storage"
)

type searcher interface {
	Search(ctx context.Context, spec models.QuerySpec, selector []models.Source, opts aggregator.Options) (*aggregator.Result, error)
	GetByID(ctx context.Context, id string, opts aggregator.GetOptions) (models.CanonicalRecord, error)
}

type storedSearcher interface {
	SearchStored(ctx context.Context, q storage.StoredQuery) ([]models.CanonicalRecord, error)
}

type alertVerifier interface {
	VerifyOwner(ctx context.Context, ownerID string) ([]models.AlertResult, error)
}

type server struct {
	log      *slog.Logger
	cfg      *config.API
	search   searcher
	stored   storedSearcher
	verifier alertVerifier
	health   func(ctx context.Context) error
	count    func(ctx context.Context) (int, error)
	metrics  http.Handler
}

type errorResponse struct {
	Error string `json:"error"`
}

type searchResponse struct {
	*aggregator.Result
	Unavailable int `json:"unavailableSources"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Get("/search", s.handleSearch)
	r.Get("/records", s.handleStored)
	r.Get("/records/{id}", s.handleRecord)
	r.Post("/alerts/verify", s.handleVerify)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	body := map[string]any{"status": "ok"}
	if s.count != nil {
		n, err := s.count(ctx)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
		body["storedRecords"] = n
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	q := r.URL.Query()
	spec, err := s.parseSpec(q)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	selector, err := models.ParseSelector(q.Get("source"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	sync, _ := strconv.ParseBool(q.Get("sync"))

	result, err := s.search.Search(ctx, spec, selector, aggregator.Options{Sync: sync})
	switch {
	case errors.Is(err, aggregator.ErrAllSourcesFailed):
		writeJSON(w, allFailedStatus(result), searchResponse{Result: result, Unavailable: len(result.PartialFailures)})
		return
	case err != nil:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{Result: result, Unavailable: len(result.PartialFailures)})
}

func (s *server) parseSpec(q url.Values) (models.QuerySpec, error) {
	get := func(k string) string { return strings.TrimSpace(q.Get(k)) }
	from, err := models.ParseDay(get("from"))
	if err != nil {
		return models.QuerySpec{}, errors.New("from must be YYYY-MM-DD")
	}
	to, err := models.ParseDay(get("to"))
	if err != nil {
		return models.QuerySpec{}, errors.New("to must be YYYY-MM-DD")
	}
	spec := models.QuerySpec{
		Query: get("q"),
		From:  from,
		To:    to,
		Kind:  models.Kind(strings.ToUpper(get("kind"))),
		Limit: clampInt(get("limit"), s.cfg.DefaultLimit, s.cfg.MaxLimit),
		Page:  clampInt(get("page"), 1, 1000),
	}
	if spec.Query == "" {
		return models.QuerySpec{}, errors.New("q is required")
	}
	return spec, spec.Validate()
}

func (s *server) handleRecord(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	rec, err := s.search.GetByID(ctx, id, aggregator.GetOptions{StoreFallback: true})
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleStored(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	query := storage.StoredQuery{
		Query:  strings.TrimSpace(q.Get("q")),
		Kind:   models.Kind(strings.ToUpper(strings.TrimSpace(q.Get("kind")))),
		Limit:  clampInt(q.Get("limit"), s.cfg.DefaultLimit, s.cfg.MaxLimit),
		Offset: clampInt(q.Get("offset"), 0, 10_000),
	}
	if raw := strings.TrimSpace(q.Get("source")); raw != "" && !strings.EqualFold(raw, "ALL") {
		src, err := models.ParseSource(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		query.Source = src
	}

	records, err := s.stored.SearchStored(ctx, query)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *server) handleVerify(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "owner is required"})
		return
	}

	results, err := s.verifier.VerifyOwner(r.Context(), owner)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s.log.Info("verified alerts", slog.String("owner", owner), slog.Int("alerts", len(results)))
	writeJSON(w, http.StatusOK, results)
}

// allFailedStatus is 504 when every source timed out and 502 otherwise.
func allFailedStatus(res *aggregator.Result) int {
	for _, f := range res.PartialFailures {
		if f.Kind != sourceerr.Timeout {
			return http.StatusBadGateway
		}
	}
	return http.StatusGatewayTimeout
}

func errorStatus(err error) int {
	switch sourceerr.KindOf(err) {
	case sourceerr.NotFound:
		return http.StatusNotFound
	case sourceerr.Timeout:
		return http.StatusGatewayTimeout
	case sourceerr.RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
