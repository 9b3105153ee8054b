// Package metrics exposes Prometheus collectors for the source layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/DeafMist/legal-radar/backend/internal/models"
)

const metricsNamespace = "legal_radar"

// Collector is a prometheus.Collector for upstream requests, cache lookups,
// rate-limiter waits and alert hits.
type Collector struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	limiterWait     *prometheus.HistogramVec
	alertRuns       *prometheus.CounterVec
	alertHits       prometheus.Counter
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "source_requests_total",
				Help:      "Outbound requests per source and outcome.",
			}, []string{"source", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "source_request_seconds",
				Help:      "Duration of outbound requests.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			}, []string{"source"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_lookups_total",
				Help:      "Result cache lookups per source, by hit or miss.",
			}, []string{"source", "result"},
		),
		limiterWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limiter_wait_seconds",
				Help:      "Time spent queued on a source's rate limiter.",
				Buckets:   []float64{0, 0.5, 1, 3, 6, 12, 30, 60},
			}, []string{"source"},
		),
		alertRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "alert_verifications_total",
				Help:      "Alert verifications by outcome.",
			}, []string{"outcome"},
		),
		alertHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "alert_new_records_total",
				Help:      "Records reported as new by alert verifications.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.requestDuration.Describe(ch)
	c.cacheLookups.Describe(ch)
	c.limiterWait.Describe(ch)
	c.alertRuns.Describe(ch)
	c.alertHits.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.requestDuration.Collect(ch)
	c.cacheLookups.Collect(ch)
	c.limiterWait.Collect(ch)
	c.alertRuns.Collect(ch)
	c.alertHits.Collect(ch)
}

// ObserveRequest records one outbound request.
func (c *Collector) ObserveRequest(src models.Source, outcome string, took time.Duration) {
	c.requests.WithLabelValues(string(src), outcome).Inc()
	c.requestDuration.WithLabelValues(string(src)).Observe(took.Seconds())
}

// ObserveCache records one cache lookup.
func (c *Collector) ObserveCache(src models.Source, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(string(src), result).Inc()
}

// ObserveWait records a rate-limiter acquisition.
func (c *Collector) ObserveWait(src models.Source, waited time.Duration) {
	c.limiterWait.WithLabelValues(string(src)).Observe(waited.Seconds())
}

// ObserveAlert records one alert verification.
func (c *Collector) ObserveAlert(result models.AlertResult) {
	outcome := "ok"
	if result.Err != nil {
		outcome = "failed"
	}
	c.alertRuns.WithLabelValues(outcome).Inc()
	c.alertHits.Add(float64(len(result.NewRecordIDs)))
}
