package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for scraping and search.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	ThrottleWait       prometheus.Histogram
	ItemsScrapedTotal  prometheus.Counter
	ParseSkippedTotal  prometheus.Counter
	RetriesTotal       prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
	SearchesTotal      *prometheus.CounterVec
	CacheFailuresTotal prometheus.Counter
	CacheWrittenTotal  prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued to marketplaces.",
		},
		[]string{"marketplace", "phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for marketplace requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	throttleWait := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_throttle_wait_seconds",
			Help:    "Time requests spent waiting on the throttle window.",
			Buckets: []float64{0, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_scraped_total",
			Help: "Total number of listings extracted from search pages.",
		},
	)
	parseSkipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_parse_skipped_total",
			Help: "Listing nodes skipped because required fields were missing.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	searches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Searches served, by marketplace and result source.",
		},
		[]string{"marketplace", "source"},
	)
	cacheFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_write_failures_total",
			Help: "Products that could not be written to the cache.",
		},
	)
	cacheWritten := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_writes_total",
			Help: "Products upserted into the cache.",
		},
	)

	registry.MustRegister(requests, requestDuration, throttleWait, itemsScraped, parseSkipped, retries, errorsTotal, searches, cacheFailures, cacheWritten)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		ThrottleWait:       throttleWait,
		ItemsScrapedTotal:  itemsScraped,
		ParseSkippedTotal:  parseSkipped,
		RetriesTotal:       retries,
		ErrorsTotal:        errorsTotal,
		SearchesTotal:      searches,
		CacheFailuresTotal: cacheFailures,
		CacheWrittenTotal:  cacheWritten,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(marketplace, phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(marketplace, phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// ObserveThrottle records time spent waiting for the throttle.
func (m *Metrics) ObserveThrottle(d time.Duration) {
	if m == nil {
		return
	}
	m.ThrottleWait.Observe(d.Seconds())
}

// AddItems increments the items scraped counter.
func (m *Metrics) AddItems(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsScrapedTotal.Add(float64(n))
}

// AddSkipped increments the parse skip counter.
func (m *Metrics) AddSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ParseSkippedTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for the error's type label.
func (m *Metrics) IncError(err error) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorTypeLabel(err)).Inc()
}

// IncSearch counts a served search by where its results came from.
func (m *Metrics) IncSearch(marketplace, source string) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(marketplace, source).Inc()
}

// AddCacheWrites records the outcome of a cache upsert.
func (m *Metrics) AddCacheWrites(written, failed int) {
	if m == nil {
		return
	}
	if written > 0 {
		m.CacheWrittenTotal.Add(float64(written))
	}
	if failed > 0 {
		m.CacheFailuresTotal.Add(float64(failed))
	}
}
