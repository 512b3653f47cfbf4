// Package metrics exposes Prometheus collectors for the crawl and index engine.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchBytesTotal            *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	robotsFetchesTotal         *prometheus.CounterVec
	robotsDecisionsTotal       *prometheus.CounterVec
	crawlsTotal                *prometheus.CounterVec
	crawlPagesTotal            *prometheus.CounterVec
	pacerDelaySeconds          prometheus.Histogram
	indexChunksTotal           prometheus.Counter
	indexRows                  prometheus.Gauge
	indexQueriesTotal          *prometheus.CounterVec
	indexQueryDurationSeconds  prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawl_fetches_total",
				Help: "Fetch attempts, labeled by source (cache, http, dynamic) and outcome.",
			},
			[]string{"source", "outcome"},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadcrawl_fetch_duration_seconds",
				Help:    "Latency of network fetches, labeled by source.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawl_fetch_bytes_total",
				Help: "HTML bytes returned by fetches, labeled by site.",
			},
			[]string{"site"},
		)
		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawl_cache_lookups_total",
				Help: "Content cache lookups, labeled by result (hit, miss, error).",
			},
			[]string{"result"},
		)
		robotsFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawl_robots_fetches_total",
				Help: "robots.txt fetches, labeled by outcome (ok, missing, unavailable).",
			},
			[]string{"outcome"},
		)
		robotsDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawl_robots_decisions_total",
				Help: "robots.txt allow checks, labeled by decision.",
			},
			[]string{"decision"},
		)
		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawl_crawls_total",
				Help: "Crawl invocations, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawl_crawl_pages_total",
				Help: "Pages added to crawl results, labeled by site.",
			},
			[]string{"site"},
		)
		pacerDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leadcrawl_pacer_delay_seconds",
				Help:    "Time spent waiting on per-origin crawl spacing.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
		indexChunksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadcrawl_index_chunks_total",
				Help: "Chunks appended to the vector index.",
			},
		)
		indexRows = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadcrawl_index_rows",
				Help: "Rows currently held by the vector index.",
			},
		)
		indexQueriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawl_index_queries_total",
				Help: "Vector index queries, labeled by whether any result was returned.",
			},
			[]string{"result"},
		)
		indexQueryDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leadcrawl_index_query_duration_seconds",
				Help:    "Latency of vector index queries.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one fetch outcome. Cache hits carry no duration.
func ObserveFetch(site, source, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	fetchesTotal.WithLabelValues(source, outcome).Inc()
	if source != "cache" && duration > 0 {
		fetchDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	}
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveCacheLookup records a cache hit, miss or error.
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRobotsFetch records the outcome of a robots.txt download.
func ObserveRobotsFetch(outcome string) {
	Init()
	robotsFetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRobotsDecision records an allow or deny decision.
func ObserveRobotsDecision(allowed bool) {
	Init()
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	robotsDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveCrawl records a finished crawl invocation.
func ObserveCrawl(outcome string) {
	Init()
	crawlsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCrawlPage records a page accepted into crawl results.
func ObserveCrawlPage(site string) {
	Init()
	crawlPagesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObservePacerDelay records time spent waiting for an origin slot.
func ObservePacerDelay(duration time.Duration) {
	Init()
	pacerDelaySeconds.Observe(duration.Seconds())
}

// ObserveIndexWrite records appended chunks and the resulting row count.
func ObserveIndexWrite(chunks, rows int) {
	Init()
	indexChunksTotal.Add(float64(chunks))
	indexRows.Set(float64(rows))
}

// SetIndexRows sets the row gauge, typically after a load.
func SetIndexRows(rows int) {
	Init()
	indexRows.Set(float64(rows))
}

// ObserveIndexQuery records a query and whether it produced results.
func ObserveIndexQuery(results int, duration time.Duration) {
	Init()
	label := "empty"
	if results > 0 {
		label = "hit"
	}
	indexQueriesTotal.WithLabelValues(label).Inc()
	indexQueryDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
