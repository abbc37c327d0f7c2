// Package metrics exposes Prometheus counters and histograms for a crawl
// run. Adapted from FranksOps-burr/internal/metrics/metrics.go: same
// promauto/promhttp Server shape, counters re-geared from scrape/bypass
// concerns to crawl concerns (pages fetched/stored, sitemap URLs
// discovered, robots disallows, queue depth, fetch errors by kind).
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter/histogram for one process. Callers obtain
// one via NewRegistry rather than touching package-level state, so a test
// or a second crawl run in the same process doesn't collide with another's
// metrics.
type Registry struct {
	reg *prometheus.Registry

	PagesFetched     *prometheus.CounterVec
	PagesStored      *prometheus.CounterVec
	SitemapURLsFound *prometheus.CounterVec
	RobotsDisallows  *prometheus.CounterVec
	FetchErrors      *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec
}

// NewRegistry builds a fresh, independently-registered metric set.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		PagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "burrowler_pages_fetched_total",
			Help: "Total number of page fetch attempts, by host and outcome",
		}, []string{"host", "status"}),

		PagesStored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "burrowler_pages_stored_total",
			Help: "Total number of page rows written to storage, by host",
		}, []string{"host"}),

		SitemapURLsFound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "burrowler_sitemap_urls_found_total",
			Help: "Total number of URLs discovered via sitemap ingestion, by host",
		}, []string{"host"}),

		RobotsDisallows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "burrowler_robots_disallows_total",
			Help: "Total number of fetches skipped due to robots.txt disallow, by host",
		}, []string{"host"}),

		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "burrowler_fetch_errors_total",
			Help: "Total number of fetch/parse/store errors, by host and error kind",
		}, []string{"host", "kind"}),

		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "burrowler_fetch_duration_seconds",
			Help:    "Duration of page fetches in seconds, by host",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"host"}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "burrowler_host_queue_depth",
			Help: "Approximate number of URLs pending in a host's spill queue",
		}, []string{"host"}),
	}
}

// Handler returns the HTTP handler this Registry should be served under.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Server encapsulates an HTTP server exposing one Registry's /metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the given port and exposes /metrics for reg.
// The server runs in a background goroutine; callers must call Stop to
// release resources.
func Start(port int, reg *Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server failed: %v\n", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
