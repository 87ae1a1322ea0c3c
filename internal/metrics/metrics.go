// Package metrics provides the Prometheus collectors of the image proxy.
// Scrape them at the configured metrics path.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cheahjs/og-image-proxy/internal/ogimage"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ogimage_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ogimage_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ImageRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ogimage_image_requests_total",
			Help: "Image lookups by outcome (success, not_found, error)",
		},
		[]string{"outcome"},
	)

	ImageRenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ogimage_image_render_duration_seconds",
			Help:    "Time spent fetching, extracting and optimizing an image",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	ImageBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ogimage_image_bytes",
			Help:    "Size of optimized images served, by format",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
		[]string{"format"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ogimage_cache_lookups_total",
			Help: "Response cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ogimage_cache_entries",
			Help: "Number of responses currently held in the cache",
		},
	)
)

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordCacheLookup(hit bool, entries int) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(result).Inc()
	CacheEntries.Set(float64(entries))
}

// Observer feeds ogimage.Service events into the collectors above.
type Observer struct{}

func (Observer) Decoded(context.Context, ogimage.Descriptor, int) {}

func (Observer) Matched(_ context.Context, _ ogimage.Descriptor, format string, v ogimage.Variant) {
	ImageBytes.WithLabelValues(format).Observe(float64(len(v.Buffer)))
}

func (Observer) Failed(context.Context, string, error) {}

func (Observer) Completed(_ context.Context, outcome ogimage.Outcome, elapsed time.Duration) {
	ImageRequestsTotal.WithLabelValues(string(outcome)).Inc()
	ImageRenderDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}
