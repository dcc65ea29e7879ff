package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "article_capture"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// URLsByStatus mirrors the job store counts; refreshed after every batch.
	URLsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "urls",
			Help:      "Number of tracked URLs per lifecycle status.",
		},
		[]string{"status"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Processing attempts by outcome status.",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a single article run.",
			Buckets:   []float64{5, 10, 20, 30, 60, 120, 240},
		},
		[]string{"status"},
	)

	ExpansionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expansion_attempts_total",
			Help:      "Expansion passes by result.",
		},
		[]string{"result"},
	)

	HiddenSections = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hidden_sections",
			Help:      "Collapsed sections still visible after an expansion pass.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20},
		},
	)

	ScreenshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screenshots_total",
			Help:      "Captured screenshots by kind (section, chunk, full_page).",
		},
		[]string{"kind"},
	)

	DiscoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovered_urls_total",
			Help:      "Article URLs newly added to the job store.",
		},
	)

	ThrottleWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "throttle_wait_seconds",
			Help:      "Time spent waiting for the request throttle.",
			Buckets:   []float64{0, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)
