// Package telemetry provides application-level observability for BoxIT.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<BOXIT_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Inventory mutations (items created, label reconciliations)
//   - Object storage image uploads and deletes
//   - Transactional email delivery
//   - QR code renders and public box lookups
//   - Database connection pool statistics (collected on scrape)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/items/:id) rather than
// the raw request URL so ids and QR codes never become label values.
package telemetry

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values shared by the outcome counters.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)
)

// Inventory metrics.
//
// ItemsCreatedTotal counts items created through POST /api/boxes/:id/items, labelled by
// whether an image was attached ("true"/"false").
//
// LabelReconciliationsTotal counts completed label replacements on an item.
var (
	ItemsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxit_items_created_total",
			Help: "Total number of items created, by whether an image was attached.",
		},
		[]string{"with_image"},
	)

	LabelReconciliationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxit_label_reconciliations_total",
			Help: "Total number of item label reconciliations committed.",
		},
	)
)

// Object storage metrics.
//
// ImageUploadsTotal and ImageDeletesTotal carry a {result} label. Deletes are best effort,
// so a growing failure series means orphaned objects are accumulating in the bucket.
//
// Example PromQL queries:
//   - Orphan rate:  rate(boxit_image_deletes_total{result="failure"}[1h])
var (
	ImageUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxit_image_uploads_total",
			Help: "Total number of item image uploads to object storage, by result.",
		},
		[]string{"result"},
	)

	ImageDeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxit_image_deletes_total",
			Help: "Total number of item image deletes from object storage, by result.",
		},
		[]string{"result"},
	)

	ImageUploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boxit_image_upload_bytes",
			Help:    "Size of stored item images after processing.",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		},
	)
)

// EmailsSentTotal is labelled by {template, result}. "skipped" means email is disabled
// and the message was only logged.
var EmailsSentTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "boxit_emails_sent_total",
		Help: "Total number of transactional emails, by template and result.",
	},
	[]string{"template", "result"},
)

// QR metrics.
var (
	QRCodesRenderedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxit_qr_codes_rendered_total",
			Help: "Total number of QR code images rendered.",
		},
	)

	PublicBoxLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxit_public_box_lookups_total",
			Help: "Total number of unauthenticated box lookups by QR code, by whether the code matched.",
		},
		[]string{"found"},
	)
)

// BackgroundPanicsTotal counts panics recovered by safego, labelled by task name.
var BackgroundPanicsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "boxit_background_panics_total",
		Help: "Total number of panics recovered in background goroutines, by task.",
	},
	[]string{"task"},
)

// RegisterDBStats exports the sql.DB pool statistics (open, idle and in-use
// connections, wait counts) as go_sql_* series labelled with dbName.
func RegisterDBStats(db *sql.DB, dbName string) error {
	return prometheus.Register(collectors.NewDBStatsCollector(db, dbName))
}

// Outcome maps an error to a result label value.
func Outcome(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
