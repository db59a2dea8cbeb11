// Package telemetry provides application-level observability for the license console.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<LIC_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - License lifecycle transition counters and audit append failures
//   - Plan cache hit/miss counters
//   - Expiry sweep, expiry notification and audit archive job counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/organizations/:id/renew)
// rather than the raw request URL, so organization ids never become label values.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics: labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /api/v1/organizations/:id/suspend),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
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
)

// License lifecycle metrics, recorded by the lifecycle engine after a transition commits.
//
// LicenseTransitionsTotal is a CounterVec with label {action}, the audit action of the
// committed transition (e.g. organization.suspend). Rolled-back transitions are not counted.
//
// Example PromQL queries:
//   - Provisioning rate:     rate(license_transitions_total{action="organization.provision"}[1h])
//   - Revocations per day:   increase(license_transitions_total{action="organization.revoke"}[24h])
//
// AuditAppendFailuresTotal counts transactions rolled back because the audit insert failed.
// Any increase means an administrative action was refused; alert on it.
var (
	LicenseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_transitions_total",
			Help: "Total number of committed license lifecycle transitions, by audit action.",
		},
		[]string{"action"},
	)

	AuditAppendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "license_audit_append_failures_total",
			Help: "Total number of lifecycle transactions rolled back because the audit append failed.",
		},
	)

	AuditShipFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_ship_failures_total",
			Help: "Total number of committed audit entries a shipper failed to forward, by shipper.",
		},
		[]string{"shipper"},
	)
)

// PlanCacheRequestsTotal is a CounterVec with label {result} ∈ {hit, miss, error}.
//
// Example PromQL queries:
//   - Hit ratio:  sum(rate(plan_cache_requests_total{result="hit"}[5m])) / sum(rate(plan_cache_requests_total[5m]))
var PlanCacheRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plan_cache_requests_total",
		Help: "Total number of plan cache lookups, by result.",
	},
	[]string{"result"},
)

// Background job metrics.
//
// ExpirySweepsTotal counts completed sweep runs and ExpiredOrgsTotal the organizations they
// moved to expired. Lazy expiry on the read path is not counted here.
//
// ExpiryNotificationsSentTotal and ExpiryNotificationsFailedTotal count warning emails sent
// by the expiry notifier. A rising failure count usually means SMTP is misconfigured.
//
// AuditArchiveRunsTotal is a CounterVec with label {status} ∈ {success, skipped, error}.
var (
	ExpirySweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "license_expiry_sweeps_total",
			Help: "Total number of completed expiry sweep runs.",
		},
	)

	ExpiredOrgsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "license_expired_orgs_total",
			Help: "Total number of organizations moved to expired by the sweeper.",
		},
	)

	ExpiryNotificationsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "license_expiry_notifications_sent_total",
			Help: "Total number of license expiry warning emails successfully sent.",
		},
	)

	ExpiryNotificationsFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "license_expiry_notifications_failed_total",
			Help: "Total number of license expiry warning emails that could not be sent.",
		},
	)

	AuditArchiveRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_archive_runs_total",
			Help: "Total number of audit archive runs, by outcome.",
		},
		[]string{"status"},
	)

	// BackgroundPanicsTotal counts panics recovered in background goroutines, by task
	BackgroundPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_panics_total",
			Help: "Total number of panics recovered in background goroutines, by task.",
		},
		[]string{"task"},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <LIC_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
