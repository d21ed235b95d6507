package telemetry

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metric names.
const (
	MetricRunsTotal          = "afp_import_runs_total"
	MetricRunDurationSeconds = "afp_import_run_duration_seconds"
	MetricRecordsTotal       = "afp_import_records_total"
	MetricPageRetriesTotal   = "afp_import_page_retries_total"
	MetricQueueDepth         = "afp_import_queue_depth"
	MetricActiveJobs         = "afp_import_active_jobs"
	MetricJobsTotal          = "afp_import_jobs_total"
	MetricSlowQueriesTotal   = "afp_db_slow_queries_total"
	MetricHTTPRequestsTotal  = "afp_http_requests_total"
	MetricHTTPDuration       = "afp_http_request_duration_seconds"
	MetricHTTPInFlight       = "afp_http_requests_in_flight"
)

// Record stages counted by AddRecords
const (
	RecordStageFetched    = "fetched"
	RecordStageStaged     = "staged"
	RecordStageNormalized = "normalized"
	RecordStageDeferred   = "deferred"
	RecordStageSkipped    = "skipped"
)

// ImportMetrics exposes import and queue metrics for Prometheus scraping.
// A nil *ImportMetrics is valid and records nothing.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type ImportMetrics struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	records     *prometheus.CounterVec
	pageRetries *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec
	activeJobs  *prometheus.GaugeVec
	jobsTotal   *prometheus.CounterVec
	slowQueries *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// NewImportMetrics creates the import metrics on a dedicated registry,
// together with the Go runtime and process collectors
func NewImportMetrics() *ImportMetrics {
	registry := prometheus.NewRegistry()
	m := &ImportMetrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRunsTotal,
			Help: "Finished import runs by vendor kind and terminal status",
		}, []string{"vendor_kind", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricRunDurationSeconds,
			Help:    "Wall-clock duration of import runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"vendor_kind"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRecordsTotal,
			Help: "Records processed by component and stage",
		}, []string{"component", "stage"}),
		pageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPageRetriesTotal,
			Help: "Retried page fetches by component",
		}, []string{"component"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricQueueDepth,
			Help: "Queued and retry-waiting jobs per lane",
		}, []string{"lane"}),
		activeJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricActiveJobs,
			Help: "Running jobs per lane",
		}, []string{"lane"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricJobsTotal,
			Help: "Job ticket transitions per lane and status",
		}, []string{"lane", "status"}),
		slowQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSlowQueriesTotal,
			Help: "Statements slower than the tracing threshold by table",
		}, []string{"table"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequestsTotal,
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPDuration,
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricHTTPInFlight,
			Help: "HTTP requests currently being served",
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runsTotal, m.runDuration, m.records, m.pageRetries,
		m.queueDepth, m.activeJobs, m.jobsTotal, m.slowQueries,
		m.httpRequests, m.httpDuration, m.httpInFlight,
	)
	return m
}

// Registry returns the registry backing the metrics
func (m *ImportMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics scrape handler
func (m *ImportMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterDB exports the connection pool statistics of db under dbName
func (m *ImportMetrics) RegisterDB(db *sql.DB, dbName string) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(collectors.NewDBStatsCollector(db, dbName))
}

// ObserveRun records a finished run
func (m *ImportMetrics) ObserveRun(vendorKind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(vendorKind, status).Inc()
	m.runDuration.WithLabelValues(vendorKind).Observe(d.Seconds())
}

// AddRecords counts records of a component at a stage
func (m *ImportMetrics) AddRecords(component, stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(component, stage).Add(float64(n))
}

// IncPageRetry counts a retried page fetch
func (m *ImportMetrics) IncPageRetry(component string) {
	if m == nil {
		return
	}
	m.pageRetries.WithLabelValues(component).Inc()
}

// SetLaneGauges sets the queue depth and running count of a lane
func (m *ImportMetrics) SetLaneGauges(lane string, queued, running int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(lane).Set(float64(queued))
	m.activeJobs.WithLabelValues(lane).Set(float64(running))
}

// IncJob counts a job ticket reaching a status
func (m *ImportMetrics) IncJob(lane, status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(lane, status).Inc()
}

// IncSlowQuery counts a statement that exceeded the slow query threshold
func (m *ImportMetrics) IncSlowQuery(table string) {
	if m == nil {
		return
	}
	if table == "" {
		table = "unknown"
	}
	m.slowQueries.WithLabelValues(table).Inc()
}

// HTTPStarted marks a request as in flight
func (m *ImportMetrics) HTTPStarted() {
	if m == nil {
		return
	}
	m.httpInFlight.Inc()
}

// ObserveHTTP records a served request. route is the matched route pattern.
func (m *ImportMetrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpInFlight.Dec()
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
