package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestImportMetrics_Counters(t *testing.T) {
	m := NewImportMetrics()

	m.ObserveRun("ERP", "succeeded", 3*time.Second)
	m.ObserveRun("ERP", "succeeded", time.Second)
	m.ObserveRun("POS", "failed", time.Second)
	m.AddRecords("orders", RecordStageFetched, 10)
	m.AddRecords("orders", RecordStageFetched, 5)
	m.AddRecords("orders", RecordStageSkipped, 0)
	m.IncPageRetry("orders")
	m.IncJob("high", "succeeded")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("ERP", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("POS", "failed")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.records.WithLabelValues("orders", RecordStageFetched)))
	// zero counts do not create a series
	assert.Equal(t, 1, testutil.CollectAndCount(m.records, MetricRecordsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pageRetries.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("high", "succeeded")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.runDuration, MetricRunDurationSeconds))
}

func TestImportMetrics_LaneGauges(t *testing.T) {
	m := NewImportMetrics()

	m.SetLaneGauges("normal", 4, 2)
	m.SetLaneGauges("normal", 3, 1)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("normal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeJobs.WithLabelValues("normal")))
}

func TestImportMetrics_NilIsNoop(t *testing.T) {
	var m *ImportMetrics
	assert.NotPanics(t, func() {
		m.ObserveRun("ERP", "failed", time.Second)
		m.AddRecords("orders", RecordStageStaged, 1)
		m.IncPageRetry("orders")
		m.SetLaneGauges("high", 1, 1)
		m.IncJob("high", "failed")
		m.IncSlowQuery("raw_records")
		assert.NoError(t, m.RegisterDB(nil, "afp"))
	})
}

func TestImportMetrics_Handler(t *testing.T) {
	m := NewImportMetrics()
	m.IncJob("periodic", "queued")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `afp_import_jobs_total{lane="periodic",status="queued"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestImportMetrics_SlowQueriesAndDBStats(t *testing.T) {
	m := NewImportMetrics()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	db, err := gdb.DB()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, m.RegisterDB(db, "afp"))
	m.IncSlowQuery("raw_records")
	m.IncSlowQuery("")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.slowQueries.WithLabelValues("raw_records")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.slowQueries.WithLabelValues("unknown")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_sql_open_connections")

	// the same pool cannot be registered twice
	assert.Error(t, m.RegisterDB(db, "afp"))
}
