package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShenlongDev/afp-integration/internal/infrastructure/telemetry"
)

func scrape(t *testing.T, m *telemetry.ImportMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := telemetry.NewImportMetrics()

	engine := gin.New()
	engine.Use(Metrics(m))
	engine.GET("/api/v1/runs/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})
	engine.GET("/metrics", gin.WrapH(m.Handler()))

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := scrape(t, m)
	assert.Contains(t, body, `afp_http_requests_total{method="GET",route="/api/v1/runs/:id",status="404"} 2`)
	assert.Contains(t, body, `afp_http_requests_total{method="GET",route="unmatched",status="404"} 1`)
	assert.NotContains(t, body, `route="/metrics"`)
	assert.Contains(t, body, "afp_http_requests_in_flight 0")
}

func TestMetrics_NilMetricsPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(Metrics(nil))
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "pong"))
}

func TestMetrics_PanicStillObserved(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := telemetry.NewImportMetrics()

	engine := gin.New()
	engine.Use(gin.Recovery(), Metrics(m))
	engine.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	body := scrape(t, m)
	assert.Contains(t, body, `route="/boom"`)
	assert.Contains(t, body, "afp_http_requests_in_flight 0")
}
