package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ShenlongDev/afp-integration/internal/infrastructure/telemetry"
)

// unmatchedRoute labels requests that matched no route, keeping label cardinality bounded
const unmatchedRoute = "unmatched"

// HTTPMetricsConfig holds configuration for the HTTP metrics middleware.
type HTTPMetricsConfig struct {
	// Metrics receives the observations. A nil value disables the middleware.
	Metrics *telemetry.ImportMetrics
	// SkipPaths are not recorded (e.g. the scrape endpoint itself)
	SkipPaths []string
}

// DefaultHTTPMetricsConfig returns default HTTP metrics configuration.
func DefaultHTTPMetricsConfig(m *telemetry.ImportMetrics) HTTPMetricsConfig {
	return HTTPMetricsConfig{
		Metrics:   m,
		SkipPaths: []string{"/metrics", "/health"},
	}
}

// Metrics returns Prometheus request metrics middleware with default configuration.
func Metrics(m *telemetry.ImportMetrics) gin.HandlerFunc {
	return MetricsWithConfig(DefaultHTTPMetricsConfig(m))
}

// MetricsWithConfig returns Prometheus request metrics middleware.
// Requests are labelled with the route pattern, never the raw path.
func MetricsWithConfig(cfg HTTPMetricsConfig) gin.HandlerFunc {
	if cfg.Metrics == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		cfg.Metrics.HTTPStarted()
		defer func() {
			route := c.FullPath()
			if route == "" {
				route = unmatchedRoute
			}
			cfg.Metrics.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
		}()

		c.Next()
	}
}
