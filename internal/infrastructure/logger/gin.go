package logger

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GinMiddleware logs one entry per request. Requests on /imports and /runs
// routes are correlated with the job or run they address: the route's :id
// parameter, an integration_id query, or a job id the handler records with
// c.Set(string(JobIDKey), id). The request logger is stored in the request
// context for handlers (see L).
func GinMiddleware(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()

		ctx := c.Request.Context()
		log := base.With(
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		if requestID := c.GetString(string(RequestIDKey)); requestID != "" {
			ctx, log = WithRequestID(ctx, log, requestID)
		}
		ctx, log = correlateRoute(ctx, c, route, log)
		c.Request = c.Request.WithContext(WithContext(ctx, log))

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if route != "" {
			fields = append(fields, zap.String("route", route))
		}
		if jobID := c.GetString(string(JobIDKey)); jobID != "" && GetJobID(ctx) == "" {
			fields = append(fields, zap.String(string(JobIDKey), jobID))
		}
		if query := c.Request.URL.RawQuery; query != "" {
			fields = append(fields, zap.String("query", query))
		}
		if traceID := GetTraceID(c.Request.Context()); traceID != "" {
			fields = append(fields, zap.String("trace_id", traceID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		const msg = "HTTP Request"
		switch {
		case status >= http.StatusInternalServerError:
			log.Error(msg, fields...)
		case status >= http.StatusBadRequest:
			log.Warn(msg, fields...)
		default:
			log.Info(msg, fields...)
		}
	}
}

// correlateRoute attaches the ids an import or run route addresses
func correlateRoute(ctx context.Context, c *gin.Context, route string, log *zap.Logger) (context.Context, *zap.Logger) {
	var idKey contextKey
	switch {
	case hasSegment(route, "imports"):
		idKey = JobIDKey
	case hasSegment(route, "runs"):
		idKey = RunIDKey
	default:
		return ctx, log
	}
	if id := c.Param("id"); id != "" {
		ctx, log = correlate(ctx, log, idKey, id)
	}
	if integrationID := c.Query(string(IntegrationIDKey)); integrationID != "" {
		ctx, log = WithIntegrationID(ctx, log, integrationID)
	}
	return ctx, log
}

func hasSegment(route, segment string) bool {
	for _, part := range strings.Split(route, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

// Recovery turns a handler panic into a 500 and logs it with the request's
// correlation ids when the request logger is already in place
func Recovery(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			log := base
			if l, ok := c.Request.Context().Value(LoggerKey).(*zap.Logger); ok {
				log = l
			}
			log.Error("Panic recovered",
				zap.String("route", c.FullPath()),
				zap.Any("error", rec),
				zap.Stack("stacktrace"),
			)
			c.AbortWithStatus(http.StatusInternalServerError)
		}()
		c.Next()
	}
}
