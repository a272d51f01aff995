package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/homedash/homedash/internal/metrics"
	"github.com/homedash/homedash/internal/observability"
)

// statusRecorder captures the status code and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// EndpointPattern returns the chi route pattern, or a fixed bucket for
// requests that never reached a route, keeping metric labels bounded.
func EndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/" || path == "/version" || path == "/metrics":
		return path
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/v1/github/quota" || path == "/v1/catalog" || path == "/v1/catalog/enrich":
		return path
	case strings.HasPrefix(path, "/v1/catalog/"):
		return "/v1/catalog/{id}"
	default:
		return "/unknown"
	}
}

// RequestMetrics records request counters and latency, then logs the request.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		var requestSize int64
		if raw := r.Header.Get("Content-Length"); raw != "" {
			if size, err := strconv.ParseInt(raw, 10, 64); err == nil {
				requestSize = size
			}
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		endpoint := EndpointPattern(r)
		metrics.RecordHTTPRequest(metrics.HTTPRequest{
			Method:       r.Method,
			Endpoint:     endpoint,
			Status:       rec.status,
			Duration:     duration,
			RequestSize:  requestSize,
			ResponseSize: rec.bytes,
		})

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", rec.status),
				zap.Duration("duration", duration),
				zap.Int64("response_size", rec.bytes),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		}
	})
}
