package metrics

import (
	"strconv"
	"time"

	"github.com/homedash/homedash/internal/observability"
)

// HTTP server metrics
const (
	HTTPRequestsTotal   = "http_requests_total"
	HTTPRequestDuration = "http_request_duration_ms"
	HTTPRequestSize     = "http_request_size_bytes"
	HTTPResponseSize    = "http_response_size_bytes"
	HTTPErrorsTotal     = "http_errors_total"
)

// HTTPRequest describes one completed API request.
type HTTPRequest struct {
	Method       string
	Endpoint     string
	Status       int
	Duration     time.Duration
	RequestSize  int64
	ResponseSize int64
}

// RecordHTTPRequest emits the counter, latency and size series for a request.
// Endpoint must already be a route pattern, never a raw path.
func RecordHTTPRequest(req HTTPRequest) {
	if observability.TelemetrySystem == nil {
		return
	}

	status := strconv.Itoa(req.Status)
	labels := map[string]string{
		"method":   req.Method,
		"endpoint": req.Endpoint,
		"status":   status,
	}
	sizeLabels := map[string]string{
		"method":   req.Method,
		"endpoint": req.Endpoint,
	}

	_ = observability.TelemetrySystem.Counter(HTTPRequestsTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(HTTPRequestDuration, req.Duration, labels)
	_ = observability.TelemetrySystem.Gauge(HTTPRequestSize, float64(req.RequestSize), sizeLabels)
	_ = observability.TelemetrySystem.Gauge(HTTPResponseSize, float64(req.ResponseSize), sizeLabels)

	if req.Status < 400 {
		return
	}
	errorType := "client_error"
	if req.Status >= 500 {
		errorType = "server_error"
	}
	_ = observability.TelemetrySystem.Counter(HTTPErrorsTotal, 1, map[string]string{
		"method":     req.Method,
		"endpoint":   req.Endpoint,
		"status":     status,
		"error_type": errorType,
	})
}
