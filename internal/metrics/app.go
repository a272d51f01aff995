package metrics

import (
	"time"

	"github.com/homedash/homedash/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Catalog metrics
	CatalogEnrichmentsTotal      = "catalog_enrichments_total"
	CatalogEnrichmentRunDuration = "catalog_enrichment_run_ms"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
)

// RecordEnrichment records one catalog entry enrichment by outcome.
func RecordEnrichment(status string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CatalogEnrichmentsTotal,
			1,
			map[string]string{
				"status": status,
			},
		)
	}
}

// RecordEnrichmentRun records the wall time of a whole enrichment run.
func RecordEnrichmentRun(entries int, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			CatalogEnrichmentRunDuration,
			duration,
			map[string]string{
				"size": sizeBucket(entries),
			},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

func sizeBucket(n int) string {
	switch {
	case n <= 10:
		return "small"
	case n <= 100:
		return "medium"
	default:
		return "large"
	}
}
