package metrics

import (
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homedash/homedash/internal/observability"
)

func TestErrorCountersUseDeclaredNames(t *testing.T) {
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	RecordError("NOT_FOUND", 404)
	RecordError("RATE_LIMITED", 429)
	RecordPanic()
	RecordErrorByEndpoint("/v1/catalog/{id}", "NOT_FOUND")

	assert.Equal(t, 2, collector.CountMetricsByName(ErrorsTotalName))
	assert.Equal(t, 1, collector.CountMetricsByName(PanicsTotalName))
	assert.Equal(t, 1, collector.CountMetricsByName(ErrorsByEndpointName))
}

func TestErrorCountersWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	assert.NotPanics(t, func() {
		RecordError("INTERNAL_ERROR", 500)
		RecordPanic()
		RecordErrorByEndpoint("/unknown", "INTERNAL_ERROR")
	})
}
