package metrics

import (
	"time"

	"github.com/homedash/homedash/internal/observability"
)

// GitHub engine metrics following Prometheus conventions
const (
	GitHubRequestsTotal        = "github_requests_total"
	GitHubRetriesTotal         = "github_retries_total"
	GitHubQuotaWait            = "github_quota_wait_ms"
	GitHubQuotaRemaining       = "github_quota_remaining"
	GitHubSecondaryWindowCount = "github_secondary_window_count"
	GitHubQueueDepth           = "github_queue_depth"
)

// RecordGitHubRequest counts one issued request by outcome
// (success, not_found, rate_limited, http_error, transport_error).
func RecordGitHubRequest(outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			GitHubRequestsTotal,
			1,
			map[string]string{"outcome": outcome},
		)
	}
}

// RecordGitHubRetry counts a retry scheduled by the engine.
func RecordGitHubRetry(reason string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			GitHubRetriesTotal,
			1,
			map[string]string{"reason": reason},
		)
	}
}

// RecordQuotaWait records time spent waiting for quota.
func RecordQuotaWait(reason string, wait time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			GitHubQuotaWait,
			wait,
			map[string]string{"reason": reason},
		)
	}
}

// SetQuotaState publishes the engine's current quota view.
func SetQuotaState(primaryRemaining int, secondaryCount int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			GitHubQuotaRemaining,
			float64(primaryRemaining),
			nil,
		)
		_ = observability.TelemetrySystem.Gauge(
			GitHubSecondaryWindowCount,
			float64(secondaryCount),
			nil,
		)
	}
}

// SetQueueDepth publishes the number of callers queued or running.
func SetQueueDepth(depth int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			GitHubQueueDepth,
			float64(depth),
			nil,
		)
	}
}
