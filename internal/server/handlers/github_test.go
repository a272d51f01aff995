package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homedash/homedash/internal/core"
	"github.com/homedash/homedash/internal/core/engine"
	"github.com/homedash/homedash/internal/core/github"
)

type fakeQuota struct {
	snapshot engine.Snapshot
}

func (f fakeQuota) Snapshot() engine.Snapshot { return f.snapshot }

type fakeRemote struct {
	state *core.RateLimitState
	err   error
	calls int
}

func (f *fakeRemote) RateLimit(context.Context) (*core.RateLimitState, error) {
	f.calls++
	return f.state, f.err
}

func testSnapshot() engine.Snapshot {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return engine.Snapshot{
		Primary:    core.RateLimitState{Remaining: 42, Limit: 60, ResetAt: now.Add(time.Minute)},
		Secondary:  core.SecondaryWindow{Count: 7, WindowStart: now},
		QueueDepth: 3,
		Admissible: true,
		TakenAt:    now,
	}
}

func TestQuotaHandlerReturnsSnapshot(t *testing.T) {
	remote := &fakeRemote{}
	handler := &QuotaHandler{Quota: fakeQuota{snapshot: testSnapshot()}, Remote: remote}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/github/quota", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp QuotaResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 42, resp.Engine.Primary.Remaining)
	assert.Equal(t, 7, resp.Engine.Secondary.Count)
	assert.EqualValues(t, 3, resp.Engine.QueueDepth)
	assert.Nil(t, resp.Remote)
	assert.Zero(t, remote.calls)
}

func TestQuotaHandlerRemote(t *testing.T) {
	reset := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	remote := &fakeRemote{state: &core.RateLimitState{Remaining: 4990, Limit: 5000, Used: 10, ResetAt: reset}}
	handler := &QuotaHandler{Quota: fakeQuota{snapshot: testSnapshot()}, Remote: remote}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/github/quota?remote=true", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp QuotaResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Remote)
	assert.Equal(t, 4990, resp.Remote.Remaining)
	assert.True(t, reset.Equal(resp.Remote.ResetAt))
	assert.Equal(t, 1, remote.calls)
}

func TestQuotaHandlerErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler *QuotaHandler
		query   string
		status  int
		code    string
	}{
		{
			name:    "unconfigured",
			handler: &QuotaHandler{},
			status:  http.StatusServiceUnavailable,
			code:    "SERVICE_UNAVAILABLE",
		},
		{
			name:    "bad remote flag",
			handler: &QuotaHandler{Quota: fakeQuota{}},
			query:   "?remote=maybe",
			status:  http.StatusBadRequest,
			code:    "INVALID_INPUT",
		},
		{
			name:    "no remote client",
			handler: &QuotaHandler{Quota: fakeQuota{}},
			query:   "?remote=1",
			status:  http.StatusServiceUnavailable,
			code:    "SERVICE_UNAVAILABLE",
		},
		{
			name: "rate limited upstream",
			handler: &QuotaHandler{
				Quota:  fakeQuota{},
				Remote: &fakeRemote{err: &github.StatusError{StatusCode: http.StatusTooManyRequests, Message: "slow down"}},
			},
			query:  "?remote=true",
			status: http.StatusTooManyRequests,
			code:   "RATE_LIMITED",
		},
		{
			name: "upstream failure",
			handler: &QuotaHandler{
				Quota:  fakeQuota{},
				Remote: &fakeRemote{err: &github.StatusError{StatusCode: http.StatusServiceUnavailable}},
			},
			query:  "?remote=true",
			status: http.StatusBadGateway,
			code:   "EXTERNAL_SERVICE_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/github/quota"+tt.query, nil))

			require.Equal(t, tt.status, rec.Code)
			var body errorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}
