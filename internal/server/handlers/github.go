package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/homedash/homedash/internal/core"
	"github.com/homedash/homedash/internal/core/engine"
	apperrors "github.com/homedash/homedash/internal/errors"
)

// QuotaSource exposes the shared executor's quota view.
type QuotaSource interface {
	Snapshot() engine.Snapshot
}

// RemoteQuota fetches the primary quota straight from GitHub.
type RemoteQuota interface {
	RateLimit(ctx context.Context) (*core.RateLimitState, error)
}

// QuotaResponse is returned by GET /v1/github/quota.
type QuotaResponse struct {
	Engine engine.Snapshot       `json:"engine"`
	Remote *core.RateLimitState `json:"remote,omitempty"`
}

// QuotaHandler serves the engine snapshot. With ?remote=true it also asks
// GitHub's /rate_limit endpoint, which itself goes through the executor.
type QuotaHandler struct {
	Quota  QuotaSource
	Remote RemoteQuota
}

func (h *QuotaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Quota == nil {
		respondWithError(w, r, apperrors.NewUnavailableError("GitHub engine not configured"))
		return
	}

	var remote *core.RateLimitState
	if raw := r.URL.Query().Get("remote"); raw != "" {
		want, err := strconv.ParseBool(raw)
		if err != nil {
			respondWithError(w, r, apperrors.NewInvalidInputError("remote must be a boolean"))
			return
		}
		if want {
			if h.Remote == nil {
				respondWithError(w, r, apperrors.NewUnavailableError("GitHub client not configured"))
				return
			}
			remote, err = h.Remote.RateLimit(r.Context())
			if err != nil {
				respondWithError(w, r, apperrors.FromDomainError(r.Context(), err))
				return
			}
		}
	}

	// Snapshot after the remote call so the engine view includes its headers.
	writeJSON(w, http.StatusOK, QuotaResponse{
		Engine: h.Quota.Snapshot(),
		Remote: remote,
	})
}
