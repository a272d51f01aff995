package core

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Rate limit response headers reported by the GitHub API.
const (
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRateLimitUsed      = "X-RateLimit-Used"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRetryAfter         = "Retry-After"
)

const (
	// DefaultPrimaryLimit is assumed until the server reports a real quota.
	// It matches the unauthenticated hourly budget.
	DefaultPrimaryLimit = 60

	// DefaultPrimaryReset is how far ahead the first reset is assumed to be.
	DefaultPrimaryReset = 60 * time.Second

	// SecondaryWindowLimit is the per-minute request ceiling enforced client side.
	SecondaryWindowLimit = 100

	// SecondaryWindowDuration is the length of the secondary window.
	SecondaryWindowDuration = 60 * time.Second
)

// RateLimitState captures the last primary quota snapshot reported by the server.
//
// It is only ever mutated from response headers; requests are never
// subtracted locally.
type RateLimitState struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	ResetAt   time.Time `json:"reset_at"`
}

// NewRateLimitState returns the conservative state used before any response
// has been observed.
func NewRateLimitState(now time.Time) *RateLimitState {
	return &RateLimitState{
		Remaining: DefaultPrimaryLimit,
		Limit:     DefaultPrimaryLimit,
		ResetAt:   now.Add(DefaultPrimaryReset),
	}
}

// Update overwrites each field whose header is present and parses cleanly.
// Missing or malformed headers leave the previous value in place.
func (s *RateLimitState) Update(header http.Header) {
	if s == nil || header == nil {
		return
	}

	if value, ok := headerInt(header, HeaderRateLimitRemaining); ok && value >= 0 {
		s.Remaining = value
	}
	if value, ok := headerInt(header, HeaderRateLimitReset); ok {
		s.ResetAt = time.Unix(int64(value), 0).UTC()
	}
	if value, ok := headerInt(header, HeaderRateLimitUsed); ok {
		s.Used = value
	}
	if value, ok := headerInt(header, HeaderRateLimitLimit); ok {
		s.Limit = value
	}
}

// Exhausted reports whether the primary quota is spent for the current window.
// Once ResetAt has passed the server has replenished the quota even though no
// response has reported it yet.
func (s *RateLimitState) Exhausted(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.Remaining <= 0 && now.Before(s.ResetAt)
}

// SecondaryWindow counts requests issued in a fixed 60 second window.
// It is independent of server feedback.
type SecondaryWindow struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// NewSecondaryWindow opens an empty window at now.
func NewSecondaryWindow(now time.Time) *SecondaryWindow {
	return &SecondaryWindow{WindowStart: now}
}

// RollIfExpired starts a new window once the current one is at least 60s old.
func (w *SecondaryWindow) RollIfExpired(now time.Time) {
	if w == nil {
		return
	}
	if now.Sub(w.WindowStart) >= SecondaryWindowDuration {
		w.Count = 0
		w.WindowStart = now
	}
}

// Admit reports whether another request fits in the current window.
func (w *SecondaryWindow) Admit(now time.Time) bool {
	if w == nil {
		return true
	}
	w.RollIfExpired(now)
	return w.Count < SecondaryWindowLimit
}

// RecordAttempt counts a request before it is issued.
func (w *SecondaryWindow) RecordAttempt() {
	if w == nil {
		return
	}
	w.Count++
}

// RecordFailureBeforeCompletion undoes RecordAttempt for a request that never
// reached the server.
func (w *SecondaryWindow) RecordFailureBeforeCompletion() {
	if w == nil || w.Count == 0 {
		return
	}
	w.Count--
}

// WindowEnd returns the moment the current window closes.
func (w *SecondaryWindow) WindowEnd() time.Time {
	if w == nil {
		return time.Time{}
	}
	return w.WindowStart.Add(SecondaryWindowDuration)
}

func headerInt(header http.Header, key string) (int, bool) {
	raw := strings.TrimSpace(header.Get(key))
	if raw == "" {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}
