package engine

import (
	"time"

	"github.com/homedash/homedash/internal/core"
)

const (
	// MinQuotaWait is the shortest wait applied when either quota is exhausted.
	MinQuotaWait = time.Second

	// PacingInterval spaces issuances so a sustained burst stays under the
	// secondary quota.
	PacingInterval = core.SecondaryWindowDuration / core.SecondaryWindowLimit
)

// WaitReason labels why the scheduler asked the caller to wait.
type WaitReason string

const (
	WaitNone      WaitReason = "none"
	WaitSecondary WaitReason = "secondary_window"
	WaitPrimary   WaitReason = "primary_quota"
	WaitPacing    WaitReason = "pacing"
)

// Scheduler decides whether a request may be issued now and, if not, how long
// to wait. It holds no locks; callers serialize access.
type Scheduler struct {
	Primary   *core.RateLimitState
	Secondary *core.SecondaryWindow
}

// NewScheduler creates a scheduler with conservative initial state.
func NewScheduler(now time.Time) *Scheduler {
	return &Scheduler{
		Primary:   core.NewRateLimitState(now),
		Secondary: core.NewSecondaryWindow(now),
	}
}

// CanProceed reports whether both quotas admit a request at now.
func (s *Scheduler) CanProceed(now time.Time) bool {
	if s == nil {
		return true
	}
	return s.Secondary.Admit(now) && !s.Primary.Exhausted(now)
}

// DelayBeforeNextAttempt returns how long to wait before checking again.
func (s *Scheduler) DelayBeforeNextAttempt(now time.Time) time.Duration {
	delay, _ := s.nextDelay(now)
	return delay
}

func (s *Scheduler) nextDelay(now time.Time) (time.Duration, WaitReason) {
	if s == nil {
		return 0, WaitNone
	}

	if !s.Secondary.Admit(now) {
		return atLeast(s.Secondary.WindowEnd().Sub(now), MinQuotaWait), WaitSecondary
	}
	if s.Primary.Exhausted(now) {
		return atLeast(s.Primary.ResetAt.Sub(now), MinQuotaWait), WaitPrimary
	}
	return PacingInterval, WaitPacing
}

func atLeast(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}
