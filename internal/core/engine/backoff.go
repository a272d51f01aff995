package engine

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultBackoffBase   = time.Second
	DefaultBackoffCap    = 30 * time.Second
	DefaultBackoffJitter = time.Second
)

// Backoff computes retry delays: base * 2^attempt plus jitter, capped.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration

	// Rand returns a value in [0, n). Defaults to math/rand/v2.
	Rand func(n int64) int64
}

// DefaultBackoff returns the 1s base, 30s cap, 1s jitter policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   DefaultBackoffBase,
		Cap:    DefaultBackoffCap,
		Jitter: DefaultBackoffJitter,
	}
}

// Delay returns the wait before retrying after the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.exponential(attempt)
	if b.Jitter > 0 {
		delay += time.Duration(b.random(int64(b.Jitter)))
	}
	if delay > b.limit() {
		return b.limit()
	}
	return delay
}

// exponential is the non-jitter component, saturating at the cap.
func (b Backoff) exponential(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := b.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}

	delay := base
	for i := 0; i < attempt; i++ {
		if delay >= b.limit() {
			return b.limit()
		}
		delay *= 2
	}
	if delay > b.limit() {
		return b.limit()
	}
	return delay
}

func (b Backoff) limit() time.Duration {
	if b.Cap <= 0 {
		return DefaultBackoffCap
	}
	return b.Cap
}

func (b Backoff) random(n int64) int64 {
	if n <= 0 {
		return 0
	}
	if b.Rand != nil {
		return b.Rand(n)
	}
	return rand.Int64N(n)
}
