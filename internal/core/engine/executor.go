package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/homedash/homedash/internal/core"
	"github.com/homedash/homedash/internal/metrics"
)

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 2

var (
	// ErrTransport wraps failures where no response was obtained.
	ErrTransport = errors.New("github transport failure")

	// ErrMaxRetriesExceeded is returned if the attempt loop ends unresolved.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrNilResponse is reported when a request func returns neither a
	// response nor an error.
	ErrNilResponse = errors.New("request returned no response")
)

// RequestFunc performs exactly one HTTP call. It must not retry on its own.
type RequestFunc func(ctx context.Context) (*http.Response, error)

// Options configures an Executor. Zero values select production defaults.
type Options struct {
	Clock   func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error
	Backoff *Backoff
	Logger  *logging.Logger

	// Pacing spaces consecutive issuances by PacingInterval.
	Pacing bool
}

// Snapshot is a point-in-time copy of the executor's quota view.
type Snapshot struct {
	Primary    core.RateLimitState  `json:"primary"`
	Secondary  core.SecondaryWindow `json:"secondary"`
	QueueDepth int64                `json:"queue_depth"`
	Admissible bool                 `json:"admissible"`
	Wait       time.Duration        `json:"wait_ns,omitempty"`
	WaitReason WaitReason           `json:"wait_reason,omitempty"`
	TakenAt    time.Time            `json:"taken_at"`
}

// Executor runs GitHub API calls one at a time, in call order, while honoring
// the primary and secondary quotas. One Executor is shared by every caller in
// the process.
type Executor struct {
	scheduler *Scheduler
	backoff   Backoff
	clock     func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *logging.Logger
	pacing    bool

	// stateMu guards scheduler state for Snapshot readers. Writers already
	// hold the admission turn.
	stateMu    sync.RWMutex
	lastIssued time.Time

	queueMu sync.Mutex
	tail    chan struct{}
	depth   atomic.Int64
}

// NewExecutor creates an executor with conservative initial quota state.
func NewExecutor(opts Options) *Executor {
	e := &Executor{
		backoff: DefaultBackoff(),
		clock:   opts.Clock,
		sleep:   opts.Sleep,
		logger:  opts.Logger,
		pacing:  opts.Pacing,
	}
	if opts.Backoff != nil {
		e.backoff = *opts.Backoff
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	e.scheduler = NewScheduler(e.now())
	return e
}

// Execute runs fn with DefaultMaxRetries.
func (e *Executor) Execute(ctx context.Context, fn RequestFunc) (*http.Response, error) {
	return e.ExecuteWithRetries(ctx, fn, DefaultMaxRetries)
}

// ExecuteWithRetries waits for its turn in the admission queue and then runs
// up to maxRetries+1 attempts of fn.
//
// HTTP failures that survive all retries are returned as responses, not
// errors; callers must inspect the status code. Transport failures that
// survive all retries are returned as errors wrapping ErrTransport. A 404 is
// returned immediately.
func (e *Executor) ExecuteWithRetries(ctx context.Context, fn RequestFunc, maxRetries int) (*http.Response, error) {
	if fn == nil {
		return nil, errors.New("request func is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return e.run(ctx, fn, maxRetries)
}

// Snapshot returns a copy of the current quota state.
func (e *Executor) Snapshot() Snapshot {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	now := e.now()
	snap := Snapshot{
		Primary:    *e.scheduler.Primary,
		Secondary:  *e.scheduler.Secondary,
		QueueDepth: e.depth.Load(),
		TakenAt:    now,
	}

	view := &Scheduler{Primary: &snap.Primary, Secondary: &snap.Secondary}
	snap.Admissible = view.CanProceed(now)
	if !snap.Admissible {
		snap.Wait, snap.WaitReason = view.nextDelay(now)
	}
	return snap
}

// acquire appends the caller to the admission chain and blocks until the
// previous caller has released its turn.
func (e *Executor) acquire(ctx context.Context) (func(), error) {
	done := make(chan struct{})

	e.queueMu.Lock()
	prev := e.tail
	e.tail = done
	e.queueMu.Unlock()

	metrics.SetQueueDepth(e.depth.Add(1))
	release := func() {
		metrics.SetQueueDepth(e.depth.Add(-1))
		close(done)
	}

	if prev == nil {
		return release, nil
	}

	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		// The successor is chained on done, so hand the turn on once prev finishes.
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

func (e *Executor) run(ctx context.Context, fn RequestFunc, maxRetries int) (*http.Response, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		final := attempt == maxRetries

		if err := e.admit(ctx); err != nil {
			return nil, err
		}

		resp, err := fn(ctx)
		if err == nil && resp == nil {
			err = ErrNilResponse
		}
		if err != nil {
			closeBody(resp)
			e.withState(func() {
				e.scheduler.Secondary.RecordFailureBeforeCompletion()
			})
			metrics.RecordGitHubRequest("transport_error")

			if final {
				return nil, fmt.Errorf("%w: %w", ErrTransport, err)
			}
			if err := e.pause(ctx, attempt, e.backoff.Delay(attempt), "transport_error", err); err != nil {
				return nil, err
			}
			continue
		}

		e.withState(func() {
			e.scheduler.Primary.Update(resp.Header)
		})
		metrics.RecordGitHubRequest(outcomeForStatus(resp.StatusCode))

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if final {
				return resp, nil
			}
			delay, ok := retryAfter(resp.Header, e.now())
			reason := "retry_after"
			if !ok {
				delay = e.backoff.Delay(attempt)
				reason = "rate_limited"
			}
			discardBody(resp)
			if err := e.pause(ctx, attempt, delay, reason, nil); err != nil {
				return nil, err
			}
		case retryableStatus(resp.StatusCode):
			if final {
				return resp, nil
			}
			discardBody(resp)
			if err := e.pause(ctx, attempt, e.backoff.Delay(attempt), "http_error", nil); err != nil {
				return nil, err
			}
		default:
			return resp, nil
		}
	}

	return nil, ErrMaxRetriesExceeded
}

// admit waits until both quotas allow a request and then counts the attempt.
// The check and the increment happen under the same lock.
func (e *Executor) admit(ctx context.Context) error {
	for {
		e.stateMu.Lock()
		now := e.now()

		var (
			delay  time.Duration
			reason WaitReason
		)
		if e.scheduler.CanProceed(now) {
			if gap := e.pacingGap(now); gap > 0 {
				delay, reason = gap, WaitPacing
			} else {
				e.scheduler.Secondary.RecordAttempt()
				e.lastIssued = now
				e.publishStateLocked()
				e.stateMu.Unlock()
				return nil
			}
		} else {
			delay, reason = e.scheduler.nextDelay(now)
		}
		remaining := e.scheduler.Primary.Remaining
		windowCount := e.scheduler.Secondary.Count
		e.stateMu.Unlock()

		if e.logger != nil {
			e.logger.Debug("Waiting for GitHub quota",
				zap.String("reason", string(reason)),
				zap.Duration("delay", delay),
				zap.Int("primary_remaining", remaining),
				zap.Int("secondary_count", windowCount))
		}
		metrics.RecordQuotaWait(string(reason), delay)
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (e *Executor) pacingGap(now time.Time) time.Duration {
	if !e.pacing || e.lastIssued.IsZero() {
		return 0
	}
	return PacingInterval - now.Sub(e.lastIssued)
}

func (e *Executor) pause(ctx context.Context, attempt int, delay time.Duration, reason string, cause error) error {
	if e.logger != nil {
		fields := []zap.Field{
			zap.Int("attempt", attempt+1),
			zap.String("reason", reason),
			zap.Duration("delay", delay),
		}
		if cause != nil {
			fields = append(fields, zap.Error(cause))
		}
		e.logger.Warn("Retrying GitHub request", fields...)
	}
	metrics.RecordGitHubRetry(reason)

	if delay <= 0 {
		return nil
	}
	return e.sleep(ctx, delay)
}

func (e *Executor) withState(fn func()) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	fn()
	e.publishStateLocked()
}

func (e *Executor) publishStateLocked() {
	metrics.SetQuotaState(e.scheduler.Primary.Remaining, e.scheduler.Secondary.Count)
}

func (e *Executor) now() time.Time {
	if e != nil && e.clock != nil {
		return e.clock()
	}
	return time.Now().UTC()
}

func retryableStatus(code int) bool {
	return code >= http.StatusBadRequest && code != http.StatusNotFound
}

func outcomeForStatus(code int) string {
	switch {
	case code == http.StatusNotFound:
		return "not_found"
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code >= http.StatusBadRequest:
		return "http_error"
	default:
		return "success"
	}
}

// retryAfter parses a Retry-After header given either as a non-negative
// integer number of seconds or as an HTTP date. Anything else counts as absent.
func retryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	if header == nil {
		return 0, false
	}

	raw := strings.TrimSpace(header.Get(core.HeaderRetryAfter))
	if raw == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if parsed, err := http.ParseTime(raw); err == nil {
		wait := parsed.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}

	return 0, false
}

func discardBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func closeBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
