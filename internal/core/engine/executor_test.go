package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/homedash/homedash/internal/core"
)

// fakeClock advances only when the executor sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestExecutor(clock *fakeClock) *Executor {
	backoff := DefaultBackoff()
	backoff.Rand = func(int64) int64 { return 0 }
	return NewExecutor(Options{
		Clock:   clock.Now,
		Sleep:   clock.Sleep,
		Backoff: &backoff,
	})
}

type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

func response(status int, headers map[string]string) *http.Response {
	header := http.Header{}
	for key, value := range headers {
		header.Set(key, value)
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func TestExecutorReturnsSuccess(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)

	calls := 0
	resp, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		return response(http.StatusOK, map[string]string{
			core.HeaderRateLimitRemaining: "4999",
			core.HeaderRateLimitLimit:     "5000",
			core.HeaderRateLimitUsed:      "1",
		}), nil
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, calls)
	require.Empty(t, clock.Sleeps())

	snap := executor.Snapshot()
	require.Equal(t, 4999, snap.Primary.Remaining)
	require.Equal(t, 5000, snap.Primary.Limit)
	require.Equal(t, 1, snap.Primary.Used)
	require.Equal(t, 1, snap.Secondary.Count)
	require.True(t, snap.Admissible)
}

func TestExecutorNotFoundIsTerminal(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)

	calls := 0
	resp, err := executor.ExecuteWithRetries(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		return response(http.StatusNotFound, nil), nil
	}, 5)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, 1, calls)
	require.Empty(t, clock.Sleeps())
}

func TestExecutorTransportFailureExhaustsRetries(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)
	dialErr := errors.New("connection reset by peer")

	calls := 0
	resp, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		return nil, dialErr
	})
	require.Nil(t, resp)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, dialErr)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps())
	require.Equal(t, 0, executor.Snapshot().Secondary.Count)
}

func TestExecutorServerErrorReturnedAfterRetries(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)

	calls := 0
	bodies := make([]*trackedBody, 0, 3)
	resp, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		body := &trackedBody{Reader: strings.NewReader("boom")}
		bodies = append(bodies, body)
		resp := response(http.StatusInternalServerError, nil)
		resp.Body = body
		return resp, nil
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps())

	// Discarded attempts are closed; the returned body belongs to the caller.
	require.True(t, bodies[0].closed)
	require.True(t, bodies[1].closed)
	require.False(t, bodies[2].closed)

	// HTTP errors consumed provider capacity.
	require.Equal(t, 3, executor.Snapshot().Secondary.Count)
}

func TestExecutorRecoversAfterServerError(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)

	statuses := []int{http.StatusBadGateway, http.StatusOK}
	calls := 0
	resp, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		status := statuses[calls]
		calls++
		return response(status, nil), nil
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, calls)
	require.Equal(t, []time.Duration{time.Second}, clock.Sleeps())
}

func TestExecutorHonorsRetryAfter(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)

	var started []time.Time
	resp, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		started = append(started, clock.Now())
		if len(started) == 1 {
			return response(http.StatusTooManyRequests, map[string]string{core.HeaderRetryAfter: "5"}), nil
		}
		return response(http.StatusOK, nil), nil
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, started, 2)
	require.Equal(t, 5*time.Second, started[1].Sub(started[0]))
	require.Equal(t, []time.Duration{5 * time.Second}, clock.Sleeps())
}

func TestExecutorRetryAfterHTTPDate(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)

	retryAt := clock.Now().Add(7 * time.Second).Format(http.TimeFormat)
	calls := 0
	_, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		if calls == 1 {
			return response(http.StatusTooManyRequests, map[string]string{core.HeaderRetryAfter: retryAt}), nil
		}
		return response(http.StatusOK, nil), nil
	})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{7 * time.Second}, clock.Sleeps())
}

func TestExecutorRateLimitedWithoutRetryAfterBacksOff(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)

	calls := 0
	resp, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		if calls == 1 {
			return response(http.StatusTooManyRequests, map[string]string{core.HeaderRetryAfter: "soon"}), nil
		}
		return response(http.StatusOK, nil), nil
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []time.Duration{time.Second}, clock.Sleeps())
}

func TestExecutorMalformedRetryAfterUsesBackoff(t *testing.T) {
	for _, value := range []string{"5m", "1.5"} {
		t.Run(value, func(t *testing.T) {
			clock := newFakeClock()
			executor := newTestExecutor(clock)

			calls := 0
			resp, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
				calls++
				if calls == 1 {
					return response(http.StatusTooManyRequests, map[string]string{core.HeaderRetryAfter: value}), nil
				}
				return response(http.StatusOK, nil), nil
			})
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, []time.Duration{executor.backoff.Delay(0)}, clock.Sleeps())
		})
	}
}

func TestExecutorReturnsRateLimitedOnFinalAttempt(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)

	calls := 0
	resp, err := executor.ExecuteWithRetries(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		return response(http.StatusTooManyRequests, map[string]string{core.HeaderRetryAfter: "30"}), nil
	}, 1)
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, 2, calls)
	require.Equal(t, []time.Duration{30 * time.Second}, clock.Sleeps())
}

func TestExecutorWaitsForPrimaryReset(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)
	resetAt := clock.Now().Add(2 * time.Minute)

	_, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		return response(http.StatusOK, map[string]string{
			core.HeaderRateLimitRemaining: "0",
			core.HeaderRateLimitReset:     strconv.FormatInt(resetAt.Unix(), 10),
		}), nil
	})
	require.NoError(t, err)

	snap := executor.Snapshot()
	require.False(t, snap.Admissible)
	require.Equal(t, WaitPrimary, snap.WaitReason)

	var issuedAt time.Time
	_, err = executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		issuedAt = clock.Now()
		return response(http.StatusOK, map[string]string{core.HeaderRateLimitRemaining: "5000"}), nil
	})
	require.NoError(t, err)
	require.False(t, issuedAt.Before(resetAt))
	require.Equal(t, []time.Duration{2 * time.Minute}, clock.Sleeps())
}

func TestExecutorPrimaryResetInPastDoesNotBlock(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)

	_, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		return response(http.StatusOK, map[string]string{
			core.HeaderRateLimitRemaining: "0",
			core.HeaderRateLimitReset:     strconv.FormatInt(clock.Now().Add(-time.Minute).Unix(), 10),
		}), nil
	})
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		return response(http.StatusOK, nil), nil
	})
	require.NoError(t, err)
	require.Empty(t, clock.Sleeps())
}

func TestExecutorSecondaryWindowNeverExceeded(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)

	const total = 250
	issued := make([]time.Time, 0, total)
	for i := 0; i < total; i++ {
		_, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
			issued = append(issued, clock.Now())
			return response(http.StatusOK, nil), nil
		})
		require.NoError(t, err)
	}

	require.Len(t, issued, total)
	for i := core.SecondaryWindowLimit; i < len(issued); i++ {
		span := issued[i].Sub(issued[i-core.SecondaryWindowLimit])
		require.GreaterOrEqual(t, span, core.SecondaryWindowDuration, "request %d", i)
	}
	require.Equal(t, []time.Duration{time.Minute, time.Minute}, clock.Sleeps())
}

func TestExecutorTransportFailureRestoresWindowCount(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)

	_, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		return response(http.StatusOK, nil), nil
	})
	require.NoError(t, err)
	before := executor.Snapshot().Secondary.Count
	require.Equal(t, 1, before)

	_, err = executor.ExecuteWithRetries(context.Background(), func(ctx context.Context) (*http.Response, error) {
		return nil, errors.New("dial tcp: no such host")
	}, 0)
	require.ErrorIs(t, err, ErrTransport)
	require.Equal(t, before, executor.Snapshot().Secondary.Count)
}

func TestExecutorNilResponseIsTransportFailure(t *testing.T) {
	clock := newFakeClock()
	executor := newTestExecutor(clock)

	_, err := executor.ExecuteWithRetries(context.Background(), func(ctx context.Context) (*http.Response, error) {
		return nil, nil
	}, 0)
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, ErrNilResponse)
	require.Equal(t, 0, executor.Snapshot().Secondary.Count)
}

func TestExecutorPacing(t *testing.T) {
	clock := newFakeClock()
	backoff := DefaultBackoff()
	executor := NewExecutor(Options{
		Clock:   clock.Now,
		Sleep:   clock.Sleep,
		Backoff: &backoff,
		Pacing:  true,
	})

	for i := 0; i < 3; i++ {
		_, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
			return response(http.StatusOK, nil), nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, []time.Duration{PacingInterval, PacingInterval}, clock.Sleeps())
}

func TestExecutorRequiresRequestFunc(t *testing.T) {
	executor := newTestExecutor(newFakeClock())
	_, err := executor.Execute(context.Background(), nil)
	require.Error(t, err)
}

func TestExecutorSerializesCallersInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	executor := newTestExecutor(newFakeClock())

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(event string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	}

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	secondStarted := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		attempts := 0
		_, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
			attempts++
			record("A:start")
			if attempts == 1 {
				close(firstStarted)
				<-releaseFirst
				record("A:end")
				return response(http.StatusServiceUnavailable, nil), nil
			}
			record("A:end")
			return response(http.StatusOK, nil), nil
		})
		assert.NoError(t, err)
	}()

	<-firstStarted

	go func() {
		defer wg.Done()
		_, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
			record("B:start")
			close(secondStarted)
			return response(http.StatusOK, nil), nil
		})
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		return executor.Snapshot().QueueDepth == 2
	}, time.Second, time.Millisecond)
	require.Never(t, func() bool {
		select {
		case <-secondStarted:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(releaseFirst)
	wg.Wait()

	require.Equal(t, []string{"A:start", "A:end", "A:start", "A:end", "B:start"}, events)
	require.Equal(t, int64(0), executor.Snapshot().QueueDepth)
}

func TestExecutorQueueIsFIFO(t *testing.T) {
	defer goleak.VerifyNone(t)

	executor := newTestExecutor(newFakeClock())

	var (
		mu    sync.Mutex
		order []int
	)

	holdStarted := make(chan struct{})
	releaseHold := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
			close(holdStarted)
			<-releaseHold
			return response(http.StatusOK, nil), nil
		})
		assert.NoError(t, err)
	}()
	<-holdStarted

	const callers = 6
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return response(http.StatusOK, nil), nil
			})
			assert.NoError(t, err)
		}(i)

		// Enqueue the next caller only once this one holds its place.
		want := int64(i + 2)
		require.Eventually(t, func() bool {
			return executor.Snapshot().QueueDepth == want
		}, time.Second, time.Millisecond)
	}

	close(releaseHold)
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
}

func TestExecutorCancelledWhileQueued(t *testing.T) {
	defer goleak.VerifyNone(t)

	executor := newTestExecutor(newFakeClock())

	holdStarted := make(chan struct{})
	releaseHold := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
			close(holdStarted)
			<-releaseHold
			return response(http.StatusOK, nil), nil
		})
		assert.NoError(t, err)
	}()
	<-holdStarted

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := executor.Execute(ctx, func(ctx context.Context) (*http.Response, error) {
			return response(http.StatusOK, nil), nil
		})
		cancelled <- err
	}()
	require.Eventually(t, func() bool {
		return executor.Snapshot().QueueDepth == 2
	}, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-cancelled, context.Canceled)

	close(releaseHold)
	wg.Wait()

	calls := 0
	_, err := executor.Execute(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		return response(http.StatusOK, nil), nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Eventually(t, func() bool {
		return executor.Snapshot().QueueDepth == 0
	}, time.Second, time.Millisecond)
}

func TestExecutorContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executor := NewExecutor(Options{
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})

	calls := 0
	_, err := executor.Execute(ctx, func(ctx context.Context) (*http.Response, error) {
		calls++
		return response(http.StatusInternalServerError, nil), nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestRetryAfterParsing(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		value string
		want  time.Duration
		ok    bool
	}{
		{name: "Seconds", value: "5", want: 5 * time.Second, ok: true},
		{name: "Zero", value: "0", want: 0, ok: true},
		{name: "Fractional", value: "1.5", ok: false},
		{name: "DurationSuffix", value: "5m", ok: false},
		{name: "Padded", value: " 7 ", want: 7 * time.Second, ok: true},
		{name: "Negative", value: "-3", ok: false},
		{name: "Garbage", value: "later", ok: false},
		{name: "Missing", value: "", ok: false},
		{name: "HTTPDate", value: now.Add(time.Minute).Format(http.TimeFormat), want: time.Minute, ok: true},
		{name: "HTTPDatePast", value: now.Add(-time.Minute).Format(http.TimeFormat), want: 0, ok: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			if tc.value != "" {
				header.Set(core.HeaderRetryAfter, tc.value)
			}
			got, ok := retryAfter(header, now)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}
