package core

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimitStateDefaults(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	state := NewRateLimitState(now)

	require.Equal(t, DefaultPrimaryLimit, state.Remaining)
	require.Equal(t, DefaultPrimaryLimit, state.Limit)
	require.Equal(t, 0, state.Used)
	require.Equal(t, now.Add(time.Minute), state.ResetAt)
	require.False(t, state.Exhausted(now))
}

func TestRateLimitStateUpdate(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	state := NewRateLimitState(now)

	header := http.Header{}
	header.Set(HeaderRateLimitRemaining, "4990")
	header.Set(HeaderRateLimitLimit, "5000")
	header.Set(HeaderRateLimitUsed, "10")
	header.Set(HeaderRateLimitReset, "1735693200")
	state.Update(header)

	require.Equal(t, 4990, state.Remaining)
	require.Equal(t, 5000, state.Limit)
	require.Equal(t, 10, state.Used)
	require.Equal(t, time.Unix(1735693200, 0).UTC(), state.ResetAt)
}

func TestRateLimitStateUpdateKeepsPriorValues(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	state := &RateLimitState{Remaining: 12, Limit: 5000, Used: 4988, ResetAt: now}

	t.Run("Absent", func(t *testing.T) {
		header := http.Header{}
		header.Set(HeaderRateLimitRemaining, "11")
		state.Update(header)

		require.Equal(t, 11, state.Remaining)
		require.Equal(t, 5000, state.Limit)
		require.Equal(t, 4988, state.Used)
		require.Equal(t, now, state.ResetAt)
	})

	t.Run("Malformed", func(t *testing.T) {
		header := http.Header{}
		header.Set(HeaderRateLimitRemaining, "lots")
		header.Set(HeaderRateLimitLimit, "5k")
		header.Set(HeaderRateLimitUsed, "")
		header.Set(HeaderRateLimitReset, "tomorrow")
		state.Update(header)

		require.Equal(t, 11, state.Remaining)
		require.Equal(t, 5000, state.Limit)
		require.Equal(t, 4988, state.Used)
		require.Equal(t, now, state.ResetAt)
	})

	t.Run("NegativeRemaining", func(t *testing.T) {
		header := http.Header{}
		header.Set(HeaderRateLimitRemaining, "-1")
		state.Update(header)
		require.Equal(t, 11, state.Remaining)
	})

	t.Run("NilHeader", func(t *testing.T) {
		state.Update(nil)
		require.Equal(t, 11, state.Remaining)
	})
}

func TestRateLimitStateExhausted(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	state := &RateLimitState{Remaining: 0, ResetAt: now.Add(time.Minute)}

	require.True(t, state.Exhausted(now))
	require.True(t, state.Exhausted(now.Add(59*time.Second)))
	require.False(t, state.Exhausted(now.Add(time.Minute)))

	state.Remaining = 1
	require.False(t, state.Exhausted(now))
}

func TestSecondaryWindow(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	window := NewSecondaryWindow(start)

	for i := 0; i < SecondaryWindowLimit; i++ {
		require.True(t, window.Admit(start), "request %d", i)
		window.RecordAttempt()
	}
	require.False(t, window.Admit(start.Add(30*time.Second)))
	require.Equal(t, start.Add(time.Minute), window.WindowEnd())

	require.True(t, window.Admit(start.Add(time.Minute)))
	require.Equal(t, 0, window.Count)
	require.Equal(t, start.Add(time.Minute), window.WindowStart)
}

func TestSecondaryWindowFailureFloor(t *testing.T) {
	window := NewSecondaryWindow(time.Now())

	window.RecordFailureBeforeCompletion()
	require.Equal(t, 0, window.Count)

	window.RecordAttempt()
	window.RecordAttempt()
	window.RecordFailureBeforeCompletion()
	require.Equal(t, 1, window.Count)
}
