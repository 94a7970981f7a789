package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffRetryPolicyOnlyRetriesTransient(t *testing.T) {
	t.Parallel()

	p := NewFixedRetryPolicy(3, 10*time.Millisecond)
	transient := &FetchError{Kind: FetchTransient, URL: "https://example.com", Err: errors.New("503")}
	permanent := &FetchError{Kind: FetchPermanent, URL: "https://example.com", StatusCode: 404, Err: errors.New("404")}

	require.True(t, p.ShouldRetry(transient, 1))
	require.True(t, p.ShouldRetry(transient, 2))
	require.False(t, p.ShouldRetry(transient, 3), "attempts exhausted")
	require.False(t, p.ShouldRetry(permanent, 1))
	require.False(t, p.ShouldRetry(nil, 1))

	canceled := &FetchError{Kind: FetchTransient, Err: context.Canceled}
	require.False(t, p.ShouldRetry(canceled, 1))
}

func TestBackoffRetryPolicyDelays(t *testing.T) {
	t.Parallel()

	fixed := NewFixedRetryPolicy(5, 2*time.Second)
	require.Equal(t, 2*time.Second, fixed.Backoff(1))
	require.Equal(t, 2*time.Second, fixed.Backoff(4))

	growing := &BackoffRetryPolicy{Attempts: 5, Base: time.Second, Multiplier: 2, Max: 3 * time.Second}
	require.Equal(t, time.Second, growing.Backoff(1))
	require.Equal(t, 2*time.Second, growing.Backoff(2))
	require.Equal(t, 3*time.Second, growing.Backoff(3))

	require.Equal(t, 1, (&BackoffRetryPolicy{}).MaxAttempts())
}

func TestFetchErrorHelpers(t *testing.T) {
	t.Parallel()

	err := &FetchError{Kind: FetchPermanent, URL: "u", StatusCode: 404, Attempts: 1, Err: errors.New("not found")}
	wrapped := errors.Join(errors.New("listing page 3"), err)

	require.True(t, IsPermanent(wrapped))
	require.False(t, IsTransient(wrapped))
	require.Equal(t, 404, StatusCode(wrapped))
	require.Contains(t, err.Error(), "status 404")

	pe := &PersistenceError{Op: "load", Backend: "file", Err: errors.New("boom")}
	require.True(t, IsPersistence(pe))
	require.EqualError(t, pe, "snapshot load (file): boom")
}
