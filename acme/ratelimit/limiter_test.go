package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acmego/acmeclient/acme/problems"
)

func TestDoSucceedsImmediatelyOnNonRateLimitedResult(t *testing.T) {
	l := New(Config{})
	calls := 0

	res, err := l.Do(context.Background(), "new-order", func() (Result, error) {
		calls++
		return Result{StatusCode: 201}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 201, res.StatusCode)
	require.Equal(t, 1, calls)
}

func TestDoRetriesOn429ThenSucceeds(t *testing.T) {
	l := New(Config{Base: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	calls := 0

	res, err := l.Do(context.Background(), "new-order", func() (Result, error) {
		calls++
		if calls < 3 {
			return Result{StatusCode: 429}, nil
		}
		return Result{StatusCode: 200}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, 3, calls)
}

func TestDoExhaustsRetryBudget(t *testing.T) {
	l := New(Config{Base: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 2})

	_, err := l.Do(context.Background(), "new-order", func() (Result, error) {
		return Result{StatusCode: 503}, nil
	})
	require.Error(t, err)

	p, ok := err.(*problems.Problem)
	require.True(t, ok)
	require.Equal(t, problems.RateLimited.Kind, p.Kind)
}

func TestDoHonorsRetryAfter(t *testing.T) {
	l := New(Config{Base: time.Hour, MaxDelay: time.Hour})

	start := time.Now()
	calls := 0
	_, err := l.Do(context.Background(), "new-order", func() (Result, error) {
		calls++
		if calls == 1 {
			return Result{StatusCode: 429, RetryAfterOK: true, RetryAfterSeconds: 0}, nil
		}
		return Result{StatusCode: 200}, nil
	})
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestDoPropagatesAttemptError(t *testing.T) {
	l := New(Config{})
	sentinelErr := context.Canceled

	_, err := l.Do(context.Background(), "new-order", func() (Result, error) {
		return Result{}, sentinelErr
	})
	require.ErrorIs(t, err, sentinelErr)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	l := New(Config{Base: time.Hour, MaxDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := l.Do(ctx, "new-order", func() (Result, error) {
		calls++
		return Result{StatusCode: 429}, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
