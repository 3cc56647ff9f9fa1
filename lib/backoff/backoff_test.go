package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     400 * time.Millisecond,
	}

	require.Equal(t, 100*time.Millisecond, p.Delay(0))
	require.Equal(t, 200*time.Millisecond, p.Delay(1))
	require.Equal(t, 400*time.Millisecond, p.Delay(2))
	require.Equal(t, 400*time.Millisecond, p.Delay(10))
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		JitterRatio:  0.2,
	}

	for i := 0; i < 200; i++ {
		d := p.Delay(0)
		require.GreaterOrEqual(t, d, 80*time.Millisecond)
		require.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func testPolicy(attempts int) Policy {
	return Policy{
		Class:        ClassNavigation,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		MaxAttempts:  attempts,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), testPolicy(4), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryExhaustionKeepsLastCause(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), testPolicy(3), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("attempt %d failed", calls)
	})
	require.Equal(t, 3, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, ClassNavigation, exhausted.Class)
	require.Equal(t, 3, exhausted.Attempts)
	require.EqualError(t, exhausted.Cause, "attempt 3 failed")
}

func TestRetryPermanentBypassesBudget(t *testing.T) {
	rejected := errors.New("authentication rejected")
	calls := 0
	err := Retry(context.Background(), testPolicy(5), func(ctx context.Context) error {
		calls++
		return Permanent(rejected)
	})
	require.Equal(t, 1, calls)
	require.ErrorIs(t, err, rejected)

	var exhausted *ExhaustedError
	require.False(t, errors.As(err, &exhausted))
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{
		Class:        ClassLogin,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		MaxAttempts:  5,
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, p, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestRetryAttemptTimeout(t *testing.T) {
	p := Policy{
		Class:          ClassNavigation,
		InitialDelay:   time.Millisecond,
		MaxDelay:       time.Millisecond,
		MaxAttempts:    2,
		AttemptTimeout: 5 * time.Millisecond,
	}
	err := Retry(context.Background(), p, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.ErrorIs(t, exhausted.Cause, context.DeadlineExceeded)
}
