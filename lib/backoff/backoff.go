package backoff

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Class names one budget of retryable work. Budgets are separate
// because a failed login is much more expensive to repeat than a
// failed page load.
type Class string

const (
	ClassNavigation    Class = "navigation"
	ClassLogin         Class = "login"
	ClassChallengePoll Class = "challenge_poll"
)

type Policy struct {
	Class        Class
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxAttempts counts calls to the operation, not sleeps.
	MaxAttempts int
	// JitterRatio of 0.2 spreads each delay uniformly by ±20%.
	JitterRatio float64
	// AttemptTimeout bounds a single call to the operation when > 0.
	AttemptTimeout time.Duration
}

func NavigationPolicy() Policy {
	return Policy{
		Class:          ClassNavigation,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		MaxAttempts:    4,
		JitterRatio:    0.2,
		AttemptTimeout: 30 * time.Second,
	}
}

func LoginPolicy() Policy {
	return Policy{
		Class:          ClassLogin,
		InitialDelay:   2 * time.Second,
		MaxDelay:       30 * time.Second,
		MaxAttempts:    3,
		JitterRatio:    0.2,
		AttemptTimeout: 45 * time.Second,
	}
}

func ChallengePollPolicy() Policy {
	return Policy{
		Class:        ClassChallengePoll,
		InitialDelay: 2 * time.Second,
		MaxDelay:     15 * time.Second,
		MaxAttempts:  40,
		JitterRatio:  0.2,
	}
}

// Delay is the pause taken after a failed attempt (0-indexed):
// InitialDelay * 2^attempt capped at MaxDelay, spread by JitterRatio.
func (p Policy) Delay(attempt int) time.Duration {
	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.JitterRatio > 0 {
		spread := float64(delay) * p.JitterRatio
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// ExhaustedError reports a budget that ran out. Cause is always the
// error from the final attempt.
type ExhaustedError struct {
	Class    Class
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s retries exhausted after %d attempts: %s", e.Class, e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

type permanentError struct {
	cause error
}

func (e *permanentError) Error() string {
	return e.cause.Error()
}

func (e *permanentError) Unwrap() error {
	return e.cause
}

// Permanent marks an error as not worth retrying; Retry returns its
// cause immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{cause: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry runs op until it succeeds, the budget runs out, the error is
// permanent, or ctx is done.
func Retry(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := op(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.cause
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &ExhaustedError{Class: p.Class, Attempts: attempts, Cause: lastErr}
}
