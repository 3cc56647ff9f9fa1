package vantage

import (
	"errors"
	"fmt"
)

// Failure kinds callers branch on. Everything the portal can do wrong
// maps to exactly one of these.
var (
	// the portal refused the credentials or too many challenge
	// resolutions failed. sticky until an operator resets the session.
	ErrAuthenticationRejected = errors.New("authentication rejected by portal")
	// no automated resolver exists for this challenge (ip block, geo
	// verification). sticky until an operator resets the session.
	ErrManualInterventionRequired = errors.New("manual intervention required")
	// no challenge resolution arrived before the wait budget ran out.
	ErrChallengeTimeout  = errors.New("challenge resolution timed out")
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrInvalidResolution = errors.New("challenge resolution value is invalid")
	// the portal dropped the session mid-flight (expired cookie,
	// forced logout). worth one transparent re-login.
	ErrSessionInvalidated = errors.New("session invalidated by portal")
)

// TransientError wraps network or navigation hiccups that are worth
// retrying. Anything not wrapped in it bypasses retry.
type TransientError struct {
	Op    string
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s failure: %s", e.Op, e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

func Transient(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &TransientError{Op: op, Cause: cause}
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// ExtractionIncompleteError reports that the mandatory account
// indicator could not be resolved for the queried identifier; the
// rest of the page is useless without it.
type ExtractionIncompleteError struct {
	MissingField    string
	StrategiesTried int
	// Reason is set when the field resolved but to something
	// unusable, like a different account's page.
	Reason string
}

func (e *ExtractionIncompleteError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("extraction incomplete: mandatory field %q: %s", e.MissingField, e.Reason)
	}
	return fmt.Sprintf(
		"extraction incomplete: mandatory field %q unresolved after %d strategies",
		e.MissingField, e.StrategiesTried,
	)
}
