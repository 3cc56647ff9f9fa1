package statusquery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"statuswatch-backend/lib/scrapers/vantage"
)

var (
	ErrQueryNotFound = errors.New("no query with that id")
	ErrQueueFull     = errors.New("query queue is full")
)

type QueryStatus string

const (
	StatusQueued    QueryStatus = "queued"
	StatusInFlight  QueryStatus = "in_flight"
	StatusSucceeded QueryStatus = "succeeded"
	StatusFailed    QueryStatus = "failed"
)

// FailureKind tells a caller what went wrong without making them parse
// the cause string.
type FailureKind string

const (
	FailureTransient            FailureKind = "transient"
	FailureAuthRejected         FailureKind = "authentication_rejected"
	FailureChallengeTimeout     FailureKind = "challenge_timeout"
	FailureManualIntervention   FailureKind = "manual_intervention_required"
	FailureExtractionIncomplete FailureKind = "extraction_incomplete"
	FailureTimeout              FailureKind = "timeout"
	FailureCanceled             FailureKind = "canceled"
)

// Query is the externally visible state of one submitted identifier.
// Poll hands out copies; once terminal they never change.
type Query struct {
	Id          string          `json:"id"`
	Identifier  string          `json:"identifier"`
	Status      QueryStatus     `json:"status"`
	Attempts    int             `json:"attempts"`
	SubmittedAt time.Time       `json:"submitted_at"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
	Deadline    time.Time       `json:"deadline"`
	Result      *vantage.Result `json:"result,omitempty"`
	Failure     FailureKind     `json:"failure,omitempty"`
	Cause       string          `json:"cause,omitempty"`
}

func (q Query) Terminal() bool {
	return q.Status == StatusSucceeded || q.Status == StatusFailed
}

// HistoryEntry is one terminal query as recorded in the audit table.
type HistoryEntry struct {
	Id          string      `json:"id"`
	Identifier  string      `json:"identifier"`
	Status      QueryStatus `json:"status"`
	Failure     FailureKind `json:"failure,omitempty"`
	Cause       string      `json:"cause,omitempty"`
	Found       bool        `json:"found"`
	Consistent  bool        `json:"consistent"`
	Attempts    int         `json:"attempts"`
	SubmittedAt time.Time   `json:"submitted_at"`
	FinishedAt  time.Time   `json:"finished_at"`
}

// Sink observes query lifecycle transitions. The worker calls it
// inline, so implementations must return quickly.
type Sink interface {
	QueryUpdated(q Query)
}

type SinkFunc func(Query)

func (f SinkFunc) QueryUpdated(q Query) { f(q) }

type InputInvalidError struct {
	Reason string
}

func (e *InputInvalidError) Error() string {
	return fmt.Sprintf("invalid identifier: %s", e.Reason)
}

const maxIdentifierLength = 128

// ValidateIdentifier cleans and checks an identifier before anything
// portal-facing sees it.
func ValidateIdentifier(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &InputInvalidError{Reason: "identifier is empty"}
	}
	if utf8.RuneCountInString(trimmed) > maxIdentifierLength {
		return "", &InputInvalidError{
			Reason: fmt.Sprintf("identifier is longer than %d characters", maxIdentifierLength),
		}
	}
	for _, r := range trimmed {
		if !unicode.IsPrint(r) {
			return "", &InputInvalidError{Reason: "identifier contains non printable characters"}
		}
	}
	return trimmed, nil
}

// classifyFailure folds an execution error into the failure taxonomy.
// Sentinels first, then the transient marker, then bare context errors
// from the request deadline.
func classifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, vantage.ErrManualInterventionRequired):
		return FailureManualIntervention
	case errors.Is(err, vantage.ErrAuthenticationRejected):
		return FailureAuthRejected
	case errors.Is(err, vantage.ErrChallengeTimeout):
		return FailureChallengeTimeout
	}
	var incomplete *vantage.ExtractionIncompleteError
	if errors.As(err, &incomplete) {
		return FailureExtractionIncomplete
	}
	if vantage.IsTransient(err) {
		return FailureTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}
	return FailureTransient
}
