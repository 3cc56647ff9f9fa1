package statusquery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"statuswatch-backend/lib/backoff"
	"statuswatch-backend/lib/scrapers/vantage"
	"statuswatch-backend/lib/sqliteutil"
	"statuswatch-backend/lib/testutil"
	"statuswatch-backend/lib/timezone"
	"statuswatch-backend/services/statusquery/db"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// stubRunner scripts query outcomes so the dispatcher can be tested
// without a portal. A blocked runner holds the worker exactly like a
// slow portal does.
type stubRunner struct {
	mu        sync.Mutex
	calls     []string
	errs      map[string]error
	block     chan struct{}
	ignoreCtx bool
}

func (r *stubRunner) RunQuery(ctx context.Context, identifier string) (*vantage.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, identifier)
	block := r.block
	ignoreCtx := r.ignoreCtx
	var err error
	if r.errs != nil {
		err = r.errs[identifier]
	}
	r.mu.Unlock()

	if block != nil {
		if ignoreCtx {
			<-block
		} else {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return &vantage.Result{
		Identifier: identifier,
		Found:      true,
		Consistent: true,
		Fields: map[string]vantage.FieldValue{
			"found": {Value: "true", Confidence: vantage.ConfidenceHigh, Consistent: true},
		},
	}, nil
}

func (r *stubRunner) callOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.calls...)
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []Query
}

func (s *sinkRecorder) QueryUpdated(q Query) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, q)
}

func (s *sinkRecorder) statuses(id string) []QueryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []QueryStatus
	for _, q := range s.events {
		if q.Id == id {
			out = append(out, q.Status)
		}
	}
	return out
}

func setupService(t testing.TB, runner Runner, opts Options) *Service {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/statusquery",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewService(ctx, res.DB, runner, opts)
}

func awaitTerminal(t *testing.T, svc *Service, id string) Query {
	t.Helper()
	var q Query
	require.Eventually(t, func() bool {
		got, err := svc.Poll(context.Background(), id)
		if err != nil {
			return false
		}
		q = got
		return q.Terminal()
	}, 5*time.Second, 2*time.Millisecond)
	return q
}

func awaitInFlight(t *testing.T, svc *Service, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		q, err := svc.Poll(context.Background(), id)
		return err == nil && q.Status == StatusInFlight
	}, 5*time.Second, 2*time.Millisecond)
}

func TestSubmitRejectsInvalidIdentifiers(t *testing.T) {
	runner := &stubRunner{}
	svc := setupService(t, runner, Options{})

	ctx := context.Background()
	for _, bad := range []string{
		"",
		"   ",
		strings.Repeat("x", maxIdentifierLength+1),
		"user\x00123",
		"user\t123",
	} {
		_, err := svc.Submit(ctx, bad)
		var invalid *InputInvalidError
		require.ErrorAs(t, err, &invalid, "identifier %q", bad)
	}

	// none of the rejects reached the runner or the audit trail
	require.Empty(t, runner.callOrder())
	history, err := svc.History(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, history)

	// a valid identifier is trimmed and goes through
	q, err := svc.Submit(ctx, "  user123  ")
	require.NoError(t, err)
	require.Equal(t, "user123", q.Identifier)
	done := awaitTerminal(t, svc, q.Id)
	require.Equal(t, StatusSucceeded, done.Status)
	require.True(t, done.Result.Found)
}

func TestQueriesRunInArrivalOrder(t *testing.T) {
	block := make(chan struct{})
	runner := &stubRunner{block: block}
	sink := &sinkRecorder{}
	svc := setupService(t, runner, Options{Sink: sink})

	ctx := context.Background()
	first, err := svc.Submit(ctx, "alpha")
	require.NoError(t, err)
	second, err := svc.Submit(ctx, "bravo")
	require.NoError(t, err)
	third, err := svc.Submit(ctx, "charlie")
	require.NoError(t, err)

	close(block)
	for _, id := range []string{first.Id, second.Id, third.Id} {
		q := awaitTerminal(t, svc, id)
		require.Equal(t, StatusSucceeded, q.Status)
	}

	require.Equal(t, []string{"alpha", "bravo", "charlie"}, runner.callOrder())
	for _, id := range []string{first.Id, second.Id, third.Id} {
		require.Equal(t,
			[]QueryStatus{StatusQueued, StatusInFlight, StatusSucceeded},
			sink.statuses(id),
		)
	}
}

func TestDeadlineElapsedInQueue(t *testing.T) {
	block := make(chan struct{})
	runner := &stubRunner{block: block, ignoreCtx: true}
	svc := setupService(t, runner, Options{RequestTimeout: 50 * time.Millisecond})

	ctx := context.Background()
	first, err := svc.Submit(ctx, "alpha")
	require.NoError(t, err)
	awaitInFlight(t, svc, first.Id)

	second, err := svc.Submit(ctx, "bravo")
	require.NoError(t, err)

	// hold the worker well past bravo's deadline
	time.Sleep(150 * time.Millisecond)
	close(block)

	q := awaitTerminal(t, svc, second.Id)
	require.Equal(t, StatusFailed, q.Status)
	require.Equal(t, FailureTimeout, q.Failure)
	require.Equal(t, "deadline elapsed while queued", q.Cause)
	require.True(t, q.StartedAt.IsZero())
	require.Zero(t, q.Attempts)

	// alpha still terminates; nothing is dropped
	require.True(t, awaitTerminal(t, svc, first.Id).Terminal())
	require.Equal(t, []string{"alpha"}, runner.callOrder())
}

func TestPollExpiresQueuedPastDeadline(t *testing.T) {
	block := make(chan struct{})
	runner := &stubRunner{block: block, ignoreCtx: true}
	svc := setupService(t, runner, Options{RequestTimeout: 50 * time.Millisecond})

	ctx := context.Background()
	first, err := svc.Submit(ctx, "alpha")
	require.NoError(t, err)
	awaitInFlight(t, svc, first.Id)

	second, err := svc.Submit(ctx, "bravo")
	require.NoError(t, err)

	// alpha still holds the worker, but polling bravo past its
	// deadline must not report it queued.
	time.Sleep(60 * time.Millisecond)
	q, err := svc.Poll(ctx, second.Id)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, q.Status)
	require.Equal(t, FailureTimeout, q.Failure)
	require.Equal(t, "deadline elapsed while queued", q.Cause)

	close(block)
	require.True(t, awaitTerminal(t, svc, first.Id).Terminal())
	require.Equal(t, []string{"alpha"}, runner.callOrder())
}

func TestCancelAfterDeadlineReportsTimeout(t *testing.T) {
	block := make(chan struct{})
	runner := &stubRunner{block: block, ignoreCtx: true}
	svc := setupService(t, runner, Options{RequestTimeout: 50 * time.Millisecond})

	ctx := context.Background()
	first, err := svc.Submit(ctx, "alpha")
	require.NoError(t, err)
	awaitInFlight(t, svc, first.Id)

	second, err := svc.Submit(ctx, "bravo")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	q, err := svc.Cancel(ctx, second.Id)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, q.Status)
	require.Equal(t, FailureTimeout, q.Failure)
	require.Equal(t, "deadline elapsed while queued", q.Cause)

	close(block)
	require.Equal(t, []string{"alpha"}, runner.callOrder())
}

func TestCancelQueuedIsImmediate(t *testing.T) {
	block := make(chan struct{})
	runner := &stubRunner{block: block}
	svc := setupService(t, runner, Options{})

	ctx := context.Background()
	first, err := svc.Submit(ctx, "alpha")
	require.NoError(t, err)
	awaitInFlight(t, svc, first.Id)

	second, err := svc.Submit(ctx, "bravo")
	require.NoError(t, err)

	canceled, err := svc.Cancel(ctx, second.Id)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, canceled.Status)
	require.Equal(t, FailureCanceled, canceled.Failure)
	require.Equal(t, "canceled before execution", canceled.Cause)

	close(block)
	require.Equal(t, StatusSucceeded, awaitTerminal(t, svc, first.Id).Status)

	// bravo never reached the runner
	require.Equal(t, []string{"alpha"}, runner.callOrder())
}

func TestCancelInFlightDiscardsResult(t *testing.T) {
	block := make(chan struct{})
	runner := &stubRunner{block: block}
	svc := setupService(t, runner, Options{})

	ctx := context.Background()
	q, err := svc.Submit(ctx, "alpha")
	require.NoError(t, err)
	awaitInFlight(t, svc, q.Id)

	snapshot, err := svc.Cancel(ctx, q.Id)
	require.NoError(t, err)
	require.Equal(t, StatusInFlight, snapshot.Status)

	// the current step completes, then the result is discarded
	close(block)
	done := awaitTerminal(t, svc, q.Id)
	require.Equal(t, StatusFailed, done.Status)
	require.Equal(t, FailureCanceled, done.Failure)
	require.Nil(t, done.Result)
}

func TestCancelUnknownAndTerminal(t *testing.T) {
	runner := &stubRunner{}
	svc := setupService(t, runner, Options{})

	ctx := context.Background()
	_, err := svc.Poll(ctx, "nope")
	require.ErrorIs(t, err, ErrQueryNotFound)
	_, err = svc.Cancel(ctx, "nope")
	require.ErrorIs(t, err, ErrQueryNotFound)

	q, err := svc.Submit(ctx, "alpha")
	require.NoError(t, err)
	done := awaitTerminal(t, svc, q.Id)
	require.Equal(t, StatusSucceeded, done.Status)

	// canceling a terminal query changes nothing
	after, err := svc.Cancel(ctx, q.Id)
	require.NoError(t, err)
	require.Equal(t, done, after)

	again, err := svc.Poll(ctx, q.Id)
	require.NoError(t, err)
	require.Equal(t, done, again)
}

func TestQueueCapacity(t *testing.T) {
	block := make(chan struct{})
	runner := &stubRunner{block: block}
	svc := setupService(t, runner, Options{QueueCapacity: 1})

	ctx := context.Background()
	first, err := svc.Submit(ctx, "alpha")
	require.NoError(t, err)
	awaitInFlight(t, svc, first.Id)

	_, err = svc.Submit(ctx, "bravo")
	require.NoError(t, err)

	_, err = svc.Submit(ctx, "charlie")
	require.ErrorIs(t, err, ErrQueueFull)

	close(block)
}

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		err  error
		want FailureKind
	}{
		{vantage.ErrAuthenticationRejected, FailureAuthRejected},
		{vantage.ErrManualInterventionRequired, FailureManualIntervention},
		{vantage.ErrChallengeTimeout, FailureChallengeTimeout},
		{&vantage.ExtractionIncompleteError{MissingField: "found"}, FailureExtractionIncomplete},
		{vantage.Transient("fetch account page", errors.New("connection refused")), FailureTransient},
		{
			&backoff.ExhaustedError{
				Class:    backoff.ClassLogin,
				Attempts: 3,
				Cause:    vantage.Transient("login", errors.New("503")),
			},
			FailureTransient,
		},
		{context.DeadlineExceeded, FailureTimeout},
		{context.Canceled, FailureCanceled},
		{errors.New("unexplained"), FailureTransient},
	}
	for _, c := range cases {
		require.Equal(t, c.want, classifyFailure(c.err), "error %v", c.err)
	}
}

func TestHistoryRecordsOutcomes(t *testing.T) {
	runner := &stubRunner{errs: map[string]error{
		"ghost": vantage.Transient("fetch account page", errors.New("connection reset")),
	}}
	svc := setupService(t, runner, Options{RetainCount: 2})

	ctx := context.Background()
	failed, err := svc.Submit(ctx, "ghost")
	require.NoError(t, err)
	done := awaitTerminal(t, svc, failed.Id)
	require.Equal(t, StatusFailed, done.Status)
	require.Equal(t, FailureTransient, done.Failure)

	history, err := svc.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, failed.Id, history[0].Id)
	require.Equal(t, StatusFailed, history[0].Status)
	require.Equal(t, FailureTransient, history[0].Failure)
	require.False(t, history[0].Found)

	for _, identifier := range []string{"one", "two", "three"} {
		q, err := svc.Submit(ctx, identifier)
		require.NoError(t, err)
		awaitTerminal(t, svc, q.Id)
	}

	svc.trimAudit(ctx)

	history, err = svc.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestTrimAuditByAge(t *testing.T) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/statusquery",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	// no daemons; trimAudit only needs the queries and the options
	svc := &Service{
		db:   res.DB,
		qry:  db.New(res.DB),
		opts: Options{RetainAge: time.Hour}.withDefaults(),
	}

	ctx := context.Background()
	rows := []db.RecordQueryParams{
		{
			ID:          "stale",
			Identifier:  "stale",
			Status:      string(StatusSucceeded),
			SubmittedAt: timezone.Now().Add(-3 * time.Hour).Unix(),
			FinishedAt:  timezone.Now().Add(-2 * time.Hour).Unix(),
		},
		{
			ID:          "fresh",
			Identifier:  "fresh",
			Status:      string(StatusSucceeded),
			SubmittedAt: timezone.Now().Unix(),
			FinishedAt:  timezone.Now().Unix(),
		},
	}
	for _, row := range rows {
		require.NoError(t, svc.qry.RecordQuery(ctx, row))
	}

	svc.trimAudit(ctx)

	history, err := svc.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "fresh", history[0].Id)
}

func TestWorkerShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	database, err := sqliteutil.OpenDB(db.Schema, ":memory:")
	require.NoError(t, err)
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	runner := &stubRunner{}
	svc := NewService(ctx, database, runner, Options{RetainAge: 0})

	q, err := svc.Submit(ctx, "alpha")
	require.NoError(t, err)
	awaitTerminal(t, svc, q.Id)

	cancel()
}
