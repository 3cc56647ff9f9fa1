package statusquery

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"statuswatch-backend/lib/telemetry"
	"statuswatch-backend/lib/timezone"
	"statuswatch-backend/services/notify"
	"statuswatch-backend/services/statusquery/db"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("statuswatch.services.statusquery")

type Options struct {
	// QueueCapacity caps how many queries may wait. Past it, Submit
	// fails fast with ErrQueueFull instead of growing the backlog.
	QueueCapacity int
	// RequestTimeout is the end to end budget for one query, queue
	// wait included. A query whose deadline elapses before the worker
	// reaches it still terminates as failed, never silently.
	RequestTimeout time.Duration
	// RetainCount and RetainAge bound the in memory cache of terminal
	// queries. The audit table is trimmed to the same bounds.
	RetainCount int
	RetainAge   time.Duration

	Notifier notify.Notifier
	// Sink, when set, observes every query transition.
	Sink Sink
}

func (o Options) withDefaults() Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 64
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 2 * time.Minute
	}
	if o.RetainCount <= 0 {
		o.RetainCount = 256
	}
	if o.Notifier == nil {
		o.Notifier = notify.LogNotifier{}
	}
	return o
}

type record struct {
	q Query
	// canceled while in flight; the result is discarded when the
	// current portal step completes.
	canceled bool
}

// Service queues account queries and plays them against the portal one
// at a time, in arrival order. Terminal queries stay pollable from an
// in memory cache and are recorded in the audit table.
type Service struct {
	runner Runner
	db     *sql.DB
	qry    *db.Queries
	opts   Options

	mu      sync.Mutex
	queue   []*record
	pending map[string]*record

	retained *expirable.LRU[string, Query]
	wake     chan struct{}
}

func NewService(ctx context.Context, database *sql.DB, runner Runner, options Options) *Service {
	options = options.withDefaults()
	s := &Service{
		runner:   runner,
		db:       database,
		qry:      db.New(database),
		opts:     options,
		pending:  make(map[string]*record),
		retained: expirable.NewLRU[string, Query](options.RetainCount, nil, options.RetainAge),
		wake:     make(chan struct{}, 1),
	}

	go s.runWorker(ctx)
	go s.retentionDaemon(ctx)

	return s
}

// Submit validates the identifier and queues it. Nothing portal
// facing happens here; the returned query is polled or observed
// through the sink.
func (s *Service) Submit(ctx context.Context, identifier string) (Query, error) {
	ctx, span := tracer.Start(ctx, "Submit")
	defer span.End()

	cleaned, err := ValidateIdentifier(identifier)
	if err != nil {
		span.SetStatus(codes.Error, "identifier rejected")
		return Query{}, err
	}
	span.SetAttributes(attribute.String("identifier", cleaned))

	now := timezone.Now()
	rec := &record{q: Query{
		Id:          uuid.NewString(),
		Identifier:  cleaned,
		Status:      StatusQueued,
		SubmittedAt: now,
		Deadline:    now.Add(s.opts.RequestTimeout),
	}}

	s.mu.Lock()
	if len(s.queue) >= s.opts.QueueCapacity {
		s.mu.Unlock()
		span.SetStatus(codes.Error, "queue full")
		return Query{}, ErrQueueFull
	}
	s.queue = append(s.queue, rec)
	s.pending[rec.q.Id] = rec
	q := rec.q
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	slog.InfoContext(ctx, "queued query", "query_id", q.Id, "identifier", q.Identifier)
	s.publish(q)
	return q, nil
}

func (s *Service) Poll(ctx context.Context, id string) (Query, error) {
	ctx, span := tracer.Start(ctx, "Poll", trace.WithAttributes(
		attribute.String("query_id", id),
	))
	defer span.End()

	s.mu.Lock()
	if rec, ok := s.pending[id]; ok {
		// expire lazily so a caller never observes a live status past
		// the deadline while the worker is held elsewhere.
		if rec.q.Status == StatusQueued && timezone.Now().After(rec.q.Deadline) {
			q := s.completeLocked(rec, timedOutQueued)
			s.mu.Unlock()
			s.sealed(ctx, q)
			return q, nil
		}
		q := rec.q
		s.mu.Unlock()
		return q, nil
	}
	s.mu.Unlock()

	if q, ok := s.retained.Get(id); ok {
		return q, nil
	}
	span.SetStatus(codes.Error, "not found")
	return Query{}, ErrQueryNotFound
}

// Cancel stops a query. Queued queries terminate immediately; an in
// flight query finishes its current portal step first and its result
// is discarded. Canceling a terminal query is a no-op.
func (s *Service) Cancel(ctx context.Context, id string) (Query, error) {
	ctx, span := tracer.Start(ctx, "Cancel", trace.WithAttributes(
		attribute.String("query_id", id),
	))
	defer span.End()

	s.mu.Lock()
	rec, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		if q, ok := s.retained.Get(id); ok {
			return q, nil
		}
		span.SetStatus(codes.Error, "not found")
		return Query{}, ErrQueryNotFound
	}

	if rec.q.Status == StatusQueued {
		// already past its deadline: it timed out, the cancel is moot.
		mutate := timedOutQueued
		if !timezone.Now().After(rec.q.Deadline) {
			mutate = func(q *Query) {
				q.Status = StatusFailed
				q.Failure = FailureCanceled
				q.Cause = "canceled before execution"
			}
		}
		q := s.completeLocked(rec, mutate)
		s.mu.Unlock()
		s.sealed(ctx, q)
		return q, nil
	}

	rec.canceled = true
	q := rec.q
	s.mu.Unlock()
	slog.InfoContext(ctx, "canceling in flight query", "query_id", id)
	return q, nil
}

func (s *Service) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	ctx, span := tracer.Start(ctx, "History")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.qry.GetHistory(ctx, int64(limit))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query audit table")
		return nil, err
	}
	entries := make([]HistoryEntry, len(rows))
	for i, row := range rows {
		entries[i] = HistoryEntry{
			Id:          row.ID,
			Identifier:  row.Identifier,
			Status:      QueryStatus(row.Status),
			Failure:     FailureKind(row.FailureKind),
			Cause:       row.Cause,
			Found:       row.Found != 0,
			Consistent:  row.Consistent != 0,
			Attempts:    int(row.Attempts),
			SubmittedAt: time.Unix(row.SubmittedAt, 0),
			FinishedAt:  time.Unix(row.FinishedAt, 0),
		}
	}
	return entries, nil
}

// timedOutQueued marks a query whose deadline passed before the worker
// reached it.
func timedOutQueued(q *Query) {
	q.Status = StatusFailed
	q.Failure = FailureTimeout
	q.Cause = "deadline elapsed while queued"
}

// completeLocked makes the record terminal. Caller holds s.mu; the
// returned copy is what sealed() persists and publishes.
func (s *Service) completeLocked(rec *record, mutate func(*Query)) Query {
	mutate(&rec.q)
	rec.q.FinishedAt = timezone.Now()
	delete(s.pending, rec.q.Id)
	return rec.q
}

// sealed runs the after-the-lock side of completion: retention cache,
// audit row, operator alerts and the sink.
func (s *Service) sealed(ctx context.Context, q Query) {
	s.retained.Add(q.Id, q)

	found, consistent := int64(0), int64(0)
	if q.Result != nil {
		if q.Result.Found {
			found = 1
		}
		if q.Result.Consistent {
			consistent = 1
		}
	}
	err := s.qry.RecordQuery(ctx, db.RecordQueryParams{
		ID:          q.Id,
		Identifier:  q.Identifier,
		Status:      string(q.Status),
		FailureKind: string(q.Failure),
		Cause:       q.Cause,
		Found:       found,
		Consistent:  consistent,
		Attempts:    int64(q.Attempts),
		SubmittedAt: q.SubmittedAt.Unix(),
		FinishedAt:  q.FinishedAt.Unix(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to record query audit row", "query_id", q.Id, "err", err)
	}

	switch q.Failure {
	case FailureAuthRejected, FailureManualIntervention:
		err := s.opts.Notifier.SessionFailed(ctx, q.Cause)
		if err != nil {
			slog.WarnContext(ctx, "failed to send session alert", "err", err)
		}
	}

	slog.InfoContext(
		ctx, "query finished",
		"query_id", q.Id,
		"status", q.Status,
		"failure", q.Failure,
	)
	s.publish(q)
}

func (s *Service) publish(q Query) {
	if s.opts.Sink != nil {
		s.opts.Sink.QueryUpdated(q)
	}
}

const retentionSweepInterval = 10 * time.Minute

func (s *Service) retentionDaemon(ctx context.Context) {
	slog.InfoContext(ctx, "start daemon", "task", "trim query audit every 10 minutes")

	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.trimAudit(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) trimAudit(ctx context.Context) {
	if s.opts.RetainAge > 0 {
		cutoff := timezone.Now().Add(-s.opts.RetainAge).Unix()
		err := s.qry.DeleteAuditBefore(ctx, cutoff)
		if err != nil {
			slog.WarnContext(ctx, "failed to delete old audit rows", "err", err)
		}
	}
	err := s.qry.TrimAuditToCount(ctx, int64(s.opts.RetainCount))
	if err != nil {
		slog.WarnContext(ctx, "failed to trim audit rows", "err", err)
	}
}
