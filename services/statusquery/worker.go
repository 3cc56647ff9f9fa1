package statusquery

import (
	"context"
	"log/slog"

	"statuswatch-backend/lib/timezone"
)

// runWorker drains the queue one query at a time, in arrival order.
// One worker per service; the portal session serializes everything
// anyway, so more workers would only reorder failures.
func (s *Service) runWorker(ctx context.Context) {
	slog.InfoContext(ctx, "start daemon", "task", "query worker")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rec := s.dequeue()
		if rec == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}
		s.run(ctx, rec)
	}
}

func (s *Service) dequeue() *record {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 {
		rec := s.queue[0]
		s.queue = s.queue[1:]
		// canceled while waiting; already terminal
		if rec.q.Status != StatusQueued {
			continue
		}
		return rec
	}
	return nil
}

func (s *Service) run(ctx context.Context, rec *record) {
	s.mu.Lock()
	if rec.q.Status != StatusQueued {
		s.mu.Unlock()
		return
	}
	if timezone.Now().After(rec.q.Deadline) {
		q := s.completeLocked(rec, timedOutQueued)
		s.mu.Unlock()
		s.sealed(ctx, q)
		return
	}
	rec.q.Status = StatusInFlight
	rec.q.StartedAt = timezone.Now()
	rec.q.Attempts++
	started := rec.q
	s.mu.Unlock()
	s.publish(started)

	runCtx, cancel := context.WithDeadline(ctx, started.Deadline)
	result, err := s.runner.RunQuery(runCtx, started.Identifier)
	cancel()

	s.mu.Lock()
	var q Query
	switch {
	case rec.canceled:
		q = s.completeLocked(rec, func(q *Query) {
			q.Status = StatusFailed
			q.Failure = FailureCanceled
			q.Cause = "canceled while in flight"
		})
	case err != nil:
		kind := classifyFailure(err)
		cause := err.Error()
		q = s.completeLocked(rec, func(q *Query) {
			q.Status = StatusFailed
			q.Failure = kind
			q.Cause = cause
		})
	default:
		q = s.completeLocked(rec, func(q *Query) {
			q.Status = StatusSucceeded
			q.Result = result
		})
	}
	s.mu.Unlock()
	s.sealed(ctx, q)
}
