package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/yoman/am/geotime"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/recur"
)

// dispatch sends one claimed job. Every path ends with the lease resolved:
// fired, requeued, failed or released.
func (s *Scheduler) dispatch(ctx context.Context, worker string, job *Job) {
	log := s.pulseLog.With(
		logger.FieldJobID, job.ID,
		logger.FieldUserID, job.OwnerUserID,
		logger.FieldItemID, job.ItemID)
	start := s.timeNow()
	attempt := job.Attempts + 1

	content, err := s.format(job)
	if err != nil {
		// A payload that cannot be rendered will not render on retry.
		s.record(ctx, job.ID, attempt, OutcomeError, err, start)
		s.fail(ctx, worker, job, attempt, err, log)
		return
	}

	// Last look before the visible side effect: a cancel may have landed
	// after the claim.
	state, err := s.store.State(ctx, job.ID)
	if err != nil {
		log.Warnw("Could not re-check job state", logger.FieldError, err)
		s.release(ctx, worker, job.ID, log)
		return
	}
	if state != StatePending {
		s.record(ctx, job.ID, attempt, OutcomeAborted, errors.Newf("job is %s", state), start)
		s.release(ctx, worker, job.ID, log)
		log.Infow("Dispatch aborted", logger.FieldState, state)
		return
	}

	send := func(ctx context.Context) error {
		return s.transport.Send(ctx, job.OwnerUserID, content)
	}
	if s.gate != nil {
		err = s.gate.Do(ctx, send)
	} else {
		err = send(ctx)
	}
	now := s.timeNow()

	switch {
	case err == nil:
		s.record(ctx, job.ID, attempt, OutcomeSent, nil, now)
		s.fired(ctx, worker, job, now, log.With(logger.FieldDurationMS, now.Sub(start).Milliseconds()))
	case ctx.Err() != nil:
		// Shutdown mid-send: not the transport's fault, not an attempt.
		bg := context.WithoutCancel(ctx)
		s.record(bg, job.ID, attempt, OutcomeAborted, err, now)
		s.release(bg, worker, job.ID, log)
	default:
		s.retry(ctx, worker, job, attempt, err, now, log)
	}
}

// fired marks job delivered and stores the next occurrence of its series.
func (s *Scheduler) fired(ctx context.Context, worker string, job *Job, now time.Time, log *zap.SugaredLogger) {
	next, err := s.successor(job, now)
	if err != nil {
		// The reminder went out; only the series is broken.
		log.Errorw("Could not compute next occurrence", logger.FieldError, err)
	}
	ok, err := s.store.Fire(ctx, job.ID, worker, now.UTC(), next)
	if err != nil {
		log.Errorw("Sent but could not mark job fired", logger.FieldError, err)
		return
	}
	if !ok {
		log.Warnw("Job changed while sending; it was delivered but not marked fired")
		return
	}

	if next != nil {
		log.Infow("Pulse OK",
			"next_job_id", next.ID,
			"occurrence", next.Occurrence,
			"next_fire_at", next.FireAt.Format(time.RFC3339))
		return
	}
	log.Infow("Pulse OK")
}

// successor builds the pending job for the occurrence after job, or nil
// when the series ends. Occurrences that would already be later than the
// grace period are skipped.
func (s *Scheduler) successor(job *Job, now time.Time) (*Job, error) {
	if !job.Recurring() {
		return nil, nil
	}
	loc, err := geotime.Load(job.Timezone)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUnknownTimezone, "job %s: %q", job.ID, job.Timezone)
	}

	lead := recur.LeadTime(job.LeadTimeMinutes)
	anchor, index := job.Anchor.In(loc), job.Occurrence
	cutoff := now.Add(-s.cfg.OverdueGrace)
	for {
		next, ok := job.Recurrence.Successor(anchor, index)
		if !ok {
			return nil, nil
		}
		anchor, index = next, index+1
		if next.Add(-lead.Duration()).After(cutoff) {
			break
		}
	}

	return newJob(Request{
		OwnerUserID:       job.OwnerUserID,
		ItemID:            job.ItemID,
		ItemKind:          job.ItemKind,
		Anchor:            anchor,
		Lead:              lead,
		Rule:              job.Recurrence,
		Timezone:          job.Timezone,
		Payload:           job.Payload,
		RecurrenceVersion: job.RecurrenceVersion,
		Occurrence:        index,
	}, now.UTC()), nil
}

// retry requeues a failed send on the backoff schedule, or fails the job
// once its attempts are spent.
func (s *Scheduler) retry(ctx context.Context, worker string, job *Job, attempt int, cause error, now time.Time, log *zap.SugaredLogger) {
	outcome := OutcomeError
	if errors.IsDispatchBlocked(cause) {
		outcome = OutcomeBlocked
	}
	s.record(ctx, job.ID, attempt, outcome, cause, now)

	if attempt >= s.cfg.MaxAttempts {
		s.fail(ctx, worker, job, attempt, cause, log)
		return
	}

	wait := s.backoff(attempt)
	ok, err := s.store.Requeue(ctx, job.ID, worker, now.Add(wait).UTC(), attempt, cause.Error(), now.UTC())
	if err != nil {
		log.Errorw("Could not requeue job", logger.FieldError, err)
		return
	}
	if !ok {
		log.Infow("Job changed before requeue", logger.FieldOutcome, outcome)
		return
	}
	log.Warnw("Dispatch deferred",
		logger.FieldOutcome, outcome,
		logger.FieldAttempts, attempt,
		"retry_in", wait,
		logger.FieldError, cause)
}

// backoff is the wait after the given failed attempt.
func (s *Scheduler) backoff(attempt int) time.Duration {
	i := attempt - 1
	if i >= len(s.cfg.Backoff) {
		i = len(s.cfg.Backoff) - 1
	}
	if i < 0 {
		i = 0
	}
	return s.cfg.Backoff[i]
}

// fail moves job to failed and surfaces it to the reporter.
func (s *Scheduler) fail(ctx context.Context, worker string, job *Job, attempt int, cause error, log *zap.SugaredLogger) {
	now := s.timeNow().UTC()
	ok, err := s.store.MarkFailed(ctx, job.ID, worker, attempt, cause.Error(), now)
	if err != nil {
		log.Errorw("Could not mark job failed", logger.FieldError, err)
		return
	}
	if !ok {
		log.Infow("Job changed before it could be marked failed")
		return
	}

	job.State = StateFailed
	job.Attempts = attempt
	job.LastError = cause.Error()
	failure := errors.WithHint(
		errors.Mark(errors.Wrapf(cause, "job %s gave up after %d attempts", job.ID, attempt), errors.ErrJobFailed),
		"list failed jobs with 'yoman jobs failed'")

	log.Errorw("Pulse FAILED",
		logger.FieldAttempts, attempt,
		logger.FieldFireAt, job.FireAt.Format(time.RFC3339),
		logger.FieldError, failure)
	if s.reporter != nil {
		s.reporter.JobFailed(ctx, job, failure)
	}
}

func (s *Scheduler) release(ctx context.Context, worker, id string, log *zap.SugaredLogger) {
	if err := s.store.Release(ctx, id, worker, s.timeNow().UTC()); err != nil {
		log.Warnw("Could not release claim", logger.FieldError, err)
	}
}

// record appends to the dispatch log. Losing a log row never stops
// dispatch.
func (s *Scheduler) record(ctx context.Context, jobID string, attempt int, outcome Outcome, cause error, at time.Time) {
	a := Attempt{JobID: jobID, Attempt: attempt, Outcome: outcome, AttemptedAt: at.UTC()}
	if cause != nil {
		a.Error = cause.Error()
	}
	if err := s.store.RecordAttempt(ctx, a); err != nil {
		s.pulseLog.Warnw("Could not record dispatch attempt",
			logger.FieldJobID, jobID,
			logger.FieldOutcome, outcome,
			logger.FieldError, err)
	}
}
