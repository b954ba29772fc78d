package schedule

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teranos/yoman/db"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
)

// RecoveryReport summarises what Recover found.
type RecoveryReport struct {
	ReleasedClaims int
	Pending        int
	Overdue        int // due now, dispatched on the next tick
	Late           int // overdue by more than the grace period
}

// Recover prepares the store after a restart. Leases held by workers of an
// earlier process are dropped and every pending job is re-evaluated:
// overdue jobs are claimable at once, the rest wait for their due time.
func (s *Scheduler) Recover(ctx context.Context) (RecoveryReport, error) {
	openLog := logger.AddPulseOpenSymbol(s.log)
	now := s.timeNow().UTC()

	var rep RecoveryReport
	released, err := s.store.ReleaseForeign(ctx, s.instance, now)
	if err != nil {
		return rep, errors.Wrap(err, "recover scheduler")
	}
	rep.ReleasedClaims = released

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "recover scheduler")
	}
	rep.Pending = len(pending)
	for _, job := range pending {
		if job.DueAt.After(now) {
			continue
		}
		rep.Overdue++
		if now.Sub(job.FireAt) > s.cfg.OverdueGrace {
			rep.Late++
			openLog.Warnw("Job missed its fire time while down",
				logger.FieldJobID, job.ID,
				logger.FieldUserID, job.OwnerUserID,
				logger.FieldFireAt, job.FireAt.Format(time.RFC3339),
				"late_by", now.Sub(job.FireAt).Round(time.Second))
		}
	}

	openLog.Infow("Pulse warm start",
		"released_claims", rep.ReleasedClaims,
		"pending", rep.Pending,
		"overdue", rep.Overdue,
		"late", rep.Late)
	if rep.Overdue > 0 {
		s.notifyAll()
	}
	return rep, nil
}

// Start recovers and launches the worker pool. It returns once the pool
// is running; Stop shuts it down.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.stop != nil {
		return errors.New("scheduler already started")
	}
	if _, err := s.Recover(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.done = make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.tick(ctx) })
	for i := 0; i < s.cfg.Workers; i++ {
		worker := fmt.Sprintf("%s/w%d", s.instance, i)
		g.Go(func() error { return s.work(ctx, worker) })
	}
	go func() {
		defer close(s.done)
		if err := g.Wait(); err != nil {
			s.pulseLog.Errorw("Pulse pool stopped", logger.FieldError, err)
		}
	}()

	s.pulseLog.Infow("Pulse started",
		"workers", s.cfg.Workers,
		"interval", s.cfg.TickInterval,
		"instance", s.instance)
	return nil
}

// Stop cancels the pool and waits for in-flight dispatches to settle.
func (s *Scheduler) Stop() {
	if s.stop == nil {
		return
	}
	s.stop()
	<-s.done
	s.stop = nil
	logger.AddPulseCloseSymbol(s.log).Infow("Pulse stopped")
}

// tick expires dead leases and wakes the workers on every interval.
func (s *Scheduler) tick(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	var lastNext string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := s.timeNow().UTC()
			if n, err := s.store.ReleaseExpired(ctx, now); err != nil {
				if ctx.Err() != nil || db.IsDatabaseClosed(err) {
					return nil
				}
				s.pulseLog.Warnw("Pulse tick error", logger.FieldError, err)
			} else if n > 0 {
				s.pulseLog.Warnw("Released expired claims", logger.FieldCount, n)
			}
			lastNext = s.logNext(ctx, now, lastNext)
			s.notifyAll()
		}
	}
}

// logNext logs the next due job when it changes, and returns its id.
func (s *Scheduler) logNext(ctx context.Context, now time.Time, last string) string {
	next, err := s.store.NextDue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.pulseLog.Warnw("Failed to get next due job", logger.FieldError, err)
		}
		return last
	}
	if next == nil {
		if last != "" {
			s.pulseLog.Infow("Pulse - no scheduled dispatches")
		}
		return ""
	}
	if next.ID != last {
		until := next.DueAt.Sub(now)
		if until < 0 {
			until = 0
		}
		s.pulseLog.Infow(fmt.Sprintf("Pulse - next dispatch in %s", until.Round(time.Second)),
			logger.FieldJobID, next.ID,
			logger.FieldDueAt, next.DueAt.Format(time.RFC3339))
	}
	return next.ID
}

// work drains due jobs each time the worker is woken.
func (s *Scheduler) work(ctx context.Context, worker string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			s.drain(ctx, worker)
		}
	}
}

// drain claims and dispatches until nothing is due, returning how many
// jobs were dispatched.
func (s *Scheduler) drain(ctx context.Context, worker string) int {
	n := 0
	for ctx.Err() == nil {
		job, err := s.store.Claim(ctx, worker, s.timeNow().UTC(), s.cfg.ClaimLease)
		if err != nil {
			if ctx.Err() == nil && !db.IsDatabaseClosed(err) {
				s.pulseLog.Warnw("Claim failed", "worker", worker, logger.FieldError, err)
			}
			return n
		}
		if job == nil {
			return n
		}
		s.dispatch(ctx, worker, job)
		n++
	}
	return n
}

// RunDue dispatches every job due now on the calling goroutine and
// returns how many were handled. It serves one-shot runs and tests.
func (s *Scheduler) RunDue(ctx context.Context) int {
	return s.drain(ctx, s.instance+"/run")
}

func (s *Scheduler) notifyAll() {
	for i := 0; i < cap(s.wake); i++ {
		s.notify()
	}
}
