package schedule

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/transport"
)

// Config tunes dispatch.
type Config struct {
	Workers      int             // concurrent dispatchers; 0 disables the pool
	TickInterval time.Duration   // how often idle workers look for due jobs
	ClaimLease   time.Duration   // how long a claim holds before another worker may take the job
	MaxAttempts  int             // attempts before a job is marked failed
	Backoff      []time.Duration // wait before attempt n+1; the last entry repeats
	OverdueGrace time.Duration   // older missed occurrences of a series are skipped
}

// DefaultConfig matches the shipped scheduler section of am.toml.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		TickInterval: time.Second,
		ClaimLease:   time.Minute,
		MaxAttempts:  5,
		Backoff: []time.Duration{
			30 * time.Second, time.Minute, 2 * time.Minute, 5 * time.Minute, 10 * time.Minute,
		},
		OverdueGrace: 5 * time.Minute,
	}
}

// ConfigFromAm reads the scheduler section of am.toml.
func ConfigFromAm(c *am.Config) Config {
	return Config{
		Workers:      c.Scheduler.Workers,
		TickInterval: time.Duration(c.Scheduler.TickerIntervalMS) * time.Millisecond,
		ClaimLease:   time.Duration(c.Scheduler.ClaimLeaseSeconds) * time.Second,
		MaxAttempts:  c.Scheduler.MaxAttempts,
		Backoff:      c.Backoff(),
		OverdueGrace: time.Duration(c.Scheduler.OverdueGraceMinutes) * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers < 0 {
		c.Workers = 0
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = d.ClaimLease
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if len(c.Backoff) == 0 {
		c.Backoff = d.Backoff
	}
	if c.OverdueGrace < 0 {
		c.OverdueGrace = 0
	}
	return c
}

// Gate admits or blocks a send. circuit.Breaker implements it.
type Gate interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// FailureReporter is told about every job that ran out of attempts.
type FailureReporter interface {
	JobFailed(ctx context.Context, job *Job, err error)
}

// Formatter renders a job into the message sent to its owner.
type Formatter func(job *Job) (string, error)

// Message is the payload shape DefaultFormat understands.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// DefaultFormat sends the payload's title, followed by its body if set.
func DefaultFormat(job *Job) (string, error) {
	var m Message
	if err := json.Unmarshal(job.Payload, &m); err != nil {
		return "", errors.Wrapf(err, "decode payload of job %s", job.ID)
	}
	if m.Title == "" {
		return "", errors.Newf("payload of job %s has no title", job.ID)
	}
	if m.Body != "" {
		return m.Title + "\n" + m.Body, nil
	}
	return m.Title, nil
}

// Scheduler owns the job lifecycle: it stores jobs, hands due ones to its
// workers and pushes them through the gate to the transport.
type Scheduler struct {
	store     *Store
	gate      Gate
	transport transport.Transport
	cfg       Config
	reporter  FailureReporter
	format    Formatter

	// instance prefixes every worker name, so leases left by an earlier
	// process can be told apart at startup.
	instance string
	wake     chan struct{}
	stop     context.CancelFunc
	done     chan struct{}

	timeNow  func() time.Time // Injectable for testing
	log      *zap.SugaredLogger
	pulseLog *zap.SugaredLogger
}

// New creates a scheduler. A nil gate lets every send through.
func New(store *Store, gate Gate, tr transport.Transport, cfg Config, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg = cfg.withDefaults()
	return &Scheduler{
		store:     store,
		gate:      gate,
		transport: tr,
		cfg:       cfg,
		format:    DefaultFormat,
		instance:  uuid.NewString(),
		wake:      make(chan struct{}, cfg.Workers+1),
		timeNow:   time.Now,
		log:       log,
		pulseLog:  logger.AddPulseSymbol(log),
	}
}

// WithReporter sets who hears about failed jobs.
func (s *Scheduler) WithReporter(r FailureReporter) *Scheduler {
	s.reporter = r
	return s
}

// WithFormatter replaces DefaultFormat.
func (s *Scheduler) WithFormatter(f Formatter) *Scheduler {
	if f != nil {
		s.format = f
	}
	return s
}

// WithClock injects the time source (for testing).
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.timeNow = now
	return s
}

// Store exposes the underlying job store for read-only listings.
func (s *Scheduler) Store() *Store {
	return s.store
}

// Schedule persists the first firing described by r. Scheduling the same
// item at the same instant again returns the stored job unchanged.
// Scheduling never depends on the transport being up.
func (s *Scheduler) Schedule(ctx context.Context, r Request) (*Job, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	job := newJob(r, s.timeNow().UTC())
	created, err := s.store.Insert(ctx, job)
	if err != nil {
		return nil, err
	}
	if !created {
		s.log.Debugw("Job already scheduled", logger.FieldJobID, job.ID, logger.FieldItemID, job.ItemID)
		return s.store.Get(ctx, job.ID)
	}

	s.log.Infow("Scheduled job",
		logger.FieldJobID, job.ID,
		logger.FieldUserID, job.OwnerUserID,
		logger.FieldItemID, job.ItemID,
		logger.FieldFireAt, job.FireAt.Format(time.RFC3339))
	s.notify()
	return job, nil
}

// Cancel stops a pending job, including one a worker has already claimed
// but not yet sent. Cancelling a cancelled job is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	ok, err := s.store.Cancel(ctx, id, s.timeNow().UTC())
	if err != nil {
		return err
	}
	if ok {
		s.log.Infow("Cancelled job", logger.FieldJobID, id)
		return nil
	}
	state, err := s.store.State(ctx, id)
	if err != nil {
		return err
	}
	if state == StateCancelled {
		return nil
	}
	return errors.WithHintf(
		errors.Wrapf(errors.ErrConflict, "job %s is already %s", id, state),
		"only pending jobs can be cancelled")
}

// CancelItem cancels every pending job of an item and returns how many
// there were.
func (s *Scheduler) CancelItem(ctx context.Context, itemID string) (int, error) {
	n, err := s.store.CancelItem(ctx, itemID, s.timeNow().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Infow("Cancelled jobs of item", logger.FieldItemID, itemID, logger.FieldCount, n)
	}
	return n, nil
}

// Pending lists owner's pending jobs, soonest first.
func (s *Scheduler) Pending(ctx context.Context, owner string) ([]*Job, error) {
	return s.store.ListByOwner(ctx, owner, StatePending)
}

// Reschedule replaces pending job id with the firing described by r under
// the next recurrence version. Owner and item default to the old job's.
func (s *Scheduler) Reschedule(ctx context.Context, id string, r Request) (*Job, error) {
	old, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if old.State != StatePending {
		return nil, errors.Wrapf(errors.ErrConflict, "job %s is already %s", id, old.State)
	}
	if r.OwnerUserID == "" {
		r.OwnerUserID = old.OwnerUserID
	}
	if r.ItemID == "" {
		r.ItemID = old.ItemID
	}
	if r.ItemKind == "" {
		r.ItemKind = old.ItemKind
	}
	if r.Timezone == "" {
		r.Timezone = old.Timezone
	}
	if r.Payload == nil {
		r.Payload = old.Payload
	}
	r.RecurrenceVersion = old.RecurrenceVersion + 1
	r.Occurrence = 0
	if err := r.validate(); err != nil {
		return nil, err
	}

	now := s.timeNow().UTC()
	next := newJob(r, now)
	if err := s.store.Replace(ctx, id, next, now); err != nil {
		return nil, err
	}
	s.log.Infow("Rescheduled job",
		logger.FieldJobID, next.ID,
		"replaces", id,
		"version", next.RecurrenceVersion,
		logger.FieldFireAt, next.FireAt.Format(time.RFC3339))
	s.notify()
	return next, nil
}

// OnDue dispatches job id now, whatever its due time. It reports false
// when the job could not be claimed: it is not pending, already leased, or
// waiting behind an earlier job of the same user.
func (s *Scheduler) OnDue(ctx context.Context, id string) (bool, error) {
	worker := s.instance + "/due"
	job, err := s.store.ClaimID(ctx, id, worker, s.timeNow().UTC(), s.cfg.ClaimLease)
	if err != nil || job == nil {
		return false, err
	}
	s.dispatch(ctx, worker, job)
	return true, nil
}

// notify wakes one idle worker without blocking.
func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
