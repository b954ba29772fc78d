package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/pulse/circuit"
	"github.com/teranos/yoman/recur"
	"github.com/teranos/yoman/transport"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

type sent struct {
	userID, content string
}

type fakeTransport struct {
	mu   sync.Mutex
	err  error
	sent []sent
}

func (f *fakeTransport) Send(ctx context.Context, userID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{userID, content})
	return nil
}

func (f *fakeTransport) Sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type failure struct {
	job *Job
	err error
}

type recordingReporter struct {
	mu       sync.Mutex
	failures []failure
}

func (r *recordingReporter) JobFailed(ctx context.Context, job *Job, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failure{job, err})
}

type harness struct {
	sched    *Scheduler
	store    *Store
	clock    *mockClock
	tr       *fakeTransport
	breaker  *circuit.Breaker
	reporter *recordingReporter
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	clock := &mockClock{now: t0}
	store := NewStore(createTestDB(t))
	breaker := circuit.NewWithClock(circuit.Config{FailureThreshold: 3, Cooldown: time.Hour}, log, clock.Now)
	tr := &fakeTransport{}
	reporter := &recordingReporter{}
	sched := New(store, breaker, tr, cfg, log).WithClock(clock.Now).WithReporter(reporter)
	return &harness{sched: sched, store: store, clock: clock, tr: tr, breaker: breaker, reporter: reporter}
}

func testConfig() Config {
	return Config{
		Workers:      2,
		TickInterval: 10 * time.Millisecond,
		ClaimLease:   time.Minute,
		MaxAttempts:  3,
		Backoff:      []time.Duration{30 * time.Second, time.Minute},
		OverdueGrace: 5 * time.Minute,
	}
}

func TestScheduleIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	r := testRequest("u1", "item-1", t0.Add(time.Hour))

	first, err := h.sched.Schedule(ctx, r)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	second, err := h.sched.Schedule(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.CreatedAt.Equal(t0), "the stored job is returned unchanged")

	jobs, err := h.store.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestScheduleValidates(t *testing.T) {
	h := newHarness(t, testConfig())

	r := testRequest("u1", "item-1", t0)
	r.Timezone = ""
	_, err := h.sched.Schedule(context.Background(), r)
	assert.True(t, errors.IsInvalidRequestError(err))

	r = testRequest("u1", "item-1", t0)
	r.Rule = &recur.Rule{Frequency: recur.Daily}
	_, err = h.sched.Schedule(context.Background(), r)
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

// Scheduling still works while the transport is down.
func TestScheduleWhileCircuitOpen(t *testing.T) {
	h := newHarness(t, testConfig())
	h.breaker.Signal(transport.Event{Kind: transport.Disconnected})
	require.Equal(t, circuit.Open, h.breaker.State())

	job, err := h.sched.Schedule(context.Background(), testRequest("u1", "item-1", t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, StatePending, job.State)
}

func TestDispatchSendsDueJob(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	r := testRequest("u1", "item-1", t0.Add(time.Hour))
	r.Lead = 15
	job, err := h.sched.Schedule(ctx, r)
	require.NoError(t, err)

	assert.Equal(t, 0, h.sched.RunDue(ctx), "not due yet")

	h.clock.Advance(45 * time.Minute)
	assert.Equal(t, 1, h.sched.RunDue(ctx))
	assert.Equal(t, []sent{{"u1", "call mom"}}, h.tr.Sent())

	got, err := h.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFired, got.State)
	assert.Equal(t, 1, got.Attempts)

	attempts, err := h.store.ListAttempts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, OutcomeSent, attempts[0].Outcome)
}

func TestDispatchRecurringSeries(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	r := testRequest("u1", "item-1", t0)
	r.Rule = &recur.Rule{Frequency: recur.Daily, Interval: 1, Count: 2}
	_, err := h.sched.Schedule(ctx, r)
	require.NoError(t, err)

	require.Equal(t, 1, h.sched.RunDue(ctx))
	pending, err := h.store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Occurrence)
	assert.True(t, pending[0].FireAt.Equal(t0.Add(24*time.Hour)))

	h.clock.Advance(24 * time.Hour)
	require.Equal(t, 1, h.sched.RunDue(ctx))
	pending, err = h.store.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "count 2 ends the series")
	assert.Len(t, h.tr.Sent(), 2)
}

// Occurrences missed during a long outage are skipped; the series resumes
// with the next one still ahead.
func TestDispatchSkipsStaleOccurrences(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	r := testRequest("u1", "item-1", t0)
	r.Rule = &recur.Rule{Frequency: recur.Daily, Interval: 1}
	_, err := h.sched.Schedule(ctx, r)
	require.NoError(t, err)

	h.clock.Advance(3*24*time.Hour + time.Hour)
	require.Equal(t, 1, h.sched.RunDue(ctx))

	pending, err := h.store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].FireAt.Equal(t0.Add(4*24*time.Hour)))
	assert.Equal(t, 5, pending[0].Occurrence)
}

// A job blocked by an open circuit is retried on the backoff schedule and
// fails for the operator once its attempts are spent.
func TestDispatchBlockedRetriesThenFails(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	job, err := h.sched.Schedule(ctx, testRequest("u1", "item-1", t0))
	require.NoError(t, err)
	h.breaker.Signal(transport.Event{Kind: transport.Disconnected, Detail: "phone offline"})

	// When: first attempt
	require.Equal(t, 1, h.sched.RunDue(ctx))
	got, err := h.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.DueAt.Equal(t0.Add(30*time.Second)))

	assert.Equal(t, 0, h.sched.RunDue(ctx), "waits for its backoff")

	// When: second attempt uses the next backoff step
	h.clock.Advance(30 * time.Second)
	require.Equal(t, 1, h.sched.RunDue(ctx))
	got, err = h.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.DueAt.Equal(t0.Add(90*time.Second)))

	// When: third attempt exhausts max attempts
	h.clock.Advance(time.Minute)
	require.Equal(t, 1, h.sched.RunDue(ctx))

	// Then
	got, err = h.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 3, got.Attempts)
	assert.Empty(t, h.tr.Sent(), "an open circuit never reaches the transport")

	require.Len(t, h.reporter.failures, 1)
	assert.Equal(t, job.ID, h.reporter.failures[0].job.ID)
	assert.True(t, errors.Is(h.reporter.failures[0].err, errors.ErrJobFailed))
	assert.True(t, errors.IsDispatchBlocked(h.reporter.failures[0].err))

	attempts, err := h.store.ListAttempts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	for _, a := range attempts {
		assert.Equal(t, OutcomeBlocked, a.Outcome)
	}

	failed, err := h.store.ListFailed(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestDispatchTransportErrorRequeues(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	job, err := h.sched.Schedule(ctx, testRequest("u1", "item-1", t0))
	require.NoError(t, err)
	h.tr.err = errors.New("bridge refused message")

	require.Equal(t, 1, h.sched.RunDue(ctx))
	attempts, err := h.store.ListAttempts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, OutcomeError, attempts[0].Outcome)
	assert.Equal(t, "bridge refused message", attempts[0].Error)

	h.tr.err = nil
	h.clock.Advance(30 * time.Second)
	require.Equal(t, 1, h.sched.RunDue(ctx))
	state, err := h.store.State(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFired, state)
	assert.Equal(t, circuit.Closed, h.breaker.State())
}

func TestDispatchBadPayloadFailsAtOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	r := testRequest("u1", "item-1", t0)
	r.Payload = []byte(`{}`)
	job, err := h.sched.Schedule(ctx, r)
	require.NoError(t, err)

	require.Equal(t, 1, h.sched.RunDue(ctx))
	state, err := h.store.State(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)
	require.Len(t, h.reporter.failures, 1)
	assert.Empty(t, h.tr.Sent())
}

// A cancel that lands after a worker claimed the job still stops the send.
func TestCancelAfterClaimAbortsDispatch(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	job, err := h.sched.Schedule(ctx, testRequest("u1", "item-1", t0))
	require.NoError(t, err)

	h.sched.WithFormatter(func(j *Job) (string, error) {
		// Runs after the claim, before the send.
		require.NoError(t, h.sched.Cancel(ctx, j.ID))
		return DefaultFormat(j)
	})

	require.Equal(t, 1, h.sched.RunDue(ctx))
	assert.Empty(t, h.tr.Sent())

	state, err := h.store.State(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, state)

	attempts, err := h.store.ListAttempts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, OutcomeAborted, attempts[0].Outcome)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	pending, err := h.sched.Schedule(ctx, testRequest("u1", "item-1", t0.Add(time.Hour)))
	require.NoError(t, err)
	fired, err := h.sched.Schedule(ctx, testRequest("u2", "item-2", t0))
	require.NoError(t, err)
	require.Equal(t, 1, h.sched.RunDue(ctx))

	require.NoError(t, h.sched.Cancel(ctx, pending.ID))
	require.NoError(t, h.sched.Cancel(ctx, pending.ID), "cancelling twice is a no-op")

	err = h.sched.Cancel(ctx, fired.ID)
	assert.ErrorIs(t, err, errors.ErrConflict)

	err = h.sched.Cancel(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCancelItem(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	for _, at := range []time.Time{t0.Add(time.Hour), t0.Add(2 * time.Hour)} {
		_, err := h.sched.Schedule(ctx, testRequest("u1", "item-1", at))
		require.NoError(t, err)
	}

	n, err := h.sched.CancelItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReschedule(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	old, err := h.sched.Schedule(ctx, testRequest("u1", "item-1", t0.Add(time.Hour)))
	require.NoError(t, err)

	next, err := h.sched.Reschedule(ctx, old.ID, Request{Anchor: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, next.ID)
	assert.Equal(t, 1, next.RecurrenceVersion)
	assert.Equal(t, "item-1", next.ItemID)
	assert.Equal(t, "u1", next.OwnerUserID)
	assert.Equal(t, old.Payload, next.Payload)
	assert.True(t, next.FireAt.Equal(t0.Add(2*time.Hour)))

	state, err := h.store.State(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, state)

	// Moving it back to the original time is a new version, not the old job.
	back, err := h.sched.Reschedule(ctx, next.ID, Request{Anchor: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2, back.RecurrenceVersion)
	assert.NotEqual(t, old.ID, back.ID)

	_, err = h.sched.Reschedule(ctx, old.ID, Request{Anchor: t0.Add(3 * time.Hour)})
	assert.ErrorIs(t, err, errors.ErrConflict)
}

func TestOnDue(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	job, err := h.sched.Schedule(ctx, testRequest("u1", "item-1", t0.Add(time.Hour)))
	require.NoError(t, err)

	ok, err := h.sched.OnDue(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, h.tr.Sent(), 1)

	ok, err = h.sched.OnDue(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok, "a fired job cannot be dispatched again")
}

// After a restart, leases of the dead process are dropped and overdue
// jobs go out.
func TestRecoverAfterRestart(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	stale, err := h.sched.Schedule(ctx, testRequest("u1", "item-1", t0.Add(-time.Hour)))
	require.NoError(t, err)
	_, err = h.sched.Schedule(ctx, testRequest("u2", "item-2", t0.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = h.sched.Schedule(ctx, testRequest("u3", "item-3", t0.Add(time.Hour)))
	require.NoError(t, err)
	_, err = h.store.ClaimID(ctx, stale.ID, "previous-process/w0", t0, time.Hour)
	require.NoError(t, err)

	rep, err := h.sched.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{ReleasedClaims: 1, Pending: 3, Overdue: 2, Late: 1}, rep)

	assert.Equal(t, 2, h.sched.RunDue(ctx))
	assert.Len(t, h.tr.Sent(), 2)
}

func TestStartDispatchesAndStops(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	_, err := h.sched.Schedule(ctx, testRequest("u1", "item-1", t0))
	require.NoError(t, err)

	require.NoError(t, h.sched.Start(ctx))
	assert.Error(t, h.sched.Start(ctx), "starting twice is refused")

	require.Eventually(t, func() bool { return len(h.tr.Sent()) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = h.sched.Schedule(ctx, testRequest("u1", "item-2", t0))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.tr.Sent()) == 2 }, 2*time.Second, 10*time.Millisecond)

	h.sched.Stop()
	h.sched.Stop()
}

func TestDefaultFormat(t *testing.T) {
	got, err := DefaultFormat(&Job{Payload: []byte(`{"title":"פגישה עם דני","body":"מחר ב-16:00"}`)})
	require.NoError(t, err)
	assert.Equal(t, "פגישה עם דני\nמחר ב-16:00", got)

	_, err = DefaultFormat(&Job{ID: "j", Payload: []byte(`not json`)})
	assert.Error(t, err)
}
