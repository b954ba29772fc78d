package assistant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/intent"
	yomantest "github.com/teranos/yoman/internal/testing"
	"github.com/teranos/yoman/pulse/schedule"
	"github.com/teranos/yoman/recur"
	"github.com/teranos/yoman/resolver"
	"github.com/teranos/yoman/temporal"
)

// Tuesday 2025-10-14 09:00 in Jerusalem.
var ref = time.Date(2025, 10, 14, 6, 0, 0, 0, time.UTC)

// An Israeli number, so the engine picks Asia/Jerusalem.
const israeli = "972501234567"

type harness struct {
	engine   *Engine
	items    *ItemStore
	sched    *schedule.Scheduler
	requests []resolver.Request
}

// newHarness builds an engine over an in-memory database. answer, when
// set, plays the model resolver.
func newHarness(t *testing.T, answer func(resolver.Request) (temporal.ResolvedTime, error)) *harness {
	t.Helper()
	conn := yomantest.CreateTestDB(t)
	log := zaptest.NewLogger(t).Sugar()
	now := func() time.Time { return ref }

	h := &harness{
		items: NewItemStore(conn).WithClock(steppingClock(ref)),
		sched: schedule.New(schedule.NewStore(conn), nil, nil, schedule.DefaultConfig(), log).WithClock(now),
	}
	var res resolver.Resolver
	if answer != nil {
		res = resolver.Func(func(ctx context.Context, req resolver.Request) (temporal.ResolvedTime, error) {
			h.requests = append(h.requests, req)
			return answer(req)
		})
	}
	cl := intent.New(intent.Config{AmbiguityMargin: 0.15}, h.items, log)
	h.engine = New(Config{DefaultTimezone: "UTC"}, temporal.NewParser(), res, cl, h.items, h.sched, log).WithClock(now)
	return h
}

func (h *harness) handle(t *testing.T, text string) Reply {
	t.Helper()
	return h.engine.Handle(context.Background(), Message{UserID: israeli, Text: text})
}

func (h *harness) pending(t *testing.T) []*schedule.Job {
	t.Helper()
	jobs, err := h.sched.Pending(context.Background(), israeli)
	require.NoError(t, err)
	return jobs
}

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestHandleSchedulesReminder(t *testing.T) {
	h := newHarness(t, nil)

	r := h.handle(t, "remind me to call mom tomorrow at 16:00")
	require.Equal(t, OutcomeScheduled, r.Outcome, "err %v", r.Err)
	assert.Equal(t, "en", r.Locale)
	assert.Equal(t, "Asia/Jerusalem", r.Timezone)
	assert.Equal(t, intent.CreateReminder, r.Intent.Kind)
	assert.Equal(t, "call mom", r.Item.Title)
	require.NotNil(t, r.Job)
	assert.True(t, utc(2025, 10, 15, 13, 0).Equal(r.Job.FireAt), "fire at %s", r.Job.FireAt)
	assert.Equal(t, r.Item.ID, r.Job.ItemID)
	assert.Equal(t, "✅ Scheduled: call mom, 15/10 at 16:00", r.Text)

	assert.Len(t, h.pending(t), 1)
}

func TestHandleHebrewReminder(t *testing.T) {
	h := newHarness(t, nil)

	r := h.handle(t, "תזכיר לי להתקשר לאמא מחר ב-16:00")
	require.Equal(t, OutcomeScheduled, r.Outcome, "err %v", r.Err)
	assert.Equal(t, "he", r.Locale)
	assert.Equal(t, "להתקשר לאמא", r.Item.Title)
	assert.Contains(t, r.Text, "בשעה 16:00")

	msg, err := FormatReminder(r.Job)
	require.NoError(t, err)
	assert.Equal(t, "⏰ תזכורת: להתקשר לאמא", msg)
}

func TestHandleDottedClock(t *testing.T) {
	h := newHarness(t, nil)

	r := h.handle(t, "תזכיר לי להתקשר לאמא מחר ב-16.30")
	require.Equal(t, OutcomeScheduled, r.Outcome, "err %v", r.Err)
	assert.Equal(t, "להתקשר לאמא", r.Item.Title)
	assert.False(t, r.Item.IsAllDay)
	// 16:30 IDT
	assert.True(t, utc(2025, 10, 15, 13, 30).Equal(r.Job.FireAt), "fire at %s", r.Job.FireAt)

	// an unreadable clock asks instead of falling back to the all-day hour
	r = h.handle(t, "remind me to call dad tomorrow at 25:00")
	assert.Equal(t, OutcomeClarifyTime, r.Outcome)
	assert.Len(t, h.pending(t), 1)
}

func TestHandleRecurringWithLead(t *testing.T) {
	h := newHarness(t, nil)

	r := h.handle(t, "תזכיר לי כל יום שני בשעה 09:00 חצי שעה לפני")
	require.Equal(t, OutcomeScheduled, r.Outcome, "err %v", r.Err)
	require.NotNil(t, r.Job)
	require.NotNil(t, r.Job.Recurrence)
	assert.Equal(t, recur.Weekly, r.Job.Recurrence.Frequency)
	assert.Equal(t, 30, r.Job.LeadTimeMinutes)
	// Monday 2025-10-20 09:00 IDT, half an hour early
	assert.True(t, utc(2025, 10, 20, 5, 30).Equal(r.Job.FireAt), "fire at %s", r.Job.FireAt)
	assert.Contains(t, r.Text, "(חוזר)")
}

func TestHandleUntimedTask(t *testing.T) {
	h := newHarness(t, nil)

	r := h.handle(t, "add a task buy milk")
	require.Equal(t, OutcomeCreated, r.Outcome, "err %v", r.Err)
	assert.Equal(t, "buy milk", r.Item.Title)
	assert.Nil(t, r.Job)
	assert.Empty(t, h.pending(t))
}

func TestHandleAsksForMissingTime(t *testing.T) {
	t.Run("no model tier", func(t *testing.T) {
		h := newHarness(t, nil)
		r := h.handle(t, "remind me to call mom")
		assert.Equal(t, OutcomeClarifyTime, r.Outcome)
		assert.Equal(t, "I couldn't tell when. When should it be?", r.Text)
		assert.Empty(t, h.pending(t))
	})

	t.Run("model finds nothing", func(t *testing.T) {
		h := newHarness(t, func(resolver.Request) (temporal.ResolvedTime, error) {
			return temporal.ResolvedTime{}, errors.NewResolverFailure(nil, "no time in text")
		})
		r := h.handle(t, "remind me to call mom")
		assert.Equal(t, OutcomeClarifyTime, r.Outcome)
		assert.True(t, errors.IsResolverFailure(r.Err))
		assert.Len(t, h.requests, 1)
	})

	t.Run("quota exhausted", func(t *testing.T) {
		h := newHarness(t, func(resolver.Request) (temporal.ResolvedTime, error) {
			return temporal.ResolvedTime{}, errors.Wrap(errors.ErrQuotaExceeded, "daily budget spent")
		})
		r := h.handle(t, "remind me to call mom")
		assert.Equal(t, OutcomeRateLimited, r.Outcome)
		assert.Empty(t, h.pending(t))
	})
}

func TestHandleEscalatesToModel(t *testing.T) {
	friday := temporal.ResolvedTime{
		Instant:    utc(2025, 10, 17, 7, 0),
		Timezone:   "Asia/Jerusalem",
		Confidence: 0.8,
		Source:     temporal.SourceModel,
	}
	answer := func(resolver.Request) (temporal.ResolvedTime, error) { return friday, nil }

	t.Run("no time in text", func(t *testing.T) {
		h := newHarness(t, answer)
		r := h.handle(t, "remind me to call mom")
		require.Equal(t, OutcomeScheduled, r.Outcome, "err %v", r.Err)
		assert.True(t, friday.Instant.Equal(r.Job.FireAt))

		require.Len(t, h.requests, 1)
		req := h.requests[0]
		assert.Equal(t, "remind me to call mom", req.Text)
		assert.Equal(t, "Asia/Jerusalem", req.Timezone)
		assert.Equal(t, "en", req.Locale)
		assert.True(t, ref.Equal(req.Reference))
	})

	t.Run("compound phrase", func(t *testing.T) {
		h := newHarness(t, answer)
		r := h.handle(t, "remind me to stretch in 2 hours tomorrow")
		require.Equal(t, OutcomeScheduled, r.Outcome, "err %v", r.Err)
		assert.Len(t, h.requests, 1)
		assert.True(t, friday.Instant.Equal(r.Job.FireAt))
	})

	t.Run("rules win", func(t *testing.T) {
		h := newHarness(t, answer)
		r := h.handle(t, "remind me to call mom tomorrow at 16:00")
		require.Equal(t, OutcomeScheduled, r.Outcome)
		assert.Empty(t, h.requests)
	})
}

func TestHandleUpdateReschedules(t *testing.T) {
	h := newHarness(t, nil)
	first := h.handle(t, "remind me to call mom tomorrow at 16:00")
	require.Equal(t, OutcomeScheduled, first.Outcome)

	r := h.handle(t, "move it to friday at 10:00")
	require.Equal(t, OutcomeUpdated, r.Outcome, "err %v", r.Err)
	assert.Equal(t, intent.UpdateReminder, r.Intent.Kind)
	assert.Equal(t, first.Item.ID, r.Item.ID)
	require.NotNil(t, r.Job)
	assert.True(t, utc(2025, 10, 17, 7, 0).Equal(r.Job.FireAt), "fire at %s", r.Job.FireAt)

	pending := h.pending(t)
	require.Len(t, pending, 1)
	assert.Equal(t, r.Job.ID, pending[0].ID)

	old, err := h.sched.Store().Get(context.Background(), first.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StateCancelled, old.State)
}

func TestHandleDeleteCancelsJobs(t *testing.T) {
	h := newHarness(t, nil)
	first := h.handle(t, "remind me to call mom tomorrow at 16:00")
	require.Equal(t, OutcomeScheduled, first.Outcome)

	r := h.handle(t, "delete it")
	require.Equal(t, OutcomeDeleted, r.Outcome, "err %v", r.Err)
	assert.Equal(t, first.Item.ID, r.Item.ID)
	assert.Equal(t, "🗑️ Deleted: call mom", r.Text)
	assert.Empty(t, h.pending(t))

	again := h.handle(t, "delete it")
	assert.Equal(t, OutcomeAmbiguous, again.Outcome)
}

func TestHandleList(t *testing.T) {
	h := newHarness(t, nil)

	empty := h.handle(t, "what do I have")
	require.Equal(t, OutcomeListed, empty.Outcome)
	assert.Equal(t, "Your list is empty.", empty.Text)

	require.Equal(t, OutcomeCreated, h.handle(t, "add a task buy milk").Outcome)
	require.Equal(t, OutcomeScheduled, h.handle(t, "remind me to call mom tomorrow at 16:00").Outcome)

	r := h.handle(t, "what do I have")
	require.Equal(t, OutcomeListed, r.Outcome)
	require.Len(t, r.Entries, 2)
	assert.Equal(t, "call mom", r.Entries[0].Item.Title)
	require.NotNil(t, r.Entries[0].Next)
	assert.Equal(t, "buy milk", r.Entries[1].Item.Title)
	assert.Nil(t, r.Entries[1].Next)
	assert.Equal(t, "📋 Your list:\n• call mom - 15/10 at 16:00\n• buy milk", r.Text)
}

func TestHandleDraft(t *testing.T) {
	h := newHarness(t, nil)

	r := h.handle(t, "Draft a message to Dan: running late")
	require.Equal(t, OutcomeDrafted, r.Outcome)
	assert.Equal(t, "✉️ Draft to dan:\nrunning late", r.Text)
	assert.Empty(t, h.pending(t))
}

func TestHandleUnrecognized(t *testing.T) {
	h := newHarness(t, nil)

	r := h.handle(t, "hello there")
	assert.Equal(t, OutcomeUnrecognized, r.Outcome)
	assert.NoError(t, r.Err)
	assert.Equal(t, "Sorry, I didn't understand.", r.Text)

	r = h.handle(t, "שלום לך")
	assert.Equal(t, "סליחה, לא הבנתי.", r.Text)
}

func TestHandleDeadline(t *testing.T) {
	h := newHarness(t, func(req resolver.Request) (temporal.ResolvedTime, error) {
		return temporal.ResolvedTime{}, errors.NewResolverFailure(context.DeadlineExceeded, "model timed out")
	})
	h.engine.cfg.Deadline = time.Millisecond

	r := h.handle(t, "remind me to call mom")
	assert.Equal(t, OutcomeClarifyTime, r.Outcome)
}

func TestTimezoneAndLocale(t *testing.T) {
	h := newHarness(t, nil)
	e := h.engine

	assert.Equal(t, "Asia/Jerusalem", e.timezone(Message{UserID: israeli}))
	assert.Equal(t, "America/New_York", e.timezone(Message{UserID: israeli, Timezone: "America/New_York"}))
	assert.Equal(t, "UTC", e.timezone(Message{UserID: "u1"}))

	assert.Equal(t, "he", e.locale(Message{Text: "מחר ב-5 dentist"}))
	assert.Equal(t, "en", e.locale(Message{Text: "tomorrow"}))
	assert.Equal(t, "en", e.locale(Message{Text: "מחר", Locale: "en"}))
	assert.Equal(t, "he", e.locale(Message{Text: "16:00"}))
}

// failingJobs fails the chosen scheduler calls and passes the rest through.
type failingJobs struct {
	Jobs
	scheduleErr error
	cancelErr   error
}

func (f *failingJobs) Schedule(ctx context.Context, r schedule.Request) (*schedule.Job, error) {
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	return f.Jobs.Schedule(ctx, r)
}

func (f *failingJobs) CancelItem(ctx context.Context, itemID string) (int, error) {
	if f.cancelErr != nil {
		return 0, f.cancelErr
	}
	return f.Jobs.CancelItem(ctx, itemID)
}

func TestHandleCreateRollsBackWhenScheduleFails(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.jobs = &failingJobs{Jobs: h.sched, scheduleErr: errors.New("database is locked")}

	r := h.handle(t, "remind me to call mom tomorrow at 16:00")
	assert.Equal(t, OutcomeFailed, r.Outcome)
	require.Error(t, r.Err)
	assert.Nil(t, r.Job)

	items, err := h.items.List(context.Background(), israeli, intent.ObjectNone)
	require.NoError(t, err)
	assert.Empty(t, items, "no item may stay behind without its reminder")
	assert.Empty(t, h.pending(t))
}

func TestHandleDeleteKeepsItemWhenCancelFails(t *testing.T) {
	h := newHarness(t, nil)
	first := h.handle(t, "remind me to call mom tomorrow at 16:00")
	require.Equal(t, OutcomeScheduled, first.Outcome)

	jobs := &failingJobs{Jobs: h.sched, cancelErr: errors.New("database is locked")}
	h.engine.jobs = jobs
	r := h.handle(t, "delete it")
	assert.Equal(t, OutcomeFailed, r.Outcome)

	item, err := h.items.Get(context.Background(), israeli, first.Item.ID)
	require.NoError(t, err, "the item must survive a failed cancel")
	assert.Equal(t, "call mom", item.Title)
	assert.Len(t, h.pending(t), 1)

	jobs.cancelErr = nil
	r = h.handle(t, "delete it")
	require.Equal(t, OutcomeDeleted, r.Outcome, "err %v", r.Err)
	assert.Empty(t, h.pending(t))
}
