// Package assistant turns one chat message into an action. It runs the
// temporal tiers (recurrence extraction, the rule parser, the model
// resolver as a fallback), classifies the intent, and then creates,
// updates, deletes or lists items and their scheduled reminders.
//
// Handle never panics and never returns an error: every failure becomes a
// tagged Reply the caller can render back to the user.
package assistant

import (
	"context"
	"encoding/json"
	"sort"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/am/geotime"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/intent"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/pulse/schedule"
	"github.com/teranos/yoman/recur"
	"github.com/teranos/yoman/resolver"
	"github.com/teranos/yoman/temporal"
)

// Config for the engine.
type Config struct {
	DefaultTimezone string
	DefaultLocale   string
	Deadline        time.Duration // whole-message budget; 0 means none
}

// ConfigFromAm reads the temporal section of am.toml.
func ConfigFromAm(c *am.Config) Config {
	return Config{
		DefaultTimezone: c.Temporal.DefaultTimezone,
		DefaultLocale:   c.Temporal.DefaultLocale,
		Deadline:        c.MessageDeadline(),
	}
}

// Jobs is the part of the scheduler the engine drives.
type Jobs interface {
	Schedule(ctx context.Context, r schedule.Request) (*schedule.Job, error)
	Reschedule(ctx context.Context, id string, r schedule.Request) (*schedule.Job, error)
	CancelItem(ctx context.Context, itemID string) (int, error)
	Pending(ctx context.Context, owner string) ([]*schedule.Job, error)
}

var _ Jobs = (*schedule.Scheduler)(nil)

// Message is one inbound utterance. Timezone and Locale are optional.
type Message struct {
	UserID   string
	Text     string
	Timezone string
	Locale   string
}

// Outcome tags a Reply.
type Outcome string

const (
	OutcomeScheduled    Outcome = "scheduled"    // item stored and its first reminder queued
	OutcomeCreated      Outcome = "created"      // untimed item stored
	OutcomeUpdated      Outcome = "updated"
	OutcomeDeleted      Outcome = "deleted"
	OutcomeListed       Outcome = "listed"
	OutcomeDrafted      Outcome = "drafted"
	OutcomeAmbiguous    Outcome = "ambiguous"
	OutcomeClarifyTime  Outcome = "clarify-time" // a time is needed but none could be resolved
	OutcomeUnrecognized Outcome = "unrecognized"
	OutcomeRateLimited  Outcome = "rate-limited"
	OutcomeFailed       Outcome = "failed"
)

// Entry is one line of a listing.
type Entry struct {
	Item *Item
	Next *time.Time // next fire instant, nil for untimed items
}

// Reply is the result of handling a message.
type Reply struct {
	Outcome    Outcome
	Intent     *intent.StructuredIntent
	Item       *Item
	Job        *schedule.Job
	Entries    []Entry
	Candidates []intent.Candidate
	Locale     string
	Timezone   string
	Text       string // rendered answer in Locale
	Err        error `json:"-"`
}

// Engine wires the pipeline together.
type Engine struct {
	cfg        Config
	parser     *temporal.Parser
	resolver   resolver.Resolver // nil disables the model tier
	classifier *intent.Classifier
	items      *ItemStore
	jobs       Jobs
	timeNow    func() time.Time
	log        *zap.SugaredLogger
}

// New creates an engine. res may be nil.
func New(cfg Config, parser *temporal.Parser, res resolver.Resolver, cl *intent.Classifier, items *ItemStore, jobs Jobs, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if parser == nil {
		parser = temporal.NewParser()
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = "he"
	}
	return &Engine{
		cfg:        cfg,
		parser:     parser,
		resolver:   res,
		classifier: cl,
		items:      items,
		jobs:       jobs,
		timeNow:    time.Now,
		log:        log,
	}
}

// WithClock injects the time source (for testing).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.timeNow = now
	return e
}

// Handle processes msg.
func (e *Engine) Handle(ctx context.Context, msg Message) (reply Reply) {
	began := time.Now()
	ctx = logger.WithUserID(ctx, msg.UserID)
	log := logger.FromContext(ctx, e.log)

	tz := e.timezone(msg)
	locale := e.locale(msg)
	defer func() {
		if r := recover(); r != nil {
			reply = Reply{Outcome: OutcomeFailed, Err: errors.AssertionFailedf("handle message: %v", r)}
		}
		reply.Locale, reply.Timezone = locale, tz
		reply.Text = render(reply, locale)
		fields := []interface{}{
			logger.FieldOutcome, reply.Outcome,
			logger.FieldTimezone, tz,
			logger.FieldLocale, locale,
			logger.FieldDurationMS, time.Since(began).Milliseconds(),
		}
		if reply.Err != nil {
			log.Warnw("Message not handled", append(fields, logger.FieldError, reply.Err.Error())...)
			return
		}
		log.Infow("Message handled", fields...)
	}()

	if e.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Deadline)
		defer cancel()
	}
	return e.handle(ctx, msg, e.timeNow(), tz, locale)
}

func (e *Engine) timezone(msg Message) string {
	for _, tz := range []string{msg.Timezone, geotime.GuessTimezoneFromPhone(msg.UserID)} {
		if tz == "" {
			continue
		}
		if norm, err := geotime.NormalizeTimezone(tz); err == nil {
			return norm
		}
	}
	return e.cfg.DefaultTimezone
}

// locale is "he" when the message contains Hebrew letters.
func (e *Engine) locale(msg Message) string {
	if msg.Locale != "" {
		return msg.Locale
	}
	hebrew, latin := false, false
	for _, r := range msg.Text {
		switch {
		case unicode.Is(unicode.Hebrew, r):
			hebrew = true
		case unicode.Is(unicode.Latin, r):
			latin = true
		}
	}
	switch {
	case hebrew:
		return "he"
	case latin:
		return "en"
	}
	return e.cfg.DefaultLocale
}

func (e *Engine) handle(ctx context.Context, msg Message, now time.Time, tz, locale string) Reply {
	ext, err := recur.Extract(msg.Text, now, tz)
	if err != nil {
		if errors.IsInvalidRequestError(err) {
			return Reply{Outcome: OutcomeClarifyTime, Err: err}
		}
		return Reply{Outcome: OutcomeFailed, Err: err}
	}
	rt, m, err := e.parser.Parse(ext.Remainder, now, tz)
	if err != nil {
		return Reply{Outcome: OutcomeFailed, Err: err}
	}

	in := intent.Input{
		UserID:    msg.UserID,
		Text:      msg.Text,
		Rule:      ext.Rule,
		Lead:      ext.Lead,
		Remainder: m.Remainder,
	}
	var resolveErr error
	escalated := false
	switch {
	case m.OK:
		in.Resolved = &rt
	case m.Compound:
		in.Resolved, resolveErr = e.resolve(ctx, msg, now, tz, locale)
		escalated = true
	}

	res, err := e.classifier.Classify(ctx, in)
	if err != nil {
		return Reply{Outcome: OutcomeFailed, Err: err}
	}
	if res.Outcome == intent.OutcomeIntent && needsTime(res.Intent) && !escalated {
		in.Resolved, resolveErr = e.resolve(ctx, msg, now, tz, locale)
		if in.Resolved != nil {
			if res, err = e.classifier.Classify(ctx, in); err != nil {
				return Reply{Outcome: OutcomeFailed, Err: err}
			}
		}
	}

	switch res.Outcome {
	case intent.OutcomeAmbiguous:
		return Reply{Outcome: OutcomeAmbiguous, Candidates: res.Candidates}
	case intent.OutcomeUnrecognized:
		return Reply{Outcome: OutcomeUnrecognized, Candidates: res.Candidates}
	}

	it := res.Intent
	if needsTime(it) {
		if errors.IsQuotaExceeded(resolveErr) {
			return Reply{Outcome: OutcomeRateLimited, Intent: it, Err: resolveErr}
		}
		return Reply{Outcome: OutcomeClarifyTime, Intent: it, Err: resolveErr}
	}

	var reply Reply
	switch it.Kind.Action() {
	case intent.ActionCreate:
		reply = e.create(ctx, msg.UserID, it, tz, locale)
	case intent.ActionUpdate:
		reply = e.update(ctx, msg.UserID, it, locale)
	case intent.ActionDelete:
		reply = e.delete(ctx, msg.UserID, it)
	case intent.ActionList:
		reply = e.list(ctx, msg.UserID, it.Kind.Object())
	case intent.ActionDraft:
		reply = Reply{Outcome: OutcomeDrafted}
	default:
		reply = Reply{Outcome: OutcomeFailed, Err: errors.AssertionFailedf("unhandled intent %s", it.Kind)}
	}
	reply.Intent = it
	return reply
}

// needsTime reports whether it creates a timed item without a time.
func needsTime(it *intent.StructuredIntent) bool {
	if it == nil || it.Anchor != nil {
		return false
	}
	return it.Kind == intent.CreateEvent || it.Kind == intent.CreateReminder
}

// resolve asks the model tier. A nil result means no time was found.
func (e *Engine) resolve(ctx context.Context, msg Message, now time.Time, tz, locale string) (*temporal.ResolvedTime, error) {
	if e.resolver == nil {
		return nil, nil
	}
	rt, err := e.resolver.Resolve(ctx, resolver.Request{
		Text:      msg.Text,
		Reference: now,
		Timezone:  tz,
		Locale:    locale,
		UserID:    msg.UserID,
	})
	if err != nil {
		logger.FromContext(ctx, e.log).Debugw("Model resolver gave no time", logger.FieldError, err.Error())
		return nil, err
	}
	return &rt, nil
}

// reminderPayload is the job payload the reminder formatter reads.
type reminderPayload struct {
	Title  string `json:"title"`
	Body   string `json:"body,omitempty"`
	Kind   string `json:"kind"`
	Locale string `json:"locale"`
}

func payloadFor(item *Item, locale string) ([]byte, error) {
	b, err := json.Marshal(reminderPayload{Title: item.Title, Kind: string(item.Kind), Locale: locale})
	return b, errors.Wrap(err, "encode job payload")
}

func (e *Engine) create(ctx context.Context, owner string, it *intent.StructuredIntent, tz, locale string) Reply {
	item := &Item{
		OwnerUserID:     owner,
		Kind:            it.Kind.Object(),
		Title:           it.Payload.Title,
		Participants:    it.Payload.Participants,
		Timezone:        tz,
		Recurrence:      it.Recurrence,
		LeadTimeMinutes: int(it.LeadTime),
	}
	var plan *recur.Plan
	if it.Anchor != nil {
		p, err := recur.Expand(*it.Anchor, it.Recurrence, it.LeadTime)
		if err != nil {
			return Reply{Outcome: OutcomeClarifyTime, Err: err}
		}
		plan = &p
		item.Anchor = &p.Anchor
		item.IsAllDay = it.Anchor.IsAllDay
		if it.Anchor.Timezone != "" {
			item.Timezone = it.Anchor.Timezone
		}
	}
	if err := e.items.Create(ctx, item); err != nil {
		return Reply{Outcome: OutcomeFailed, Err: err}
	}
	if plan == nil {
		return Reply{Outcome: OutcomeCreated, Item: item}
	}

	payload, err := payloadFor(item, locale)
	if err == nil {
		var job *schedule.Job
		job, err = e.jobs.Schedule(ctx, schedule.RequestFromPlan(owner, item.ID, string(item.Kind), item.Timezone, *plan, payload))
		if err == nil {
			return Reply{Outcome: OutcomeScheduled, Item: item, Job: job}
		}
	}
	// A timed item without its reminder would never fire.
	e.discard(ctx, item)
	return Reply{Outcome: OutcomeFailed, Err: err}
}

// discard removes an item created in this turn whose reminder could not be
// queued.
func (e *Engine) discard(ctx context.Context, item *Item) {
	if err := e.items.Delete(context.WithoutCancel(ctx), item.OwnerUserID, item.ID); err != nil {
		logger.FromContext(ctx, e.log).Errorw("Could not remove item left without a reminder",
			logger.FieldItemID, item.ID, logger.FieldUserID, item.OwnerUserID, logger.FieldError, err.Error())
	}
}

func (e *Engine) update(ctx context.Context, owner string, it *intent.StructuredIntent, locale string) Reply {
	item, err := e.items.Get(ctx, owner, it.TargetRef)
	if err != nil {
		return Reply{Outcome: OutcomeFailed, Err: err}
	}
	if it.Anchor == nil && it.Recurrence == nil && it.LeadTime == 0 && len(it.Payload.Participants) == 0 {
		return Reply{Outcome: OutcomeClarifyTime, Item: item}
	}

	if it.Recurrence != nil {
		item.Recurrence = it.Recurrence
	}
	if it.LeadTime > 0 {
		item.LeadTimeMinutes = int(it.LeadTime)
	}
	if len(it.Payload.Participants) > 0 {
		item.Participants = it.Payload.Participants
	}

	var anchor *temporal.ResolvedTime
	switch {
	case it.Anchor != nil:
		anchor = it.Anchor
	case item.Anchor != nil:
		anchor = &temporal.ResolvedTime{Instant: *item.Anchor, Timezone: item.Timezone, IsAllDay: item.IsAllDay}
	}
	var plan *recur.Plan
	if anchor != nil {
		p, err := recur.Expand(*anchor, item.Recurrence, recur.LeadTime(item.LeadTimeMinutes))
		if err != nil {
			return Reply{Outcome: OutcomeClarifyTime, Item: item, Err: err}
		}
		plan = &p
		item.Anchor = &p.Anchor
		item.IsAllDay = anchor.IsAllDay
		if anchor.Timezone != "" {
			item.Timezone = anchor.Timezone
		}
	}
	if err := e.items.Update(ctx, item); err != nil {
		return Reply{Outcome: OutcomeFailed, Item: item, Err: err}
	}
	if plan == nil {
		return Reply{Outcome: OutcomeUpdated, Item: item}
	}

	payload, err := payloadFor(item, locale)
	if err != nil {
		return Reply{Outcome: OutcomeFailed, Item: item, Err: err}
	}
	req := schedule.RequestFromPlan(owner, item.ID, string(item.Kind), item.Timezone, *plan, payload)
	current, err := e.pendingJob(ctx, owner, item.ID)
	if err != nil {
		return Reply{Outcome: OutcomeFailed, Item: item, Err: err}
	}
	var job *schedule.Job
	if current != nil {
		job, err = e.jobs.Reschedule(ctx, current.ID, req)
	} else {
		job, err = e.jobs.Schedule(ctx, req)
	}
	if err != nil {
		return Reply{Outcome: OutcomeFailed, Item: item, Err: err}
	}
	return Reply{Outcome: OutcomeUpdated, Item: item, Job: job}
}

func (e *Engine) pendingJob(ctx context.Context, owner, itemID string) (*schedule.Job, error) {
	jobs, err := e.jobs.Pending(ctx, owner)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.ItemID == itemID {
			return j, nil
		}
	}
	return nil, nil
}

func (e *Engine) delete(ctx context.Context, owner string, it *intent.StructuredIntent) Reply {
	item, err := e.items.Get(ctx, owner, it.TargetRef)
	if err != nil {
		return Reply{Outcome: OutcomeFailed, Err: err}
	}
	// Jobs go first: a failed cancel leaves the item and its reminders as
	// they were, never a reminder for a deleted item.
	if _, err := e.jobs.CancelItem(ctx, item.ID); err != nil {
		return Reply{Outcome: OutcomeFailed, Item: item, Err: err}
	}
	if err := e.items.Delete(ctx, owner, item.ID); err != nil {
		return Reply{Outcome: OutcomeFailed, Item: item, Err: err}
	}
	return Reply{Outcome: OutcomeDeleted, Item: item}
}

// list shows items with a pending reminder, soonest first, followed by
// untimed items. Items whose series has ended are left out.
func (e *Engine) list(ctx context.Context, owner string, kind intent.Object) Reply {
	items, err := e.items.List(ctx, owner, kind)
	if err != nil {
		return Reply{Outcome: OutcomeFailed, Err: err}
	}
	jobs, err := e.jobs.Pending(ctx, owner)
	if err != nil {
		return Reply{Outcome: OutcomeFailed, Err: err}
	}
	next := map[string]time.Time{}
	for _, j := range jobs {
		if t, ok := next[j.ItemID]; !ok || j.FireAt.Before(t) {
			next[j.ItemID] = j.FireAt
		}
	}

	var entries []Entry
	for _, item := range items {
		if t, ok := next[item.ID]; ok {
			entries = append(entries, Entry{Item: item, Next: &t})
		} else if item.Anchor == nil {
			entries = append(entries, Entry{Item: item})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Next, entries[j].Next
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.Before(*b)
	})
	return Reply{Outcome: OutcomeListed, Entries: entries}
}
