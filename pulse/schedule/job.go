// Package schedule persists reminder firings as durable jobs and dispatches
// them through the transport circuit breaker when they come due.
package schedule

import (
	"encoding/hex"
	"strconv"
	"time"

	"lukechampine.com/blake3"

	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/recur"
)

// State is where a job is in its lifecycle.
type State string

const (
	StatePending   State = "pending"   // waiting for its due time, or for a retry
	StateFired     State = "fired"     // delivered; a recurring job has a pending successor
	StateCancelled State = "cancelled" // removed by the user or replaced by a reschedule
	StateFailed    State = "failed"    // attempts exhausted, needs an operator
)

// Job is one firing of an item.
type Job struct {
	ID                string // idempotency key, see Key
	OwnerUserID       string
	ItemID            string
	ItemKind          string
	FireAt            time.Time // Anchor minus the lead time
	DueAt             time.Time // next claim instant; moves forward on backoff
	Anchor            time.Time
	LeadTimeMinutes   int
	Recurrence        *recur.Rule
	RecurrenceVersion int
	Occurrence        int // 1-based position in the series
	Timezone          string
	Payload           []byte // JSON handed to the formatter
	State             State
	Attempts          int
	LastError         string
	ClaimedBy         string
	ClaimedUntil      *time.Time
	FiredAt           *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Recurring reports whether firing j schedules a successor.
func (j *Job) Recurring() bool {
	return j.Recurrence.Recurring()
}

// Request describes a firing to schedule.
type Request struct {
	OwnerUserID string
	ItemID      string
	ItemKind    string
	Anchor      time.Time
	Lead        recur.LeadTime
	Rule        *recur.Rule
	Timezone    string
	Payload     []byte
	// Set by Reschedule; callers leave them zero.
	RecurrenceVersion int
	Occurrence        int
}

// RequestFromPlan builds the request for the first occurrence of plan.
func RequestFromPlan(owner, itemID, itemKind, tz string, plan recur.Plan, payload []byte) Request {
	return Request{
		OwnerUserID: owner,
		ItemID:      itemID,
		ItemKind:    itemKind,
		Anchor:      plan.Anchor,
		Lead:        plan.Lead,
		Rule:        plan.Rule,
		Timezone:    tz,
		Payload:     payload,
	}
}

// FireAt is when the request's occurrence fires.
func (r Request) FireAt() time.Time {
	return r.Anchor.Add(-r.Lead.Duration())
}

func (r Request) validate() error {
	switch {
	case r.OwnerUserID == "":
		return errors.NewInvalidRequestError("job needs an owner")
	case r.ItemID == "":
		return errors.NewInvalidRequestError("job needs an item id")
	case r.Anchor.IsZero():
		return errors.NewInvalidRequestError("job needs an anchor time")
	case r.Lead < 0:
		return errors.NewInvalidRequestError("negative lead time %d", r.Lead)
	case r.Timezone == "":
		return errors.NewInvalidRequestError("job needs a timezone")
	}
	return r.Rule.Validate()
}

// keyDomain separates job keys from any other blake3 use of the same
// inputs.
const keyDomain = "yoman/scheduled-job/v1"

// Key derives the idempotency key of the firing of itemID at fireAt under
// recurrence version. The same three inputs always give the same key, so
// scheduling a firing twice stores it once.
func Key(itemID string, fireAt time.Time, version int) string {
	var b []byte
	b = append(b, keyDomain...)
	b = append(b, 0)
	b = append(b, itemID...)
	b = append(b, 0)
	b = append(b, fireAt.UTC().Format(time.RFC3339Nano)...)
	b = append(b, 0)
	b = strconv.AppendInt(b, int64(version), 10)
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

// newJob materialises a request as a pending job.
func newJob(r Request, now time.Time) *Job {
	occurrence := r.Occurrence
	if occurrence == 0 {
		occurrence = 1
	}
	fireAt := r.FireAt()
	return &Job{
		ID:                Key(r.ItemID, fireAt, r.RecurrenceVersion),
		OwnerUserID:       r.OwnerUserID,
		ItemID:            r.ItemID,
		ItemKind:          r.ItemKind,
		FireAt:            fireAt,
		DueAt:             fireAt,
		Anchor:            r.Anchor,
		LeadTimeMinutes:   int(r.Lead),
		Recurrence:        r.Rule,
		RecurrenceVersion: r.RecurrenceVersion,
		Occurrence:        occurrence,
		Timezone:          r.Timezone,
		Payload:           r.Payload,
		State:             StatePending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Outcome is the result of one dispatch attempt.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeBlocked Outcome = "blocked" // circuit open
	OutcomeError   Outcome = "error"   // transport refused
	OutcomeAborted Outcome = "aborted" // cancelled before send, or shutdown
)

// Attempt is one row of the dispatch log.
type Attempt struct {
	ID          string
	JobID       string
	Attempt     int
	Outcome     Outcome
	Error       string
	AttemptedAt time.Time
}
