// Package intent maps an utterance and its resolved time to one of a closed
// set of structured intents. It scores lexical cues in Hebrew and English,
// refuses to guess between close candidates, and only turns a request into
// an update or delete when the item it refers to can be found.
package intent

import (
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/recur"
	"github.com/teranos/yoman/temporal"
)

// Action is the verb family of an utterance.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionList   Action = "list"
	ActionDraft  Action = "draft"
)

// Object is the kind of item an utterance is about.
type Object string

const (
	ObjectNone     Object = ""
	ObjectEvent    Object = "event"
	ObjectReminder Object = "reminder"
	ObjectTask     Object = "task"
	ObjectMessage  Object = "message"
)

// Items are the objects the scheduler stores.
var Items = []Object{ObjectEvent, ObjectReminder, ObjectTask}

// Kind is the closed set of intents.
type Kind string

const (
	CreateEvent    Kind = "create-event"
	UpdateEvent    Kind = "update-event"
	DeleteEvent    Kind = "delete-event"
	ListEvents     Kind = "list-event"
	CreateReminder Kind = "create-reminder"
	UpdateReminder Kind = "update-reminder"
	DeleteReminder Kind = "delete-reminder"
	ListReminders  Kind = "list-reminder"
	CreateTask     Kind = "create-task"
	UpdateTask     Kind = "update-task"
	DeleteTask     Kind = "delete-task"
	ListTasks      Kind = "list-task"
	ListAll        Kind = "list"
	DraftMessage   Kind = "draft-message"
)

var kinds = map[Kind][2]string{
	CreateEvent:    {string(ActionCreate), string(ObjectEvent)},
	UpdateEvent:    {string(ActionUpdate), string(ObjectEvent)},
	DeleteEvent:    {string(ActionDelete), string(ObjectEvent)},
	ListEvents:     {string(ActionList), string(ObjectEvent)},
	CreateReminder: {string(ActionCreate), string(ObjectReminder)},
	UpdateReminder: {string(ActionUpdate), string(ObjectReminder)},
	DeleteReminder: {string(ActionDelete), string(ObjectReminder)},
	ListReminders:  {string(ActionList), string(ObjectReminder)},
	CreateTask:     {string(ActionCreate), string(ObjectTask)},
	UpdateTask:     {string(ActionUpdate), string(ObjectTask)},
	DeleteTask:     {string(ActionDelete), string(ObjectTask)},
	ListTasks:      {string(ActionList), string(ObjectTask)},
	ListAll:        {string(ActionList), string(ObjectNone)},
	DraftMessage:   {string(ActionDraft), string(ObjectMessage)},
}

// KindOf returns the kind for an action on an object.
func KindOf(a Action, o Object) (Kind, bool) {
	for k, ao := range kinds {
		if ao[0] == string(a) && ao[1] == string(o) {
			return k, true
		}
	}
	return "", false
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, bool) {
	_, ok := kinds[Kind(s)]
	return Kind(s), ok
}

// Action returns the verb family of k.
func (k Kind) Action() Action { return Action(kinds[k][0]) }

// Object returns the item kind k acts on.
func (k Kind) Object() Object { return Object(kinds[k][1]) }

// Outcome tags a classification result.
type Outcome string

const (
	OutcomeIntent       Outcome = "intent"
	OutcomeAmbiguous    Outcome = "ambiguous"
	OutcomeUnrecognized Outcome = "unrecognized"
)

// Payload holds the free-form fields of an intent.
type Payload struct {
	Title        string   `json:"title,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Body         string   `json:"body,omitempty"`
}

// StructuredIntent is a disambiguated request.
type StructuredIntent struct {
	Kind       Kind                   `json:"kind"`
	TargetRef  string                 `json:"target_ref,omitempty"`
	Anchor     *temporal.ResolvedTime `json:"anchor,omitempty"`
	Recurrence *recur.Rule            `json:"recurrence,omitempty"`
	LeadTime   recur.LeadTime         `json:"lead_time_minutes,omitempty"`
	Payload    Payload                `json:"payload"`
}

// Validate checks that updates and deletes name their target and that
// nothing else does.
func (s StructuredIntent) Validate() error {
	if _, ok := kinds[s.Kind]; !ok {
		return errors.NewInvalidRequestError("unknown intent kind %q", s.Kind)
	}
	switch s.Kind.Action() {
	case ActionUpdate, ActionDelete:
		if s.TargetRef == "" {
			return errors.NewInvalidRequestError("%s requires a target item", s.Kind)
		}
	default:
		if s.TargetRef != "" {
			return errors.NewInvalidRequestError("%s must not carry a target item", s.Kind)
		}
	}
	if s.LeadTime < 0 {
		return errors.NewInvalidRequestError("negative lead time %d", s.LeadTime)
	}
	return nil
}

// Candidate is one scored interpretation.
type Candidate struct {
	Kind  Kind    `json:"kind"`
	Score float64 `json:"score"`
}

// Result is what Classify returns. Intent is set only for OutcomeIntent;
// Candidates lists the closest interpretations for a clarification prompt.
type Result struct {
	Outcome    Outcome           `json:"outcome"`
	Intent     *StructuredIntent `json:"intent,omitempty"`
	Candidates []Candidate       `json:"candidates,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}
