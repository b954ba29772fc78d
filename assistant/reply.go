package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/yoman/am/geotime"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/intent"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/pulse/schedule"
)

// phrases holds the fixed strings of each locale.
type phrases struct {
	scheduled, created, updated, deleted string
	recurring, empty, listHeader         string
	draft, ambiguous, clarify, unknown   string
	rateLimited, failed, at              string
	untitled                             map[intent.Object]string
	reminder                             map[string]string
	kinds                                map[intent.Kind]string
}

var hebrew = phrases{
	scheduled:   "✅ קבעתי: %s, %s",
	created:     "✅ הוספתי: %s",
	updated:     "✏️ עדכנתי: %s",
	deleted:     "🗑️ מחקתי: %s",
	recurring:   " (חוזר)",
	empty:       "אין לך כלום ברשימה.",
	listHeader:  "📋 הרשימה שלך:",
	draft:       "✉️ טיוטה ל%s:\n%s",
	ambiguous:   "לא בטוח למה התכוונת. %s?",
	clarify:     "לא הבנתי מתי. מתי לקבוע?",
	unknown:     "סליחה, לא הבנתי.",
	rateLimited: "יותר מדי בקשות כרגע, נסה שוב בעוד דקה.",
	failed:      "משהו השתבש, נסה שוב.",
	at:          "%s בשעה %s",
	untitled: map[intent.Object]string{
		intent.ObjectEvent:    "אירוע",
		intent.ObjectReminder: "תזכורת",
		intent.ObjectTask:     "משימה",
	},
	reminder: map[string]string{
		string(intent.ObjectEvent):    "📅 תזכורת לאירוע: ",
		string(intent.ObjectReminder): "⏰ תזכורת: ",
		string(intent.ObjectTask):     "📝 משימה: ",
	},
	kinds: map[intent.Kind]string{
		intent.CreateEvent:    "לקבוע אירוע",
		intent.CreateReminder: "לקבוע תזכורת",
		intent.CreateTask:     "להוסיף משימה",
		intent.UpdateEvent:    "לשנות אירוע",
		intent.UpdateReminder: "לשנות תזכורת",
		intent.UpdateTask:     "לשנות משימה",
		intent.DeleteEvent:    "למחוק אירוע",
		intent.DeleteReminder: "למחוק תזכורת",
		intent.DeleteTask:     "למחוק משימה",
		intent.ListEvents:     "להציג אירועים",
		intent.ListReminders:  "להציג תזכורות",
		intent.ListTasks:      "להציג משימות",
		intent.ListAll:        "להציג הכל",
		intent.DraftMessage:   "לנסח הודעה",
	},
}

var english = phrases{
	scheduled:   "✅ Scheduled: %s, %s",
	created:     "✅ Added: %s",
	updated:     "✏️ Updated: %s",
	deleted:     "🗑️ Deleted: %s",
	recurring:   " (repeats)",
	empty:       "Your list is empty.",
	listHeader:  "📋 Your list:",
	draft:       "✉️ Draft to %s:\n%s",
	ambiguous:   "I'm not sure what you meant. %s?",
	clarify:     "I couldn't tell when. When should it be?",
	unknown:     "Sorry, I didn't understand.",
	rateLimited: "Too many requests right now, try again in a minute.",
	failed:      "Something went wrong, please try again.",
	at:          "%s at %s",
	untitled: map[intent.Object]string{
		intent.ObjectEvent:    "event",
		intent.ObjectReminder: "reminder",
		intent.ObjectTask:     "task",
	},
	reminder: map[string]string{
		string(intent.ObjectEvent):    "📅 Upcoming: ",
		string(intent.ObjectReminder): "⏰ Reminder: ",
		string(intent.ObjectTask):     "📝 Task: ",
	},
	kinds: map[intent.Kind]string{
		intent.CreateEvent:    "add an event",
		intent.CreateReminder: "set a reminder",
		intent.CreateTask:     "add a task",
		intent.UpdateEvent:    "change an event",
		intent.UpdateReminder: "change a reminder",
		intent.UpdateTask:     "change a task",
		intent.DeleteEvent:    "delete an event",
		intent.DeleteReminder: "delete a reminder",
		intent.DeleteTask:     "delete a task",
		intent.ListEvents:     "list events",
		intent.ListReminders:  "list reminders",
		intent.ListTasks:      "list tasks",
		intent.ListAll:        "list everything",
		intent.DraftMessage:   "draft a message",
	},
}

func phrasesFor(locale string) phrases {
	if locale == "en" {
		return english
	}
	return hebrew
}

// render produces the chat answer for reply.
func render(r Reply, locale string) string {
	p := phrasesFor(locale)
	switch r.Outcome {
	case OutcomeScheduled:
		s := fmt.Sprintf(p.scheduled, p.title(r.Item), p.when(r.Item.Anchor, r.Item.Timezone, r.Item.IsAllDay))
		if r.Item.Recurrence.Recurring() {
			s += p.recurring
		}
		return s
	case OutcomeCreated:
		return fmt.Sprintf(p.created, p.title(r.Item))
	case OutcomeUpdated:
		s := fmt.Sprintf(p.updated, p.title(r.Item))
		if r.Item.Anchor != nil {
			s += ", " + p.when(r.Item.Anchor, r.Item.Timezone, r.Item.IsAllDay)
		}
		return s
	case OutcomeDeleted:
		return fmt.Sprintf(p.deleted, p.title(r.Item))
	case OutcomeListed:
		if len(r.Entries) == 0 {
			return p.empty
		}
		lines := []string{p.listHeader}
		for _, e := range r.Entries {
			line := "• " + p.title(e.Item)
			if e.Next != nil {
				line += " - " + p.when(e.Next, e.Item.Timezone, e.Item.IsAllDay)
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	case OutcomeDrafted:
		if r.Intent == nil {
			return p.failed
		}
		return fmt.Sprintf(p.draft, strings.Join(r.Intent.Payload.Participants, ", "), r.Intent.Payload.Body)
	case OutcomeAmbiguous:
		var options []string
		for _, c := range r.Candidates {
			if s, ok := p.kinds[c.Kind]; ok {
				options = append(options, s)
			}
		}
		if len(options) == 0 {
			return p.unknown
		}
		return fmt.Sprintf(p.ambiguous, strings.Join(options, " / "))
	case OutcomeClarifyTime:
		return p.clarify
	case OutcomeUnrecognized:
		return p.unknown
	case OutcomeRateLimited:
		return p.rateLimited
	}
	return p.failed
}

func (p phrases) title(item *Item) string {
	if item == nil {
		return ""
	}
	if item.Title != "" {
		return item.Title
	}
	return p.untitled[item.Kind]
}

// when formats t in tz as "15/10 at 16:00", or just the date for all-day
// items.
func (p phrases) when(t *time.Time, tz string, allDay bool) string {
	if t == nil {
		return ""
	}
	local := t.UTC()
	if loc, err := geotime.Load(tz); err == nil {
		local = t.In(loc)
	}
	date := local.Format("02/01")
	if allDay {
		return date
	}
	return fmt.Sprintf(p.at, date, local.Format("15:04"))
}

// FormatReminder renders a job created by the engine into the message its
// owner receives. It implements schedule.Formatter.
func FormatReminder(job *schedule.Job) (string, error) {
	var pl reminderPayload
	if err := json.Unmarshal(job.Payload, &pl); err != nil {
		return "", errors.Wrapf(err, "decode payload of job %s", job.ID)
	}
	p := phrasesFor(pl.Locale)
	kind := pl.Kind
	if kind == "" {
		kind = job.ItemKind
	}
	title := pl.Title
	if title == "" {
		title = p.untitled[intent.Object(kind)]
	}
	prefix, ok := p.reminder[kind]
	if !ok {
		prefix = p.reminder[string(intent.ObjectReminder)]
	}

	s := prefix + title
	if job.LeadTimeMinutes > 0 {
		s += " (" + p.when(&job.Anchor, job.Timezone, false) + ")"
	}
	if pl.Body != "" {
		s += "\n" + pl.Body
	}
	return s, nil
}

var _ schedule.Formatter = FormatReminder

// LogReporter reports failed jobs to the operator log, with the hints and
// details carried by the error.
type LogReporter struct {
	log *zap.SugaredLogger
}

// NewLogReporter creates a reporter writing to log.
func NewLogReporter(log *zap.SugaredLogger) *LogReporter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LogReporter{log: log}
}

// JobFailed implements schedule.FailureReporter.
func (r *LogReporter) JobFailed(ctx context.Context, job *schedule.Job, err error) {
	fields := []interface{}{
		logger.FieldJobID, job.ID,
		logger.FieldUserID, job.OwnerUserID,
		logger.FieldItemID, job.ItemID,
		logger.FieldAttempts, job.Attempts,
		logger.FieldError, err.Error(),
	}
	if hint := errors.FlattenHints(err); hint != "" {
		fields = append(fields, logger.FieldHint, hint)
	}
	if details := errors.FlattenDetails(err); details != "" {
		fields = append(fields, "details", details)
	}
	logger.FromContext(ctx, r.log).Errorw("Reminder could not be delivered", fields...)
}

var _ schedule.FailureReporter = (*LogReporter)(nil)
