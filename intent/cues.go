package intent

import (
	"strings"

	"github.com/teranos/yoman/temporal"
)

// cue is one lexical signal. A word may push both an action and an object
// ("remind" is a create verb and frames a reminder).
type cue struct {
	action       Action
	actionWeight float64
	object       Object
	objectWeight float64
}

func act(a Action, w float64) cue { return cue{action: a, actionWeight: w} }
func obj(o Object, w float64) cue { return cue{object: o, objectWeight: w} }

// phrases are matched on whole normalised words before single words.
var phrases = map[string]cue{
	"remind me":      {action: ActionCreate, actionWeight: 1, object: ObjectReminder, objectWeight: 1.5},
	"set a reminder": {action: ActionCreate, actionWeight: 1, object: ObjectReminder, objectWeight: 1.5},
	"to do":          obj(ObjectTask, 1),
	"to-do list":     obj(ObjectTask, 1),
	"what do i have": act(ActionList, 1),
	"what's on":      act(ActionList, 1),
	"whats on":       act(ActionList, 1),
	"show me":        act(ActionList, 1),
	"do i have":      act(ActionList, 1),
	"תזכיר לי":       {action: ActionCreate, actionWeight: 1, object: ObjectReminder, objectWeight: 1.5},
	"תזכירי לי":      {action: ActionCreate, actionWeight: 1, object: ObjectReminder, objectWeight: 1.5},
	"מה יש לי":       act(ActionList, 1),
	"מה יש":          act(ActionList, 1),
	"תראה לי":        act(ActionList, 1),
	"תראי לי":        act(ActionList, 1),
}

// words are looked up with Hebrew prefixes stripped (see temporal.Candidates).
var words = map[string]cue{
	// create
	"add":      act(ActionCreate, 1),
	"create":   act(ActionCreate, 1),
	"schedule": act(ActionCreate, 1),
	"book":     act(ActionCreate, 1),
	"set":      act(ActionCreate, 0.5),
	"new":      act(ActionCreate, 0.5),
	"plan":     act(ActionCreate, 0.5),
	"remind":   {action: ActionCreate, actionWeight: 1, object: ObjectReminder, objectWeight: 1},
	"הוסף":     act(ActionCreate, 1),
	"הוסיף":    act(ActionCreate, 1),
	"תוסיף":    act(ActionCreate, 1),
	"תוסיפי":   act(ActionCreate, 1),
	"קבע":      act(ActionCreate, 1),
	"תקבע":     act(ActionCreate, 1),
	"תקבעי":    act(ActionCreate, 1),
	"קבוע":     act(ActionCreate, 1),
	"צור":      act(ActionCreate, 1),
	"תיצור":    act(ActionCreate, 1),
	"רשום":     act(ActionCreate, 1),
	"תרשום":    act(ActionCreate, 1),
	"חדש":      act(ActionCreate, 0.5),
	"חדשה":     act(ActionCreate, 0.5),
	"תזכיר":    {action: ActionCreate, actionWeight: 1, object: ObjectReminder, objectWeight: 1},
	"תזכירי":   {action: ActionCreate, actionWeight: 1, object: ObjectReminder, objectWeight: 1},
	"הזכיר":    {action: ActionCreate, actionWeight: 1, object: ObjectReminder, objectWeight: 1},

	// update
	"change":     act(ActionUpdate, 1),
	"move":       act(ActionUpdate, 1),
	"update":     act(ActionUpdate, 1),
	"reschedule": act(ActionUpdate, 1),
	"edit":       act(ActionUpdate, 1),
	"postpone":   act(ActionUpdate, 1),
	"push":       act(ActionUpdate, 0.5),
	"shift":      act(ActionUpdate, 0.5),
	"תשנה":       act(ActionUpdate, 1),
	"שנות":       act(ActionUpdate, 1),
	"הזז":        act(ActionUpdate, 1),
	"תזיז":       act(ActionUpdate, 1),
	"הזיז":       act(ActionUpdate, 1),
	"דחה":        act(ActionUpdate, 1),
	"תדחה":       act(ActionUpdate, 1),
	"דחות":       act(ActionUpdate, 1),
	"עדכן":       act(ActionUpdate, 1),
	"תעדכן":      act(ActionUpdate, 1),

	// delete
	"delete": act(ActionDelete, 1),
	"cancel": act(ActionDelete, 1),
	"remove": act(ActionDelete, 1),
	"drop":   act(ActionDelete, 0.5),
	"clear":  act(ActionDelete, 0.5),
	"מחק":    act(ActionDelete, 1),
	"תמחק":   act(ActionDelete, 1),
	"מחוק":   act(ActionDelete, 1),
	"בטל":    act(ActionDelete, 1),
	"תבטל":   act(ActionDelete, 1),
	"בטלי":   act(ActionDelete, 1),
	"הסר":    act(ActionDelete, 1),
	"תסיר":   act(ActionDelete, 1),
	"הסיר":   act(ActionDelete, 1),

	// list
	"list":     act(ActionList, 1),
	"show":     act(ActionList, 1),
	"upcoming": act(ActionList, 0.5),
	"agenda":   {action: ActionList, actionWeight: 1, object: ObjectEvent, objectWeight: 0.5},
	"הצג":      act(ActionList, 1),
	"תציג":     act(ActionList, 1),
	"רשימת":    act(ActionList, 1),
	"רשימה":    act(ActionList, 0.5),

	// draft
	"draft":   act(ActionDraft, 1),
	"compose": act(ActionDraft, 1),
	"write":   act(ActionDraft, 1),
	"send":    act(ActionDraft, 0.5),
	"נסח":     act(ActionDraft, 1),
	"תנסח":    act(ActionDraft, 1),
	"תנסחי":   act(ActionDraft, 1),
	"כתוב":    act(ActionDraft, 1),
	"תכתוב":   act(ActionDraft, 1),
	"שלח":     act(ActionDraft, 0.5),
	"תשלח":    act(ActionDraft, 0.5),

	// objects
	"meeting":     obj(ObjectEvent, 1),
	"meetings":    obj(ObjectEvent, 1),
	"event":       obj(ObjectEvent, 1),
	"events":      obj(ObjectEvent, 1),
	"appointment": obj(ObjectEvent, 1),
	"calendar":    obj(ObjectEvent, 1),
	"call":        obj(ObjectEvent, 0.5),
	"dinner":      obj(ObjectEvent, 0.5),
	"lunch":       obj(ObjectEvent, 0.5),
	"party":       obj(ObjectEvent, 0.5),
	"פגישה":       obj(ObjectEvent, 1),
	"פגישות":      obj(ObjectEvent, 1),
	"אירוע":       obj(ObjectEvent, 1),
	"אירועים":     obj(ObjectEvent, 1),
	"תור":         obj(ObjectEvent, 1),
	"יומן":        obj(ObjectEvent, 1),
	"שיחה":        obj(ObjectEvent, 0.5),
	"ארוחה":       obj(ObjectEvent, 0.5),
	"reminder":    obj(ObjectReminder, 1),
	"reminders":   obj(ObjectReminder, 1),
	"alarm":       obj(ObjectReminder, 1),
	"alert":       obj(ObjectReminder, 0.5),
	"תזכורת":      obj(ObjectReminder, 1),
	"תזכורות":     obj(ObjectReminder, 1),
	"task":        obj(ObjectTask, 1),
	"tasks":       obj(ObjectTask, 1),
	"todo":        obj(ObjectTask, 1),
	"chore":       obj(ObjectTask, 0.5),
	"משימה":       obj(ObjectTask, 1),
	"משימות":      obj(ObjectTask, 1),
	"מטלה":        obj(ObjectTask, 1),
	"message":     obj(ObjectMessage, 1),
	"text":        obj(ObjectMessage, 0.5),
	"email":       obj(ObjectMessage, 1),
	"הודעה":       obj(ObjectMessage, 1),
	"מייל":        obj(ObjectMessage, 1),
}

// fillers carry no meaning for titles or lookups.
var fillers = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "me": true, "my": true,
	"please": true, "for": true, "about": true, "it": true, "that": true, "this": true,
	"i": true, "and": true, "of": true, "on": true, "at": true, "in": true,
	"לי": true, "את": true, "זה": true, "זאת": true, "בבקשה": true, "על": true,
	"של": true, "ה": true, "ל": true, "ב": true, "אותו": true, "אותה": true,
}

// participantMarkers introduce a participant list.
var participantMarkers = map[string]bool{"with": true, "עם": true}

// bodyMarkers introduce a draft's body.
var bodyMarkers = map[string]bool{"saying": true, "says": true, "that": true, "שאומרת": true, "שאומר": true, "תגיד": true}

// pronouns refer to the last item the user touched.
var pronouns = map[string]bool{"it": true, "that": true, "this": true, "זה": true, "זאת": true, "אותו": true, "אותה": true}

// splitWords returns the normalised words of s with surrounding punctuation
// trimmed and empty results dropped.
func splitWords(s string) []string {
	var out []string
	for _, f := range strings.Fields(temporal.Normalize(s)) {
		f = strings.Trim(f, ",.!?;:()[]\"'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// cueFor looks w up directly, then with Hebrew prefixes stripped.
func cueFor(w string) (cue, bool) {
	for _, c := range temporal.Candidates(w) {
		if cu, ok := words[c]; ok {
			return cu, true
		}
	}
	return cue{}, false
}

// scores is the summed evidence of one utterance. Each word counts once
// per family, and a family keeps its strongest cue.
type scores struct {
	actions  map[Action]float64
	objects  map[Object]float64
	cueWords map[int]bool
}

func (s *scores) add(c cue, at ...int) {
	if c.action != "" && c.actionWeight > s.actions[c.action] {
		s.actions[c.action] = c.actionWeight
	}
	if c.object != "" && c.objectWeight > s.objects[c.object] {
		s.objects[c.object] = c.objectWeight
	}
	for _, i := range at {
		s.cueWords[i] = true
	}
}

func scan(ws []string) *scores {
	s := &scores{
		actions:  map[Action]float64{},
		objects:  map[Object]float64{},
		cueWords: map[int]bool{},
	}
	for i := 0; i < len(ws); i++ {
		matched := false
		for n := 4; n >= 2 && !matched; n-- {
			if i+n > len(ws) {
				continue
			}
			if c, ok := phrases[strings.Join(ws[i:i+n], " ")]; ok {
				at := make([]int, n)
				for k := range at {
					at[k] = i + k
				}
				s.add(c, at...)
				i += n - 1
				matched = true
			}
		}
		if matched {
			continue
		}
		if c, ok := cueFor(ws[i]); ok {
			s.add(c, i)
		}
	}
	return s
}

// hasItemObject reports whether any event, reminder or task cue was seen.
func (s *scores) hasItemObject() bool {
	for _, o := range Items {
		if s.objects[o] > 0 {
			return true
		}
	}
	return false
}
