package recur

import (
	"time"

	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/temporal"
)

// LeadTime is how many minutes before its anchor a reminder fires.
type LeadTime int

func (l LeadTime) Duration() time.Duration {
	return time.Duration(l) * time.Minute
}

// AllDayHour is the local hour at which all-day anchors fire.
const AllDayHour = 9

// Plan is an expanded intent: the first occurrence and what follows it.
type Plan struct {
	Anchor time.Time // first occurrence, local to the anchor's zone
	FireAt time.Time // Anchor minus Lead
	Rule   *Rule     // nil for one-shot
	Lead   LeadTime
}

// Recurring reports whether the plan has more than one occurrence.
func (p Plan) Recurring() bool {
	return p.Rule.Recurring()
}

// Next returns up to n fire instants strictly after after.
func (p Plan) Next(after time.Time, n int) []time.Time {
	occ := p.Rule.Next(p.Anchor, after.Add(p.Lead.Duration()), n)
	for i := range occ {
		occ[i] = occ[i].Add(-p.Lead.Duration())
	}
	return occ
}

// Expand applies rule and lead to a resolved anchor. All-day anchors fire
// at AllDayHour local time; weekly rules move the anchor to the first
// listed weekday on or after it.
func Expand(anchor temporal.ResolvedTime, rule *Rule, lead LeadTime) (Plan, error) {
	if anchor.IsZero() {
		return Plan{}, errors.Wrap(errors.ErrInvalidRequest, "anchor has no instant")
	}
	if lead < 0 {
		return Plan{}, errors.Wrapf(errors.ErrInvalidRequest, "lead time must not be negative, got %d", lead)
	}
	if err := rule.Validate(); err != nil {
		return Plan{}, err
	}

	at := anchor.Local()
	if anchor.IsAllDay {
		y, m, d := at.Date()
		at = time.Date(y, m, d, AllDayHour, 0, 0, 0, at.Location())
	}
	if rule != nil && rule.Frequency == OneShot {
		rule = nil
	}
	if rule.Recurring() {
		at = rule.First(at)
	}
	return Plan{
		Anchor: at,
		FireAt: at.Add(-lead.Duration()),
		Rule:   rule,
		Lead:   lead,
	}, nil
}
