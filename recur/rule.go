// Package recur turns recurrence and lead-time phrasing into a Rule and a
// LeadTime, and expands them into concrete fire instants.
package recur

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teranos/yoman/errors"
)

// Frequency is the tag of the recurrence encoding.
type Frequency string

const (
	OneShot Frequency = "one-shot"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	// Custom repeats every Interval hours.
	Custom Frequency = "custom"
)

// Rule is a recurrence rule. At most one of Until and Count is set.
type Rule struct {
	Frequency Frequency
	Interval  int
	ByWeekday []time.Weekday
	Until     *time.Time
	// Count is the total number of occurrences including the first; 0
	// means unbounded.
	Count int
}

// Recurring reports whether r produces more than one occurrence.
func (r *Rule) Recurring() bool {
	return r != nil && r.Frequency != OneShot && r.Count != 1
}

// Validate checks the structural constraints of r.
func (r *Rule) Validate() error {
	if r == nil {
		return nil
	}
	switch r.Frequency {
	case OneShot, Daily, Weekly, Monthly, Custom:
	default:
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown frequency %q", r.Frequency)
	}
	if r.Interval <= 0 {
		return errors.Wrapf(errors.ErrInvalidRequest, "interval must be positive, got %d", r.Interval)
	}
	if r.Until != nil && r.Count > 0 {
		return errors.WithHint(
			errors.Wrap(errors.ErrInvalidRequest, "rule has both until and count"),
			"a series ends either at a date or after a number of occurrences")
	}
	if r.Count < 0 {
		return errors.Wrapf(errors.ErrInvalidRequest, "count must not be negative, got %d", r.Count)
	}
	if len(r.ByWeekday) > 0 && r.Frequency != Weekly {
		return errors.Wrapf(errors.ErrInvalidRequest, "weekdays only apply to weekly rules, not %s", r.Frequency)
	}
	return nil
}

func (r *Rule) weekdays() []time.Weekday {
	days := append([]time.Weekday(nil), r.ByWeekday...)
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	out := days[:0]
	for i, d := range days {
		if i == 0 || d != days[i-1] {
			out = append(out, d)
		}
	}
	return out
}

func (r *Rule) String() string {
	if r == nil {
		return string(OneShot)
	}
	var b strings.Builder
	b.WriteString(string(r.Frequency))
	if r.Interval > 1 {
		fmt.Fprintf(&b, "/%d", r.Interval)
	}
	if len(r.ByWeekday) > 0 {
		names := make([]string, 0, len(r.ByWeekday))
		for _, d := range r.weekdays() {
			names = append(names, weekdayCodes[d])
		}
		fmt.Fprintf(&b, " on %s", strings.Join(names, ","))
	}
	if r.Until != nil {
		fmt.Fprintf(&b, " until %s", r.Until.Format(time.RFC3339))
	}
	if r.Count > 0 {
		fmt.Fprintf(&b, " x%d", r.Count)
	}
	return b.String()
}

var weekdayCodes = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

func weekdayFromCode(code string) (time.Weekday, bool) {
	for i, c := range weekdayCodes {
		if c == code {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

// wireRule is the stored form: a frequency tag plus its parameters.
type wireRule struct {
	Freq      Frequency  `json:"freq"`
	Interval  int        `json:"interval,omitempty"`
	ByWeekday []string   `json:"by_weekday,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
	Count     int        `json:"count,omitempty"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	w := wireRule{Freq: r.Frequency, Until: r.Until, Count: r.Count}
	if r.Interval > 1 {
		w.Interval = r.Interval
	}
	for _, d := range r.weekdays() {
		w.ByWeekday = append(w.ByWeekday, weekdayCodes[d])
	}
	return json.Marshal(w)
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var w wireRule
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "decode recurrence rule")
	}
	out := Rule{Frequency: w.Freq, Interval: w.Interval, Until: w.Until, Count: w.Count}
	if out.Interval == 0 {
		out.Interval = 1
	}
	for _, code := range w.ByWeekday {
		d, ok := weekdayFromCode(code)
		if !ok {
			return errors.Wrapf(errors.ErrInvalidRequest, "unknown weekday %q", code)
		}
		out.ByWeekday = append(out.ByWeekday, d)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*r = out
	return nil
}

// Encode returns the stored form of r, or "" for nil.
func Encode(r *Rule) (string, error) {
	if r == nil {
		return "", nil
	}
	if err := r.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", errors.Wrap(err, "encode recurrence rule")
	}
	return string(b), nil
}

// Decode parses the stored form produced by Encode. "" decodes to nil.
func Decode(s string) (*Rule, error) {
	if s == "" {
		return nil, nil
	}
	var r Rule
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, err
	}
	return &r, nil
}
