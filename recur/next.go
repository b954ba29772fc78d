package recur

import "time"

// Upper bound on candidates examined per query. Unbounded series skip
// ahead to the query point, so this only trips on malformed rules.
const maxScan = 1 << 20

// Next returns up to n occurrences of the series that starts at anchor,
// strictly after after. Count and Until are honoured relative to anchor,
// which counts as the first occurrence when it matches the rule. A nil or
// one-shot rule yields anchor alone.
func (r *Rule) Next(anchor, after time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	var out []time.Time
	r.each(anchor, after, func(t time.Time) bool {
		if t.After(after) {
			out = append(out, t)
		}
		return len(out) < n
	})
	return out
}

// Successor returns the occurrence following current, where current is
// occurrence number index (1-based) of its series.
func (r *Rule) Successor(current time.Time, index int) (time.Time, bool) {
	if !r.Recurring() {
		return time.Time{}, false
	}
	if r.Count > 0 && index >= r.Count {
		return time.Time{}, false
	}
	open := *r
	open.Count = 0
	next := open.Next(current, current, 1)
	if len(next) == 0 {
		return time.Time{}, false
	}
	return next[0], true
}

// First returns the first occurrence at or after anchor. For weekly rules
// with weekdays this is the first listed weekday on or after anchor's day.
func (r *Rule) First(anchor time.Time) time.Time {
	var first time.Time
	r.each(anchor, time.Time{}, func(t time.Time) bool {
		first = t
		return false
	})
	if first.IsZero() {
		return anchor
	}
	return first
}

// each feeds occurrences in order to yield until it returns false, the
// series ends, or maxScan candidates were examined. hint lets unbounded
// series start near the point of interest.
func (r *Rule) each(anchor, hint time.Time, yield func(time.Time) bool) {
	if r == nil || r.Frequency == OneShot {
		yield(anchor)
		return
	}
	if r.Validate() != nil {
		return
	}

	emitted := 0
	emit := func(t time.Time) bool {
		if r.Until != nil && t.After(*r.Until) {
			return false
		}
		emitted++
		if !yield(t) {
			return false
		}
		return r.Count == 0 || emitted < r.Count
	}

	skip := 0
	if r.Count == 0 && hint.After(anchor) {
		skip = r.skipPeriods(anchor, hint)
	}

	y, m, d := anchor.Date()
	hh, mm, ss := anchor.Clock()
	loc := anchor.Location()
	ns := anchor.Nanosecond()

	switch r.Frequency {
	case Daily:
		for k := skip; k < skip+maxScan; k++ {
			if !emit(time.Date(y, m, d+k*r.Interval, hh, mm, ss, ns, loc)) {
				return
			}
		}
	case Custom:
		step := time.Duration(r.Interval) * time.Hour
		for k := skip; k < skip+maxScan; k++ {
			if !emit(anchor.Add(time.Duration(k) * step)) {
				return
			}
		}
	case Monthly:
		for k := skip; k < skip+maxScan; k++ {
			t := time.Date(y, m+time.Month(k*r.Interval), d, hh, mm, ss, ns, loc)
			if t.Day() != d {
				// The month has no such day.
				continue
			}
			if !emit(t) {
				return
			}
		}
	case Weekly:
		days := r.weekdays()
		if len(days) == 0 {
			days = []time.Weekday{anchor.Weekday()}
		}
		weekStart := d - int(anchor.Weekday())
		for k := skip; k < skip+maxScan; k++ {
			for _, wd := range days {
				t := time.Date(y, m, weekStart+k*r.Interval*7+int(wd), hh, mm, ss, ns, loc)
				if t.Before(anchor) {
					continue
				}
				if !emit(t) {
					return
				}
			}
		}
	}
}

// skipPeriods estimates how many whole periods lie between anchor and
// hint, leaving one period of slack for DST and month lengths.
func (r *Rule) skipPeriods(anchor, hint time.Time) int {
	gap := hint.Sub(anchor)
	var period time.Duration
	switch r.Frequency {
	case Daily:
		period = 24 * time.Hour
	case Weekly:
		period = 7 * 24 * time.Hour
	case Monthly:
		period = 31 * 24 * time.Hour
	case Custom:
		period = time.Hour
	default:
		return 0
	}
	k := int(gap/(period*time.Duration(r.Interval))) - 1
	if k < 0 {
		return 0
	}
	return k
}
