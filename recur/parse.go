package recur

import (
	"strings"
	"time"

	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/temporal"
)

// Extraction is everything recurrence parsing found in one utterance.
type Extraction struct {
	Rule    *Rule
	Lead    LeadTime
	HasLead bool
	// Remainder is the text without recurrence and lead-time phrases,
	// ready for the temporal parser.
	Remainder string
}

// ParseRule reads recurrence phrasing ("every Monday", "כל שבועיים עד
// 20.12", "daily 5 times"). It returns nil when the text does not repeat.
// ref and tz resolve the date of an "until" clause.
func ParseRule(text string, ref time.Time, tz string) (*Rule, error) {
	e, err := Extract(text, ref, tz)
	if err != nil {
		return nil, err
	}
	return e.Rule, nil
}

// ParseLeadTime reads lead-time phrasing ("a day before", "חצי שעה
// לפני"). ok is false when there is none, in which case the lead is 0.
func ParseLeadTime(text string) (LeadTime, bool) {
	s := newPhraseScanner(text)
	for i := range s.words {
		if lead, n := s.leadAt(i); n > 0 {
			return lead, true
		}
	}
	return 0, false
}

// Extract runs rule and lead-time parsing in one pass.
func Extract(text string, ref time.Time, tz string) (Extraction, error) {
	s := newPhraseScanner(text)
	var (
		rule      *Rule
		until     *time.Time
		count     int
		untilUsed []int
		countUsed []int
		out       Extraction
	)

	for i := 0; i < len(s.words); {
		if s.used[i] {
			i++
			continue
		}
		if r, n := s.ruleAt(i); n > 0 {
			if rule == nil {
				rule = r
			}
			s.consume(i, n)
			i += n
			continue
		}
		if untilMarkers[s.word(i)] {
			t, n, err := s.untilAt(i, ref, tz)
			if err != nil {
				return Extraction{}, err
			}
			if n > 0 {
				until = &t
				for k := i; k < i+n; k++ {
					untilUsed = append(untilUsed, k)
				}
				s.consume(i, n)
				i += n
				continue
			}
		}
		if c, ok := temporal.Count(s.word(i)); ok && c > 0 && timesWords[s.word(i+1)] {
			count = c
			countUsed = append(countUsed, i, i+1)
			s.consume(i, 2)
			i += 2
			continue
		}
		if lead, n := s.leadAt(i); n > 0 && !out.HasLead {
			out.Lead, out.HasLead = lead, true
			s.consume(i, n)
			i += n
			continue
		}
		i++
	}

	if rule == nil {
		// An end condition without a cadence is ordinary text.
		for _, k := range append(untilUsed, countUsed...) {
			s.used[k] = false
		}
	} else {
		rule.Until = until
		rule.Count = count
		if err := rule.Validate(); err != nil {
			return Extraction{}, err
		}
	}

	out.Rule = rule
	out.Remainder = s.remainder()
	return out, nil
}

type phraseScanner struct {
	words []string
	used  []bool
}

func newPhraseScanner(text string) *phraseScanner {
	var words []string
	for _, w := range strings.Fields(temporal.Normalize(text)) {
		if w = strings.Trim(w, ",;!?()"); w != "" {
			words = append(words, w)
		}
	}
	return &phraseScanner{words: words, used: make([]bool, len(words))}
}

func (s *phraseScanner) word(i int) string {
	if i < 0 || i >= len(s.words) || s.used[i] {
		return ""
	}
	return s.words[i]
}

func (s *phraseScanner) consume(i, n int) {
	for k := i; k < i+n && k < len(s.used); k++ {
		s.used[k] = true
	}
}

func (s *phraseScanner) remainder() string {
	var kept []string
	for i, w := range s.words {
		if !s.used[i] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

func (s *phraseScanner) ruleAt(i int) (*Rule, int) {
	w := s.word(i)
	if w == "" {
		return nil, 0
	}
	if c, ok := adverbs[w]; ok {
		return &Rule{Frequency: c.freq, Interval: c.interval}, 1
	}

	j := i
	if w == "on" {
		j++
	}
	if days, k := s.weekdayListAt(j, englishPluralWeekdays); k > j {
		return &Rule{Frequency: Weekly, Interval: 1, ByWeekday: days}, k - i
	}
	if _, ok := lookup(everyMarkers, w); !ok {
		return nil, 0
	}

	j = i + 1
	interval := 1
	if s.word(j) == "other" {
		interval = 2
		j++
	} else if n, ok := temporal.Count(s.word(j)); ok && n > 1 {
		interval = n
		j++
	}

	if c, ok := dualCadences[s.word(j)]; ok && interval == 1 {
		return &Rule{Frequency: c.freq, Interval: c.interval}, j + 1 - i
	}
	if days, k := s.hebrewWeekdaysAt(j); k > j && interval == 1 {
		return &Rule{Frequency: Weekly, Interval: 1, ByWeekday: days}, k - i
	}
	if days, k := s.weekdayListAt(j, englishWeekdays); k > j && interval == 1 {
		return &Rule{Frequency: Weekly, Interval: 1, ByWeekday: days}, k - i
	}
	if f, ok := unitFrequencies[s.word(j)]; ok {
		return &Rule{Frequency: f, Interval: interval}, j + 1 - i
	}
	if _, ok := lookup(dailyPeriods, s.word(j)); ok && interval == 1 {
		return &Rule{Frequency: Daily, Interval: 1}, j - i
	}
	return nil, 0
}

// weekdayListAt reads "monday", "monday and thursday", "mon, wed".
func (s *phraseScanner) weekdayListAt(j int, table map[string]time.Weekday) ([]time.Weekday, int) {
	d, ok := table[s.word(j)]
	if !ok {
		return nil, j
	}
	days := []time.Weekday{d}
	k := j + 1
	for {
		next := k
		if w := s.word(next); w == "and" || w == "&" {
			next++
		}
		d, ok := table[s.word(next)]
		if !ok {
			return days, k
		}
		days = append(days, d)
		k = next + 1
	}
}

// hebrewWeekdaysAt reads "יום שני", "יום שני וחמישי", "יום שני ויום
// חמישי" and the standalone "שבת".
func (s *phraseScanner) hebrewWeekdaysAt(j int) ([]time.Weekday, int) {
	var days []time.Weekday
	k := j
	for {
		if s.word(k) == "שבת" || (len(days) > 0 && s.word(k) == "ושבת") {
			days = append(days, time.Saturday)
			k++
			continue
		}
		start := k
		if _, ok := lookup(map[string]bool{"יום": true}, s.word(k)); ok {
			k++
		} else if len(days) == 0 {
			return nil, j
		}
		d, ok := lookup(hebrewWeekdayOrdinals, s.word(k))
		if !ok {
			return days, start
		}
		days = append(days, d)
		k++
	}
}

// untilAt reads the date after an until marker, trying the longest run of
// words the temporal parser consumes completely.
func (s *phraseScanner) untilAt(i int, ref time.Time, tz string) (time.Time, int, error) {
	p := temporal.NewParser()
	for n := 4; n >= 1; n-- {
		if i+n >= len(s.words) {
			continue
		}
		var parts []string
		for k := i + 1; k <= i+n && k < len(s.words); k++ {
			if s.used[k] {
				break
			}
			parts = append(parts, s.words[k])
		}
		if len(parts) != n {
			continue
		}
		rt, m, err := p.Parse(strings.Join(parts, " "), ref, tz)
		if err != nil {
			return time.Time{}, 0, err
		}
		if !m.OK || m.Remainder != "" {
			continue
		}
		t := rt.Instant
		if rt.IsAllDay {
			// Inclusive of the whole day.
			y, mo, d := rt.Local().Date()
			t = time.Date(y, mo, d, 23, 59, 59, 0, rt.Local().Location())
		}
		if !t.After(ref) {
			return time.Time{}, 0, errors.WithHint(
				errors.Wrapf(errors.ErrInvalidRequest, "series end %s is not in the future", t.Format(time.RFC3339)),
				"give an end date after today")
		}
		return t, n + 1, nil
	}
	return time.Time{}, 0, nil
}

func (s *phraseScanner) leadAt(i int) (LeadTime, int) {
	j := i
	var amount, unit time.Duration

	switch w := s.word(j); {
	case w == "half" && (s.word(j+1) == "an" || s.word(j+1) == "a") && leadUnits[s.word(j+2)] == time.Hour:
		amount, unit, j = 30*time.Minute, 0, j+3
	case w == "חצי" && leadUnits[s.word(j+1)] == time.Hour:
		amount, unit, j = 30*time.Minute, 0, j+2
	case w == "רבע" && leadUnits[s.word(j+1)] == time.Hour:
		amount, unit, j = 15*time.Minute, 0, j+2
	case leadDuals[w] > 0:
		amount, unit, j = leadDuals[w], leadDuals[w]/2, j+1
	default:
		n, ok := temporal.Count(w)
		if ok {
			j++
		} else {
			n = 1
		}
		u, ok := leadUnits[s.word(j)]
		if !ok || n <= 0 {
			return 0, 0
		}
		amount, unit, j = time.Duration(n)*u, u, j+1
	}

	if w := s.word(j); w == "וחצי" && unit > 0 {
		amount += unit / 2
		j++
	} else if w == "and" && s.word(j+1) == "a" && s.word(j+2) == "half" && unit > 0 {
		amount += unit / 2
		j += 3
	}

	switch {
	case leadMarkers[s.word(j)]:
		j++
	case s.word(j) == "in" && s.word(j+1) == "advance":
		j += 2
	default:
		return 0, 0
	}
	return LeadTime(amount / time.Minute), j - i
}
