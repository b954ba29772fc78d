package temporal

import (
	"strings"
	"time"
	"unicode"

	"github.com/teranos/yoman/am/geotime"
)

// Parser is the deterministic tier. It is safe for concurrent use.
type Parser struct {
	// Bare hours in [1, eveningCutoff) with no am/pm and no part of day
	// are read as afternoon/evening: "at 5" means 17:00.
	eveningCutoff int
}

// NewParser returns a Parser with the default hour heuristics.
func NewParser() *Parser {
	return &Parser{eveningCutoff: 8}
}

// Parse reads a temporal expression from text relative to ref, in the
// IANA zone tz. A miss returns Match.OK == false and a nil error; the
// only error is an unknown timezone.
//
// The rules, in order:
//   - a relative offset ("in 20 minutes", "בעוד שעתיים") is ref + offset;
//     mixed with a day or clock time it is reported as Compound
//   - a day word plus a clock time is that day at that time
//   - a clock time alone is today, or tomorrow once it has passed
//   - "24:00" is the end of its day, i.e. midnight of the next
//   - a dotted "16.30" is a clock next to a day word, or after an at-word
//     when it is not a valid day.month
//   - a number after an at-word that cannot be read as a time is a miss
//   - a date alone is an all-day value at local midnight
//   - a day-month date before today rolls over to next year
//   - a weekday is its next occurrence, never today
func (p *Parser) Parse(text string, ref time.Time, tz string) (ResolvedTime, Match, error) {
	loc, err := geotime.Load(tz)
	if err != nil {
		return ResolvedTime{}, Match{}, err
	}

	rs := []rune(Normalize(text))
	s := &scanner{toks: tokenize(rs)}
	s.used = make([]bool, len(s.toks))
	s.scan()

	match := Match{Remainder: s.remainder(rs)}
	if s.conflict || s.empty() {
		return ResolvedTime{}, match, nil
	}
	if s.offset != nil && (s.date != nil || s.clock != nil || s.period != nil) {
		match.Compound = true
		return ResolvedTime{}, match, nil
	}

	rt, ok := p.compose(s.facts, ref, loc)
	if !ok {
		return ResolvedTime{}, match, nil
	}
	rt.Timezone = loc.String()
	rt.Source = SourceDeterministic
	match.OK = true
	return rt, match, nil
}

func (p *Parser) compose(f facts, ref time.Time, loc *time.Location) (ResolvedTime, bool) {
	if f.offset != nil {
		return ResolvedTime{
			Instant:    ref.Add(*f.offset).Truncate(time.Minute).In(loc),
			Confidence: 1,
		}, true
	}

	now := ref.In(loc)
	y, m, d := now.Date()
	implicitDay := f.date == nil
	if f.date != nil {
		switch f.date.kind {
		case dateRelative:
			y, m, d = time.Date(y, m, d+f.date.days, 12, 0, 0, 0, loc).Date()
		case dateWeekday:
			delta := (int(f.date.weekday) - int(now.Weekday()) + 7) % 7
			if delta == 0 {
				delta = 7
			}
			y, m, d = time.Date(y, m, d+delta, 12, 0, 0, 0, loc).Date()
		case dateCalendar:
			cy := f.date.year
			if cy == 0 {
				// Roll forward until the date exists and is not before
				// today; Feb 29 may need several years.
				cy = y
				for !validDate(cy, f.date.month, f.date.day) || dateBefore(cy, f.date.month, f.date.day, y, m, d) {
					cy++
					if cy > y+8 {
						return ResolvedTime{}, false
					}
				}
			}
			if !validDate(cy, f.date.month, f.date.day) {
				return ResolvedTime{}, false
			}
			y, m, d = cy, f.date.month, f.date.day
		}
	}

	hour, minute := 0, 0
	confidence := 1.0
	allDay := false
	switch {
	case f.clock != nil:
		h, c, ok := p.hour(*f.clock, f.period)
		if !ok {
			return ResolvedTime{}, false
		}
		hour, minute, confidence = h, f.clock.minute, c
	case f.period != nil:
		hour, confidence = f.period.hour, 0.95
	default:
		allDay = true
	}

	instant := time.Date(y, m, d, hour, minute, 0, 0, loc)
	if implicitDay && !instant.After(ref) {
		instant = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
	}
	return ResolvedTime{Instant: instant, IsAllDay: allDay, Confidence: confidence}, true
}

func (p *Parser) hour(c clockFact, per *period) (int, float64, bool) {
	h := c.hour
	if c.exact {
		return h, 1, true
	}
	switch c.meridiem {
	case meridiemAM, meridiemPM:
		if h < 1 || h > 12 {
			return 0, 0, false
		}
		if c.meridiem == meridiemPM && h < 12 {
			h += 12
		}
		if c.meridiem == meridiemAM && h == 12 {
			h = 0
		}
		return h, 1, true
	}
	if h > 23 {
		return 0, 0, false
	}
	if per != nil {
		switch *per {
		case periodAfternoon, periodEvening:
			if h >= 1 && h < 12 {
				h += 12
			}
		case periodNoon:
			if h >= 1 && h <= 5 {
				h += 12
			}
		case periodNight:
			if h >= 6 && h < 12 {
				h += 12
			} else if h == 12 {
				h = 0
			}
		}
		return h, 1, true
	}
	if !c.zeroPadded && h >= 1 && h < p.eveningCutoff {
		return h + 12, 0.9, true
	}
	return h, 1, true
}

func validDate(y int, m time.Month, d int) bool {
	if m < time.January || m > time.December || d < 1 || d > 31 {
		return false
	}
	t := time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
	return t.Month() == m && t.Day() == d
}

func dateBefore(y int, m time.Month, d int, ry int, rm time.Month, rd int) bool {
	if y != ry {
		return y < ry
	}
	if m != rm {
		return m < rm
	}
	return d < rd
}

type dateKind int

const (
	dateRelative dateKind = iota
	dateWeekday
	dateCalendar
)

type dateFact struct {
	kind    dateKind
	days    int
	weekday time.Weekday
	day     int
	month   time.Month
	year    int
}

type clockFact struct {
	hour       int
	minute     int
	meridiem   meridiem
	zeroPadded bool
	exact      bool // noon, midnight
}

type facts struct {
	date     *dateFact
	clock    *clockFact
	period   *period
	offset   *time.Duration
	conflict bool
}

func (f *facts) empty() bool {
	return f.date == nil && f.clock == nil && f.period == nil && f.offset == nil
}

// Two different readings of the same slot ("tomorrow ... on Friday")
// make the whole phrase a miss.
func (f *facts) setDate(d dateFact) {
	if f.date != nil && *f.date != d {
		f.conflict = true
		return
	}
	f.date = &d
}

func (f *facts) setClock(c clockFact) {
	if f.clock != nil && *f.clock != c {
		f.conflict = true
		return
	}
	f.clock = &c
}

func (f *facts) setPeriod(p period) {
	if f.period != nil && *f.period != p {
		f.conflict = true
		return
	}
	f.period = &p
}

func (f *facts) setOffset(d time.Duration) {
	if f.offset != nil && *f.offset != d {
		f.conflict = true
		return
	}
	f.offset = &d
}

type scanner struct {
	facts
	toks    []token
	used    []bool
	dayWord bool // the phrase names a day, so "16.30" is a clock
}

func (s *scanner) scan() {
	for i := range s.toks {
		if s.namesDay(i) {
			s.dayWord = true
			break
		}
	}

	matchers := []func(int) int{
		s.offsetAt,
		s.relativeDayAt,
		s.weekdayAt,
		s.calendarAt,
		s.clockAt,
		s.periodAt,
	}
	for i := 0; i < len(s.toks); {
		n := 0
		for _, m := range matchers {
			if n = m(i); n > 0 {
				break
			}
		}
		if n == 0 {
			i++
			continue
		}
		for k := i; k < i+n; k++ {
			s.used[k] = true
		}
		i += n
	}

	for i := 0; i+1 < len(s.toks); i++ {
		if atMarkers[s.word(i)] && !s.used[i+1] && s.toks[i+1].num {
			s.conflict = true
		}
	}

	for i := len(s.toks) - 2; i >= 0; i-- {
		if !s.used[i] && s.used[i+1] && fillers[s.word(i)] {
			s.used[i] = true
		}
	}
}

// namesDay reports whether token i is a relative day or a weekday.
func (s *scanner) namesDay(i int) bool {
	w := s.word(i)
	if w == "" {
		return false
	}
	if w == "tonight" {
		return true
	}
	if _, ok := lookup(relativeDays, w); ok {
		return true
	}
	if _, ok := englishWeekdays[w]; ok {
		return true
	}
	if _, ok := lookup(hebrewStandaloneWeekdays, w); ok {
		return true
	}
	if _, ok := lookup(map[string]bool{"יום": true}, w); ok {
		_, ok = hebrewWeekdayOrdinals[s.word(i+1)]
		return ok
	}
	return false
}

func (s *scanner) word(i int) string {
	if i < 0 || i >= len(s.toks) || s.toks[i].num || s.used[i] {
		return ""
	}
	return s.toks[i].text
}

func (s *scanner) num(i int) (number, bool) {
	if i < 0 || i >= len(s.toks) || !s.toks[i].num || s.used[i] {
		return number{}, false
	}
	n := parseNumber(s.toks[i].text)
	return n, n.kind != numberInvalid
}

func (s *scanner) offsetAt(i int) int {
	marker := s.word(i)
	if !offsetMarkers[marker] {
		return 0
	}
	hebrew := marker == "בעוד" || marker == "עוד"

	j := i + 1
	var count float64
	haveCount := false
	if n, ok := s.num(j); ok && n.kind == numberPlain {
		count, haveCount = float64(n.value), true
		j++
	} else if v, ok := numberWords[s.word(j)]; ok {
		count, haveCount = float64(v), true
		j++
	} else if s.word(j) == "half" && (s.word(j+1) == "an" || s.word(j+1) == "a") && units[s.word(j+2)] == unitHour && s.word(j+2) != "" {
		s.setOffset(30 * time.Minute)
		return j + 3 - i
	} else if w := s.word(j); w == "חצי" || w == "רבע" {
		count, haveCount = 0.5, true
		if w == "רבע" {
			count = 0.25
		}
		j++
	}

	var u unit
	if d, ok := duals[s.word(j)]; ok && !haveCount {
		u, count = d.unit, float64(d.count)
		j++
	} else if v, ok := units[s.word(j)]; ok {
		if !haveCount {
			if !hebrew {
				return 0
			}
			count = 1
		}
		u = v
		j++
	} else {
		return 0
	}

	if f, ok := fractionWords[s.word(j)]; ok {
		count += f
		j++
	} else if s.word(j) == "and" && s.word(j+1) == "a" && s.word(j+2) == "half" {
		count += 0.5
		j += 3
	}
	if count <= 0 {
		return 0
	}

	switch u {
	case unitMinute:
		s.setOffset(time.Duration(count * float64(time.Minute)))
	case unitHour:
		s.setOffset(time.Duration(count * float64(time.Hour)))
	case unitDay, unitWeek:
		days := count
		if u == unitWeek {
			days *= 7
		}
		if days != float64(int(days)) {
			return 0
		}
		s.setDate(dateFact{kind: dateRelative, days: int(days)})
	}
	return j - i
}

func (s *scanner) relativeDayAt(i int) int {
	w := s.word(i)
	if w == "" {
		return 0
	}
	if w == "tonight" {
		s.setDate(dateFact{kind: dateRelative})
		s.setPeriod(periodNight)
		return 1
	}
	if w == "the" && s.word(i+1) == "day" && s.word(i+2) == "after" && s.word(i+3) == "tomorrow" {
		s.setDate(dateFact{kind: dateRelative, days: 2})
		return 4
	}
	if w == "day" && s.word(i+1) == "after" && s.word(i+2) == "tomorrow" {
		s.setDate(dateFact{kind: dateRelative, days: 2})
		return 3
	}
	if w == "אחרי" {
		if d, ok := lookup(relativeDays, s.word(i+1)); ok && d == 1 {
			s.setDate(dateFact{kind: dateRelative, days: 2})
			return 2
		}
	}
	if d, ok := lookup(relativeDays, w); ok {
		s.setDate(dateFact{kind: dateRelative, days: d})
		return 1
	}
	return 0
}

func (s *scanner) weekdayAt(i int) int {
	w := s.word(i)
	if w == "" {
		return 0
	}

	j := i
	if w == "next" || w == "this" || w == "coming" {
		j++
	}
	if wd, ok := englishWeekdays[s.word(j)]; ok {
		s.setDate(dateFact{kind: dateWeekday, weekday: wd})
		return j + 1 - i
	}
	if j != i {
		return 0
	}

	var wd time.Weekday
	if _, ok := lookup(map[string]bool{"יום": true}, w); ok {
		v, ok := hebrewWeekdayOrdinals[s.word(i+1)]
		if !ok {
			return 0
		}
		wd, j = v, i+2
	} else if v, ok := lookup(hebrewStandaloneWeekdays, w); ok {
		wd, j = v, i+1
	} else {
		return 0
	}
	if nextMarkers[s.word(j)] {
		j++
	}
	s.setDate(dateFact{kind: dateWeekday, weekday: wd})
	return j - i
}

// startsCalendar reports whether a day-of-month number at i is followed
// by a month name, so it is not read as an hour.
func (s *scanner) startsCalendar(i int) bool {
	j := i + 1
	if ordinalSuffixes[s.word(j)] {
		j++
	}
	if s.word(j) == "of" {
		j++
	}
	_, ok := lookup(months, s.word(j))
	return ok
}

func (s *scanner) calendarAt(i int) int {
	if n, ok := s.num(i); ok {
		switch {
		case n.kind == numberDate:
			if !n.validDayMonth() {
				return 0
			}
			if _, ok := dottedClock(n); ok && s.dayWord {
				return 0
			}
			s.setDate(dateFact{kind: dateCalendar, day: n.day, month: time.Month(n.month), year: n.year})
			return 1
		case n.kind == numberPlain && n.value >= 1 && n.value <= 31 && s.startsCalendar(i):
			j := i + 1
			if ordinalSuffixes[s.word(j)] {
				j++
			}
			if s.word(j) == "of" {
				j++
			}
			month, _ := lookup(months, s.word(j))
			j++
			year, k := s.yearAt(j)
			s.setDate(dateFact{kind: dateCalendar, day: n.value, month: month, year: year})
			return k - i
		}
		return 0
	}

	month, ok := lookup(months, s.word(i))
	if !ok {
		return 0
	}
	n, ok := s.num(i + 1)
	if !ok || n.kind != numberPlain || n.value < 1 || n.value > 31 {
		return 0
	}
	j := i + 2
	if ordinalSuffixes[s.word(j)] {
		j++
	}
	year, k := s.yearAt(j)
	s.setDate(dateFact{kind: dateCalendar, day: n.value, month: month, year: year})
	return k - i
}

func (s *scanner) yearAt(j int) (int, int) {
	if n, ok := s.num(j); ok && n.kind == numberPlain && n.value >= 1970 && n.value <= 2200 {
		return n.value, j + 1
	}
	return 0, j
}

func (s *scanner) meridiemAt(j int, c *clockFact) int {
	if m, ok := meridiems[s.word(j)]; ok {
		c.meridiem = m
		return j + 1
	}
	if w := s.word(j); (w == "a" || w == "p") && s.word(j+1) == "m" {
		c.meridiem = meridiemAM
		if w == "p" {
			c.meridiem = meridiemPM
		}
		return j + 2
	}
	return j
}

func (s *scanner) clockTail(k int, c *clockFact) int {
	if w := s.word(k); w == "o'clock" || w == "oclock" {
		k++
	}
	if f, ok := fractionWords[s.word(k)]; ok && c.minute == 0 {
		c.minute = int(f * 60)
		k++
	}
	return k
}

func (s *scanner) clockAt(i int) int {
	j := i
	marked := atMarkers[s.word(i)]
	if marked {
		j++
	}

	if h, ok := lookup(clockWords, s.word(j)); ok {
		s.setClock(clockFact{hour: h, exact: true})
		return j + 1 - i
	}

	if n, ok := s.num(j); ok {
		switch n.kind {
		case numberClock:
			c := clockFact{hour: n.hour, minute: n.min, zeroPadded: n.zeroPadded, exact: n.hour == 24}
			k := s.meridiemAt(j+1, &c)
			s.setClock(c)
			return k - i
		case numberDate:
			c, ok := dottedClock(n)
			if !ok || !(s.dayWord || marked && !n.validDayMonth()) {
				return 0
			}
			k := s.meridiemAt(j+1, &c)
			s.setClock(c)
			return k - i
		case numberPlain:
			if n.value > 23 || s.startsCalendar(j) {
				return 0
			}
			c := clockFact{hour: n.value, zeroPadded: n.zeroPadded}
			k := s.meridiemAt(j+1, &c)
			hasMeridiem := k > j+1
			before := k
			k = s.clockTail(k, &c)
			if !marked && !hasMeridiem && k == before {
				return 0
			}
			s.setClock(c)
			return k - i
		}
		return 0
	}

	if marked {
		w := s.word(j)
		if v, ok := numberWords[w]; ok && v <= 12 && w != "a" && w != "an" {
			c := clockFact{hour: v}
			k := s.meridiemAt(j+1, &c)
			k = s.clockTail(k, &c)
			s.setClock(c)
			return k - i
		}
	}
	return 0
}

// dottedClock reads a dotted day.month number as HH.MM.
func dottedClock(n number) (clockFact, bool) {
	if n.kind != numberDate || !n.dotted || n.year != 0 {
		return clockFact{}, false
	}
	h, m := n.day, n.month
	if h > 24 || m > 59 || (h == 24 && m != 0) {
		return clockFact{}, false
	}
	return clockFact{hour: h, minute: m, zeroPadded: n.zeroPadded, exact: h == 24}, true
}

func (s *scanner) periodAt(i int) int {
	w := s.word(i)
	if w == "" {
		return 0
	}
	if w == "אחר" {
		if p, ok := lookup(periods, s.word(i+1)); ok && p == periodNoon {
			s.setPeriod(periodAfternoon)
			return 2
		}
	}
	if p, ok := lookup(periods, w); ok {
		s.setPeriod(p)
		return 1
	}
	return 0
}

func (s *scanner) remainder(rs []rune) string {
	out := make([]rune, len(rs))
	copy(out, rs)
	for i, t := range s.toks {
		if !s.used[i] {
			continue
		}
		for k := t.start; k < t.end; k++ {
			out[k] = ' '
		}
	}
	var kept []string
	for _, f := range strings.Fields(string(out)) {
		if strings.IndexFunc(f, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
			kept = append(kept, strings.Trim(f, ",;:-"))
		}
	}
	return strings.Join(kept, " ")
}
