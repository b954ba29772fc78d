package temporal

import (
	"strconv"
	"strings"
	"time"
)

// Inseparable Hebrew prefixes: and, in/at, to, from, the, as, that.
const hebrewPrefixes = "ובלמהכש"

// Candidates returns w followed by the forms with up to two Hebrew prefix
// letters removed ("בבוקר" → "בוקר", "ולמחר" → "למחר", "מחר").
func Candidates(w string) []string {
	out := []string{w}
	rs := []rune(w)
	for n := 1; n <= 2 && len(rs)-n >= 2; n++ {
		if !strings.ContainsRune(hebrewPrefixes, rs[n-1]) {
			break
		}
		out = append(out, string(rs[n:]))
	}
	return out
}

func lookup[T any](table map[string]T, w string) (T, bool) {
	for _, c := range Candidates(w) {
		if v, ok := table[c]; ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Count reads a small cardinal written as digits or as an English or
// Hebrew number word.
func Count(w string) (int, bool) {
	if n, err := strconv.Atoi(w); err == nil && n >= 0 {
		return n, true
	}
	n, ok := numberWords[w]
	return n, ok
}

// Normalize drops niqqud, and pointed text is written without the vowel
// letters of plain spelling ("בֹּקֶר" becomes "בקר", not "בוקר"), so the
// tables below carry both spellings where they differ.

var relativeDays = map[string]int{
	"today":    0,
	"tomorrow": 1,
	"tmrw":     1,
	"tmr":      1,
	"היום":     0,
	"מחר":      1,
	"מחרתיים":  2,
	"מחרתים":   2,
}

// period is a coarse part of the day with the hour assumed when no clock
// time is given.
type period struct {
	name string
	hour int
}

var (
	periodMorning   = period{"morning", 8}
	periodNoon      = period{"noon", 12}
	periodAfternoon = period{"afternoon", 15}
	periodEvening   = period{"evening", 18}
	periodNight     = period{"night", 21}
)

var periods = map[string]period{
	"morning":   periodMorning,
	"afternoon": periodAfternoon,
	"evening":   periodEvening,
	"night":     periodNight,
	"בוקר":      periodMorning,
	"בקר":       periodMorning,
	"צהריים":    periodNoon,
	"צהרים":     periodNoon,
	`אחה"צ`:     periodAfternoon,
	"אחהצ":      periodAfternoon,
	"ערב":       periodEvening,
	"לילה":      periodNight,
}

// Exact clock words. "tonight" is handled separately since it also fixes
// the day.
var clockWords = map[string]int{
	"noon":     12,
	"midday":   12,
	"midnight": 0,
	"חצות":     0,
}

var englishWeekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"tues":      time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"thur":      time.Thursday,
	"thurs":     time.Thursday,
	"fri":       time.Friday,
}

// Hebrew weekdays are ordinals after "יום" (day): "יום שלישי" is Tuesday.
// The single letters cover the abbreviated "יום ג'".
var hebrewWeekdayOrdinals = map[string]time.Weekday{
	"ראשון": time.Sunday,
	"שני":   time.Monday,
	"שלישי": time.Tuesday,
	"רביעי": time.Wednesday,
	"חמישי": time.Thursday,
	"שישי":  time.Friday,
	"ששי":   time.Friday,
	"שבת":   time.Saturday,
	"א":     time.Sunday,
	"ב":     time.Monday,
	"ג":     time.Tuesday,
	"ד":     time.Wednesday,
	"ה":     time.Thursday,
	"ו":     time.Friday,
}

// Weekdays that stand alone in Hebrew without "יום".
var hebrewStandaloneWeekdays = map[string]time.Weekday{
	"שבת": time.Saturday,
}

var nextMarkers = map[string]bool{
	"הבא":    true,
	"הבאה":   true,
	"הקרוב":  true,
	"הקרובה": true,
}

var months = map[string]time.Month{
	"january":   time.January,
	"february":  time.February,
	"march":     time.March,
	"april":     time.April,
	"may":       time.May,
	"june":      time.June,
	"july":      time.July,
	"august":    time.August,
	"september": time.September,
	"october":   time.October,
	"november":  time.November,
	"december":  time.December,
	"jan":       time.January,
	"feb":       time.February,
	"mar":       time.March,
	"apr":       time.April,
	"jun":       time.June,
	"jul":       time.July,
	"aug":       time.August,
	"sep":       time.September,
	"sept":      time.September,
	"oct":       time.October,
	"nov":       time.November,
	"dec":       time.December,
	"ינואר":     time.January,
	"פברואר":    time.February,
	"מרץ":       time.March,
	"מרס":       time.March,
	"אפריל":     time.April,
	"מאי":       time.May,
	"יוני":      time.June,
	"יולי":      time.July,
	"אוגוסט":    time.August,
	"ספטמבר":    time.September,
	"אוקטובר":   time.October,
	"נובמבר":    time.November,
	"דצמבר":     time.December,
}

var ordinalSuffixes = map[string]bool{"st": true, "nd": true, "rd": true, "th": true}

// Words that introduce a clock time. "ב" appears as a token of its own
// when glued to digits ("ב-16").
var atMarkers = map[string]bool{
	"at":     true,
	"@":      true,
	"around": true,
	"בשעה":   true,
	"לשעה":   true,
	"ב":      true,
	"סביב":   true,
}

// Filler words dropped from the remainder when they sit right before a
// recognised phrase.
var fillers = map[string]bool{
	"at":   true,
	"on":   true,
	"in":   true,
	"the":  true,
	"this": true,
	"by":   true,
	"ב":    true,
	"ל":    true,
	"בשעה": true,
	"ביום": true,
	"של":   true,
	"ה":    true,
}

var offsetMarkers = map[string]bool{
	"in":     true,
	"within": true,
	"בעוד":   true,
	"עוד":    true,
}

type unit int

const (
	unitMinute unit = iota
	unitHour
	unitDay
	unitWeek
)

var units = map[string]unit{
	"minute":  unitMinute,
	"minutes": unitMinute,
	"min":     unitMinute,
	"mins":    unitMinute,
	"hour":    unitHour,
	"hours":   unitHour,
	"hr":      unitHour,
	"hrs":     unitHour,
	"day":     unitDay,
	"days":    unitDay,
	"week":    unitWeek,
	"weeks":   unitWeek,
	"דקה":     unitMinute,
	"דקות":    unitMinute,
	"שעה":     unitHour,
	"שעות":    unitHour,
	"יום":     unitDay,
	"ימים":    unitDay,
	"שבוע":    unitWeek,
	"שבועות":  unitWeek,
}

// Hebrew dual forms carry their own count.
type dual struct {
	unit  unit
	count int
}

var duals = map[string]dual{
	"שעתיים":  {unitHour, 2},
	"יומיים":  {unitDay, 2},
	"שבועיים": {unitWeek, 2},
	"שעתים":   {unitHour, 2},
	"יומים":   {unitDay, 2},
	"שבועים":  {unitWeek, 2},
}

var numberWords = map[string]int{
	"a":      1,
	"an":     1,
	"one":    1,
	"two":    2,
	"three":  3,
	"four":   4,
	"five":   5,
	"six":    6,
	"seven":  7,
	"eight":  8,
	"nine":   9,
	"ten":    10,
	"eleven": 11,
	"twelve": 12,
	"twenty": 20,
	"thirty": 30,
	"אחת":    1,
	"אחד":    1,
	"שתי":    2,
	"שתיים":  2,
	"שתים":   2,
	"שניים":  2,
	"שלוש":   3,
	"שלושה":  3,
	"שלש":    3,
	"שלשה":   3,
	"ארבע":   4,
	"ארבעה":  4,
	"חמש":    5,
	"חמישה":  5,
	"חמשה":   5,
	"שש":     6,
	"שישה":   6,
	"ששה":    6,
	"שבע":    7,
	"שבעה":   7,
	"שמונה":  8,
	"תשע":    9,
	"תשעה":   9,
	"עשר":    10,
	"עשרה":   10,
	"עשרים":  20,
	"שלושים": 30,
	"ארבעים": 40,
}

// Fractions of a unit after a count: "שעה וחצי", "5 ורבע".
var fractionWords = map[string]float64{
	"וחצי": 0.5,
	"ורבע": 0.25,
}

type meridiem int

const (
	meridiemNone meridiem = iota
	meridiemAM
	meridiemPM
)

var meridiems = map[string]meridiem{
	"am": meridiemAM,
	"pm": meridiemPM,
}
