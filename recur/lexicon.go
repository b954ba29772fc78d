package recur

import (
	"time"

	"github.com/teranos/yoman/temporal"
)

func lookup[T any](table map[string]T, w string) (T, bool) {
	for _, c := range temporal.Candidates(w) {
		if v, ok := table[c]; ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// "every", "each", "כל", "מדי" (and "בכל", "ובכל" via prefixes).
var everyMarkers = map[string]bool{
	"every": true,
	"each":  true,
	"כל":    true,
	"מדי":   true,
}

type cadence struct {
	freq     Frequency
	interval int
}

var adverbs = map[string]cadence{
	"daily":       {Daily, 1},
	"weekly":      {Weekly, 1},
	"monthly":     {Monthly, 1},
	"hourly":      {Custom, 1},
	"biweekly":    {Weekly, 2},
	"fortnightly": {Weekly, 2},
}

var unitFrequencies = map[string]Frequency{
	"day":     Daily,
	"days":    Daily,
	"week":    Weekly,
	"weeks":   Weekly,
	"month":   Monthly,
	"months":  Monthly,
	"hour":    Custom,
	"hours":   Custom,
	"יום":     Daily,
	"ימים":    Daily,
	"שבוע":    Weekly,
	"שבועות":  Weekly,
	"חודש":    Monthly,
	"חודשים":  Monthly,
	"שעה":     Custom,
	"שעות":    Custom,
}

var dualCadences = map[string]cadence{
	"יומיים":  {Daily, 2},
	"שבועיים": {Weekly, 2},
	"חודשיים": {Monthly, 2},
	"שעתיים":  {Custom, 2},
}

// Parts of the day after "every" make a daily rule and stay in the text
// so the temporal parser can read the hour.
var dailyPeriods = map[string]bool{
	"morning": true,
	"evening": true,
	"night":   true,
	"בוקר":    true,
	"ערב":     true,
	"לילה":    true,
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
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

// "on mondays" repeats without "every".
var englishPluralWeekdays = map[string]time.Weekday{
	"sundays":    time.Sunday,
	"mondays":    time.Monday,
	"tuesdays":   time.Tuesday,
	"wednesdays": time.Wednesday,
	"thursdays":  time.Thursday,
	"fridays":    time.Friday,
	"saturdays":  time.Saturday,
}

var hebrewWeekdayOrdinals = map[string]time.Weekday{
	"ראשון": time.Sunday,
	"שני":   time.Monday,
	"שלישי": time.Tuesday,
	"רביעי": time.Wednesday,
	"חמישי": time.Thursday,
	"שישי":  time.Friday,
	"שבת":   time.Saturday,
}

var untilMarkers = map[string]bool{
	"until":   true,
	"till":    true,
	"through": true,
	"עד":      true,
}

var timesWords = map[string]bool{
	"times": true,
	"פעמים": true,
}

var leadMarkers = map[string]bool{
	"before":     true,
	"earlier":    true,
	"beforehand": true,
	"ahead":      true,
	"לפני":       true,
	"מראש":       true,
}

var leadUnits = map[string]time.Duration{
	"minute":  time.Minute,
	"minutes": time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"week":    7 * 24 * time.Hour,
	"weeks":   7 * 24 * time.Hour,
	"דקה":     time.Minute,
	"דקות":    time.Minute,
	"שעה":     time.Hour,
	"שעות":    time.Hour,
	"יום":     24 * time.Hour,
	"ימים":    24 * time.Hour,
	"שבוע":    7 * 24 * time.Hour,
	"שבועות":  7 * 24 * time.Hour,
}

var leadDuals = map[string]time.Duration{
	"שעתיים":  2 * time.Hour,
	"יומיים":  48 * time.Hour,
	"שבועיים": 14 * 24 * time.Hour,
}
