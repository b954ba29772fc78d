package recur

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/temporal"
)

const jerusalem = "Asia/Jerusalem"

func loc(t *testing.T) *time.Location {
	t.Helper()
	l, err := time.LoadLocation(jerusalem)
	require.NoError(t, err)
	return l
}

func TestWeeklyNextOccurrencesAreAWeekApart(t *testing.T) {
	l := loc(t)
	// Tuesday 09:00; the series crosses the end of DST on 2025-10-26.
	anchor := time.Date(2025, 10, 14, 9, 0, 0, 0, l)
	rule := &Rule{Frequency: Weekly, Interval: 1}

	for _, after := range []time.Time{
		anchor,
		anchor.Add(-time.Minute),
		anchor.Add(36 * time.Hour),
		time.Date(2025, 10, 21, 9, 0, 0, 0, l),
		time.Date(2027, 3, 2, 12, 0, 0, 0, l),
	} {
		got := rule.Next(anchor, after, 3)
		require.Len(t, got, 3, "after %s", after)
		for i, occ := range got {
			assert.True(t, occ.After(after), "%s not after %s", occ, after)
			assert.Equal(t, time.Tuesday, occ.Weekday())
			if i > 0 {
				assert.True(t, got[i-1].AddDate(0, 0, 7).Equal(occ), "%s → %s", got[i-1], occ)
			}
		}
	}
}

func TestDailyInterval(t *testing.T) {
	l := loc(t)
	anchor := time.Date(2025, 10, 14, 20, 0, 0, 0, l)
	got := (&Rule{Frequency: Daily, Interval: 2}).Next(anchor, anchor, 3)
	assert.Equal(t, []time.Time{
		time.Date(2025, 10, 16, 20, 0, 0, 0, l),
		time.Date(2025, 10, 18, 20, 0, 0, 0, l),
		time.Date(2025, 10, 20, 20, 0, 0, 0, l),
	}, got)
}

func TestMonthlySkipsMonthsWithoutTheDay(t *testing.T) {
	l := loc(t)
	anchor := time.Date(2026, 1, 31, 10, 0, 0, 0, l)
	got := (&Rule{Frequency: Monthly, Interval: 1}).Next(anchor, anchor, 3)
	assert.Equal(t, []time.Time{
		time.Date(2026, 3, 31, 10, 0, 0, 0, l),
		time.Date(2026, 5, 31, 10, 0, 0, 0, l),
		time.Date(2026, 7, 31, 10, 0, 0, 0, l),
	}, got)
}

func TestCustomHours(t *testing.T) {
	anchor := time.Date(2025, 10, 14, 8, 0, 0, 0, time.UTC)
	got := (&Rule{Frequency: Custom, Interval: 3}).Next(anchor, anchor.Add(4*time.Hour), 2)
	assert.Equal(t, []time.Time{anchor.Add(6 * time.Hour), anchor.Add(9 * time.Hour)}, got)
}

func TestWeeklyByWeekday(t *testing.T) {
	l := loc(t)
	anchor := time.Date(2025, 10, 14, 9, 0, 0, 0, l) // Tuesday
	rule := &Rule{Frequency: Weekly, Interval: 1, ByWeekday: []time.Weekday{time.Thursday, time.Monday}}

	first := rule.First(anchor)
	assert.Equal(t, time.Date(2025, 10, 16, 9, 0, 0, 0, l), first)

	got := rule.Next(first, first.Add(-time.Second), 4)
	assert.Equal(t, []time.Time{
		time.Date(2025, 10, 16, 9, 0, 0, 0, l),
		time.Date(2025, 10, 20, 9, 0, 0, 0, l),
		time.Date(2025, 10, 23, 9, 0, 0, 0, l),
		time.Date(2025, 10, 27, 9, 0, 0, 0, l),
	}, got)
}

func TestBiweeklyKeepsPhase(t *testing.T) {
	l := loc(t)
	anchor := time.Date(2025, 10, 16, 9, 0, 0, 0, l) // Thursday
	rule := &Rule{Frequency: Weekly, Interval: 2, ByWeekday: []time.Weekday{time.Monday, time.Thursday}}

	got := rule.Next(anchor, anchor, 3)
	assert.Equal(t, []time.Time{
		time.Date(2025, 10, 27, 9, 0, 0, 0, l),
		time.Date(2025, 10, 30, 9, 0, 0, 0, l),
		time.Date(2025, 11, 10, 9, 0, 0, 0, l),
	}, got)
}

func TestCountAndUntil(t *testing.T) {
	l := loc(t)
	anchor := time.Date(2025, 10, 14, 9, 0, 0, 0, l)

	counted := &Rule{Frequency: Daily, Interval: 1, Count: 3}
	got := counted.Next(anchor, anchor.Add(-time.Second), 10)
	require.Len(t, got, 3)
	assert.Equal(t, anchor, got[0])
	assert.Empty(t, counted.Next(anchor, got[2], 1))

	until := time.Date(2025, 10, 28, 23, 59, 59, 0, l)
	bounded := &Rule{Frequency: Weekly, Interval: 1, Until: &until}
	got = bounded.Next(anchor, anchor, 10)
	assert.Equal(t, []time.Time{
		time.Date(2025, 10, 21, 9, 0, 0, 0, l),
		time.Date(2025, 10, 28, 9, 0, 0, 0, l),
	}, got)
}

func TestSuccessor(t *testing.T) {
	l := loc(t)
	anchor := time.Date(2025, 10, 14, 9, 0, 0, 0, l)
	rule := &Rule{Frequency: Daily, Interval: 1, Count: 2}

	next, ok := rule.Successor(anchor, 1)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 10, 15, 9, 0, 0, 0, l), next)

	_, ok = rule.Successor(next, 2)
	assert.False(t, ok)

	var oneShot *Rule
	_, ok = oneShot.Successor(anchor, 1)
	assert.False(t, ok)
}

func TestSkipAheadMatchesFullScan(t *testing.T) {
	l := loc(t)
	anchor := time.Date(2024, 1, 31, 7, 30, 0, 0, l)
	after := time.Date(2026, 6, 1, 0, 0, 0, 0, l)

	for _, rule := range []*Rule{
		{Frequency: Daily, Interval: 3},
		{Frequency: Weekly, Interval: 2, ByWeekday: []time.Weekday{time.Sunday, time.Wednesday}},
		{Frequency: Monthly, Interval: 1},
		{Frequency: Custom, Interval: 5},
	} {
		var brute []time.Time
		rule.each(anchor, time.Time{}, func(occ time.Time) bool {
			if occ.After(after) {
				brute = append(brute, occ)
			}
			return len(brute) < 3
		})
		assert.Equal(t, brute, rule.Next(anchor, after, 3), rule.String())
	}
}

func TestRuleEncoding(t *testing.T) {
	rule := &Rule{Frequency: Weekly, Interval: 2, ByWeekday: []time.Weekday{time.Thursday, time.Monday}}
	s, err := Encode(rule)
	require.NoError(t, err)
	assert.JSONEq(t, `{"freq":"weekly","interval":2,"by_weekday":["mon","thu"]}`, s)

	back, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, Weekly, back.Frequency)
	assert.Equal(t, 2, back.Interval)
	assert.Equal(t, []time.Weekday{time.Monday, time.Thursday}, back.ByWeekday)

	daily, err := Decode(`{"freq":"daily"}`)
	require.NoError(t, err)
	assert.Equal(t, 1, daily.Interval)

	none, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, none)
	s, err = Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, s)

	for _, bad := range []string{
		`{"freq":"yearly"}`,
		`{"freq":"daily","count":3,"until":"2026-01-01T00:00:00Z"}`,
		`{"freq":"weekly","by_weekday":["funday"]}`,
		`{"freq":"daily","by_weekday":["mon"]}`,
		`not json`,
	} {
		_, err := Decode(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseRule(t *testing.T) {
	l := loc(t)
	ref := time.Date(2025, 10, 14, 9, 0, 0, 0, l)

	tests := []struct {
		text     string
		freq     Frequency
		interval int
		days     []time.Weekday
		count    int
		until    *time.Time
	}{
		{"daily standup", Daily, 1, nil, 0, nil},
		{"every day at 8", Daily, 1, nil, 0, nil},
		{"כל יום בשעה 8", Daily, 1, nil, 0, nil},
		{"every morning", Daily, 1, nil, 0, nil},
		{"every other day", Daily, 2, nil, 0, nil},
		{"כל יומיים", Daily, 2, nil, 0, nil},
		{"every monday", Weekly, 1, []time.Weekday{time.Monday}, 0, nil},
		{"on mondays and thursdays", Weekly, 1, []time.Weekday{time.Monday, time.Thursday}, 0, nil},
		{"every mon, wed", Weekly, 1, []time.Weekday{time.Monday, time.Wednesday}, 0, nil},
		{"כל יום שני", Weekly, 1, []time.Weekday{time.Monday}, 0, nil},
		{"בכל יום שני וחמישי", Weekly, 1, []time.Weekday{time.Monday, time.Thursday}, 0, nil},
		{"כל שבת", Weekly, 1, []time.Weekday{time.Saturday}, 0, nil},
		{"weekly", Weekly, 1, nil, 0, nil},
		{"כל שבוע", Weekly, 1, nil, 0, nil},
		{"every 2 weeks", Weekly, 2, nil, 0, nil},
		{"כל שבועיים", Weekly, 2, nil, 0, nil},
		{"monthly", Monthly, 1, nil, 0, nil},
		{"כל חודש", Monthly, 1, nil, 0, nil},
		{"every 3 hours", Custom, 3, nil, 0, nil},
		{"כל 3 שעות", Custom, 3, nil, 0, nil},
		{"daily 5 times", Daily, 1, nil, 5, nil},
		{"כל יום 3 פעמים", Daily, 1, nil, 3, nil},
		{"every 2 weeks until 20.12", Weekly, 2, nil, 0, ptrTime(time.Date(2025, 12, 20, 23, 59, 59, 0, l))},
		{"כל שבוע עד ה-20.12", Weekly, 1, nil, 0, ptrTime(time.Date(2025, 12, 20, 23, 59, 59, 0, l))},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			rule, err := ParseRule(tt.text, ref, jerusalem)
			require.NoError(t, err)
			require.NotNil(t, rule)
			assert.Equal(t, tt.freq, rule.Frequency)
			assert.Equal(t, tt.interval, rule.Interval)
			assert.Equal(t, tt.days, rule.ByWeekday)
			assert.Equal(t, tt.count, rule.Count)
			if tt.until == nil {
				assert.Nil(t, rule.Until)
			} else {
				require.NotNil(t, rule.Until)
				assert.True(t, tt.until.Equal(*rule.Until), "until %s", rule.Until)
			}
		})
	}
}

func TestParseRuleNone(t *testing.T) {
	ref := time.Date(2025, 10, 14, 9, 0, 0, 0, loc(t))
	for _, text := range []string{"buy milk", "tomorrow at 5", "call every contact", "wait until tomorrow"} {
		rule, err := ParseRule(text, ref, jerusalem)
		require.NoError(t, err, text)
		assert.Nil(t, rule, text)
	}
}

func TestParseRuleRejectsPastUntil(t *testing.T) {
	ref := time.Date(2025, 10, 14, 9, 0, 0, 0, loc(t))
	_, err := ParseRule("daily until 1.1.2020", ref, jerusalem)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestParseLeadTime(t *testing.T) {
	tests := []struct {
		text string
		want LeadTime
	}{
		{"remind me a day before", 1440},
		{"30 minutes before", 30},
		{"2 hours before", 120},
		{"half an hour before", 30},
		{"an hour and a half earlier", 90},
		{"a week in advance", 7 * 1440},
		{"יום לפני", 1440},
		{"חצי שעה לפני", 30},
		{"רבע שעה לפני", 15},
		{"שעתיים לפני", 120},
		{"שעה וחצי לפני", 90},
		{"10 דקות לפני", 10},
		{"יומיים מראש", 2880},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ParseLeadTime(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	got, ok := ParseLeadTime("meeting tomorrow at 5")
	assert.False(t, ok)
	assert.Equal(t, LeadTime(0), got)
}

func TestExtractRemainder(t *testing.T) {
	ref := time.Date(2025, 10, 14, 9, 0, 0, 0, loc(t))

	e, err := Extract("תזכיר לי כל יום שני בשעה 9 חצי שעה לפני", ref, jerusalem)
	require.NoError(t, err)
	require.NotNil(t, e.Rule)
	assert.True(t, e.HasLead)
	assert.Equal(t, LeadTime(30), e.Lead)
	assert.Equal(t, "תזכיר לי בשעה 9", e.Remainder)

	e, err = Extract("dentist 3 times", ref, jerusalem)
	require.NoError(t, err)
	assert.Nil(t, e.Rule)
	assert.Equal(t, "dentist 3 times", e.Remainder)
}

func TestExpand(t *testing.T) {
	l := loc(t)

	allDay := temporal.ResolvedTime{
		Instant:  time.Date(2025, 10, 20, 0, 0, 0, 0, l),
		Timezone: jerusalem,
		IsAllDay: true,
	}
	plan, err := Expand(allDay, nil, 1440)
	require.NoError(t, err)
	assertInstant(t, time.Date(2025, 10, 20, AllDayHour, 0, 0, 0, l), plan.Anchor)
	assertInstant(t, time.Date(2025, 10, 19, AllDayHour, 0, 0, 0, l), plan.FireAt)
	assert.False(t, plan.Recurring())
	assert.Empty(t, plan.Next(plan.FireAt, 1))

	tuesday := temporal.ResolvedTime{Instant: time.Date(2025, 10, 14, 18, 0, 0, 0, l), Timezone: jerusalem}
	weekly := &Rule{Frequency: Weekly, Interval: 1, ByWeekday: []time.Weekday{time.Friday}}
	plan, err = Expand(tuesday, weekly, 60)
	require.NoError(t, err)
	assertInstant(t, time.Date(2025, 10, 17, 18, 0, 0, 0, l), plan.Anchor)
	assertInstant(t, time.Date(2025, 10, 17, 17, 0, 0, 0, l), plan.FireAt)
	assert.True(t, plan.Recurring())
	next := plan.Next(plan.FireAt, 1)
	require.Len(t, next, 1)
	assertInstant(t, time.Date(2025, 10, 24, 17, 0, 0, 0, l), next[0])

	_, err = Expand(tuesday, nil, -5)
	assert.Error(t, err)
	_, err = Expand(temporal.ResolvedTime{}, nil, 0)
	assert.Error(t, err)
}

func ptrTime(t time.Time) *time.Time { return &t }

func assertInstant(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.True(t, want.Equal(got), "got %s want %s", got, want)
}
