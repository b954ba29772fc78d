package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/yoman/errors"
)

const jerusalem = "Asia/Jerusalem"

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

// Tuesday 2025-10-14 09:00 in Jerusalem.
func reference(t *testing.T) time.Time {
	return time.Date(2025, 10, 14, 9, 0, 0, 0, mustLoad(t, jerusalem))
}

func TestParseResolves(t *testing.T) {
	loc := mustLoad(t, jerusalem)
	at := func(y int, m time.Month, d, h, min int) time.Time {
		return time.Date(y, m, d, h, min, 0, 0, loc)
	}

	tests := []struct {
		name       string
		text       string
		want       time.Time
		allDay     bool
		confidence float64
	}{
		{"english tomorrow at clock", "tomorrow at 16:00", at(2025, 10, 15, 16, 0), false, 1},
		{"hebrew tomorrow at clock", "מחר בשעה 16:00", at(2025, 10, 15, 16, 0), false, 1},
		{"niqqud is ignored", "מָחָר בשעה 16:00", at(2025, 10, 15, 16, 0), false, 1},
		{"day before today rolls to next year", "10.10", at(2026, 10, 10, 0, 0), true, 1},
		{"later this month", "20.10", at(2025, 10, 20, 0, 0), true, 1},
		{"today's date does not roll", "14.10", at(2025, 10, 14, 0, 0), true, 1},
		{"full date", "1.3.2026", at(2026, 3, 1, 0, 0), true, 1},
		{"iso date", "2026-01-05", at(2026, 1, 5, 0, 0), true, 1},
		{"leap day waits for a leap year", "29.02", at(2028, 2, 29, 0, 0), true, 1},
		{"minutes offset", "in 20 minutes", at(2025, 10, 14, 9, 20), false, 1},
		{"hebrew dual hours", "בעוד שעתיים", at(2025, 10, 14, 11, 0), false, 1},
		{"hebrew hour and a half", "בעוד שעה וחצי", at(2025, 10, 14, 10, 30), false, 1},
		{"half an hour", "in half an hour", at(2025, 10, 14, 9, 30), false, 1},
		{"hebrew number word", "בעוד שלוש שעות", at(2025, 10, 14, 12, 0), false, 1},
		{"day offset is a date", "in 3 days", at(2025, 10, 17, 0, 0), true, 1},
		{"passed clock moves to tomorrow", "at 8", at(2025, 10, 15, 8, 0), false, 1},
		{"low bare hour reads as evening", "at 5", at(2025, 10, 14, 17, 0), false, 0.9},
		{"zero padded hour is literal", "05:30", at(2025, 10, 15, 5, 30), false, 1},
		{"explicit pm", "at 5pm", at(2025, 10, 14, 17, 0), false, 1},
		{"dotted am", "7 a.m. tomorrow", at(2025, 10, 15, 7, 0), false, 1},
		{"noon", "at noon", at(2025, 10, 14, 12, 0), false, 1},
		{"period default hour", "tomorrow morning", at(2025, 10, 15, 8, 0), false, 0.95},
		{"hebrew period default hour", "מחר בבוקר", at(2025, 10, 15, 8, 0), false, 0.95},
		{"hebrew period shifts hour", "מחר ב-8 בערב", at(2025, 10, 15, 20, 0), false, 1},
		{"hebrew afternoon phrase", "מחר ב-4 אחר הצהריים", at(2025, 10, 15, 16, 0), false, 1},
		{"tonight", "tonight", at(2025, 10, 14, 21, 0), false, 0.95},
		{"next weekday", "next monday", at(2025, 10, 20, 0, 0), true, 1},
		{"same weekday is a week away", "on tuesday", at(2025, 10, 21, 0, 0), true, 1},
		{"hebrew weekday with next", "יום שלישי הבא", at(2025, 10, 21, 0, 0), true, 1},
		{"hebrew weekday at hour", "ביום שישי ב-10", at(2025, 10, 17, 10, 0), false, 1},
		{"hebrew abbreviated weekday", "יום ה' ב-9:15", at(2025, 10, 16, 9, 15), false, 1},
		{"shabbat", "בשבת בערב", at(2025, 10, 18, 18, 0), false, 0.95},
		{"hebrew month name", "14 באוקטובר 2026", at(2026, 10, 14, 0, 0), true, 1},
		{"english month name", "October 20th at 3pm", at(2025, 10, 20, 15, 0), false, 1},
		{"day after tomorrow", "מחרתיים ב-18:30", at(2025, 10, 16, 18, 30), false, 1},
		{"hebrew half past", "מחר בשעה 5 וחצי", at(2025, 10, 15, 17, 30), false, 0.9},
		{"day word with early clock stays on that day", "tomorrow at 00:30", at(2025, 10, 15, 0, 30), false, 1},
		{"dotted clock after at", "tomorrow at 16.30", at(2025, 10, 15, 16, 30), false, 1},
		{"hebrew dotted clock", "מחר ב-16.30", at(2025, 10, 15, 16, 30), false, 1},
		{"dotted clock next to a day word", "tomorrow 9.15", at(2025, 10, 15, 9, 15), false, 1},
		{"dotted clock that is no date", "at 16.45", at(2025, 10, 14, 16, 45), false, 1},
		{"24:00 ends the named day", "tomorrow at 24:00", at(2025, 10, 16, 0, 0), false, 1},
		{"24.00 after a day word", "מחר ב-24.00", at(2025, 10, 16, 0, 0), false, 1},
		{"short spelling of morning", "מחר בבקר", at(2025, 10, 15, 8, 0), false, 0.95},
		{"pointed morning", "מָחָר בַּבֹּקֶר", at(2025, 10, 15, 8, 0), false, 0.95},
		{"pointed dual hours", "בְּעוֹד שְׁעָתַיִם", at(2025, 10, 14, 11, 0), false, 1},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, m, err := p.Parse(tt.text, reference(t), jerusalem)
			require.NoError(t, err)
			require.True(t, m.OK, "expected a match for %q", tt.text)
			assert.False(t, m.Compound)
			assert.True(t, tt.want.Equal(rt.Instant), "got %s want %s", rt.Instant, tt.want)
			assert.Equal(t, tt.allDay, rt.IsAllDay)
			assert.InDelta(t, tt.confidence, rt.Confidence, 1e-9)
			assert.Equal(t, SourceDeterministic, rt.Source)
			assert.Equal(t, jerusalem, rt.Timezone)
		})
	}
}

func TestParseMisses(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		compound bool
	}{
		{"no temporal content", "buy milk", false},
		{"empty", "", false},
		{"impossible date", "31.02", false},
		{"conflicting days", "tomorrow on friday", false},
		{"offset with day word", "in 2 hours tomorrow", true},
		{"offset with clock", "בעוד שעה ב-16:00", true},
		{"bare number is not a time", "buy 3 apples", false},
		{"unreadable clock after at", "tomorrow at 25:00", false},
		{"hour past the day after at", "call mom at 24", false},
		{"invalid dotted value after at", "מחר ב-16.75", false},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, m, err := p.Parse(tt.text, reference(t), jerusalem)
			require.NoError(t, err)
			assert.False(t, m.OK)
			assert.Equal(t, tt.compound, m.Compound)
			assert.True(t, rt.IsZero())
		})
	}
}

func TestParseRemainder(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"remind me to call mom tomorrow at 16:00", "remind me to call mom"},
		{"תזכיר לי להתקשר לאמא מחר ב-16:00", "תזכיר לי להתקשר לאמא"},
		{"dentist on 20.10 at 9am", "dentist"},
		{"Buy Milk", "buy milk"},
		{"פגישה עם דני ביום שלישי הבא בבוקר", "פגישה עם דני"},
		{"remind me to call mom tomorrow at 16.30", "remind me to call mom"},
		{"תזכיר לי להתקשר לאמא מחר ב-16.30", "תזכיר לי להתקשר לאמא"},
		{"מָחָר בַּבֹּקֶר לקנות חלב", "לקנות חלב"},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, m, err := p.Parse(tt.text, reference(t), jerusalem)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Remainder)
		})
	}
}

func TestParseUnknownTimezone(t *testing.T) {
	_, _, err := NewParser().Parse("tomorrow", time.Now(), "Mars/Olympus")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownTimezone))
}

func TestParseIsDeterministic(t *testing.T) {
	p := NewParser()
	ref := reference(t)
	first, _, err := p.Parse("מחר ב-8 בערב", ref, jerusalem)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, _, err := p.Parse("מחר ב-8 בערב", ref, jerusalem)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestParseUsesTimezone(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	// 23:30 in New York is already the next day in Jerusalem.
	ref := time.Date(2025, 10, 14, 23, 30, 0, 0, ny)

	rt, m, err := NewParser().Parse("tomorrow at 9am", ref, jerusalem)
	require.NoError(t, err)
	require.True(t, m.OK)
	want := time.Date(2025, 10, 16, 9, 0, 0, 0, mustLoad(t, jerusalem))
	assert.True(t, want.Equal(rt.Instant), "got %s", rt.Instant)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "מחר בבקר", Normalize("  מָחָר   בַּבֹּקֶר "))
	assert.Equal(t, `אחה"צ`, Normalize("אחה״צ"))
	assert.Equal(t, "cafe at noon", Normalize("Café AT Noon"))
}

func TestTokenize(t *testing.T) {
	toks := tokenize([]rune("ב16:00 at 5pm, 14.10."))
	var texts []string
	for _, tk := range toks {
		texts = append(texts, tk.text)
	}
	assert.Equal(t, []string{"ב", "16:00", "at", "5", "pm", "14.10"}, texts)
}

func TestCandidates(t *testing.T) {
	assert.Equal(t, []string{"ובבוקר", "בבוקר", "בוקר"}, Candidates("ובבוקר"))
	assert.Equal(t, []string{"מחר", "חר"}, Candidates("מחר"))
	assert.Equal(t, []string{"monday"}, Candidates("monday"))
	assert.Equal(t, []string{"בו"}, Candidates("בו"))
}

func TestCount(t *testing.T) {
	for w, want := range map[string]int{"3": 3, "three": 3, "שלוש": 3, "an": 1} {
		got, ok := Count(w)
		require.True(t, ok, w)
		assert.Equal(t, want, got, w)
	}
	_, ok := Count("many")
	assert.False(t, ok)
}
