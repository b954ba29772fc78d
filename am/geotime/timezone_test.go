package geotime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/yoman/errors"
)

func TestNormalizeTimezone(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Asia/Jerusalem", "Asia/Jerusalem"},
		{"asia/jerusalem", "Asia/Jerusalem"},
		{"IDT", "Asia/Jerusalem"},
		{"Tel Aviv", "Asia/Jerusalem"},
		{"תל אביב", "Asia/Jerusalem"},
		{"IL", "Asia/Jerusalem"},
		{"New York", "America/New_York"},
		{"America/Port_of_Spain", "America/Port_of_Spain"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			actual, err := NormalizeTimezone(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestNormalizeTimezoneUnknown(t *testing.T) {
	_, err := NormalizeTimezone("Atlantis")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownTimezone))

	_, err = NormalizeTimezone("   ")
	assert.True(t, errors.Is(err, errors.ErrUnknownTimezone))
}

func TestGuessTimezoneFromPhone(t *testing.T) {
	assert.Equal(t, "Asia/Jerusalem", GuessTimezoneFromPhone("972501234567"))
	assert.Equal(t, "Asia/Jerusalem", GuessTimezoneFromPhone("+972-50-123-4567"))
	assert.Equal(t, "Asia/Jerusalem", GuessTimezoneFromPhone("972501234567@s.whatsapp.net"))
	assert.Equal(t, "Europe/London", GuessTimezoneFromPhone("447700900123"))
	assert.Equal(t, "America/New_York", GuessTimezoneFromPhone("12025550100"))
	assert.Equal(t, "", GuessTimezoneFromPhone("not a number"))
}

func TestLoadCachesAndRejectsUnknown(t *testing.T) {
	loc, err := Load("Asia/Jerusalem")
	require.NoError(t, err)
	again, err := Load("Asia/Jerusalem")
	require.NoError(t, err)
	assert.Same(t, loc, again)

	_, err = Load("Mars/Olympus_Mons")
	assert.True(t, errors.Is(err, errors.ErrUnknownTimezone))

	_, err = Load("")
	assert.True(t, errors.Is(err, errors.ErrUnknownTimezone))
}
