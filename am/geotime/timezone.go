// Package geotime turns loose timezone hints (IANA names, abbreviations,
// city names in English or Hebrew, phone number prefixes) into IANA zones.
package geotime

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teranos/yoman/errors"
)

var locationKeywordTimezones = map[string]string{
	"israel":        "Asia/Jerusalem",
	"jerusalem":     "Asia/Jerusalem",
	"tel aviv":      "Asia/Jerusalem",
	"haifa":         "Asia/Jerusalem",
	"beer sheva":    "Asia/Jerusalem",
	"eilat":         "Asia/Jerusalem",
	"ישראל":         "Asia/Jerusalem",
	"ירושלים":       "Asia/Jerusalem",
	"תל אביב":       "Asia/Jerusalem",
	"חיפה":          "Asia/Jerusalem",
	"באר שבע":       "Asia/Jerusalem",
	"אילת":          "Asia/Jerusalem",
	"london":        "Europe/London",
	"לונדון":        "Europe/London",
	"england":       "Europe/London",
	"paris":         "Europe/Paris",
	"פריז":          "Europe/Paris",
	"berlin":        "Europe/Berlin",
	"ברלין":         "Europe/Berlin",
	"amsterdam":     "Europe/Amsterdam",
	"new york":      "America/New_York",
	"ניו יורק":      "America/New_York",
	"boston":        "America/New_York",
	"los angeles":   "America/Los_Angeles",
	"san francisco": "America/Los_Angeles",
	"לוס אנג'לס":    "America/Los_Angeles",
	"toronto":       "America/Toronto",
	"moscow":        "Europe/Moscow",
	"מוסקבה":        "Europe/Moscow",
	"kyiv":          "Europe/Kyiv",
	"dubai":         "Asia/Dubai",
	"דובאי":         "Asia/Dubai",
	"bangkok":       "Asia/Bangkok",
	"בנגקוק":        "Asia/Bangkok",
	"tokyo":         "Asia/Tokyo",
	"sydney":        "Australia/Sydney",
	"buenos aires":  "America/Argentina/Buenos_Aires",
}

// locationKeywords is sorted longest first so "new york" wins over "york"
// style prefixes and map iteration order never decides the answer.
var locationKeywords = func() []string {
	keys := make([]string, 0, len(locationKeywordTimezones))
	for k := range locationKeywordTimezones {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

var countryCodeTimezones = map[string]string{
	"il": "Asia/Jerusalem",
	"gb": "Europe/London",
	"uk": "Europe/London",
	"fr": "Europe/Paris",
	"de": "Europe/Berlin",
	"nl": "Europe/Amsterdam",
	"us": "America/New_York",
	"ca": "America/Toronto",
	"ru": "Europe/Moscow",
	"ua": "Europe/Kyiv",
	"ae": "Asia/Dubai",
	"th": "Asia/Bangkok",
	"jp": "Asia/Tokyo",
	"au": "Australia/Sydney",
	"ar": "America/Argentina/Buenos_Aires",
}

// E.164 calling codes. Longest prefix wins.
var callingCodeTimezones = map[string]string{
	"972": "Asia/Jerusalem",
	"44":  "Europe/London",
	"33":  "Europe/Paris",
	"49":  "Europe/Berlin",
	"31":  "Europe/Amsterdam",
	"1":   "America/New_York",
	"7":   "Europe/Moscow",
	"380": "Europe/Kyiv",
	"971": "Asia/Dubai",
	"66":  "Asia/Bangkok",
	"81":  "Asia/Tokyo",
	"61":  "Australia/Sydney",
	"54":  "America/Argentina/Buenos_Aires",
}

var timezoneByAbbreviation = map[string]string{
	"ist":  "Asia/Jerusalem",
	"idt":  "Asia/Jerusalem",
	"pst":  "America/Los_Angeles",
	"pdt":  "America/Los_Angeles",
	"est":  "America/New_York",
	"edt":  "America/New_York",
	"bst":  "Europe/London",
	"gmt":  "Europe/London",
	"cet":  "Europe/Berlin",
	"cest": "Europe/Berlin",
	"msk":  "Europe/Moscow",
}

// NormalizeTimezone attempts to resolve user input into a valid IANA timezone.
func NormalizeTimezone(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", errors.Wrap(errors.ErrUnknownTimezone, "timezone cannot be empty")
	}

	if isValidTimezone(trimmed) {
		if canonical := canonicalizeValidTimezone(trimmed); canonical != "" {
			return canonical, nil
		}
		return trimmed, nil
	}

	candidate := sanitizeTimezone(trimmed)
	if isValidTimezone(candidate) {
		return candidate, nil
	}

	lower := strings.ToLower(trimmed)
	if tz, ok := timezoneByAbbreviation[lower]; ok {
		return tz, nil
	}
	if tz := GuessTimezoneFromLocation(lower); tz != "" {
		return tz, nil
	}
	if tz, ok := countryCodeTimezones[lower]; ok {
		return tz, nil
	}

	return "", errors.Wrapf(errors.ErrUnknownTimezone, "%q", input)
}

// GuessTimezoneFromLocation uses keyword heuristics to derive a timezone.
func GuessTimezoneFromLocation(location string) string {
	lower := strings.ToLower(strings.TrimSpace(location))
	for _, keyword := range locationKeywords {
		if strings.Contains(lower, keyword) {
			return locationKeywordTimezones[keyword]
		}
	}
	return ""
}

// GuessTimezoneFromCountryCode maps ISO-like country codes to timezones.
func GuessTimezoneFromCountryCode(code string) string {
	return countryCodeTimezones[strings.ToLower(strings.TrimSpace(code))]
}

// GuessTimezoneFromPhone derives a timezone from a chat address such as
// "972501234567", "+972-50-123-4567" or "972501234567@s.whatsapp.net".
func GuessTimezoneFromPhone(address string) string {
	if at := strings.IndexByte(address, '@'); at >= 0 {
		address = address[:at]
	}
	var digits strings.Builder
	for _, r := range address {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	number := strings.TrimLeft(digits.String(), "0")
	for n := 3; n >= 1; n-- {
		if len(number) <= n {
			continue
		}
		if tz, ok := callingCodeTimezones[number[:n]]; ok {
			return tz
		}
	}
	return ""
}

// DetectLocalTimezone attempts to determine the host operating system timezone.
func DetectLocalTimezone() (string, error) {
	if tz := os.Getenv("TZ"); tz != "" && isValidTimezone(tz) {
		return tz, nil
	}
	if name := time.Now().Location().String(); name != "" && name != "Local" && isValidTimezone(name) {
		return name, nil
	}
	if data, err := os.ReadFile("/etc/timezone"); err == nil {
		if tz := sanitizeTimezone(string(data)); isValidTimezone(tz) {
			return tz, nil
		}
	}
	if resolved, err := filepath.EvalSymlinks("/etc/localtime"); err == nil {
		if idx := strings.Index(resolved, "zoneinfo/"); idx >= 0 {
			if tz := resolved[idx+len("zoneinfo/"):]; isValidTimezone(tz) {
				return tz, nil
			}
		}
	}
	return "", errors.Wrap(errors.ErrUnknownTimezone, "could not detect local timezone")
}

var (
	locationCache   = map[string]*time.Location{}
	locationCacheMu sync.RWMutex
)

// Load returns the *time.Location for an IANA name, caching lookups since
// every parse and every job dispatch needs one. An empty name is an error:
// callers must supply the user's zone or the configured default.
func Load(name string) (*time.Location, error) {
	locationCacheMu.RLock()
	loc, ok := locationCache[name]
	locationCacheMu.RUnlock()
	if ok {
		return loc, nil
	}
	if name == "" {
		return nil, errors.Wrap(errors.ErrUnknownTimezone, "empty timezone")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "load timezone %q", name), errors.ErrUnknownTimezone)
	}
	locationCacheMu.Lock()
	locationCache[name] = loc
	locationCacheMu.Unlock()
	return loc, nil
}

// ValidateTimezone ensures the timezone string maps to a valid IANA entry.
func ValidateTimezone(tz string) error {
	if !isValidTimezone(tz) {
		return errors.Wrapf(errors.ErrUnknownTimezone, "invalid timezone: %s", tz)
	}
	return nil
}

func sanitizeTimezone(tz string) string {
	trimmed := strings.Trim(strings.TrimSpace(tz), "\"'")
	trimmed = strings.ReplaceAll(trimmed, " ", "_")
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		parts[i] = title(part)
	}
	return strings.Join(parts, "/")
}

func title(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

func isValidTimezone(tz string) bool {
	if tz == "" || strings.EqualFold(tz, "local") {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// canonicalizeValidTimezone fixes capitalization ("asia/jerusalem") but
// leaves properly formatted names like "America/Port_of_Spain" alone.
func canonicalizeValidTimezone(tz string) string {
	if !hasIncorrectCapitalization(tz) {
		return ""
	}
	candidate := sanitizeTimezone(tz)
	if isValidTimezone(candidate) && candidate != tz {
		return candidate
	}
	return ""
}

func hasIncorrectCapitalization(tz string) bool {
	if strings.ToLower(tz) == tz {
		return true
	}
	for _, part := range strings.Split(tz, "/") {
		if len(part) > 0 && part[0] >= 'a' && part[0] <= 'z' {
			return true
		}
	}
	return false
}
