// Package temporal resolves date and time expressions in Hebrew and
// English text without any network call. Anything it cannot read with
// certainty is reported as a miss so the caller can escalate to the
// model-backed resolver.
package temporal

import (
	"time"

	"github.com/teranos/yoman/am/geotime"
)

// Source records which tier produced a ResolvedTime.
type Source string

const (
	SourceDeterministic Source = "deterministic"
	SourceModel         Source = "model"
	SourceCache         Source = "cache"
)

// ResolvedTime is an immutable resolved point in time.
type ResolvedTime struct {
	Instant    time.Time `json:"instant"`
	Timezone   string    `json:"timezone"`
	IsAllDay   bool      `json:"is_all_day"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
}

// IsZero reports whether r carries no instant.
func (r ResolvedTime) IsZero() bool {
	return r.Instant.IsZero()
}

// WithSource returns a copy of r attributed to s.
func (r ResolvedTime) WithSource(s Source) ResolvedTime {
	r.Source = s
	return r
}

// Local returns the instant in its own timezone, or UTC if the zone
// cannot be loaded.
func (r ResolvedTime) Local() time.Time {
	loc, err := geotime.Load(r.Timezone)
	if err != nil {
		return r.Instant.UTC()
	}
	return r.Instant.In(loc)
}

// Match describes what the parser recognised.
type Match struct {
	// OK is false on a miss. A miss is expected and is not an error.
	OK bool
	// Compound is set when a relative offset ("in 2 hours") appears
	// together with an explicit day or clock time. The grammar does not
	// combine those, so the phrase is left for the model resolver.
	Compound bool
	// Remainder is the normalised text with recognised temporal phrases
	// removed, e.g. the title of the reminder.
	Remainder string
}
