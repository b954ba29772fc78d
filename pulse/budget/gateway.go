// Package budget guards every paid model call. The Gateway keeps fixed
// window counters in memory (per minute, hour and day, plus a daily cap per
// user); the optional Tracker adds a dollar budget computed from the
// ai_model_usage table. Losing the counters on restart only resets budgets
// early.
package budget

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
)

// Limits caps model calls per window. A zero limit denies every call in
// that window.
type Limits struct {
	PerMinute    int
	PerHour      int
	PerDay       int
	PerUserDaily int
}

// LimitsFromConfig reads the quota section of am.toml.
func LimitsFromConfig(q am.QuotaConfig) Limits {
	return Limits{
		PerMinute:    q.PerMinute,
		PerHour:      q.PerHour,
		PerDay:       q.PerDay,
		PerUserDaily: q.PerUserDaily,
	}
}

// Decision is the answer to ShouldInvoke.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err returns nil for an allowed decision and errors.ErrQuotaExceeded
// carrying the reason otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return errors.WithHint(
		errors.WithDetail(errors.ErrQuotaExceeded, d.Reason),
		"the deterministic parser still works; try an explicit date and time")
}

// SpendChecker is consulted before the counters when a dollar budget is
// configured. Tracker implements it.
type SpendChecker interface {
	CheckBudget(estimatedCostUSD float64) error
}

type window struct {
	size  time.Duration
	start time.Time
	count int
}

func (w *window) roll(now time.Time) {
	start := now.Truncate(w.size)
	if !start.Equal(w.start) {
		w.start = start
		w.count = 0
	}
}

// Usage is a snapshot of the counters.
type Usage struct {
	Minute    int
	Hour      int
	Day       int
	UserDaily int
	Limits    Limits
}

// Gateway decides whether a model call may be made. Safe for concurrent use.
type Gateway struct {
	mu      sync.Mutex
	limits  Limits
	minute  window
	hour    window
	day     window
	userDay time.Time
	users   map[string]int

	spend        SpendChecker
	estimatedUSD float64

	timeNow func() time.Time // Injectable for testing
	log     *zap.SugaredLogger
}

// NewGateway creates a gateway with real time.
func NewGateway(limits Limits, log *zap.SugaredLogger) *Gateway {
	return NewGatewayWithClock(limits, log, time.Now)
}

// NewGatewayWithClock creates a gateway with an injectable clock (for testing).
func NewGatewayWithClock(limits Limits, log *zap.SugaredLogger, timeNow func() time.Time) *Gateway {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Gateway{
		limits:  limits,
		minute:  window{size: time.Minute},
		hour:    window{size: time.Hour},
		day:     window{size: 24 * time.Hour},
		users:   make(map[string]int),
		timeNow: timeNow,
		log:     logger.AddPulseSymbol(log),
	}
}

// SetSpendGuard enables the dollar budget. estimatedUSD is the expected
// cost of one call.
func (g *Gateway) SetSpendGuard(s SpendChecker, estimatedUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spend = s
	g.estimatedUSD = estimatedUSD
}

// SetLimits replaces the limits without touching the counters. Used by the
// config watcher for hot reload.
func (g *Gateway) SetLimits(l Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l != g.limits {
		g.log.Infow("Quota limits updated",
			"per_minute", l.PerMinute, "per_hour", l.PerHour,
			"per_day", l.PerDay, "per_user_daily", l.PerUserDaily)
	}
	g.limits = l
}

// ShouldInvoke reports whether userID may trigger a model call now. An
// allowed decision reserves one unit in every counter: call it only right
// before the remote call, never for cache hits.
func (g *Gateway) ShouldInvoke(userID string) Decision {
	g.mu.Lock()
	spend, estimate := g.spend, g.estimatedUSD
	g.mu.Unlock()

	if spend != nil {
		if err := spend.CheckBudget(estimate); err != nil {
			g.log.Warnw("Model call denied by spend guard",
				logger.FieldUserID, userID, logger.FieldError, err.Error())
			return Decision{Reason: "spend budget: " + err.Error()}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.timeNow()
	g.rollLocked(now)

	for _, c := range []struct {
		name  string
		count int
		limit int
	}{
		{"per-minute", g.minute.count, g.limits.PerMinute},
		{"per-hour", g.hour.count, g.limits.PerHour},
		{"per-day", g.day.count, g.limits.PerDay},
		{"per-user daily", g.users[userID], g.limits.PerUserDaily},
	} {
		if c.count >= c.limit {
			reason := fmt.Sprintf("%s quota reached (%d/%d)", c.name, c.count, c.limit)
			g.log.Warnw("Model call denied", logger.FieldUserID, userID, logger.FieldReason, reason)
			return Decision{Reason: reason}
		}
	}

	g.minute.count++
	g.hour.count++
	g.day.count++
	g.users[userID]++
	return Decision{Allowed: true}
}

// Usage returns the counters as seen by userID.
func (g *Gateway) Usage(userID string) Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked(g.timeNow())
	return Usage{
		Minute:    g.minute.count,
		Hour:      g.hour.count,
		Day:       g.day.count,
		UserDaily: g.users[userID],
		Limits:    g.limits,
	}
}

// Must be called with lock held.
func (g *Gateway) rollLocked(now time.Time) {
	g.minute.roll(now)
	g.hour.roll(now)
	g.day.roll(now)
	if day := now.Truncate(24 * time.Hour); !day.Equal(g.userDay) {
		g.userDay = day
		g.users = make(map[string]int)
	}
}
