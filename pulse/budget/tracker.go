package budget

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/teranos/yoman/errors"
)

// BudgetConfig contains dollar limits for model calls. A zero weekly or
// monthly budget is not enforced; the daily budget always is.
type BudgetConfig struct {
	DailyBudgetUSD   float64
	WeeklyBudgetUSD  float64
	MonthlyBudgetUSD float64
	CostPerCallUSD   float64
}

// Status is the spend picture across the sliding windows.
type Status struct {
	DailySpend       float64
	WeeklySpend      float64
	MonthlySpend     float64
	DailyRemaining   float64
	WeeklyRemaining  float64
	MonthlyRemaining float64
	DailyOps         int
	WeeklyOps        int
	MonthlyOps       int
}

// Tracker enforces the dollar budget from recorded usage.
type Tracker struct {
	store  *Store
	config BudgetConfig
	mu     sync.RWMutex // Protects config from concurrent read/write
}

// NewTracker creates a tracker over the ai_model_usage table in db.
func NewTracker(db *sql.DB, config BudgetConfig) *Tracker {
	return &Tracker{
		store:  NewStore(db),
		config: config,
	}
}

// GetStatus reads actual spend for every window.
func (bt *Tracker) GetStatus() (*Status, error) {
	dailySpend, dailyOps, err := bt.store.GetActualDailySpend()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get daily spend from usage")
	}
	weeklySpend, weeklyOps, err := bt.store.GetActualWeeklySpend()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get weekly spend from usage")
	}
	monthlySpend, monthlyOps, err := bt.store.GetActualMonthlySpend()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get monthly spend from usage")
	}

	bt.mu.RLock()
	cfg := bt.config
	bt.mu.RUnlock()

	return &Status{
		DailySpend:       dailySpend,
		WeeklySpend:      weeklySpend,
		MonthlySpend:     monthlySpend,
		DailyRemaining:   cfg.DailyBudgetUSD - dailySpend,
		WeeklyRemaining:  cfg.WeeklyBudgetUSD - weeklySpend,
		MonthlyRemaining: cfg.MonthlyBudgetUSD - monthlySpend,
		DailyOps:         dailyOps,
		WeeklyOps:        weeklyOps,
		MonthlyOps:       monthlyOps,
	}, nil
}

// CheckBudget returns an error if spending estimatedCostUSD more would
// exceed any configured budget.
func (bt *Tracker) CheckBudget(estimatedCostUSD float64) error {
	status, err := bt.GetStatus()
	if err != nil {
		return errors.Wrap(err, "failed to get budget status")
	}

	bt.mu.RLock()
	cfg := bt.config
	bt.mu.RUnlock()

	if status.DailySpend+estimatedCostUSD > cfg.DailyBudgetUSD {
		return errors.WithDetail(
			errors.Newf("daily budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
				status.DailySpend, estimatedCostUSD, cfg.DailyBudgetUSD),
			fmt.Sprintf("%d calls in the last 24h", status.DailyOps))
	}
	if cfg.WeeklyBudgetUSD > 0 && status.WeeklySpend+estimatedCostUSD > cfg.WeeklyBudgetUSD {
		return errors.Newf("weekly budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
			status.WeeklySpend, estimatedCostUSD, cfg.WeeklyBudgetUSD)
	}
	if cfg.MonthlyBudgetUSD > 0 && status.MonthlySpend+estimatedCostUSD > cfg.MonthlyBudgetUSD {
		return errors.Newf("monthly budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
			status.MonthlySpend, estimatedCostUSD, cfg.MonthlyBudgetUSD)
	}
	return nil
}

// EstimateCallCost returns the expected cost of n model calls.
func (bt *Tracker) EstimateCallCost(n int) float64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return float64(n) * bt.config.CostPerCallUSD
}

// UpdateDailyBudget changes the daily budget in memory. Persisting it is
// the caller's job (am.UpdateQuota).
func (bt *Tracker) UpdateDailyBudget(newBudgetUSD float64) error {
	if newBudgetUSD < 0 {
		return errors.Wrapf(errors.ErrInvalidRequest, "daily budget cannot be negative: %.2f", newBudgetUSD)
	}
	bt.mu.Lock()
	bt.config.DailyBudgetUSD = newBudgetUSD
	bt.mu.Unlock()
	return nil
}

// GetBudgetConfig returns a copy of the current configuration.
func (bt *Tracker) GetBudgetConfig() BudgetConfig {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.config
}
