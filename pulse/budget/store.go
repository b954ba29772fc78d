package budget

import (
	"database/sql"
	"time"

	"github.com/teranos/yoman/db"
	"github.com/teranos/yoman/errors"
)

// Store handles spend queries against the ai_model_usage table.
type Store struct {
	db      *sql.DB
	timeNow func() time.Time
}

// NewStore creates a new budget store
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, timeNow: time.Now}
}

// getActualSpend sums successful calls in the sliding window ending now.
func (s *Store) getActualSpend(window time.Duration, period string) (totalCost float64, opCount int, err error) {
	since := db.FormatTime(s.timeNow().Add(-window))
	err = s.db.QueryRow(`
		SELECT
			COALESCE(SUM(cost), 0) AS total_cost,
			COUNT(*) AS operation_count
		FROM ai_model_usage
		WHERE request_timestamp >= ?
			AND success = 1
	`, since).Scan(&totalCost, &opCount)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to query %s spend", period)
	}
	return totalCost, opCount, nil
}

// GetActualDailySpend returns spend over the last 24 hours. Sliding windows
// cannot be gamed at midnight.
func (s *Store) GetActualDailySpend() (float64, int, error) {
	return s.getActualSpend(24*time.Hour, "daily")
}

// GetActualWeeklySpend returns spend over the last 7 days.
func (s *Store) GetActualWeeklySpend() (float64, int, error) {
	return s.getActualSpend(7*24*time.Hour, "weekly")
}

// GetActualMonthlySpend returns spend over the last 30 days.
func (s *Store) GetActualMonthlySpend() (float64, int, error) {
	return s.getActualSpend(30*24*time.Hour, "monthly")
}
