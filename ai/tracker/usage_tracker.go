// Package tracker records every language-model call in ai_model_usage.
// The spend guard in pulse/budget reads the same rows back, so failed
// calls are recorded too (with success = 0 and no cost).
package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/yoman/db"
	"github.com/teranos/yoman/errors"
)

// ModelUsage represents a record of AI model usage
type ModelUsage struct {
	ID                int64
	OperationType     string
	UserID            string
	ModelName         string
	ModelProvider     string
	ModelConfig       *string
	RequestTimestamp  time.Time
	ResponseTimestamp *time.Time
	TokensUsed        *int
	Cost              *float64
	Success           bool
	ErrorMessage      *string
}

// ModelConfig represents the sampling configuration of a request
type ModelConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// UsageTracker provides functionality to track AI model usage
type UsageTracker struct {
	db *sql.DB
}

// NewUsageTracker creates a new AI usage tracker
func NewUsageTracker(db *sql.DB) *UsageTracker {
	return &UsageTracker{db: db}
}

// TrackUsage records AI model usage in the database
func (t *UsageTracker) TrackUsage(ctx context.Context, usage *ModelUsage) error {
	var userID sql.NullString
	if usage.UserID != "" {
		userID = sql.NullString{String: usage.UserID, Valid: true}
	}

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO ai_model_usage (
			operation_type, user_id, model_name, model_provider, model_config,
			request_timestamp, response_timestamp, tokens_used, cost,
			success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.OperationType, userID, usage.ModelName, usage.ModelProvider, usage.ModelConfig,
		db.FormatTime(usage.RequestTimestamp), db.NullTime(usage.ResponseTimestamp),
		usage.TokensUsed, usage.Cost, usage.Success, usage.ErrorMessage,
	)
	if err != nil {
		return errors.Wrapf(err, "record %s usage for %s", usage.ModelProvider, usage.ModelName)
	}
	return nil
}

// UsageStats represents aggregated usage statistics
type UsageStats struct {
	TotalRequests      int     `json:"total_requests" yaml:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests" yaml:"successful_requests"`
	SuccessRate        float64 `json:"success_rate" yaml:"success_rate"`
	TotalTokens        int     `json:"total_tokens" yaml:"total_tokens"`
	TotalCost          float64 `json:"total_cost" yaml:"total_cost"`
	UniqueModels       int     `json:"unique_models" yaml:"unique_models"`
	UniqueUsers        int     `json:"unique_users" yaml:"unique_users"`
}

// GetUsageStats returns usage statistics since the given instant
func (t *UsageTracker) GetUsageStats(ctx context.Context, since time.Time) (*UsageStats, error) {
	var stats UsageStats
	err := t.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN success = 1 THEN 1 END),
			COALESCE(SUM(COALESCE(tokens_used, 0)), 0),
			COALESCE(SUM(COALESCE(cost, 0)), 0),
			COUNT(DISTINCT model_name),
			COUNT(DISTINCT user_id)
		FROM ai_model_usage
		WHERE request_timestamp >= ?`, db.FormatTime(since),
	).Scan(&stats.TotalRequests, &stats.SuccessfulRequests,
		&stats.TotalTokens, &stats.TotalCost, &stats.UniqueModels, &stats.UniqueUsers)
	if err != nil {
		return nil, errors.Wrap(err, "query usage stats")
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}
	return &stats, nil
}

// ModelBreakdown represents usage statistics for a specific model
type ModelBreakdown struct {
	ModelName     string  `json:"model_name" yaml:"model_name"`
	ModelProvider string  `json:"model_provider" yaml:"model_provider"`
	RequestCount  int     `json:"request_count" yaml:"request_count"`
	TotalTokens   int     `json:"total_tokens" yaml:"total_tokens"`
	TotalCost     float64 `json:"total_cost" yaml:"total_cost"`
}

// GetModelBreakdown returns successful usage grouped by model, most expensive first
func (t *UsageTracker) GetModelBreakdown(ctx context.Context, since time.Time) ([]ModelBreakdown, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT model_name, model_provider, COUNT(*),
			COALESCE(SUM(COALESCE(tokens_used, 0)), 0),
			COALESCE(SUM(COALESCE(cost, 0)), 0)
		FROM ai_model_usage
		WHERE request_timestamp >= ? AND success = 1
		GROUP BY model_name, model_provider
		ORDER BY 5 DESC, model_name ASC`, db.FormatTime(since))
	if err != nil {
		return nil, errors.Wrap(err, "query model breakdown")
	}
	defer rows.Close()

	var breakdown []ModelBreakdown
	for rows.Next() {
		var mb ModelBreakdown
		if err := rows.Scan(&mb.ModelName, &mb.ModelProvider, &mb.RequestCount, &mb.TotalTokens, &mb.TotalCost); err != nil {
			return nil, errors.Wrap(err, "scan model breakdown")
		}
		breakdown = append(breakdown, mb)
	}
	return breakdown, errors.Wrap(rows.Err(), "iterate model breakdown")
}

// NewModelConfig serializes sampling parameters for the model_config column.
func NewModelConfig(temperature *float64, maxTokens *int) *string {
	if temperature == nil && maxTokens == nil {
		return nil
	}
	data, err := json.Marshal(ModelConfig{Temperature: temperature, MaxTokens: maxTokens})
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}
