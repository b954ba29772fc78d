package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/yoman/db"
	yomantest "github.com/teranos/yoman/internal/testing"
	"github.com/teranos/yoman/internal/util"
)

func TestTrackUsage(t *testing.T) {
	conn := yomantest.CreateTestDB(t)
	tr := NewUsageTracker(conn)
	ctx := context.Background()

	now := time.Date(2025, 10, 14, 9, 0, 0, 0, time.UTC)
	resp := now.Add(2 * time.Second)

	err := tr.TrackUsage(ctx, &ModelUsage{
		OperationType:     "temporal-resolve",
		UserID:            "972501234567",
		ModelName:         "openai/gpt-4o-mini",
		ModelProvider:     "openrouter",
		ModelConfig:       NewModelConfig(util.Ptr(0.0), util.Ptr(300)),
		RequestTimestamp:  now,
		ResponseTimestamp: &resp,
		TokensUsed:        util.Ptr(150),
		Cost:              util.Ptr(0.0002),
		Success:           true,
	})
	require.NoError(t, err)

	var (
		op, user, reqTS, config string
		success                 bool
	)
	err = conn.QueryRow(`SELECT operation_type, user_id, request_timestamp, model_config, success
		FROM ai_model_usage`).Scan(&op, &user, &reqTS, &config, &success)
	require.NoError(t, err)

	assert.Equal(t, "temporal-resolve", op)
	assert.Equal(t, "972501234567", user)
	assert.Equal(t, db.FormatTime(now), reqTS)
	assert.JSONEq(t, `{"temperature":0,"max_tokens":300}`, config)
	assert.True(t, success)
}

func TestTrackUsage_AnonymousFailure(t *testing.T) {
	conn := yomantest.CreateTestDB(t)
	tr := NewUsageTracker(conn)

	msg := "status 503"
	require.NoError(t, tr.TrackUsage(context.Background(), &ModelUsage{
		OperationType:    "temporal-resolve",
		ModelName:        "llama3.2",
		ModelProvider:    "local",
		RequestTimestamp: time.Now(),
		ErrorMessage:     &msg,
	}))

	var userValid bool
	require.NoError(t, conn.QueryRow(`SELECT user_id IS NOT NULL FROM ai_model_usage`).Scan(&userValid))
	assert.False(t, userValid, "empty user id is stored as NULL")
}

func TestGetUsageStats(t *testing.T) {
	conn := yomantest.CreateTestDB(t)
	tr := NewUsageTracker(conn)
	ctx := context.Background()
	now := time.Now()

	record := func(user, model string, at time.Time, ok bool, tokens int, cost float64) {
		t.Helper()
		require.NoError(t, tr.TrackUsage(ctx, &ModelUsage{
			OperationType:    "temporal-resolve",
			UserID:           user,
			ModelName:        model,
			ModelProvider:    "openrouter",
			RequestTimestamp: at,
			TokensUsed:       util.Ptr(tokens),
			Cost:             util.Ptr(cost),
			Success:          ok,
		}))
	}

	record("u1", "m1", now.Add(-time.Hour), true, 100, 0.01)
	record("u2", "m1", now.Add(-2*time.Hour), true, 200, 0.02)
	record("u2", "m2", now.Add(-3*time.Hour), false, 0, 0)
	record("u3", "m2", now.Add(-48*time.Hour), true, 999, 9.99)

	stats, err := tr.GetUsageStats(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalRequests)
	assert.Equal(t, 2, stats.SuccessfulRequests)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
	assert.Equal(t, 300, stats.TotalTokens)
	assert.InDelta(t, 0.03, stats.TotalCost, 1e-9)
	assert.Equal(t, 2, stats.UniqueModels)
	assert.Equal(t, 2, stats.UniqueUsers)

	breakdown, err := tr.GetModelBreakdown(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, breakdown, 1)
	assert.Equal(t, "m1", breakdown[0].ModelName)
	assert.Equal(t, 2, breakdown[0].RequestCount)
}

func TestGetUsageStats_Empty(t *testing.T) {
	tr := NewUsageTracker(yomantest.CreateTestDB(t))

	stats, err := tr.GetUsageStats(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.SuccessRate)
}

func TestTrackUsage_DatabaseError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("INSERT INTO ai_model_usage").WillReturnError(assert.AnError)

	err = NewUsageTracker(conn).TrackUsage(context.Background(), &ModelUsage{
		ModelName:        "m",
		ModelProvider:    "openrouter",
		RequestTimestamp: time.Now(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewModelConfig(t *testing.T) {
	assert.Nil(t, NewModelConfig(nil, nil))

	cfg := NewModelConfig(nil, util.Ptr(10))
	require.NotNil(t, cfg)
	assert.JSONEq(t, `{"max_tokens":10}`, *cfg)
}
