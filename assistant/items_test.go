package assistant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/intent"
	yomantest "github.com/teranos/yoman/internal/testing"
	"github.com/teranos/yoman/recur"
)

// steppingClock advances one minute per call, so every write gets a
// distinct updated_at.
func steppingClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func newItemStore(t *testing.T) *ItemStore {
	return NewItemStore(yomantest.CreateTestDB(t)).WithClock(steppingClock(ref))
}

func TestItemStoreRoundTrip(t *testing.T) {
	s := newItemStore(t)
	ctx := context.Background()
	anchor := time.Date(2025, 10, 15, 13, 0, 0, 0, time.UTC)

	item := &Item{
		OwnerUserID:     "u1",
		Kind:            intent.ObjectEvent,
		Title:           "פגישה עם דני",
		Participants:    []string{"דני"},
		Anchor:          &anchor,
		Timezone:        "Asia/Jerusalem",
		Recurrence:      &recur.Rule{Frequency: recur.Weekly, Interval: 1, ByWeekday: []time.Weekday{time.Wednesday}},
		LeadTimeMinutes: 15,
	}
	require.NoError(t, s.Create(ctx, item))
	require.NotEmpty(t, item.ID)

	got, err := s.Get(ctx, "u1", item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Title, got.Title)
	assert.Equal(t, []string{"דני"}, got.Participants)
	require.NotNil(t, got.Anchor)
	assert.True(t, anchor.Equal(*got.Anchor))
	assert.Equal(t, recur.Weekly, got.Recurrence.Frequency)
	assert.Equal(t, 15, got.LeadTimeMinutes)

	_, err = s.Get(ctx, "someone-else", item.ID)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestItemStoreUntimedItem(t *testing.T) {
	s := newItemStore(t)
	ctx := context.Background()

	item := &Item{OwnerUserID: "u1", Kind: intent.ObjectTask, Title: "buy milk", Timezone: "UTC"}
	require.NoError(t, s.Create(ctx, item))

	got, err := s.Get(ctx, "u1", item.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Anchor)
	assert.Nil(t, got.Recurrence)
	assert.Empty(t, got.Participants)
}

func TestItemStoreUpdate(t *testing.T) {
	s := newItemStore(t)
	ctx := context.Background()

	item := &Item{OwnerUserID: "u1", Kind: intent.ObjectReminder, Title: "call mom", Timezone: "UTC"}
	require.NoError(t, s.Create(ctx, item))
	created := item.UpdatedAt

	item.LeadTimeMinutes = 30
	require.NoError(t, s.Update(ctx, item))
	assert.True(t, item.UpdatedAt.After(created))

	got, err := s.Get(ctx, "u1", item.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.LeadTimeMinutes)

	missing := &Item{ID: "nope", OwnerUserID: "u1", Timezone: "UTC"}
	assert.True(t, errors.IsNotFoundError(s.Update(ctx, missing)))
}

func TestItemStoreDeleteIsSoft(t *testing.T) {
	s := newItemStore(t)
	ctx := context.Background()

	item := &Item{OwnerUserID: "u1", Kind: intent.ObjectTask, Title: "buy milk", Timezone: "UTC"}
	require.NoError(t, s.Create(ctx, item))
	require.NoError(t, s.Delete(ctx, "u1", item.ID))

	_, err := s.Get(ctx, "u1", item.ID)
	assert.True(t, errors.IsNotFoundError(err))
	assert.True(t, errors.IsNotFoundError(s.Delete(ctx, "u1", item.ID)))

	var deleted int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM items WHERE deleted_at IS NOT NULL`).Scan(&deleted))
	assert.Equal(t, 1, deleted)
}

func TestItemStoreList(t *testing.T) {
	s := newItemStore(t)
	ctx := context.Background()

	for _, it := range []*Item{
		{OwnerUserID: "u1", Kind: intent.ObjectTask, Title: "buy milk", Timezone: "UTC"},
		{OwnerUserID: "u1", Kind: intent.ObjectReminder, Title: "call mom", Timezone: "UTC"},
		{OwnerUserID: "u2", Kind: intent.ObjectTask, Title: "not mine", Timezone: "UTC"},
	} {
		require.NoError(t, s.Create(ctx, it))
	}

	all, err := s.List(ctx, "u1", intent.ObjectNone)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "call mom", all[0].Title, "most recent first")

	tasks, err := s.List(ctx, "u1", intent.ObjectTask)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "buy milk", tasks[0].Title)
}

func TestFindItem(t *testing.T) {
	s := newItemStore(t)
	ctx := context.Background()

	dentist := &Item{OwnerUserID: "u1", Kind: intent.ObjectEvent, Title: "dentist appointment", Timezone: "UTC"}
	meeting := &Item{OwnerUserID: "u1", Kind: intent.ObjectEvent, Title: "פגישה עם דני", Timezone: "UTC"}
	mom := &Item{OwnerUserID: "u1", Kind: intent.ObjectReminder, Title: "call mom", Timezone: "UTC"}
	for _, it := range []*Item{dentist, meeting, mom} {
		require.NoError(t, s.Create(ctx, it))
	}

	tests := []struct {
		name string
		obj  intent.Object
		hint string
		want string
		ok   bool
	}{
		{"pronoun picks the latest", intent.ObjectNone, "", mom.ID, true},
		{"pronoun within a kind", intent.ObjectEvent, "", meeting.ID, true},
		{"word overlap", intent.ObjectNone, "dentist", dentist.ID, true},
		{"hebrew prefix stripped", intent.ObjectEvent, "לפגישה", meeting.ID, true},
		{"no overlap", intent.ObjectNone, "passport", "", false},
		{"wrong kind", intent.ObjectTask, "dentist", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, ok, err := s.FindItem(ctx, "u1", tt.obj, tt.hint)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, ref.ID)
		})
	}
}
