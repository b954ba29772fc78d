package assistant

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/yoman/db"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/intent"
	"github.com/teranos/yoman/recur"
	"github.com/teranos/yoman/temporal"
)

// Item is a user's event, reminder or task.
type Item struct {
	ID              string
	OwnerUserID     string
	Kind            intent.Object
	Title           string
	Participants    []string
	Anchor          *time.Time
	Timezone        string
	IsAllDay        bool
	Recurrence      *recur.Rule
	LeadTimeMinutes int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ItemStore keeps items in SQLite. Deleted items stay in the table with
// deleted_at set.
type ItemStore struct {
	db      *sql.DB
	timeNow func() time.Time
}

// NewItemStore creates a store over db.
func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db, timeNow: time.Now}
}

// WithClock injects the time source (for testing).
func (s *ItemStore) WithClock(now func() time.Time) *ItemStore {
	s.timeNow = now
	return s
}

var _ intent.ItemLookup = (*ItemStore)(nil)

const itemColumns = `id, owner_user_id, kind, title, participants, anchor, timezone,
	is_all_day, recurrence, lead_time_minutes, created_at, updated_at`

// Create stores item, assigning an id when it has none.
func (s *ItemStore) Create(ctx context.Context, item *Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := s.timeNow().UTC()
	item.CreatedAt, item.UpdatedAt = now, now

	fields, err := itemArgs(item)
	if err != nil {
		return err
	}
	args := []interface{}{item.ID, item.OwnerUserID, string(item.Kind)}
	args = append(args, fields...)
	args = append(args, db.FormatTime(now), db.FormatTime(now))
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO items (id, owner_user_id, kind, title, normalized_title, participants, anchor,
			timezone, is_all_day, recurrence, lead_time_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return errors.Wrapf(err, "create %s item", item.Kind)
}

// Update rewrites the mutable fields of a live item.
func (s *ItemStore) Update(ctx context.Context, item *Item) error {
	now := s.timeNow().UTC()
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET title = ?, normalized_title = ?, participants = ?, anchor = ?, timezone = ?,
			is_all_day = ?, recurrence = ?, lead_time_minutes = ?, updated_at = ?
		WHERE id = ? AND owner_user_id = ? AND deleted_at IS NULL`,
		append(args, db.FormatTime(now), item.ID, item.OwnerUserID)...)
	if err != nil {
		return errors.Wrapf(err, "update item %s", item.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("item %s", item.ID)
	}
	item.UpdatedAt = now
	return nil
}

// itemArgs renders the columns from title through lead_time_minutes.
func itemArgs(item *Item) ([]interface{}, error) {
	participants := item.Participants
	if participants == nil {
		participants = []string{}
	}
	people, err := json.Marshal(participants)
	if err != nil {
		return nil, errors.Wrap(err, "encode participants")
	}
	rule, err := recur.Encode(item.Recurrence)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		item.Title, temporal.Normalize(item.Title), string(people), db.NullTime(item.Anchor),
		item.Timezone, item.IsAllDay, sql.NullString{String: rule, Valid: rule != ""}, item.LeadTimeMinutes,
	}, nil
}

// Get returns a live item of owner.
func (s *ItemStore) Get(ctx context.Context, owner, id string) (*Item, error) {
	items, err := s.query(ctx, `WHERE id = ? AND owner_user_id = ? AND deleted_at IS NULL`, id, owner)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.NewNotFoundError("item %s", id)
	}
	return items[0], nil
}

// Delete marks an item deleted.
func (s *ItemStore) Delete(ctx context.Context, owner, id string) error {
	now := db.FormatTime(s.timeNow())
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND owner_user_id = ? AND deleted_at IS NULL`,
		now, now, id, owner)
	if err != nil {
		return errors.Wrapf(err, "delete item %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("item %s", id)
	}
	return nil
}

// List returns owner's live items of kind, or of every kind for
// ObjectNone, most recently touched first.
func (s *ItemStore) List(ctx context.Context, owner string, kind intent.Object) ([]*Item, error) {
	if kind == intent.ObjectNone {
		return s.query(ctx, `WHERE owner_user_id = ? AND deleted_at IS NULL ORDER BY updated_at DESC, id`, owner)
	}
	return s.query(ctx, `WHERE owner_user_id = ? AND kind = ? AND deleted_at IS NULL ORDER BY updated_at DESC, id`,
		owner, string(kind))
}

// FindItem implements intent.ItemLookup. An empty hint picks the most
// recently touched item; otherwise the item whose title shares the most
// words with hint wins, ties going to the more recent one.
func (s *ItemStore) FindItem(ctx context.Context, userID string, obj intent.Object, hint string) (intent.ItemRef, bool, error) {
	items, err := s.List(ctx, userID, obj)
	if err != nil || len(items) == 0 {
		return intent.ItemRef{}, false, err
	}

	var best *Item
	if hint == "" {
		best = items[0]
	} else {
		want := strings.Fields(temporal.Normalize(hint))
		top := 0
		for _, it := range items {
			if n := overlap(want, temporal.Normalize(it.Title)); n > top {
				best, top = it, n
			}
		}
	}
	if best == nil {
		return intent.ItemRef{}, false, nil
	}
	return intent.ItemRef{ID: best.ID, Kind: best.Kind, Title: best.Title}, true, nil
}

// overlap counts the words of want found in title. Hebrew prefixes are
// stripped first, so "לפגישה" matches a title containing "פגישה".
func overlap(want []string, title string) int {
	have := map[string]bool{}
	for _, w := range strings.Fields(title) {
		for _, c := range temporal.Candidates(w) {
			have[c] = true
		}
	}
	n := 0
	for _, w := range want {
		for _, c := range temporal.Candidates(w) {
			if have[c] {
				n++
				break
			}
		}
	}
	return n
}

func (s *ItemStore) query(ctx context.Context, tail string, args ...interface{}) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items `+tail, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query items")
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var (
			it                             Item
			kind, people, created, updated string
			anchor, rule                   sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.OwnerUserID, &kind, &it.Title, &people, &anchor, &it.Timezone,
			&it.IsAllDay, &rule, &it.LeadTimeMinutes, &created, &updated); err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		it.Kind = intent.Object(kind)
		if err := json.Unmarshal([]byte(people), &it.Participants); err != nil {
			return nil, errors.Wrapf(err, "decode participants of item %s", it.ID)
		}
		if it.Anchor, err = db.ParseNullTime(anchor); err != nil {
			return nil, err
		}
		if it.Recurrence, err = recur.Decode(rule.String); err != nil {
			return nil, err
		}
		if it.CreatedAt, err = db.ParseTime(created); err != nil {
			return nil, err
		}
		if it.UpdatedAt, err = db.ParseTime(updated); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, errors.Wrap(rows.Err(), "iterate items")
}
