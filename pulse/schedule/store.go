package schedule

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/yoman/db"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/recur"
)

// Store handles persistence of scheduled jobs and their dispatch log.
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, owner_user_id, item_id, item_kind, fire_at, due_at, anchor,
	lead_time_minutes, recurrence, recurrence_version, occurrence, timezone, payload,
	state, attempts, last_error, claimed_by, claimed_until, fired_at, created_at, updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Insert stores job unless a job with the same key exists. It reports
// whether a row was written.
func (s *Store) Insert(ctx context.Context, job *Job) (bool, error) {
	return insert(ctx, s.db, job)
}

func insert(ctx context.Context, ex execer, job *Job) (bool, error) {
	rule, err := recur.Encode(job.Recurrence)
	if err != nil {
		return false, err
	}
	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}
	res, err := ex.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		job.ID, job.OwnerUserID, job.ItemID, job.ItemKind,
		db.FormatTime(job.FireAt), db.FormatTime(job.DueAt), db.FormatTime(job.Anchor),
		job.LeadTimeMinutes, nullString(rule), job.RecurrenceVersion, job.Occurrence, job.Timezone, payload,
		string(job.State), job.Attempts, nullString(job.LastError), nullString(job.ClaimedBy),
		db.NullTime(job.ClaimedUntil), db.NullTime(job.FiredAt),
		db.FormatTime(job.CreatedAt), db.FormatTime(job.UpdatedAt),
	)
	if err != nil {
		return false, errors.Wrapf(err, "insert job %s", job.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "insert job rows affected")
	}
	return n == 1, nil
}

// Get returns the job with id, or an ErrNotFound error.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("scheduled job %s", id)
	}
	return job, err
}

// State returns only the state of a job. Dispatch calls it right before
// sending so a cancel that raced the claim wins.
func (s *Store) State(ctx context.Context, id string) (State, error) {
	var st string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM scheduled_jobs WHERE id = ?`, id).Scan(&st)
	if err == sql.ErrNoRows {
		return "", errors.NewNotFoundError("scheduled job %s", id)
	}
	if err != nil {
		return "", errors.Wrapf(err, "read state of job %s", id)
	}
	return State(st), nil
}

// claimable is the condition under which job j may be leased at :now.
// A user's jobs go out in fire order: a job waits while the same user has
// an earlier-firing pending job or another job under a live lease.
const claimable = `
	j.state = 'pending'
	AND (j.claimed_until IS NULL OR j.claimed_until <= :now)
	AND NOT EXISTS (
		SELECT 1 FROM scheduled_jobs e
		WHERE e.owner_user_id = j.owner_user_id
		  AND e.id <> j.id
		  AND e.state = 'pending'
		  AND (e.fire_at < j.fire_at OR e.claimed_until > :now)
	)`

// Claim leases the next due job to worker until now+lease, or returns nil
// when nothing is claimable. The select and the update are one statement,
// so two workers never lease the same job.
func (s *Store) Claim(ctx context.Context, worker string, now time.Time, lease time.Duration) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE scheduled_jobs
		SET claimed_by = :worker, claimed_until = :until, updated_at = :now
		WHERE id = (
			SELECT j.id FROM scheduled_jobs j
			WHERE j.due_at <= :now AND `+claimable+`
			ORDER BY j.due_at, j.fire_at, j.id
			LIMIT 1
		)
		RETURNING `+jobColumns,
		sql.Named("worker", worker),
		sql.Named("until", db.FormatTime(now.Add(lease))),
		sql.Named("now", db.FormatTime(now)),
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "claim due job")
	}
	return job, nil
}

// ClaimID leases one specific pending job regardless of its due time.
func (s *Store) ClaimID(ctx context.Context, id, worker string, now time.Time, lease time.Duration) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE scheduled_jobs
		SET claimed_by = :worker, claimed_until = :until, updated_at = :now
		WHERE id = (SELECT j.id FROM scheduled_jobs j WHERE j.id = :id AND `+claimable+`)
		RETURNING `+jobColumns,
		sql.Named("id", id),
		sql.Named("worker", worker),
		sql.Named("until", db.FormatTime(now.Add(lease))),
		sql.Named("now", db.FormatTime(now)),
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "claim job %s", id)
	}
	return job, nil
}

// Fire marks a claimed job fired and inserts its successor, if any, in the
// same transaction. It reports false when the job was no longer pending or
// no longer leased to worker.
func (s *Store) Fire(ctx context.Context, id, worker string, firedAt time.Time, successor *Job) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "begin fire")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET state = 'fired', fired_at = ?, attempts = attempts + 1, last_error = NULL,
		    claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND state = 'pending' AND claimed_by = ?`,
		db.FormatTime(firedAt), db.FormatTime(firedAt), id, worker)
	if err != nil {
		return false, errors.Wrapf(err, "mark job %s fired", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if successor != nil {
		if _, err := insert(ctx, tx, successor); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "commit fire")
	}
	return true, nil
}

// Requeue releases a claimed job for another attempt at dueAt.
func (s *Store) Requeue(ctx context.Context, id, worker string, dueAt time.Time, attempts int, lastErr string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET due_at = ?, attempts = ?, last_error = ?, claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND state = 'pending' AND claimed_by = ?`,
		db.FormatTime(dueAt), attempts, nullString(lastErr), db.FormatTime(now), id, worker)
	return affected(res, err, "requeue job "+id)
}

// MarkFailed ends a claimed job whose attempts are exhausted.
func (s *Store) MarkFailed(ctx context.Context, id, worker string, attempts int, lastErr string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET state = 'failed', attempts = ?, last_error = ?, claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND state = 'pending' AND claimed_by = ?`,
		attempts, nullString(lastErr), db.FormatTime(now), id, worker)
	return affected(res, err, "mark job "+id+" failed")
}

// Release drops worker's lease on id without counting an attempt.
func (s *Store) Release(ctx context.Context, id, worker string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND claimed_by = ?`,
		db.FormatTime(now), id, worker)
	return errors.Wrapf(err, "release job %s", id)
}

// ReleaseForeign drops every lease not held by a worker of instance. At
// startup those belong to a process that is gone.
func (s *Store) ReleaseForeign(ctx context.Context, instance string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE claimed_by IS NOT NULL AND substr(claimed_by, 1, ?) <> ?`,
		db.FormatTime(now), len(instance), instance)
	return count(res, err, "release foreign claims")
}

// ReleaseExpired drops leases that ran out, e.g. of a worker that hung.
func (s *Store) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE state = 'pending' AND claimed_until IS NOT NULL AND claimed_until <= ?`,
		db.FormatTime(now), db.FormatTime(now))
	return count(res, err, "release expired claims")
}

// Cancel moves a pending job to cancelled, claimed or not. It reports
// whether the job was pending.
func (s *Store) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	return cancel(ctx, s.db, id, now)
}

func cancel(ctx context.Context, ex execer, id string, now time.Time) (bool, error) {
	res, err := ex.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET state = 'cancelled', claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND state = 'pending'`,
		db.FormatTime(now), id)
	return affected(res, err, "cancel job "+id)
}

// CancelItem cancels every pending job of an item.
func (s *Store) CancelItem(ctx context.Context, itemID string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET state = 'cancelled', claimed_by = NULL, claimed_until = NULL, updated_at = ?
		WHERE item_id = ? AND state = 'pending'`,
		db.FormatTime(now), itemID)
	return count(res, err, "cancel jobs of item "+itemID)
}

// Replace cancels old and inserts next in one transaction.
func (s *Store) Replace(ctx context.Context, oldID string, next *Job, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin replace")
	}
	defer tx.Rollback()

	ok, err := cancel(ctx, tx, oldID, now)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(errors.ErrConflict, "job %s is no longer pending", oldID)
	}
	if _, err := insert(ctx, tx, next); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit replace")
}

// ListPending returns every pending job, earliest due first.
func (s *Store) ListPending(ctx context.Context) ([]*Job, error) {
	return s.list(ctx, `WHERE state = 'pending' ORDER BY due_at, fire_at`)
}

// ListByOwner returns a user's jobs in the given states (all states when
// none are given), earliest fire first.
func (s *Store) ListByOwner(ctx context.Context, owner string, states ...State) ([]*Job, error) {
	where := `WHERE owner_user_id = ?`
	args := []interface{}{owner}
	if len(states) > 0 {
		where += ` AND state IN (?` + strings.Repeat(`, ?`, len(states)-1) + `)`
		for _, st := range states {
			args = append(args, string(st))
		}
	}
	return s.list(ctx, where+` ORDER BY fire_at, id`, args...)
}

// ListFailed returns the most recently failed jobs.
func (s *Store) ListFailed(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, `WHERE state = 'failed' ORDER BY updated_at DESC LIMIT ?`, limit)
}

// NextDue returns the pending job that comes due first, or nil.
func (s *Store) NextDue(ctx context.Context) (*Job, error) {
	jobs, err := s.list(ctx, `WHERE state = 'pending' ORDER BY due_at LIMIT 1`)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

func (s *Store) list(ctx context.Context, tail string, args ...interface{}) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs `+tail, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, errors.Wrap(rows.Err(), "iterate jobs")
}

// RecordAttempt appends to the dispatch log.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_attempts (id, job_id, attempt, outcome, error, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.JobID, a.Attempt, string(a.Outcome), nullString(a.Error), db.FormatTime(a.AttemptedAt))
	return errors.Wrapf(err, "record attempt %d of job %s", a.Attempt, a.JobID)
}

// ListAttempts returns a job's dispatch log, oldest first.
func (s *Store) ListAttempts(ctx context.Context, jobID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, attempt, outcome, error, attempted_at
		FROM dispatch_attempts WHERE job_id = ? ORDER BY attempted_at, attempt`, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "list attempts of job %s", jobID)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var outcome, at string
		var msg sql.NullString
		if err := rows.Scan(&a.ID, &a.JobID, &a.Attempt, &outcome, &msg, &at); err != nil {
			return nil, errors.Wrap(err, "scan attempt")
		}
		a.Outcome = Outcome(outcome)
		a.Error = msg.String
		if a.AttemptedAt, err = db.ParseTime(at); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "iterate attempts")
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(sc scanner) (*Job, error) {
	var (
		job                           Job
		fireAt, dueAt, anchor, state  string
		createdAt, updatedAt, payload string
		rule, lastErr, claimedBy      sql.NullString
		claimedUntil, firedAt         sql.NullString
	)
	err := sc.Scan(
		&job.ID, &job.OwnerUserID, &job.ItemID, &job.ItemKind, &fireAt, &dueAt, &anchor,
		&job.LeadTimeMinutes, &rule, &job.RecurrenceVersion, &job.Occurrence, &job.Timezone, &payload,
		&state, &job.Attempts, &lastErr, &claimedBy, &claimedUntil, &firedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan job")
	}

	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&job.FireAt, fireAt}, {&job.DueAt, dueAt}, {&job.Anchor, anchor},
		{&job.CreatedAt, createdAt}, {&job.UpdatedAt, updatedAt},
	} {
		if *f.dst, err = db.ParseTime(f.src); err != nil {
			return nil, errors.Wrapf(err, "job %s", job.ID)
		}
	}
	if job.ClaimedUntil, err = db.ParseNullTime(claimedUntil); err != nil {
		return nil, err
	}
	if job.FiredAt, err = db.ParseNullTime(firedAt); err != nil {
		return nil, err
	}
	if job.Recurrence, err = recur.Decode(rule.String); err != nil {
		return nil, errors.Wrapf(err, "decode recurrence of job %s", job.ID)
	}
	job.State = State(state)
	job.Payload = []byte(payload)
	job.LastError = lastErr.String
	job.ClaimedBy = claimedBy.String
	return &job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func affected(res sql.Result, err error, what string) (bool, error) {
	n, err := count(res, err, what)
	return n > 0, err
}

func count(res sql.Result, err error, what string) (int, error) {
	if err != nil {
		return 0, errors.Wrap(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, what)
	}
	return int(n), nil
}
