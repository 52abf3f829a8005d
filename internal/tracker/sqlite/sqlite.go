// Package sqlite provides a tracker backed by the local SQLite store. It lets
// the orchestrator run offline against a repository-less task board.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/metalagman/trellis/internal/tracker"
)

// Tracker implements tracker.Tracker on the records and comments tables.
type Tracker struct {
	db   *sql.DB
	user string

	mu   sync.Mutex
	last time.Time
}

// New wraps an opened database. See db.Open.
func New(db *sql.DB, user string) *Tracker {
	if strings.TrimSpace(user) == "" {
		user = "trellis-local"
	}
	return &Tracker{db: db, user: user}
}

// stamp returns a strictly increasing timestamp so every write changes updated_at.
func (t *Tracker) stamp() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(t.last) {
		now = t.last.Add(time.Nanosecond)
	}
	t.last = now
	return now.Format(time.RFC3339Nano)
}

const recordColumns = `number, title, body, labels, state, updated_at, pull_request`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (tracker.Record, error) {
	var (
		rec    tracker.Record
		labels string
		isPR   int
	)
	if err := row.Scan(&rec.Number, &rec.Title, &rec.Body, &labels, &rec.State, &rec.UpdatedAt, &isPR); err != nil {
		return tracker.Record{}, err
	}
	if err := json.Unmarshal([]byte(labels), &rec.Labels); err != nil {
		return tracker.Record{}, fmt.Errorf("decode labels of #%d: %w", rec.Number, err)
	}
	rec.PullRequest = isPR != 0
	return rec, nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// List returns records matching the query ordered by number.
func (t *Tracker) List(ctx context.Context, q tracker.Query) ([]tracker.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records`
	var args []any
	if state := strings.TrimSpace(q.State); state != "" && state != tracker.StateAll {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY number`
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []tracker.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if tracker.MatchesQuery(rec, q) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

// Get returns a single record.
func (t *Tracker) Get(ctx context.Context, number int) (tracker.Record, error) {
	row := t.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE number = ?`, number)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tracker.Record{}, fmt.Errorf("issue %d: %w", number, tracker.ErrNotFound)
		}
		return tracker.Record{}, fmt.Errorf("get issue %d: %w", number, err)
	}
	return rec, nil
}

// Patch replaces the mutable fields of a record in one statement.
func (t *Tracker) Patch(ctx context.Context, number int, p tracker.Patch) (tracker.Record, error) {
	labels, err := encodeList(p.Labels)
	if err != nil {
		return tracker.Record{}, fmt.Errorf("encode labels: %w", err)
	}
	query := `UPDATE records SET title = ?, body = ?, labels = ?, updated_at = ?`
	args := []any{p.Title, p.Body, labels, t.stamp()}
	if p.State != nil {
		query += `, state = ?`
		args = append(args, *p.State)
	}
	if p.Assignees != nil {
		assignees, err := encodeList(p.Assignees)
		if err != nil {
			return tracker.Record{}, fmt.Errorf("encode assignees: %w", err)
		}
		query += `, assignees = ?`
		args = append(args, assignees)
	}
	query += ` WHERE number = ? AND pull_request = 0`
	args = append(args, number)

	res, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return tracker.Record{}, fmt.Errorf("patch issue %d: %w", number, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return tracker.Record{}, fmt.Errorf("issue %d: %w", number, tracker.ErrNotFound)
	}
	return t.Get(ctx, number)
}

// Create inserts an open record.
func (t *Tracker) Create(ctx context.Context, title, body string, labels []string) (tracker.Record, error) {
	n, err := t.insert(ctx, title, body, labels, false)
	if err != nil {
		return tracker.Record{}, err
	}
	return t.Get(ctx, n)
}

func (t *Tracker) insert(ctx context.Context, title, body string, labels []string, pull bool) (int, error) {
	encoded, err := encodeList(labels)
	if err != nil {
		return 0, fmt.Errorf("encode labels: %w", err)
	}
	isPR := 0
	if pull {
		isPR = 1
	}
	res, err := t.db.ExecContext(ctx,
		`INSERT INTO records(title, body, labels, state, updated_at, pull_request) VALUES(?, ?, ?, ?, ?, ?)`,
		title, body, encoded, tracker.StateOpen, t.stamp(), isPR)
	if err != nil {
		return 0, fmt.Errorf("create record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create record: %w", err)
	}
	return int(id), nil
}

// Comment appends a comment to a record.
func (t *Tracker) Comment(ctx context.Context, number int, body string) error {
	if _, err := t.Get(ctx, number); err != nil {
		return err
	}
	if _, err := t.db.ExecContext(ctx,
		`INSERT INTO comments(number, body, created_at) VALUES(?, ?, ?)`,
		number, body, t.stamp()); err != nil {
		return fmt.Errorf("comment on #%d: %w", number, err)
	}
	return nil
}

// Comments returns the comments of a record in creation order.
func (t *Tracker) Comments(ctx context.Context, number int) ([]tracker.Comment, error) {
	if _, err := t.Get(ctx, number); err != nil {
		return nil, err
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, body, created_at FROM comments WHERE number = ? ORDER BY id`, number)
	if err != nil {
		return nil, fmt.Errorf("list comments of #%d: %w", number, err)
	}
	defer func() { _ = rows.Close() }()

	var out []tracker.Comment
	for rows.Next() {
		var c tracker.Comment
		if err := rows.Scan(&c.ID, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PullRequest returns a pull request created with OpenPullRequest.
func (t *Tracker) PullRequest(ctx context.Context, number int) (tracker.PullRequest, error) {
	var (
		pr       tracker.PullRequest
		merged   int
		mergedAt sql.NullString
	)
	err := t.db.QueryRowContext(ctx,
		`SELECT number, title, body, merged, merged_at FROM records WHERE number = ? AND pull_request = 1`,
		number).Scan(&pr.Number, &pr.Title, &pr.Body, &merged, &mergedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tracker.PullRequest{}, fmt.Errorf("pull %d: %w", number, tracker.ErrNotFound)
		}
		return tracker.PullRequest{}, fmt.Errorf("get pull %d: %w", number, err)
	}
	pr.Merged = merged != 0
	pr.MergedAt = mergedAt.String
	return pr, nil
}

// CurrentUser returns the configured local login.
func (t *Tracker) CurrentUser(context.Context) (string, error) {
	return t.user, nil
}

// OpenPullRequest records an unmerged change request.
func (t *Tracker) OpenPullRequest(ctx context.Context, title, body string) (int, error) {
	return t.insert(ctx, title, body, nil, true)
}

// MergePullRequest marks a change request merged and closes it.
func (t *Tracker) MergePullRequest(ctx context.Context, number int) error {
	now := t.stamp()
	res, err := t.db.ExecContext(ctx,
		`UPDATE records SET merged = 1, merged_at = ?, state = ?, updated_at = ? WHERE number = ? AND pull_request = 1`,
		now, tracker.StateClosed, now, number)
	if err != nil {
		return fmt.Errorf("merge pull %d: %w", number, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("pull %d: %w", number, tracker.ErrNotFound)
	}
	return nil
}
