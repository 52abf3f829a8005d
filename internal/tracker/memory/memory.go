// Package memory provides an in-process tracker used for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/metalagman/trellis/internal/tracker"
)

// Tracker implements tracker.Tracker with in-memory maps.
type Tracker struct {
	mu       sync.Mutex
	next     int
	records  map[int]*tracker.Record
	comments map[int][]tracker.Comment
	pulls    map[int]*tracker.PullRequest
	user     string
	clock    func() time.Time
	tick     time.Duration

	// Writes counts Patch, Create and Comment calls.
	Writes int
}

// New creates an empty tracker. The clock advances by one second on every
// write so updated_at always changes when a record is patched.
func New() *Tracker {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t := &Tracker{
		next:     1,
		records:  make(map[int]*tracker.Record),
		comments: make(map[int][]tracker.Comment),
		pulls:    make(map[int]*tracker.PullRequest),
		user:     "trellis-bot",
	}
	t.clock = func() time.Time {
		t.tick += time.Second
		return base.Add(t.tick)
	}
	return t
}

// SetUser sets the login returned by CurrentUser.
func (t *Tracker) SetUser(login string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.user = login
}

func (t *Tracker) now() string {
	return t.clock().UTC().Format(time.RFC3339)
}

// List returns records matching the query ordered by number.
func (t *Tracker) List(_ context.Context, q tracker.Query) ([]tracker.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]tracker.Record, 0, len(t.records))
	for _, rec := range t.records {
		if tracker.MatchesQuery(*rec, q) {
			out = append(out, clone(*rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// Get returns a single record.
func (t *Tracker) Get(_ context.Context, number int) (tracker.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[number]
	if !ok {
		return tracker.Record{}, fmt.Errorf("issue %d: %w", number, tracker.ErrNotFound)
	}
	return clone(*rec), nil
}

// Patch replaces title, body and labels and optionally state.
func (t *Tracker) Patch(_ context.Context, number int, p tracker.Patch) (tracker.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[number]
	if !ok {
		return tracker.Record{}, fmt.Errorf("issue %d: %w", number, tracker.ErrNotFound)
	}
	t.Writes++
	rec.Title = p.Title
	rec.Body = p.Body
	rec.Labels = append([]string(nil), p.Labels...)
	if p.State != nil {
		rec.State = *p.State
	}
	rec.UpdatedAt = t.now()
	return clone(*rec), nil
}

// Create adds an open record.
func (t *Tracker) Create(_ context.Context, title, body string, labels []string) (tracker.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Writes++
	return clone(*t.insert(title, body, labels)), nil
}

func (t *Tracker) insert(title, body string, labels []string) *tracker.Record {
	rec := &tracker.Record{
		Number:    t.next,
		Title:     title,
		Body:      body,
		Labels:    append([]string(nil), labels...),
		State:     tracker.StateOpen,
		UpdatedAt: t.now(),
	}
	t.records[rec.Number] = rec
	t.next++
	return rec
}

// Comment appends a comment to a record.
func (t *Tracker) Comment(_ context.Context, number int, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[number]; !ok {
		return fmt.Errorf("issue %d: %w", number, tracker.ErrNotFound)
	}
	t.Writes++
	t.comments[number] = append(t.comments[number], tracker.Comment{
		ID:        int64(len(t.comments[number]) + 1),
		Body:      body,
		CreatedAt: t.now(),
	})
	return nil
}

// Comments returns the comments of a record in creation order.
func (t *Tracker) Comments(_ context.Context, number int) ([]tracker.Comment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[number]; !ok {
		return nil, fmt.Errorf("issue %d: %w", number, tracker.ErrNotFound)
	}
	return append([]tracker.Comment(nil), t.comments[number]...), nil
}

// PullRequest returns a pull request opened with OpenPullRequest.
func (t *Tracker) PullRequest(_ context.Context, number int) (tracker.PullRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pr, ok := t.pulls[number]
	if !ok {
		return tracker.PullRequest{}, fmt.Errorf("pull %d: %w", number, tracker.ErrNotFound)
	}
	return *pr, nil
}

// CurrentUser returns the configured login.
func (t *Tracker) CurrentUser(_ context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.user, nil
}

// OpenPullRequest creates an unmerged pull request sharing the record number space.
func (t *Tracker) OpenPullRequest(title, body string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.insert(title, body, nil)
	rec.PullRequest = true
	t.pulls[rec.Number] = &tracker.PullRequest{Number: rec.Number, Title: title, Body: body}
	return rec.Number
}

// MergePullRequest marks a pull request as merged.
func (t *Tracker) MergePullRequest(number int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pr, ok := t.pulls[number]
	if !ok {
		return fmt.Errorf("pull %d: %w", number, tracker.ErrNotFound)
	}
	pr.Merged = true
	pr.MergedAt = t.now()
	if rec, ok := t.records[number]; ok {
		rec.State = tracker.StateClosed
	}
	return nil
}

func clone(r tracker.Record) tracker.Record {
	r.Labels = append([]string(nil), r.Labels...)
	return r
}
