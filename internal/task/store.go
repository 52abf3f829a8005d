package task

import (
	"context"
	"fmt"
	"sort"

	"github.com/metalagman/trellis/internal/tracker"
	"github.com/rs/zerolog/log"
)

// PutOptions carries optional tracker-level changes applied with a save.
type PutOptions struct {
	// State sets the tracker state (open/closed) when non-nil.
	State *string
	// Assignees replaces the record assignees when non-nil.
	Assignees []string
}

// Store is the persistence boundary used by the orchestration engine.
type Store interface {
	// List returns every task record, open and closed.
	List(ctx context.Context) ([]Task, error)
	// Get loads a single record. The returned task has an empty ID when the
	// record carries no metadata.
	Get(ctx context.Context, number int) (Task, error)
	// Put writes metadata, body, labels and optional state in one update.
	Put(ctx context.Context, t Task, opts PutOptions) (Task, error)
	// Create stores a new task record.
	Create(ctx context.Context, t Task, labels []string) (Task, error)
	// Comment appends an annotation to a record.
	Comment(ctx context.Context, number int, body string) error
	// Comments returns the annotation bodies of a record.
	Comments(ctx context.Context, number int) ([]string, error)
}

// TrackerStore maps tasks onto tracker records carrying a metadata block.
type TrackerStore struct {
	tracker tracker.Tracker
}

// NewTrackerStore creates a store backed by tr.
func NewTrackerStore(tr tracker.Tracker) *TrackerStore {
	return &TrackerStore{tracker: tr}
}

// LoadTask parses a record into a task and returns its free text body.
// Records without a usable metadata block produce a task with an empty ID.
func LoadTask(rec tracker.Record) (Task, string) {
	meta, body, _ := ParseFrontMatter(rec.Body)
	t := FromMeta(meta)
	t.Number = rec.Number
	t.Title = rec.Title
	t.Labels = append([]string(nil), rec.Labels...)
	t.State = rec.State
	t.UpdatedAt = rec.UpdatedAt
	t.Body = body
	return t, body
}

// List returns all records labelled as tasks. Records without a task_id are
// skipped; when two records share a task_id the lower-numbered one wins.
func (s *TrackerStore) List(ctx context.Context) ([]Task, error) {
	records, err := s.tracker.List(ctx, tracker.Query{State: tracker.StateAll, Labels: []string{LabelTask}})
	if err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Number < records[j].Number })
	seen := make(map[string]int, len(records))
	out := make([]Task, 0, len(records))
	for _, rec := range records {
		if rec.PullRequest {
			continue
		}
		t, _ := LoadTask(rec)
		if t.ID == "" {
			log.Debug().Int("issue", rec.Number).Msg("record has no task_id, ignoring")
			continue
		}
		if prev, ok := seen[t.ID]; ok {
			log.Warn().Str("task_id", t.ID).Int("issue", rec.Number).Int("kept", prev).Msg("duplicate task_id, ignoring record")
			continue
		}
		seen[t.ID] = rec.Number
		out = append(out, t)
	}
	return out, nil
}

// Get loads one record as a task.
func (s *TrackerStore) Get(ctx context.Context, number int) (Task, error) {
	rec, err := s.tracker.Get(ctx, number)
	if err != nil {
		return Task{}, err
	}
	t, _ := LoadTask(rec)
	return t, nil
}

// Put re-serializes the task and pushes body, labels and state in one patch.
func (s *TrackerStore) Put(ctx context.Context, t Task, opts PutOptions) (Task, error) {
	body, err := t.RenderBody()
	if err != nil {
		return Task{}, err
	}
	rec, err := s.tracker.Patch(ctx, t.Number, tracker.Patch{
		Title:     t.DisplayTitle(),
		Body:      body,
		Labels:    t.Labels,
		State:     opts.State,
		Assignees: opts.Assignees,
	})
	if err != nil {
		return Task{}, err
	}
	saved, _ := LoadTask(rec)
	return saved, nil
}

// Create stores a new task record with the given labels.
func (s *TrackerStore) Create(ctx context.Context, t Task, labels []string) (Task, error) {
	body, err := t.RenderBody()
	if err != nil {
		return Task{}, err
	}
	rec, err := s.tracker.Create(ctx, t.DisplayTitle(), body, labels)
	if err != nil {
		return Task{}, err
	}
	created, _ := LoadTask(rec)
	return created, nil
}

// Comment posts an annotation.
func (s *TrackerStore) Comment(ctx context.Context, number int, body string) error {
	return s.tracker.Comment(ctx, number, body)
}

// Comments lists annotation bodies.
func (s *TrackerStore) Comments(ctx context.Context, number int) ([]string, error) {
	comments, err := s.tracker.Comments(ctx, number)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(comments))
	for _, c := range comments {
		out = append(out, c.Body)
	}
	return out, nil
}
