// Package dispatch assigns ready tasks to workers.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/metalagman/trellis/internal/assign"
	"github.com/metalagman/trellis/internal/graph"
	"github.com/metalagman/trellis/internal/journal"
	"github.com/metalagman/trellis/internal/ledger"
	"github.com/metalagman/trellis/internal/metrics"
	"github.com/metalagman/trellis/internal/notes"
	"github.com/metalagman/trellis/internal/task"
	"github.com/rs/zerolog/log"
)

// Skip reasons for ready tasks left unassigned.
const (
	SkipDependencies = "dependencies_pending"
	SkipAnnotated    = "already_dispatched"
	SkipNoWorker     = "no_capable_worker"
	SkipClaimed      = "claimed_elsewhere"
)

// UserResolver returns the login of the acting tracker user.
type UserResolver interface {
	CurrentUser(ctx context.Context) (string, error)
}

// Options configures an Engine.
type Options struct {
	Repo    string
	Workers []assign.Worker

	// AssignSelf sets the acting user as assignee of dispatched records.
	// Bot accounts are never assigned.
	AssignSelf bool
	Users      UserResolver

	Ledger  ledger.Ledger
	Journal journal.Recorder
	Metrics *metrics.Collector
	// Notes, when set, attaches a generated hint to each dispatch annotation.
	Notes notes.Generator
}

// Assignment is one task dispatched during a pass.
type Assignment struct {
	Issue  int    `json:"issue"`
	Worker string `json:"worker"`
	TaskID string `json:"task_id"`
}

// Result summarizes a dispatch pass.
type Result struct {
	OK         bool           `json:"ok"`
	Repo       string         `json:"repo"`
	RunID      string         `json:"run_id"`
	Dispatched []Assignment   `json:"dispatched"`
	Skipped    map[string]int `json:"skipped,omitempty"`
}

// Engine runs dispatch passes over a task store.
type Engine struct {
	store task.Store
	opts  Options
}

// New creates an engine.
func New(store task.Store, opts Options) *Engine {
	if opts.Ledger == nil {
		opts.Ledger = ledger.Nop{}
	}
	return &Engine{store: store, opts: opts}
}

// Run performs one pass. State is read fresh on every call. Any store error
// aborts the pass; writes already made are not rolled back.
func (e *Engine) Run(ctx context.Context, runID string) (Result, error) {
	start := time.Now()
	defer e.opts.Metrics.ObservePass(metrics.PassDispatch, start)

	res := Result{Repo: e.opts.Repo, RunID: runID, Dispatched: []Assignment{}}
	logger := log.With().Str("repo", e.opts.Repo).Str("run_id", runID).Logger()

	tasks, err := e.store.List(ctx)
	if err != nil {
		return res, fmt.Errorf("load tasks: %w", err)
	}
	lookup := graph.NewLookup(tasks)
	load := assign.ComputeLoad(tasks, e.opts.Workers)

	assignees, err := e.assignees(ctx)
	if err != nil {
		return res, err
	}

	skip := func(t task.Task, reason string) {
		if res.Skipped == nil {
			res.Skipped = make(map[string]int)
		}
		res.Skipped[reason]++
		e.opts.Metrics.IncSkipped(reason)
		logger.Debug().Int("issue", t.Number).Str("task_id", t.ID).Str("reason", reason).Msg("task not dispatched")
	}

	for _, t := range tasks {
		if !t.Open() || t.Status != task.StatusReady {
			continue
		}
		if len(t.DependsOn) > 0 && !lookup.Satisfied(t.DependsOn) {
			skip(t, SkipDependencies)
			continue
		}

		fp := Fingerprint(t.Number, t.UpdatedAt)
		comments, err := e.store.Comments(ctx, t.Number)
		if err != nil {
			return res, fmt.Errorf("list comments of #%d: %w", t.Number, err)
		}
		if Annotated(comments, fp) {
			skip(t, SkipAnnotated)
			continue
		}

		worker, ok := assign.Pick(t.Type, e.opts.Workers, load)
		if !ok {
			skip(t, SkipNoWorker)
			continue
		}

		key := ledger.DispatchKey(e.opts.Repo, fp)
		claimed, err := e.opts.Ledger.Claim(ctx, key, runID)
		if err != nil {
			return res, err
		}
		if !claimed {
			skip(t, SkipClaimed)
			continue
		}

		if err := e.dispatch(ctx, runID, t, worker, fp, assignees); err != nil {
			if relErr := e.opts.Ledger.Release(ctx, key); relErr != nil {
				logger.Warn().Err(relErr).Str("key", key).Msg("release dispatch claim")
			}
			return res, err
		}

		load[worker.Name]++
		e.opts.Metrics.IncDispatched(worker.Name)
		res.Dispatched = append(res.Dispatched, Assignment{Issue: t.Number, Worker: worker.Name, TaskID: t.ID})
		logger.Info().Int("issue", t.Number).Str("task_id", t.ID).Str("worker", worker.Name).Msg("task dispatched")
	}

	res.OK = true
	return res, nil
}

func (e *Engine) dispatch(ctx context.Context, runID string, t task.Task, w assign.Worker, fp string, assignees []string) error {
	t.Status = task.StatusInProgress
	t.OwnerWorker = w.Name
	labels := task.ReplaceStatusLabel(t.Labels, task.StatusInProgress)
	labels = task.ReplaceWorkerLabel(labels, w.TagLabel())
	t.Labels = task.EnsureLabel(labels, task.LabelTask)

	if _, err := e.store.Put(ctx, t, task.PutOptions{Assignees: assignees}); err != nil {
		return fmt.Errorf("save #%d: %w", t.Number, err)
	}

	ann := Annotation{
		DispatchID: fp,
		RunID:      runID,
		Worker:     w.Name,
		TaskID:     t.ID,
		TaskType:   string(t.Type),
	}
	if e.opts.Notes != nil {
		note := e.opts.Notes.Generate(ctx, notes.Request{
			TaskID:   t.ID,
			TaskType: string(t.Type),
			Issue:    t.Number,
			Summary:  t.DisplayTitle(),
		})
		ann.Note = note.Note
	}
	body, err := ann.Render()
	if err != nil {
		return err
	}
	if err := e.store.Comment(ctx, t.Number, body); err != nil {
		return fmt.Errorf("annotate #%d: %w", t.Number, err)
	}

	if e.opts.Journal == nil {
		return nil
	}
	details := map[string]any{
		"dispatch_id": ann.DispatchID,
		"run_id":      ann.RunID,
		"worker":      ann.Worker,
		"task_id":     ann.TaskID,
		"task_type":   ann.TaskType,
	}
	if err := e.opts.Journal.Append(journal.Event{
		RunID:   runID,
		Type:    journal.TypeDispatch,
		Repo:    e.opts.Repo,
		Entity:  "issue",
		ID:      t.Number,
		Action:  "assigned",
		Result:  journal.ResultOK,
		Details: details,
	}); err != nil {
		return fmt.Errorf("journal dispatch of #%d: %w", t.Number, err)
	}
	return nil
}

func (e *Engine) assignees(ctx context.Context) ([]string, error) {
	if !e.opts.AssignSelf || e.opts.Users == nil {
		return nil, nil
	}
	login, err := e.opts.Users.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve current user: %w", err)
	}
	login = strings.TrimSpace(login)
	if login == "" || strings.HasSuffix(login, "[bot]") {
		return nil, nil
	}
	return []string{login}, nil
}
