// Package completion reacts to merged change requests: it closes the task the
// change references, unlocks dependents and runs a dispatch pass.
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/trellis/internal/dispatch"
	"github.com/metalagman/trellis/internal/graph"
	"github.com/metalagman/trellis/internal/journal"
	"github.com/metalagman/trellis/internal/ledger"
	"github.com/metalagman/trellis/internal/metrics"
	"github.com/metalagman/trellis/internal/task"
	"github.com/metalagman/trellis/internal/tracker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Failure and skip reasons.
const (
	ReasonInvalidPR    = "invalid_pr"
	ReasonNotMerged    = "not_merged"
	ReasonMissingLink  = "missing_closes_link"
	ReasonMissingIssue = "missing_issue"
	ReasonNotATask     = "not_a_task"
)

// PullRequests reads change requests.
type PullRequests interface {
	PullRequest(ctx context.Context, number int) (tracker.PullRequest, error)
}

// Dispatcher runs a dispatch pass.
type Dispatcher interface {
	Run(ctx context.Context, runID string) (dispatch.Result, error)
}

// Options configures a Handler.
type Options struct {
	Repo     string
	Pulls    PullRequests
	Dispatch Dispatcher
	Ledger   ledger.Ledger
	Journal  journal.Recorder
	Metrics  *metrics.Collector
}

// Result summarizes one completion signal.
type Result struct {
	OK            bool             `json:"ok"`
	Repo          string           `json:"repo"`
	RunID         string           `json:"run_id"`
	PR            int              `json:"pr"`
	Skipped       string           `json:"skipped,omitempty"`
	Error         string           `json:"error,omitempty"`
	Issue         int              `json:"issue,omitempty"`
	ClosedIssue   int              `json:"closed_issue,omitempty"`
	AlreadyClosed bool             `json:"already_closed,omitempty"`
	Unlocked      []int            `json:"unlocked"`
	Dispatch      *dispatch.Result `json:"dispatch,omitempty"`
}

// Handler processes completion signals.
type Handler struct {
	store task.Store
	opts  Options
}

// New creates a handler.
func New(store task.Store, opts Options) *Handler {
	if opts.Ledger == nil {
		opts.Ledger = ledger.Nop{}
	}
	return &Handler{store: store, opts: opts}
}

// Handle processes the merge of change request pr. Policy violations are
// reported in the result with OK=false; the error is reserved for transport
// failures that abort the pass.
func (h *Handler) Handle(ctx context.Context, pr int, runID string) (Result, error) {
	start := time.Now()
	defer h.opts.Metrics.ObservePass(metrics.PassCompletion, start)

	res, err := h.handle(ctx, pr, runID)
	switch {
	case err != nil:
		h.opts.Metrics.IncCompletion("error")
	case res.Skipped != "":
		h.opts.Metrics.IncCompletion(res.Skipped)
	case res.Error != "":
		h.opts.Metrics.IncCompletion(res.Error)
	case res.AlreadyClosed:
		h.opts.Metrics.IncCompletion("duplicate")
	default:
		h.opts.Metrics.IncCompletion("ok")
	}
	return res, err
}

func (h *Handler) handle(ctx context.Context, pr int, runID string) (Result, error) {
	res := Result{Repo: h.opts.Repo, RunID: runID, PR: pr, Unlocked: []int{}}
	logger := log.With().Str("repo", h.opts.Repo).Str("run_id", runID).Int("pr", pr).Logger()

	change, err := h.opts.Pulls.PullRequest(ctx, pr)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			res.Error = ReasonInvalidPR
			return res, nil
		}
		return res, fmt.Errorf("load pull request #%d: %w", pr, err)
	}
	if !change.Merged {
		logger.Info().Msg("pull request not merged, skipping")
		res.OK = true
		res.Skipped = ReasonNotMerged
		return res, nil
	}

	number, ok := tracker.ClosingReference(change.Body)
	if !ok {
		res.Error = ReasonMissingLink
		return res, nil
	}
	res.Issue = number

	t, err := h.store.Get(ctx, number)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			res.Error = ReasonMissingIssue
			return res, nil
		}
		return res, fmt.Errorf("load task #%d: %w", number, err)
	}
	if t.ID == "" {
		res.Error = ReasonNotATask
		return res, nil
	}

	closed, err := h.closeTask(ctx, logger, runID, pr, t)
	if err != nil {
		return res, err
	}
	res.ClosedIssue = number
	res.AlreadyClosed = !closed

	unlocked, err := h.unlock(ctx, logger, runID)
	if err != nil {
		return res, err
	}
	res.Unlocked = unlocked

	if h.opts.Dispatch != nil {
		dres, err := h.opts.Dispatch.Run(ctx, runID)
		if err != nil {
			return res, fmt.Errorf("dispatch after merge: %w", err)
		}
		res.Dispatch = &dres
	}
	res.OK = true
	return res, nil
}

// closeTask marks t done and closes its record. It returns false when the task
// was already closed and done or another run owns the merge.
func (h *Handler) closeTask(ctx context.Context, logger zerolog.Logger, runID string, pr int, t task.Task) (bool, error) {
	if t.Closed() && t.Status == task.StatusDone {
		logger.Info().Int("issue", t.Number).Str("task_id", t.ID).Msg("task already closed")
		return false, nil
	}

	key := ledger.MergeKey(h.opts.Repo, pr)
	claimed, err := h.opts.Ledger.Claim(ctx, key, runID)
	if err != nil {
		return false, err
	}
	if !claimed {
		logger.Info().Str("key", key).Msg("merge already handled by another run")
		return false, nil
	}

	if err := h.persistClose(ctx, runID, pr, t); err != nil {
		if relErr := h.opts.Ledger.Release(ctx, key); relErr != nil {
			logger.Warn().Err(relErr).Str("key", key).Msg("release merge claim")
		}
		return false, err
	}
	h.opts.Metrics.IncClosed()
	logger.Info().Int("issue", t.Number).Str("task_id", t.ID).Msg("task closed")
	return true, nil
}

func (h *Handler) persistClose(ctx context.Context, runID string, pr int, t task.Task) error {
	t.Status = task.StatusDone
	t.Labels = task.ReplaceStatusLabel(t.Labels, task.StatusDone)
	state := tracker.StateClosed
	if _, err := h.store.Put(ctx, t, task.PutOptions{State: &state}); err != nil {
		return fmt.Errorf("close task #%d: %w", t.Number, err)
	}
	if err := h.store.Comment(ctx, t.Number, fmt.Sprintf("Closed automatically after merge of PR #%d.", pr)); err != nil {
		return fmt.Errorf("comment on #%d: %w", t.Number, err)
	}
	return h.emit(journal.Event{
		RunID:   runID,
		Type:    journal.TypePRMerged,
		Repo:    h.opts.Repo,
		Entity:  "pull_request",
		ID:      pr,
		Action:  "close_task",
		Result:  journal.ResultOK,
		Details: map[string]any{"issue": t.Number},
	})
}

// unlock moves every task whose dependencies are now done to ready.
func (h *Handler) unlock(ctx context.Context, logger zerolog.Logger, runID string) ([]int, error) {
	tasks, err := h.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	unlocked := []int{}
	for _, t := range graph.Unlockable(tasks) {
		if t.Status == task.StatusReady {
			continue
		}
		t.Status = task.StatusReady
		t.Labels = task.ReplaceStatusLabel(t.Labels, task.StatusReady)
		if _, err := h.store.Put(ctx, t, task.PutOptions{}); err != nil {
			return unlocked, fmt.Errorf("unlock #%d: %w", t.Number, err)
		}
		unlocked = append(unlocked, t.Number)
		if err := h.store.Comment(ctx, t.Number, fmt.Sprintf("Dependencies resolved. Marked as `ready` by run `%s`.", runID)); err != nil {
			return unlocked, fmt.Errorf("comment on #%d: %w", t.Number, err)
		}
		if err := h.emit(journal.Event{
			RunID:  runID,
			Type:   journal.TypeUnlock,
			Repo:   h.opts.Repo,
			Entity: "issue",
			ID:     t.Number,
			Action: "ready",
			Result: journal.ResultOK,
		}); err != nil {
			return unlocked, err
		}
		h.opts.Metrics.IncUnlocked()
		logger.Info().Int("issue", t.Number).Str("task_id", t.ID).Msg("task unlocked")
	}
	return unlocked, nil
}

func (h *Handler) emit(ev journal.Event) error {
	if h.opts.Journal == nil {
		return nil
	}
	if err := h.opts.Journal.Append(ev); err != nil {
		return fmt.Errorf("journal %s: %w", ev.Type, err)
	}
	return nil
}
