// Package policy validates that a change request references exactly one task.
package policy

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/metalagman/trellis/internal/task"
	"github.com/metalagman/trellis/internal/tracker"
)

// Source reads change requests and records.
type Source interface {
	PullRequest(ctx context.Context, number int) (tracker.PullRequest, error)
	Get(ctx context.Context, number int) (tracker.Record, error)
}

// Result is the outcome of a policy check.
type Result struct {
	OK          bool   `json:"ok"`
	Repo        string `json:"repo,omitempty"`
	PR          int    `json:"pr"`
	IssueNumber int    `json:"issue_number,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	Marker      string `json:"marker,omitempty"`
	Error       string `json:"error,omitempty"`
}

var digits = regexp.MustCompile(`\d+`)

// MarkerFromTaskID builds the task_NNN marker from the first run of digits in
// a task id. It returns "" when the id has no digits.
func MarkerFromTaskID(taskID string) string {
	m := digits.FindString(taskID)
	if m == "" {
		return ""
	}
	n := strings.TrimLeft(m, "0")
	if len(n) < 3 {
		n = strings.Repeat("0", 3-len(n)) + n
	}
	return "task_" + n
}

// Check validates change request pr. Violations are reported in the result;
// the error is reserved for transport failures.
func Check(ctx context.Context, src Source, repo string, pr int) (Result, error) {
	res := Result{Repo: repo, PR: pr}
	fail := func(format string, args ...any) (Result, error) {
		res.Error = fmt.Sprintf(format, args...)
		return res, nil
	}

	change, err := src.PullRequest(ctx, pr)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			return fail("invalid pr payload")
		}
		return res, fmt.Errorf("load pull request #%d: %w", pr, err)
	}

	number, ok := tracker.ClosingReference(change.Body)
	if !ok {
		return fail("PR body must contain 'Closes #<issue_number>'")
	}

	rec, err := src.Get(ctx, number)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			return fail("Unable to read issue #%d", number)
		}
		return res, fmt.Errorf("load issue #%d: %w", number, err)
	}
	if !rec.HasLabel(task.LabelTask) {
		return fail("Issue #%d is missing label '%s'", number, task.LabelTask)
	}

	t, _ := task.LoadTask(rec)
	if t.ID == "" {
		return fail("Issue #%d frontmatter missing task_id", number)
	}
	marker := MarkerFromTaskID(t.ID)
	if marker == "" {
		return fail("Issue #%d task_id is invalid: %s", number, t.ID)
	}

	res.OK = true
	res.IssueNumber = number
	res.TaskID = t.ID
	res.Marker = marker
	return res, nil
}
