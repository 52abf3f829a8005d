package task

import (
	"testing"

	"github.com/metalagman/trellis/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceStatusLabel(t *testing.T) {
	t.Parallel()

	got := ReplaceStatusLabel([]string{"type/task", "status/ready", "status/blocked", "area/core"}, StatusInProgress)
	assert.Equal(t, []string{"area/core", "status/in_progress", "type/task"}, got)
}

func TestReplaceWorkerLabel(t *testing.T) {
	t.Parallel()

	got := ReplaceWorkerLabel([]string{"worker/old", "type/task"}, "worker/new")
	assert.Equal(t, []string{"type/task", "worker/new"}, got)
}

func TestDraftBuild(t *testing.T) {
	t.Parallel()

	tk, labels, err := Draft{
		ID:         " TASK-003 ",
		Type:       "IMPL",
		Title:      "Divide",
		DependsOn:  SplitCSV("TASK-001, TASK-002,,TASK-001"),
		Acceptance: []string{"  ", "safe_divide(9, 3) == 3"},
		Labels:     []string{"area/math", "type/task"},
	}.Build()
	require.NoError(t, err)
	assert.Equal(t, "TASK-003", tk.ID)
	assert.Equal(t, StatusReady, tk.Status)
	assert.Equal(t, []string{"TASK-001", "TASK-002"}, tk.DependsOn)
	assert.Equal(t, []string{"safe_divide(9, 3) == 3"}, tk.Acceptance)
	assert.Equal(t, DefaultBody, tk.Body)
	assert.Equal(t, []string{"type/task", "status/ready", "area/math"}, labels)
}

func TestDraftBuildRejectsInvalid(t *testing.T) {
	t.Parallel()

	base := Draft{ID: "T-1", Type: "IMPL", Title: "x", Acceptance: []string{"ok"}}

	bad := base
	bad.Type = "CODE"
	_, _, err := bad.Build()
	assert.Error(t, err)

	bad = base
	bad.Status = "waiting"
	_, _, err = bad.Build()
	assert.Error(t, err)

	bad = base
	bad.Acceptance = nil
	_, _, err = bad.Build()
	assert.Error(t, err)

	bad = base
	bad.DependsOn = []string{"T-1"}
	_, _, err = bad.Build()
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	t.Parallel()

	items := []Task{
		{ID: "TASK-001", Type: TypeReq, Status: StatusReady, Number: 1, State: tracker.StateOpen},
		{ID: "TASK-002", Type: TypeImpl, Status: StatusDone, Number: 2, State: tracker.StateClosed, DependsOn: []string{"TASK-001"}},
		{Number: 3, State: tracker.StateOpen},
	}

	open := Filter(items, "", false)
	require.Len(t, open, 1)
	assert.Equal(t, "TASK-001", open[0].TaskID)
	assert.Equal(t, []string{}, open[0].DependsOn)

	all := Filter(items, "", true)
	assert.Len(t, all, 2)

	done := Filter(items, StatusDone, true)
	require.Len(t, done, 1)
	assert.Equal(t, []string{"TASK-001"}, done[0].DependsOn)

	assert.Empty(t, Filter(nil, "", false))
}
