package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/metalagman/trellis/internal/completion"
	"github.com/metalagman/trellis/internal/db"
	"github.com/metalagman/trellis/internal/dispatch"
	"github.com/metalagman/trellis/internal/notes"
	"github.com/metalagman/trellis/internal/policy"
	sqlitetracker "github.com/metalagman/trellis/internal/tracker/sqlite"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return v
}

type project struct {
	dir    string
	config string
	dbPath string
}

func newProject(t *testing.T) project {
	t.Helper()
	dir := t.TempDir()
	p := project{
		dir:    dir,
		config: filepath.Join(dir, "config.yaml"),
		dbPath: filepath.Join(dir, "state", "trellis.db"),
	}
	content := "repo: acme/widgets\n" +
		"state_dir: " + filepath.Join(dir, "state") + "\n" +
		"tracker:\n  backend: sqlite\n" +
		"store:\n  path: " + p.dbPath + "\n" +
		"ledger:\n  backend: sqlite\n" +
		"workers:\n" +
		"  - name: worker-a\n    task_types: [REQ, DESIGN]\n" +
		"  - name: worker-b\n    task_types: [IMPL]\n" +
		"lock:\n  timeout: 5s\n"
	require.NoError(t, writeTestFile(p.config, content))
	return p
}

func (p project) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, append(args, "--config", p.config)...)
}

func (p project) mergedPR(t *testing.T, body string) int {
	t.Helper()
	ctx := context.Background()
	database, err := db.Open(p.dbPath)
	require.NoError(t, err)
	defer func() { _ = database.Close() }()

	tr := sqlitetracker.New(database, "")
	pr, err := tr.OpenPullRequest(ctx, "change", body)
	require.NoError(t, err)
	require.NoError(t, tr.MergePullRequest(ctx, pr))
	return pr
}

func TestLifecycleOverLocalTracker(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "task", "create",
		"--task-id", "TASK-001", "--task-type", "REQ", "--title", "Collect requirements",
		"--acceptance", "requirements documented")
	require.NoError(t, err)
	first := decode[createResult](t, out)
	assert.Equal(t, 1, first.Issue)

	out, err = p.run(t, "task", "create",
		"--task-id", "TASK-002", "--task-type", "IMPL", "--title", "Implement",
		"--status", "blocked", "--depends-on", "TASK-001",
		"--acceptance", "feature works")
	require.NoError(t, err)
	second := decode[createResult](t, out)
	assert.Equal(t, 2, second.Issue)

	out, err = p.run(t, "dispatch", "--run-id", "r1")
	require.NoError(t, err)
	d := decode[dispatch.Result](t, out)
	require.Len(t, d.Dispatched, 1)
	assert.Equal(t, dispatch.Assignment{Issue: 1, Worker: "worker-a", TaskID: "TASK-001"}, d.Dispatched[0])

	out, err = p.run(t, "dispatch", "--run-id", "r1b")
	require.NoError(t, err)
	assert.Empty(t, decode[dispatch.Result](t, out).Dispatched)

	pr := p.mergedPR(t, "Implements the task.\n\nCloses #1")

	out, err = p.run(t, "check-pr", "--pr", strconv.Itoa(pr), "--output", filepath.Join(p.dir, "policy.json"))
	require.NoError(t, err)
	check := decode[policy.Result](t, out)
	assert.True(t, check.OK)
	assert.Equal(t, "task_001", check.Marker)
	written, err := os.ReadFile(filepath.Join(p.dir, "policy.json"))
	require.NoError(t, err)
	assert.Equal(t, "task_001", decode[policy.Result](t, string(written)).Marker)

	out, err = p.run(t, "on-merged", "--pr", strconv.Itoa(pr), "--run-id", "r2")
	require.NoError(t, err)
	res := decode[completion.Result](t, out)
	assert.True(t, res.OK)
	assert.Equal(t, 1, res.ClosedIssue)
	assert.Equal(t, []int{2}, res.Unlocked)
	require.NotNil(t, res.Dispatch)
	require.Len(t, res.Dispatch.Dispatched, 1)
	assert.Equal(t, "worker-b", res.Dispatch.Dispatched[0].Worker)

	out, err = p.run(t, "on-merged", "--pr", strconv.Itoa(pr), "--run-id", "r3")
	require.NoError(t, err)
	assert.True(t, decode[completion.Result](t, out).AlreadyClosed)

	out, err = p.run(t, "task", "list")
	require.NoError(t, err)
	list := decode[listResult](t, out)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, "in_progress", list.Tasks[0].Status)

	out, err = p.run(t, "task", "list", "--all")
	require.NoError(t, err)
	assert.Len(t, decode[listResult](t, out).Tasks, 2)

	out, err = p.run(t, "runs", "list")
	require.NoError(t, err)
	runs := decode[runsListResult](t, out).Runs
	assert.Contains(t, runs, "r1")
	assert.Contains(t, runs, "r2")

	out, err = p.run(t, "runs", "show", "r2")
	require.NoError(t, err)
	shown := decode[runsShowResult](t, out)
	assert.Equal(t, map[string]int{"pr_merged": 1, "unlock": 1, "dispatch": 1}, shown.Counts)
}

func TestOnMergedReportsPolicyViolation(t *testing.T) {
	p := newProject(t)
	pr := p.mergedPR(t, "no reference here")

	out, err := p.run(t, "on-merged", "--pr", strconv.Itoa(pr), "--run-id", "r1")
	require.True(t, errors.Is(err, errReported), "err = %v", err)
	res := decode[completion.Result](t, out)
	assert.False(t, res.OK)
	assert.Equal(t, completion.ReasonMissingLink, res.Error)
}

func TestTaskCreateValidatesInput(t *testing.T) {
	p := newProject(t)

	_, err := p.run(t, "task", "create", "--task-id", "TASK-001", "--task-type", "NOPE",
		"--title", "x", "--acceptance", "y")
	require.Error(t, err)

	_, err = p.run(t, "task", "create", "--task-id", "TASK-001", "--task-type", "REQ", "--title", "x")
	require.Error(t, err)
}

func TestSyncStateAppendsEvent(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "sync-state", "--run-id", "r9", "--event", "nightly")
	require.NoError(t, err)
	res := decode[syncResult](t, out)
	assert.True(t, res.OK)
	assert.Equal(t, "sync_state", res.Type)
	assert.Equal(t, "nightly", res.Event)
	assert.NotEmpty(t, res.Timestamp)

	out, err = p.run(t, "runs", "show", "r9")
	require.NoError(t, err)
	shown := decode[runsShowResult](t, out)
	require.Len(t, shown.Events, 1)
	assert.Equal(t, "nightly", shown.Events[0].Details["event"])
}

func TestRunsShowUnknownRun(t *testing.T) {
	p := newProject(t)
	_, err := p.run(t, "runs", "show", "missing")
	require.Error(t, err)
	_, err = p.run(t, "runs", "show", "..")
	require.Error(t, err)
}

func TestNoteMockMode(t *testing.T) {
	p := newProject(t)

	out, err := p.run(t, "note", "--mode", "mock", "--task-id", "TASK-007", "--task-type", "IMPL", "--issue", "7")
	require.NoError(t, err)
	res := decode[notes.Result](t, out)
	assert.True(t, res.OK)
	assert.Equal(t, notes.ReasonMock, res.Reason)
	assert.Equal(t, notes.MockNote("TASK-007", "IMPL"), res.Note)
}

func TestNoteHostedWithoutKeyFallsBack(t *testing.T) {
	p := newProject(t)
	t.Setenv("OPENAI_API_KEY", "")

	out, err := p.run(t, "note", "--mode", "real", "--task-id", "TASK-007", "--task-type", "IMPL")
	require.NoError(t, err)
	res := decode[notes.Result](t, out)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, notes.ReasonNoAPIKey, res.Reason)
}
