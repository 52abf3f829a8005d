package github

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/metalagman/trellis/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	args  []string
	stdin []byte
}

type fakeGH struct {
	calls     []call
	responses map[string]string
	fail      map[string]string
}

func (f *fakeGH) run(_ context.Context, _ string, args []string, stdin []byte) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{args: args, stdin: stdin})
	key := args[2] + " " + args[3]
	if msg, ok := f.fail[key]; ok {
		return nil, []byte(msg), errors.New("exit status 1")
	}
	for prefix, resp := range f.responses {
		if strings.HasPrefix(key, prefix) {
			return []byte(resp), nil, nil
		}
	}
	return nil, nil, nil
}

func TestListFlagsPullRequestsAndDecodesLabels(t *testing.T) {
	t.Parallel()

	gh := &fakeGH{responses: map[string]string{
		"GET repos/acme/app/issues?": `[
			{"number": 1, "title": "Task", "body": "---\ntask_id: TASK-001\n---\n", "labels": [{"name": "type/task"}], "state": "open", "updated_at": "2026-01-01T00:00:00Z"},
			{"number": 2, "title": "PR", "body": null, "labels": [], "state": "open", "updated_at": "2026-01-01T00:00:00Z", "pull_request": {"url": "x"}}
		]`,
	}}
	tr := New("acme/app", "").WithCommand(gh.run)

	records, err := tr.List(context.Background(), tracker.Query{State: tracker.StateAll, Labels: []string{"type/task"}})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"type/task"}, records[0].Labels)
	assert.False(t, records[0].PullRequest)
	assert.True(t, records[1].PullRequest)
	assert.Equal(t, "", records[1].Body)

	require.Len(t, gh.calls, 1)
	path := gh.calls[0].args[3]
	assert.Contains(t, path, "state=all")
	assert.Contains(t, path, "per_page=100")
	assert.Contains(t, path, "labels=type%2Ftask")
}

func TestPatchSendsPayloadOnStdin(t *testing.T) {
	t.Parallel()

	gh := &fakeGH{responses: map[string]string{
		"PATCH repos/acme/app/issues/4": `{"number": 4, "title": "T", "body": "b", "labels": ["status/done"], "state": "closed", "updated_at": "2026-01-02T00:00:00Z"}`,
	}}
	tr := New("acme/app", "gh").WithCommand(gh.run)

	closed := tracker.StateClosed
	rec, err := tr.Patch(context.Background(), 4, tracker.Patch{Title: "T", Body: "b", Labels: []string{"status/done"}, State: &closed})
	require.NoError(t, err)
	assert.Equal(t, tracker.StateClosed, rec.State)

	require.Len(t, gh.calls, 1)
	assert.Equal(t, []string{"api", "-X", "PATCH", "repos/acme/app/issues/4", "--input", "-"}, gh.calls[0].args)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(gh.calls[0].stdin, &payload))
	assert.Equal(t, "closed", payload["state"])
	_, hasAssignees := payload["assignees"]
	assert.False(t, hasAssignees)
}

func TestGetMapsNotFound(t *testing.T) {
	t.Parallel()

	gh := &fakeGH{fail: map[string]string{
		"GET repos/acme/app/issues/99": "gh: Not Found (HTTP 404)",
	}}
	tr := New("acme/app", "").WithCommand(gh.run)

	_, err := tr.Get(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tracker.ErrNotFound))
}

func TestPullRequestDecodesMergeState(t *testing.T) {
	t.Parallel()

	gh := &fakeGH{responses: map[string]string{
		"GET repos/acme/app/pulls/8": `{"number": 8, "title": "feat", "body": "Closes #3", "merged": true, "merged_at": "2026-01-03T00:00:00Z"}`,
	}}
	tr := New("acme/app", "").WithCommand(gh.run)

	pr, err := tr.PullRequest(context.Background(), 8)
	require.NoError(t, err)
	assert.True(t, pr.Merged)
	assert.Equal(t, "Closes #3", pr.Body)
}

func TestCurrentUserFallsBackToActor(t *testing.T) {
	t.Setenv("GITHUB_ACTOR", "ci-actor")

	gh := &fakeGH{fail: map[string]string{"GET user": "gh: Bad credentials (HTTP 401)"}}
	tr := New("acme/app", "").WithCommand(gh.run)

	login, err := tr.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ci-actor", login)
}
