package task

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrontMatter(t *testing.T) {
	t.Parallel()

	body := "---\ntask_id: TASK-002\ntask_type: IMPL\nstatus: Ready\ndepends_on:\n  - TASK-001\n  - TASK-001\n  - ' '\nowner_worker: ''\nacceptance:\n  - adds numbers\npriority: high\n---\n\nImplement it.\n"
	meta, rest, ok := ParseFrontMatter(body)
	require.True(t, ok)
	assert.Equal(t, "TASK-002", meta.TaskID)
	assert.Equal(t, StringList{"TASK-001", "TASK-001"}, meta.DependsOn)
	assert.Equal(t, "high", meta.Extra["priority"])
	assert.Equal(t, "Implement it.\n", rest)

	tk := FromMeta(meta)
	assert.Equal(t, StatusReady, tk.Status)
	assert.Equal(t, []string{"TASK-001"}, tk.DependsOn)
}

func TestParseFrontMatterScalarDependency(t *testing.T) {
	t.Parallel()

	meta, _, ok := ParseFrontMatter("---\ntask_id: T-1\ndepends_on: TASK-009\n---\n")
	require.True(t, ok)
	assert.Equal(t, StringList{"TASK-009"}, meta.DependsOn)
}

func TestParseFrontMatterTolerant(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no fence":       "just text\nmore\nlines",
		"unterminated":   "---\ntask_id: T-1\nstill yaml",
		"malformed yaml": "---\ntask_id: [unclosed\n---\nbody",
		"not a mapping":  "---\n- a\n- b\n---\nbody",
		"too short":      "---\n---",
	}
	for name, text := range cases {
		meta, rest, ok := ParseFrontMatter(text)
		assert.False(t, ok, name)
		assert.Empty(t, meta.TaskID, name)
		assert.Equal(t, text, rest, name)
	}
}

func TestRenderFrontMatterKeepsExtraKeys(t *testing.T) {
	t.Parallel()

	meta, body, ok := ParseFrontMatter("---\ntask_id: TASK-001\ntask_type: IMPL\nstatus: ready\nestimate: 3\n---\n\nBody text\n")
	require.True(t, ok)
	tk := FromMeta(meta)
	tk.Body = body
	tk.Status = StatusInProgress
	tk.OwnerWorker = "worker-a"

	out, err := tk.RenderBody()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "---\ntask_id: TASK-001\ntask_type: IMPL\nstatus: in_progress\ndepends_on: []\nowner_worker: worker-a\n"))
	assert.Contains(t, out, "estimate: 3\n")
	assert.True(t, strings.HasSuffix(out, "---\n\nBody text\n"))

	again, rest, ok := ParseFrontMatter(out)
	require.True(t, ok)
	assert.Equal(t, "worker-a", again.OwnerWorker)
	assert.Equal(t, "Body text\n", rest)
}

func TestRenderFrontMatterWithoutBody(t *testing.T) {
	t.Parallel()

	out, err := RenderFrontMatter(Meta{TaskID: "T-1"}, "  ")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "acceptance: []\n---\n"))
}
