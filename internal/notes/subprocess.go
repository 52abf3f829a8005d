package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/metalagman/ainvoke"
)

const subprocessInputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "task_id": { "type": "string" },
    "task_type": { "type": "string" },
    "issue": { "type": "integer" },
    "summary": { "type": "string" }
  },
  "required": ["task_id", "task_type", "issue"]
}`

const subprocessOutputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "note": { "type": "string" }
  },
  "required": ["note"]
}`

type subprocessInput struct {
	TaskID   string `json:"task_id"`
	TaskType string `json:"task_type"`
	Issue    int    `json:"issue"`
	Summary  string `json:"summary"`
}

type subprocessOutput struct {
	Note string `json:"note"`
}

type subprocess struct {
	cmd     []string
	workDir string
	timeout time.Duration
	runner  ainvoke.Runner
}

func defaultCommand(model string) []string {
	cmd := []string{"codex", "exec", "--skip-git-repo-check", "--sandbox", "read-only"}
	if model = strings.TrimSpace(model); model != "" {
		cmd = append(cmd, "--model", model)
	}
	return cmd
}

func newSubprocess(cmd []string, model, workDir string, timeout time.Duration) (*subprocess, error) {
	if len(cmd) == 0 {
		cmd = defaultCommand(model)
	}
	runner, err := ainvoke.NewRunner(ainvoke.AgentConfig{Cmd: cmd})
	if err != nil {
		return nil, fmt.Errorf("create note runner: %w", err)
	}
	return &subprocess{cmd: cmd, workDir: workDir, timeout: timeout, runner: runner}, nil
}

func (s *subprocess) generate(ctx context.Context, req Request) (string, bool, string) {
	if s.workDir != "" {
		if err := os.MkdirAll(s.workDir, 0o755); err != nil {
			return fallback(fmt.Sprintf("subprocess setup failed: %v", err)), true, ReasonSubprocessError
		}
	}
	runDir, err := os.MkdirTemp(s.workDir, "note-")
	if err != nil {
		return fallback(fmt.Sprintf("subprocess setup failed: %v", err)), true, ReasonSubprocessError
	}
	defer func() { _ = os.RemoveAll(runDir) }()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	_, _, exitCode, err := s.runner.Run(ctx, ainvoke.Invocation{
		RunDir:       runDir,
		SystemPrompt: instructions + " " + prompt(req),
		Input: subprocessInput{
			TaskID:   req.TaskID,
			TaskType: req.TaskType,
			Issue:    req.Issue,
			Summary:  req.Summary,
		},
		InputSchema:  subprocessInputSchema,
		OutputSchema: subprocessOutputSchema,
	}, ainvoke.WithStdout(&stdout), ainvoke.WithStderr(&stderr))
	if err != nil || exitCode != 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" && err != nil {
			msg = err.Error()
		}
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", exitCode)
		}
		return fallback(fmt.Sprintf("subprocess failed: %s", msg)), true, ReasonSubprocessError
	}

	note := readNote(filepath.Join(runDir, "output.json"))
	if note == "" {
		note = strings.TrimSpace(stdout.String())
	}
	if note == "" {
		return fallback("subprocess returned empty output"), true, ReasonSubprocessEmpty
	}
	return note, false, ReasonOK
}

func readNote(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var out subprocessOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return ""
	}
	return strings.TrimSpace(out.Note)
}
