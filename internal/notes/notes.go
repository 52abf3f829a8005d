// Package notes generates one-line implementation hints for dispatched tasks.
// Every mode degrades to a deterministic fallback note instead of failing.
package notes

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Mode selects the note backend.
type Mode string

const (
	ModeMock       Mode = "mock"
	ModeHosted     Mode = "hosted"
	ModeSubprocess Mode = "subprocess"
)

// Fallback reasons.
const (
	ReasonMock            = "mock"
	ReasonOK              = "ok"
	ReasonNoAPIKey        = "no_api_key"
	ReasonAPIError        = "api_error"
	ReasonEmptyOutput     = "empty_output"
	ReasonSubprocessError = "subprocess_error"
	ReasonSubprocessEmpty = "subprocess_empty"
)

// ParseMode accepts a mode name or one of its aliases (real, codex).
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "mock":
		return ModeMock, nil
	case "hosted", "real":
		return ModeHosted, nil
	case "subprocess", "codex":
		return ModeSubprocess, nil
	default:
		return "", fmt.Errorf("unknown notes mode %q", raw)
	}
}

// Request describes the task a note is generated for.
type Request struct {
	TaskID   string
	TaskType string
	Issue    int
	Summary  string
}

// Result is the outcome of a note request. Fallbacks are valid results.
type Result struct {
	OK           bool   `json:"ok"`
	Mode         Mode   `json:"mode"`
	TaskID       string `json:"task_id"`
	TaskType     string `json:"task_type"`
	Issue        int    `json:"issue"`
	UsedFallback bool   `json:"used_fallback"`
	Reason       string `json:"reason"`
	Note         string `json:"note"`
}

// Generator produces notes.
type Generator interface {
	Generate(ctx context.Context, req Request) Result
}

// completer is a text backend returning a single trimmed answer.
type completer interface {
	complete(ctx context.Context, instructions, input string) (string, error)
}

// MockNote is the canned note of the mock mode.
func MockNote(taskID, taskType string) string {
	return fmt.Sprintf("Mock planner executed for %s (%s). Apply deterministic implementation.", taskID, taskType)
}

const instructions = "You are helping with CI-safe coding task generation. " +
	"Return one concise implementation hint in <= 30 words."

func prompt(req Request) string {
	return fmt.Sprintf("task_id=%s; task_type=%s; issue=%d; summary=%s",
		req.TaskID, req.TaskType, req.Issue, req.Summary)
}

// Adapter dispatches note requests to the configured backend.
type Adapter struct {
	mode      Mode
	hosted    completer
	hostedErr error
	sub       *subprocess
}

// Generate implements Generator.
func (a *Adapter) Generate(ctx context.Context, req Request) Result {
	res := Result{
		OK:       true,
		Mode:     a.mode,
		TaskID:   req.TaskID,
		TaskType: req.TaskType,
		Issue:    req.Issue,
	}
	switch a.mode {
	case ModeHosted:
		res.Note, res.UsedFallback, res.Reason = a.generateHosted(ctx, req)
	case ModeSubprocess:
		res.Note, res.UsedFallback, res.Reason = a.sub.generate(ctx, req)
	default:
		res.Note, res.Reason = MockNote(req.TaskID, req.TaskType), ReasonMock
	}
	if res.UsedFallback {
		log.Warn().Str("task_id", req.TaskID).Str("mode", string(a.mode)).Str("reason", res.Reason).Msg("note generation fell back")
	}
	return res
}

func (a *Adapter) generateHosted(ctx context.Context, req Request) (string, bool, string) {
	if a.hosted == nil {
		return fallback(fmt.Sprintf("hosted model unavailable: %v", a.hostedErr)), true, ReasonNoAPIKey
	}
	text, err := a.hosted.complete(ctx, instructions, prompt(req))
	if err != nil {
		return fallback(fmt.Sprintf("hosted call failed: %v", err)), true, ReasonAPIError
	}
	if text == "" {
		return fallback("hosted call returned empty content"), true, ReasonEmptyOutput
	}
	return text, false, ReasonOK
}

func fallback(msg string) string {
	return msg + "; fallback to deterministic local plan."
}
