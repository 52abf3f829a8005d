// Package github implements the tracker contract against GitHub issues via the gh CLI.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/metalagman/trellis/internal/tracker"
)

const pageSize = 100

// CommandFunc runs the gh binary with args and optional stdin.
type CommandFunc func(ctx context.Context, bin string, args []string, stdin []byte) (stdout, stderr []byte, err error)

// Tracker implements tracker.Tracker using `gh api`.
type Tracker struct {
	Repo string
	// Optional: path to gh executable. If empty, uses "gh" from PATH.
	BinPath string
	run     CommandFunc
}

// New creates a GitHub tracker for owner/name.
func New(repo, binPath string) *Tracker {
	if binPath == "" {
		binPath = "gh"
	}
	return &Tracker{Repo: repo, BinPath: binPath, run: execCommand}
}

// WithCommand replaces the process runner (used in tests).
func (t *Tracker) WithCommand(fn CommandFunc) *Tracker {
	t.run = fn
	return t
}

type issueJSON struct {
	Number      int                `json:"number"`
	Title       string             `json:"title"`
	Body        *string            `json:"body"`
	Labels      tracker.LabelNames `json:"labels"`
	State       string             `json:"state"`
	UpdatedAt   string             `json:"updated_at"`
	PullRequest json.RawMessage    `json:"pull_request,omitempty"`
}

func (i issueJSON) record() tracker.Record {
	body := ""
	if i.Body != nil {
		body = *i.Body
	}
	return tracker.Record{
		Number:      i.Number,
		Title:       i.Title,
		Body:        body,
		Labels:      []string(i.Labels),
		State:       i.State,
		UpdatedAt:   i.UpdatedAt,
		PullRequest: len(i.PullRequest) > 0 && string(i.PullRequest) != "null",
	}
}

// List pages through repository issues matching the query.
func (t *Tracker) List(ctx context.Context, q tracker.Query) ([]tracker.Record, error) {
	state := q.State
	if state == "" {
		state = tracker.StateOpen
	}
	var out []tracker.Record
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("state", state)
		if len(q.Labels) > 0 {
			params.Set("labels", strings.Join(q.Labels, ","))
		}
		params.Set("per_page", strconv.Itoa(pageSize))
		params.Set("page", strconv.Itoa(page))
		var batch []issueJSON
		if err := t.api(ctx, "GET", fmt.Sprintf("repos/%s/issues?%s", t.Repo, params.Encode()), nil, &batch); err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		for _, item := range batch {
			out = append(out, item.record())
		}
		if len(batch) < pageSize {
			return out, nil
		}
	}
}

// Get fetches one issue.
func (t *Tracker) Get(ctx context.Context, number int) (tracker.Record, error) {
	var issue issueJSON
	if err := t.api(ctx, "GET", fmt.Sprintf("repos/%s/issues/%d", t.Repo, number), nil, &issue); err != nil {
		return tracker.Record{}, fmt.Errorf("get issue %d: %w", number, err)
	}
	return issue.record(), nil
}

// Patch updates title, body, labels and optionally state and assignees.
func (t *Tracker) Patch(ctx context.Context, number int, p tracker.Patch) (tracker.Record, error) {
	payload := map[string]any{
		"title":  p.Title,
		"body":   p.Body,
		"labels": nonNil(p.Labels),
	}
	if p.State != nil {
		payload["state"] = *p.State
	}
	if p.Assignees != nil {
		payload["assignees"] = p.Assignees
	}
	var issue issueJSON
	if err := t.api(ctx, "PATCH", fmt.Sprintf("repos/%s/issues/%d", t.Repo, number), payload, &issue); err != nil {
		return tracker.Record{}, fmt.Errorf("patch issue %d: %w", number, err)
	}
	if issue.Number == 0 {
		return tracker.Record{}, fmt.Errorf("patch issue %d: unexpected response", number)
	}
	return issue.record(), nil
}

// Create opens a new issue.
func (t *Tracker) Create(ctx context.Context, title, body string, labels []string) (tracker.Record, error) {
	payload := map[string]any{
		"title":  title,
		"body":   body,
		"labels": nonNil(labels),
	}
	var issue issueJSON
	if err := t.api(ctx, "POST", fmt.Sprintf("repos/%s/issues", t.Repo), payload, &issue); err != nil {
		return tracker.Record{}, fmt.Errorf("create issue: %w", err)
	}
	if issue.Number == 0 {
		return tracker.Record{}, fmt.Errorf("create issue: unexpected response")
	}
	return issue.record(), nil
}

// Comment posts a comment on an issue.
func (t *Tracker) Comment(ctx context.Context, number int, body string) error {
	payload := map[string]any{"body": body}
	if err := t.api(ctx, "POST", fmt.Sprintf("repos/%s/issues/%d/comments", t.Repo, number), payload, nil); err != nil {
		return fmt.Errorf("comment on issue %d: %w", number, err)
	}
	return nil
}

// Comments pages through all comments of an issue.
func (t *Tracker) Comments(ctx context.Context, number int) ([]tracker.Comment, error) {
	var out []tracker.Comment
	for page := 1; ; page++ {
		var batch []struct {
			ID        int64  `json:"id"`
			Body      string `json:"body"`
			CreatedAt string `json:"created_at"`
		}
		path := fmt.Sprintf("repos/%s/issues/%d/comments?per_page=%d&page=%d", t.Repo, number, pageSize, page)
		if err := t.api(ctx, "GET", path, nil, &batch); err != nil {
			return nil, fmt.Errorf("list comments of issue %d: %w", number, err)
		}
		for _, c := range batch {
			out = append(out, tracker.Comment{ID: c.ID, Body: c.Body, CreatedAt: c.CreatedAt})
		}
		if len(batch) < pageSize {
			return out, nil
		}
	}
}

// PullRequest fetches a pull request.
func (t *Tracker) PullRequest(ctx context.Context, number int) (tracker.PullRequest, error) {
	var pr struct {
		Number   int     `json:"number"`
		Title    string  `json:"title"`
		Body     *string `json:"body"`
		Merged   bool    `json:"merged"`
		MergedAt *string `json:"merged_at"`
	}
	if err := t.api(ctx, "GET", fmt.Sprintf("repos/%s/pulls/%d", t.Repo, number), nil, &pr); err != nil {
		return tracker.PullRequest{}, fmt.Errorf("get pull %d: %w", number, err)
	}
	out := tracker.PullRequest{Number: pr.Number, Title: pr.Title, Merged: pr.Merged}
	if pr.Body != nil {
		out.Body = *pr.Body
	}
	if pr.MergedAt != nil {
		out.MergedAt = *pr.MergedAt
	}
	return out, nil
}

// CurrentUser resolves the authenticated login, falling back to GITHUB_ACTOR.
func (t *Tracker) CurrentUser(ctx context.Context) (string, error) {
	var user struct {
		Login string `json:"login"`
	}
	err := t.api(ctx, "GET", "user", nil, &user)
	if err == nil && strings.TrimSpace(user.Login) != "" {
		return user.Login, nil
	}
	if actor := strings.TrimSpace(os.Getenv("GITHUB_ACTOR")); actor != "" {
		return actor, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve current login: %w", err)
	}
	return "", fmt.Errorf("unable to resolve current gh login")
}

func (t *Tracker) api(ctx context.Context, method, path string, payload any, out any) error {
	args := []string{"api", "-X", method, path}
	var stdin []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		args = append(args, "--input", "-")
		stdin = data
	}
	stdout, stderr, err := t.run(ctx, t.BinPath, args, stdin)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = strings.TrimSpace(string(stdout))
		}
		if strings.Contains(msg, "HTTP 404") || strings.Contains(msg, "Not Found") {
			return fmt.Errorf("gh api %s %s: %w", method, path, tracker.ErrNotFound)
		}
		return fmt.Errorf("gh api %s %s: %w (%s)", method, path, err, msg)
	}
	stdout = bytes.TrimSpace(stdout)
	if out == nil || len(stdout) == 0 {
		return nil
	}
	if err := json.Unmarshal(stdout, out); err != nil {
		return fmt.Errorf("parse gh api %s %s response: %w", method, path, err)
	}
	return nil
}

func execCommand(ctx context.Context, bin string, args []string, stdin []byte) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	cmd.Env = os.Environ()
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func nonNil(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}
