// Package tracker defines the issue tracker contract the orchestrator uses as
// its durable record of task state.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

const (
	// StateOpen is the tracker-level state of an active record.
	StateOpen = "open"
	// StateClosed is the tracker-level state of a finished record.
	StateClosed = "closed"
	// StateAll selects records in any state when listing.
	StateAll = "all"
)

// ErrNotFound is returned when a record or pull request does not exist.
var ErrNotFound = errors.New("tracker: not found")

// Record is a tracker issue as seen by the orchestrator.
type Record struct {
	Number      int
	Title       string
	Body        string
	Labels      []string
	State       string
	UpdatedAt   string
	PullRequest bool
}

// HasLabel reports whether the record carries the label.
func (r Record) HasLabel(label string) bool {
	for _, l := range r.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Comment is a single comment on a record.
type Comment struct {
	ID        int64
	Body      string
	CreatedAt string
}

// PullRequest is the subset of a change request needed by the completion flow.
type PullRequest struct {
	Number   int
	Title    string
	Body     string
	Merged   bool
	MergedAt string
}

// Query filters a record listing.
type Query struct {
	State  string
	Labels []string
}

// Patch replaces the mutable fields of a record in a single external write.
// A nil State or Assignees leaves the current value untouched.
type Patch struct {
	Title     string
	Body      string
	Labels    []string
	State     *string
	Assignees []string
}

// Tracker is the external issue tracker.
type Tracker interface {
	List(ctx context.Context, q Query) ([]Record, error)
	Get(ctx context.Context, number int) (Record, error)
	Patch(ctx context.Context, number int, p Patch) (Record, error)
	Create(ctx context.Context, title, body string, labels []string) (Record, error)
	Comment(ctx context.Context, number int, body string) error
	Comments(ctx context.Context, number int) ([]Comment, error)
	PullRequest(ctx context.Context, number int) (PullRequest, error)
	CurrentUser(ctx context.Context) (string, error)
}

// LabelNames decodes a label set that may be encoded either as plain strings
// or as objects with a name field.
type LabelNames []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *LabelNames) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			out = append(out, name)
			continue
		}
		var obj struct {
			Name *string `json:"name"`
		}
		if err := json.Unmarshal(item, &obj); err == nil && obj.Name != nil {
			out = append(out, *obj.Name)
		}
	}
	*l = out
	return nil
}

var closesPattern = regexp.MustCompile(`(?i)closes\s+#(\d+)`)

// ClosingReference extracts the record number from the first
// "closes #<number>" token in a change description.
func ClosingReference(body string) (int, bool) {
	m := closesPattern.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// MatchesQuery reports whether a record satisfies a listing query.
func MatchesQuery(r Record, q Query) bool {
	state := strings.TrimSpace(q.State)
	if state != "" && state != StateAll && r.State != state {
		return false
	}
	for _, label := range q.Labels {
		if !r.HasLabel(label) {
			return false
		}
	}
	return true
}
