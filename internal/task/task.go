// Package task models orchestrated work items and maps them onto tracker records.
package task

import (
	"fmt"
	"sort"
	"strings"

	"github.com/metalagman/trellis/internal/tracker"
)

// Status is the lifecycle state of a task.
type Status string

// Task lifecycle states.
const (
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// Statuses lists every valid status.
var Statuses = []Status{StatusReady, StatusInProgress, StatusBlocked, StatusDone}

// Valid reports whether s is one of the four lifecycle states.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Type is a capability from the fixed task vocabulary.
type Type string

// Task types.
const (
	TypeReq         Type = "REQ"
	TypeDesign      Type = "DESIGN"
	TypeSplit       Type = "SPLIT"
	TypeTestPlan    Type = "TEST_PLAN"
	TypeImpl        Type = "IMPL"
	TypeDebug       Type = "DEBUG"
	TypeReview      Type = "REVIEW"
	TypeIntegration Type = "INTEGRATION"
)

// Types lists the capability vocabulary.
var Types = []Type{TypeReq, TypeDesign, TypeSplit, TypeTestPlan, TypeImpl, TypeDebug, TypeReview, TypeIntegration}

// Valid reports whether t belongs to the vocabulary.
func (t Type) Valid() bool {
	for _, v := range Types {
		if t == v {
			return true
		}
	}
	return false
}

// Label conventions.
const (
	LabelTask         = "type/task"
	statusLabelPrefix = "status/"
	workerLabelPrefix = "worker/"
)

// Task is a work item together with the identity of the record that stores it.
type Task struct {
	ID          string
	Type        Type
	Status      Status
	DependsOn   []string
	OwnerWorker string
	Acceptance  []string

	// Record identity. Number and UpdatedAt feed the dispatch fingerprint only.
	Number    int
	Title     string
	Labels    []string
	State     string
	UpdatedAt string

	// Body is the free text following the metadata block.
	Body string

	extra map[string]any
}

// Open reports whether the backing record is open.
func (t Task) Open() bool {
	return t.State == tracker.StateOpen
}

// Closed reports whether the backing record is closed.
func (t Task) Closed() bool {
	return t.State == tracker.StateClosed
}

// HasLabel reports whether the task record carries label.
func (t Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// StatusLabel returns the label reflecting a status.
func StatusLabel(s Status) string {
	return statusLabelPrefix + string(s)
}

// WorkerLabel returns the default label for a worker name.
func WorkerLabel(name string) string {
	return workerLabelPrefix + name
}

// ReplaceStatusLabel drops every status/ label and adds the one for s.
func ReplaceStatusLabel(labels []string, s Status) []string {
	return replacePrefixed(labels, statusLabelPrefix, StatusLabel(s))
}

// ReplaceWorkerLabel drops every worker/ label and adds label.
func ReplaceWorkerLabel(labels []string, label string) []string {
	return replacePrefixed(labels, workerLabelPrefix, label)
}

func replacePrefixed(labels []string, prefix, label string) []string {
	set := make(map[string]struct{}, len(labels)+1)
	for _, l := range labels {
		if strings.HasPrefix(l, prefix) {
			continue
		}
		set[l] = struct{}{}
	}
	set[label] = struct{}{}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// EnsureLabel appends label when it is missing.
func EnsureLabel(labels []string, label string) []string {
	for _, l := range labels {
		if l == label {
			return labels
		}
	}
	return append(labels, label)
}

// DedupeLabels removes blanks and duplicates while keeping first-seen order.
func DedupeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// DisplayTitle returns the record title or a generated one.
func (t Task) DisplayTitle() string {
	if strings.TrimSpace(t.Title) != "" {
		return t.Title
	}
	if t.ID != "" {
		return fmt.Sprintf("Task %s", t.ID)
	}
	return "Task"
}
