package task

import (
	"fmt"
	"strings"
)

// DefaultBody is the free text used when a new task has no description.
const DefaultBody = "Implement according to acceptance criteria."

// Draft describes a task to be created.
type Draft struct {
	ID          string
	Type        string
	Title       string
	Status      string
	DependsOn   []string
	OwnerWorker string
	Acceptance  []string
	Body        string
	Labels      []string
}

// Build validates the draft and returns the task plus the labels to create it with.
func (d Draft) Build() (Task, []string, error) {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		return Task{}, nil, fmt.Errorf("task id is required")
	}
	typ := Type(strings.TrimSpace(d.Type))
	if !typ.Valid() {
		return Task{}, nil, fmt.Errorf("task type %q is not one of %v", d.Type, Types)
	}
	status := Status(strings.TrimSpace(d.Status))
	if status == "" {
		status = StatusReady
	}
	if !status.Valid() {
		return Task{}, nil, fmt.Errorf("status %q is not one of %v", d.Status, Statuses)
	}
	var acceptance []string
	for _, ac := range d.Acceptance {
		if ac = strings.TrimSpace(ac); ac != "" {
			acceptance = append(acceptance, ac)
		}
	}
	if len(acceptance) == 0 {
		return Task{}, nil, fmt.Errorf("at least one acceptance criterion is required")
	}
	deps := dedupe(DedupeLabels(d.DependsOn))
	for _, dep := range deps {
		if dep == id {
			return Task{}, nil, fmt.Errorf("task cannot depend on itself")
		}
	}
	body := strings.TrimSpace(d.Body)
	if body == "" {
		body = DefaultBody
	}
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return Task{}, nil, fmt.Errorf("title is required")
	}
	t := Task{
		ID:          id,
		Type:        typ,
		Status:      status,
		DependsOn:   deps,
		OwnerWorker: strings.TrimSpace(d.OwnerWorker),
		Acceptance:  acceptance,
		Title:       title,
		Body:        body,
	}
	labels := DedupeLabels(append([]string{LabelTask, StatusLabel(status)}, d.Labels...))
	return t, labels, nil
}

// SplitCSV splits a comma-separated list, dropping blanks.
func SplitCSV(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
