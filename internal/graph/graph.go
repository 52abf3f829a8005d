// Package graph resolves task dependencies against the current task set.
package graph

import (
	"github.com/metalagman/trellis/internal/task"
	"github.com/rs/zerolog/log"
)

// Signals are the three independent indicators that a task is finished.
type Signals struct {
	Closed bool
	Status bool
	Label  bool
}

// SignalsOf reads the done signals of a task.
func SignalsOf(t task.Task) Signals {
	return Signals{
		Closed: t.Closed(),
		Status: t.Status == task.StatusDone,
		Label:  t.HasLabel(task.StatusLabel(task.StatusDone)),
	}
}

// Done reports whether any signal says done.
func (s Signals) Done() bool {
	return s.Closed || s.Status || s.Label
}

// Consistent reports whether all signals agree.
func (s Signals) Consistent() bool {
	return s.Closed == s.Status && s.Status == s.Label
}

// IsDone applies the permissive rule: closed, status done, or the done label.
func IsDone(t task.Task) bool {
	return SignalsOf(t).Done()
}

// Lookup maps task ids to their done state.
type Lookup map[string]bool

// NewLookup builds the done lookup in one pass. Disagreement between the done
// signals of a finished task is logged and otherwise ignored.
func NewLookup(tasks []task.Task) Lookup {
	out := make(Lookup, len(tasks))
	for _, t := range tasks {
		sig := SignalsOf(t)
		if sig.Done() && !sig.Consistent() {
			log.Warn().
				Str("task_id", t.ID).
				Int("issue", t.Number).
				Bool("closed", sig.Closed).
				Bool("status_done", sig.Status).
				Bool("label_done", sig.Label).
				Msg("done signals disagree")
		}
		out[t.ID] = sig.Done()
	}
	return out
}

// Satisfied reports whether every dependency is known and done. Unknown ids
// are never treated as satisfied.
func (l Lookup) Satisfied(deps []string) bool {
	for _, dep := range deps {
		if done, ok := l[dep]; !ok || !done {
			return false
		}
	}
	return true
}

// Unlockable returns the open tasks that are neither in progress nor done,
// have at least one dependency, and whose dependencies are all done.
// Tasks without dependencies are never returned.
func Unlockable(tasks []task.Task) []task.Task {
	lookup := NewLookup(tasks)
	var out []task.Task
	for _, t := range tasks {
		if !t.Open() {
			continue
		}
		if t.Status == task.StatusInProgress || t.Status == task.StatusDone {
			continue
		}
		if len(t.DependsOn) == 0 {
			continue
		}
		if lookup.Satisfied(t.DependsOn) {
			out = append(out, t)
		}
	}
	return out
}
