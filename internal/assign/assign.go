// Package assign implements the least-loaded worker assignment policy.
package assign

import (
	"sort"

	"github.com/metalagman/trellis/internal/task"
)

// Worker is a logical capacity pool.
type Worker struct {
	Name      string
	Label     string
	TaskTypes []task.Type
}

// Accepts reports whether the worker declares the task type.
func (w Worker) Accepts(t task.Type) bool {
	for _, tt := range w.TaskTypes {
		if tt == t {
			return true
		}
	}
	return false
}

// TagLabel returns the label applied to dispatched tasks.
func (w Worker) TagLabel() string {
	if w.Label != "" {
		return w.Label
	}
	return task.WorkerLabel(w.Name)
}

// Load is the number of in-flight tasks per worker name.
type Load map[string]int

// ComputeLoad counts tasks with status in_progress per known owner worker.
// It must be evaluated from fresh state at the start of every pass.
func ComputeLoad(tasks []task.Task, workers []Worker) Load {
	load := make(Load, len(workers))
	for _, w := range workers {
		load[w.Name] = 0
	}
	for _, t := range tasks {
		if t.Status != task.StatusInProgress {
			continue
		}
		if _, ok := load[t.OwnerWorker]; ok {
			load[t.OwnerWorker]++
		}
	}
	return load
}

// Pick selects the capable worker with the fewest in-flight tasks, breaking
// ties by ascending name. ok is false when no worker accepts the type.
func Pick(taskType task.Type, workers []Worker, load Load) (Worker, bool) {
	var candidates []Worker
	for _, w := range workers {
		if w.Accepts(taskType) {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return Worker{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		li, lj := load[candidates[i].Name], load[candidates[j].Name]
		if li != lj {
			return li < lj
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates[0], true
}
