package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/metalagman/trellis/internal/assign"
	"github.com/metalagman/trellis/internal/task"
	"gopkg.in/yaml.v3"
)

type workersFile struct {
	Workers map[string]WorkerConfig `yaml:"workers"`
}

// LoadWorkersFile reads a standalone workers file of the form
//
//	workers:
//	  <name>:
//	    label: worker/<name>
//	    task_types: [IMPL, DEBUG]
func LoadWorkersFile(path string) ([]WorkerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workers file: %w", err)
	}
	var doc workersFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workers file %s: %w", path, err)
	}
	if doc.Workers == nil {
		return nil, fmt.Errorf("workers file %s has no workers map", path)
	}
	names := make([]string, 0, len(doc.Workers))
	for name := range doc.Workers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]WorkerConfig, 0, len(names))
	for _, name := range names {
		w := doc.Workers[name]
		w.Name = name
		out = append(out, w)
	}
	return out, nil
}

// AssignWorkers converts the declared workers for the assignment policy.
// Unknown task types are rejected.
func (c Config) AssignWorkers() ([]assign.Worker, error) {
	out := make([]assign.Worker, 0, len(c.Workers))
	for _, w := range c.Workers {
		types := make([]task.Type, 0, len(w.TaskTypes))
		for _, raw := range w.TaskTypes {
			tt := task.Type(raw)
			if !tt.Valid() {
				return nil, fmt.Errorf("worker %q declares unknown task type %q", w.Name, raw)
			}
			types = append(types, tt)
		}
		out = append(out, assign.Worker{Name: w.Name, Label: w.Label, TaskTypes: types})
	}
	return out, nil
}
