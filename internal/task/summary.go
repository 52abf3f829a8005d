package task

// Summary is the listing view of a task.
type Summary struct {
	Issue       int      `json:"issue"`
	TaskID      string   `json:"task_id"`
	TaskType    string   `json:"task_type"`
	Status      string   `json:"status"`
	State       string   `json:"state"`
	DependsOn   []string `json:"depends_on"`
	OwnerWorker string   `json:"owner_worker,omitempty"`
	Title       string   `json:"title"`
}

// Summary projects t for listings.
func (t Task) Summary() Summary {
	deps := t.DependsOn
	if deps == nil {
		deps = []string{}
	}
	return Summary{
		Issue:       t.Number,
		TaskID:      t.ID,
		TaskType:    string(t.Type),
		Status:      string(t.Status),
		State:       t.State,
		DependsOn:   deps,
		OwnerWorker: t.OwnerWorker,
		Title:       t.Title,
	}
}

// Filter selects the task records of a listing: records with metadata,
// open unless all is set, and matching status when non-empty.
func Filter(items []Task, status Status, all bool) []Summary {
	out := []Summary{}
	for _, t := range items {
		if t.ID == "" {
			continue
		}
		if !all && !t.Open() {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t.Summary())
	}
	return out
}
