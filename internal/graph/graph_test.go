package graph

import (
	"testing"

	"github.com/metalagman/trellis/internal/task"
	"github.com/metalagman/trellis/internal/tracker"
)

func mk(id string, status task.Status, state string, deps ...string) task.Task {
	return task.Task{ID: id, Status: status, State: state, DependsOn: deps, Labels: []string{task.LabelTask, task.StatusLabel(status)}}
}

func ids(tasks []task.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestIsDoneAnySignal(t *testing.T) {
	t.Parallel()

	closedOnly := task.Task{State: tracker.StateClosed, Status: task.StatusInProgress}
	statusOnly := task.Task{State: tracker.StateOpen, Status: task.StatusDone}
	labelOnly := task.Task{State: tracker.StateOpen, Status: task.StatusReady, Labels: []string{"status/done"}}
	none := task.Task{State: tracker.StateOpen, Status: task.StatusReady, Labels: []string{"status/ready"}}

	for name, tk := range map[string]task.Task{"closed": closedOnly, "status": statusOnly, "label": labelOnly} {
		if !IsDone(tk) {
			t.Fatalf("%s: IsDone = false, want true", name)
		}
	}
	if IsDone(none) {
		t.Fatal("IsDone = true for open ready task")
	}
}

func TestUnlockableNeverTouchesTasksWithoutDependencies(t *testing.T) {
	t.Parallel()

	tasks := []task.Task{
		mk("A", task.StatusBlocked, tracker.StateOpen),
		mk("B", task.StatusReady, tracker.StateOpen),
	}
	if got := Unlockable(tasks); len(got) != 0 {
		t.Fatalf("Unlockable = %v, want none", ids(got))
	}
}

func TestUnlockableRequiresAllDependencies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b task.Task
		want bool
	}{
		{name: "both done", a: mk("A", task.StatusDone, tracker.StateClosed), b: mk("B", task.StatusDone, tracker.StateClosed), want: true},
		{name: "one open", a: mk("A", task.StatusDone, tracker.StateClosed), b: mk("B", task.StatusInProgress, tracker.StateOpen), want: false},
		{name: "closed but stale status", a: mk("A", task.StatusInProgress, tracker.StateClosed), b: mk("B", task.StatusDone, tracker.StateOpen), want: true},
	}
	for _, tc := range cases {
		tasks := []task.Task{tc.a, tc.b, mk("T", task.StatusBlocked, tracker.StateOpen, "A", "B")}
		got := len(Unlockable(tasks)) == 1
		if got != tc.want {
			t.Fatalf("%s: unlockable = %t, want %t", tc.name, got, tc.want)
		}
	}
}

func TestUnlockableMissingDependencyNeverEligible(t *testing.T) {
	t.Parallel()

	tasks := []task.Task{
		mk("B", task.StatusDone, tracker.StateClosed),
		mk("T", task.StatusBlocked, tracker.StateOpen, "A", "B"),
	}
	if got := Unlockable(tasks); len(got) != 0 {
		t.Fatalf("Unlockable = %v, want none", ids(got))
	}
}

func TestUnlockableSkipsInProgressDoneAndClosed(t *testing.T) {
	t.Parallel()

	tasks := []task.Task{
		mk("A", task.StatusDone, tracker.StateClosed),
		mk("P", task.StatusInProgress, tracker.StateOpen, "A"),
		mk("D", task.StatusDone, tracker.StateOpen, "A"),
		mk("C", task.StatusBlocked, tracker.StateClosed, "A"),
		mk("R", task.StatusBlocked, tracker.StateOpen, "A"),
	}
	got := ids(Unlockable(tasks))
	if len(got) != 1 || got[0] != "R" {
		t.Fatalf("Unlockable = %v, want [R]", got)
	}
}

func TestScenarioDependencyInProgressNotReady(t *testing.T) {
	t.Parallel()

	tasks := []task.Task{
		mk("TASK-001", task.StatusInProgress, tracker.StateOpen),
		mk("TASK-002", task.StatusBlocked, tracker.StateOpen, "TASK-001"),
	}
	if got := Unlockable(tasks); len(got) != 0 {
		t.Fatalf("Unlockable = %v, want none", ids(got))
	}
	if NewLookup(tasks).Satisfied([]string{"TASK-001"}) {
		t.Fatal("dependency in progress must not be satisfied")
	}
}
