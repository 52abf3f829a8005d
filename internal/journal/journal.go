// Package journal implements the append-only per-run event log.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
)

const fileName = "events.jsonl"

// Event types and results.
const (
	TypeDispatch  = "dispatch"
	TypePRMerged  = "pr_merged"
	TypeUnlock    = "unlock"
	TypeSyncState = "sync_state"

	ResultOK = "ok"
)

// Event is one orchestration action.
type Event struct {
	Timestamp string         `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Type      string         `json:"type"`
	Repo      string         `json:"repo"`
	Entity    string         `json:"entity,omitempty"`
	ID        int            `json:"id,omitempty"`
	Action    string         `json:"action,omitempty"`
	Result    string         `json:"result"`
	Details   map[string]any `json:"details,omitempty"`
}

// Recorder receives events.
type Recorder interface {
	Append(ev Event) error
}

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidRunID reports whether id is safe to use as a directory name.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id) && id != "." && id != ".."
}

// Journal writes events to <state>/runs/<run_id>/events.jsonl.
type Journal struct {
	runsDir string
	now     func() time.Time
	mu      sync.Mutex
}

// New creates a journal rooted at stateDir.
func New(stateDir string) *Journal {
	return &Journal{
		runsDir: filepath.Join(stateDir, "runs"),
		now:     time.Now,
	}
}

// WithClock overrides the timestamp source.
func (j *Journal) WithClock(now func() time.Time) *Journal {
	j.now = now
	return j
}

// Path returns the journal file of a run.
func (j *Journal) Path(runID string) (string, error) {
	if !ValidRunID(runID) {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(j.runsDir, runID, fileName), nil
}

// Ensure creates the journal file of a run if missing.
func (j *Journal) Ensure(runID string) (string, error) {
	path, err := j.Path(runID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create journal: %w", err)
	}
	return path, f.Close()
}

// Append writes ev as a single line. The timestamp is stamped when empty.
func (j *Journal) Append(ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	path, err := j.Ensure(ev.RunID)
	if err != nil {
		return err
	}
	if ev.Timestamp == "" {
		ev.Timestamp = j.now().UTC().Truncate(time.Second).Format(time.RFC3339)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("append event: %w", err)
	}
	return f.Close()
}

// Events reads all events of a run in emission order.
func (j *Journal) Events(runID string) ([]Event, error) {
	path, err := j.Path(runID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("parse %s line %d: %w", path, line, err)
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return out, nil
}

// Runs lists run ids that have a journal, sorted ascending.
func (j *Journal) Runs() ([]string, error) {
	entries, err := os.ReadDir(j.runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || !ValidRunID(e.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(j.runsDir, e.Name(), fileName)); err == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Count returns the number of events of a given type in a run.
func Count(events []Event, typ string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}
