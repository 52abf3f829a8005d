package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/metalagman/trellis/internal/task"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_ReadsYAMLAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
repo: acme/app
ledger:
  backend: redis
  redis:
    addr: redis:6379
    ttl: 2h
notes:
  mode: real
  provider: anthropic
  timeout: 5s
workers:
  - name: W1
    task_types: [IMPL, DEBUG]
  - name: Reviewer
    label: worker/reviewer
    task_types: [REVIEW]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Repo != "acme/app" {
		t.Fatalf("repo = %q", cfg.Repo)
	}
	if cfg.Tracker.Backend != BackendGitHub || cfg.Tracker.GHPath != "gh" {
		t.Fatalf("tracker defaults not applied: %+v", cfg.Tracker)
	}
	if cfg.Ledger.Redis.TTL != 2*time.Hour {
		t.Fatalf("ttl = %v, want 2h", cfg.Ledger.Redis.TTL)
	}
	if cfg.Notes.Timeout != 5*time.Second {
		t.Fatalf("notes timeout = %v", cfg.Notes.Timeout)
	}
	if cfg.Lock.Timeout != 30*time.Second {
		t.Fatalf("lock timeout = %v", cfg.Lock.Timeout)
	}
	if len(cfg.Workers) != 2 || cfg.Workers[1].Name != "Reviewer" {
		t.Fatalf("workers = %+v", cfg.Workers)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	workers, err := cfg.AssignWorkers()
	if err != nil {
		t.Fatalf("AssignWorkers returned error: %v", err)
	}
	if !workers[0].Accepts(task.TypeDebug) || workers[1].TagLabel() != "worker/reviewer" {
		t.Fatalf("unexpected workers: %+v", workers)
	}
	if got := cfg.DBPath(); got != filepath.Join(".trellis", "trellis.db") {
		t.Fatalf("db path = %q", got)
	}
}

func TestLoad_MergesWorkersFile(t *testing.T) {
	dir := t.TempDir()
	workersPath := writeFile(t, dir, "workers.yaml", `
workers:
  W2:
    label: worker/W2
    task_types: [IMPL]
  W1:
    task_types: [DESIGN]
`)
	path := writeFile(t, dir, "config.yaml", "repo: acme/app\nworkers_file: "+workersPath+"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Workers) != 2 || cfg.Workers[0].Name != "W1" || cfg.Workers[1].Name != "W2" {
		t.Fatalf("workers = %+v", cfg.Workers)
	}
}

func TestLoad_RejectsSchemaViolations(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "ledger:\n  backend: etcd\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("Load error = %v, want schema validation failure", err)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load returned nil error for a missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"github needs repo", Config{Tracker: TrackerConfig{Backend: BackendGitHub}}, false},
		{"sqlite without repo", Config{Tracker: TrackerConfig{Backend: BackendSQLite}}, true},
		{"duplicate worker", Config{Repo: "a/b", Tracker: TrackerConfig{Backend: BackendGitHub}, Workers: []WorkerConfig{{Name: "W"}, {Name: "W"}}}, false},
		{"redis needs addr", Config{Repo: "a/b", Tracker: TrackerConfig{Backend: BackendGitHub}, Ledger: LedgerConfig{Backend: LedgerRedis}}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: Validate error = %v", tc.name, err)
		}
	}
}

func TestAssignWorkers_RejectsUnknownType(t *testing.T) {
	cfg := Config{Workers: []WorkerConfig{{Name: "W", TaskTypes: []string{"DEPLOY"}}}}
	if _, err := cfg.AssignWorkers(); err == nil {
		t.Fatal("AssignWorkers returned nil error for unknown type")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := LoadDotEnv(filepath.Join(dir, ".env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
	path := writeFile(t, dir, ".env", "TRELLIS_TEST_DOTENV=loaded\n")
	t.Setenv("TRELLIS_TEST_DOTENV", "")
	os.Unsetenv("TRELLIS_TEST_DOTENV")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv returned error: %v", err)
	}
	if got := os.Getenv("TRELLIS_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("TRELLIS_TEST_DOTENV = %q", got)
	}
}
