// Package config provides configuration loading for trellis.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// DefaultDir is the per-repository state directory.
const DefaultDir = ".trellis"

// DefaultPath is the default config file location.
var DefaultPath = filepath.Join(DefaultDir, "config.yaml")

// Tracker backends.
const (
	BackendGitHub = "github"
	BackendSQLite = "sqlite"
)

// Ledger backends.
const (
	LedgerNone   = "none"
	LedgerSQLite = "sqlite"
	LedgerRedis  = "redis"
)

// Config is the root configuration.
type Config struct {
	Repo        string         `json:"repo"         mapstructure:"repo"`
	StateDir    string         `json:"state_dir"    mapstructure:"state_dir"`
	Tracker     TrackerConfig  `json:"tracker"      mapstructure:"tracker"`
	Store       StoreConfig    `json:"store"        mapstructure:"store"`
	Ledger      LedgerConfig   `json:"ledger"       mapstructure:"ledger"`
	Notes       NotesConfig    `json:"notes"        mapstructure:"notes"`
	Workers     []WorkerConfig `json:"workers"      mapstructure:"workers"`
	WorkersFile string         `json:"workers_file" mapstructure:"workers_file"`
	Metrics     MetricsConfig  `json:"metrics"      mapstructure:"metrics"`
	Server      ServerConfig   `json:"server"       mapstructure:"server"`
	Lock        LockConfig     `json:"lock"         mapstructure:"lock"`
}

// TrackerConfig selects the task record backend.
type TrackerConfig struct {
	Backend    string `json:"backend"     mapstructure:"backend"`
	GHPath     string `json:"gh_path"     mapstructure:"gh_path"`
	AssignSelf bool   `json:"assign_self" mapstructure:"assign_self"`
	// User is the acting login of the sqlite backend.
	User string `json:"user,omitempty" mapstructure:"user"`
}

// StoreConfig locates the local database.
type StoreConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LedgerConfig configures duplicate suppression.
type LedgerConfig struct {
	Backend string      `json:"backend" mapstructure:"backend"`
	Redis   RedisConfig `json:"redis"   mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string        `json:"addr"               mapstructure:"addr"`
	Password string        `json:"password,omitempty" mapstructure:"password"`
	DB       int           `json:"db"                 mapstructure:"db"`
	TTL      time.Duration `json:"ttl"                mapstructure:"ttl"`
}

// NotesConfig configures implementation hints.
type NotesConfig struct {
	Mode     string        `json:"mode"              mapstructure:"mode"`
	Provider string        `json:"provider"          mapstructure:"provider"`
	Timeout  time.Duration `json:"timeout"           mapstructure:"timeout"`
	Command  []string      `json:"command,omitempty" mapstructure:"command"`
	Attach   bool          `json:"attach"            mapstructure:"attach"`
}

// WorkerConfig declares a logical worker.
type WorkerConfig struct {
	Name      string   `json:"name"            mapstructure:"name"       yaml:"-"`
	Label     string   `json:"label,omitempty" mapstructure:"label"      yaml:"label"`
	TaskTypes []string `json:"task_types"      mapstructure:"task_types" yaml:"task_types"`
}

// MetricsConfig configures metric export of CLI runs.
type MetricsConfig struct {
	Textfile string `json:"textfile,omitempty" mapstructure:"textfile"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Addr      string `json:"addr"       mapstructure:"addr"`
	SecretEnv string `json:"secret_env" mapstructure:"secret_env"`
}

// LockConfig bounds the wait for the host run lock.
type LockConfig struct {
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", DefaultDir)
	v.SetDefault("tracker.backend", BackendGitHub)
	v.SetDefault("tracker.gh_path", "gh")
	v.SetDefault("tracker.assign_self", false)
	v.SetDefault("store.path", filepath.Join(DefaultDir, "trellis.db"))
	v.SetDefault("ledger.backend", LedgerNone)
	v.SetDefault("ledger.redis.addr", "localhost:6379")
	v.SetDefault("ledger.redis.db", 0)
	v.SetDefault("ledger.redis.ttl", "168h")
	v.SetDefault("notes.mode", "mock")
	v.SetDefault("notes.provider", "openai")
	v.SetDefault("notes.timeout", "30s")
	v.SetDefault("notes.attach", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.secret_env", "TRELLIS_WEBHOOK_SECRET")
	v.SetDefault("lock.timeout", "30s")
}

// Load reads the config file at path, validates the merged settings and
// decodes them. A missing file at the default path yields the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) || path != DefaultPath {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := ValidateSettings(v.AllSettings()); err != nil {
		return Config{}, err
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.WorkersFile != "" {
		fileWorkers, err := LoadWorkersFile(cfg.WorkersFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Workers = append(cfg.Workers, fileWorkers...)
	}
	if err := cfg.validateWorkers(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the schema cannot express. It is
// called after command line overrides are applied.
func (c Config) Validate() error {
	if c.Tracker.Backend == BackendGitHub && strings.Count(c.Repo, "/") != 1 {
		return fmt.Errorf("repo must be owner/name for the github tracker, got %q", c.Repo)
	}
	if c.Ledger.Backend == LedgerRedis && c.Ledger.Redis.Addr == "" {
		return fmt.Errorf("ledger.redis.addr is required for the redis ledger")
	}
	return c.validateWorkers()
}

func (c Config) validateWorkers() error {
	seen := make(map[string]bool, len(c.Workers))
	for _, w := range c.Workers {
		if w.Name == "" {
			return fmt.Errorf("worker name is required")
		}
		if seen[w.Name] {
			return fmt.Errorf("worker %q is declared twice", w.Name)
		}
		seen[w.Name] = true
	}
	return nil
}

// DBPath returns the database path.
func (c Config) DBPath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.StateDir, "trellis.db")
}

// WebhookSecret reads the webhook secret from the configured variable.
func (c Config) WebhookSecret() string {
	if c.Server.SecretEnv == "" {
		return ""
	}
	return os.Getenv(c.Server.SecretEnv)
}
