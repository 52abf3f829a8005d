package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/metalagman/trellis/internal/config"
	"github.com/metalagman/trellis/internal/journal"
	"github.com/spf13/viper"
)

// loadConfig reads the config file named by --config and applies the
// --repo override.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return config.Config{}, err
	}
	if repo := strings.TrimSpace(viper.GetString("repo")); repo != "" {
		cfg.Repo = repo
	}
	if cfg.Repo == "" {
		cfg.Repo = strings.TrimSpace(os.Getenv("GITHUB_REPOSITORY"))
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func currentRunID() (string, error) {
	id := strings.TrimSpace(viper.GetString("run_id"))
	if !journal.ValidRunID(id) {
		return "", fmt.Errorf("invalid run id %q: use letters, digits, '.', '_' or '-'", id)
	}
	return id, nil
}
