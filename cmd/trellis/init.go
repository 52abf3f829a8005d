package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/trellis/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfigYAML = `# trellis configuration
repo: owner/name
state_dir: .trellis

tracker:
  backend: github
  gh_path: gh
  assign_self: false

store:
  path: .trellis/trellis.db

ledger:
  backend: sqlite

notes:
  mode: mock
  provider: openai
  timeout: 30s
  attach: false

workers:
  - name: worker-a
    label: worker/worker-a
    task_types: [REQ, DESIGN, SPLIT, TEST_PLAN, REVIEW]
  - name: worker-b
    label: worker/worker-b
    task_types: [IMPL, DEBUG, INTEGRATION, TEST_PLAN]

server:
  addr: ":8080"
  secret_env: TRELLIS_WEBHOOK_SECRET

lock:
  timeout: 30s
`

type initResult struct {
	OK       bool   `json:"ok"`
	Config   string `json:"config"`
	StateDir string `json:"state_dir"`
	Created  bool   `json:"created"`
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a trellis project",
		Long:  "Initialize a trellis project by creating the state directory and installing a default config.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if path == "" {
				path = config.DefaultPath
			}
			res := initResult{OK: true, Config: path}

			if _, err := os.Stat(path); err == nil {
				log.Info().Str("path", path).Msg("config already exists, skipping")
			} else {
				log.Info().Str("path", path).Msg("installing default config")
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return fmt.Errorf("create config dir: %w", err)
				}
				if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
					return fmt.Errorf("write default config: %w", err)
				}
				res.Created = true
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			res.StateDir = cfg.StateDir
			for _, dir := range []string{"runs", "locks"} {
				if err := os.MkdirAll(filepath.Join(cfg.StateDir, dir), 0o755); err != nil {
					return fmt.Errorf("create %s dir: %w", dir, err)
				}
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
