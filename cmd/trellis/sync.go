package main

import (
	"time"

	"github.com/metalagman/trellis/internal/journal"
	"github.com/spf13/cobra"
)

type syncResult struct {
	OK        bool   `json:"ok"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Repo      string `json:"repo"`
	RunID     string `json:"run_id"`
	Event     string `json:"event"`
	Result    string `json:"result"`
}

func syncStateCmd() *cobra.Command {
	var event string
	cmd := &cobra.Command{
		Use:   "sync-state",
		Short: "Record a state sync marker in the run journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := currentRunID()
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ev := journal.Event{
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				RunID:     runID,
				Type:      journal.TypeSyncState,
				Repo:      cfg.Repo,
				Result:    journal.ResultOK,
				Details:   map[string]any{"event": event},
			}
			if err := journal.New(cfg.StateDir).Append(ev); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), syncResult{
				OK:        true,
				Timestamp: ev.Timestamp,
				Type:      ev.Type,
				Repo:      ev.Repo,
				RunID:     runID,
				Event:     event,
				Result:    ev.Result,
			})
		},
	}
	cmd.Flags().StringVar(&event, "event", "sync", "event name")
	return cmd
}
