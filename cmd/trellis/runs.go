package main

import (
	"fmt"

	"github.com/metalagman/trellis/internal/config"
	"github.com/metalagman/trellis/internal/journal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect run journals",
	}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsShowCmd())
	return cmd
}

func openJournal() (*journal.Journal, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	return journal.New(cfg.StateDir), nil
}

type runsListResult struct {
	OK   bool     `json:"ok"`
	Runs []string `json:"runs"`
}

func runsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal()
			if err != nil {
				return err
			}
			runs, err := j.Runs()
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []string{}
			}
			return printJSON(cmd.OutOrStdout(), runsListResult{OK: true, Runs: runs})
		},
	}
}

type runsShowResult struct {
	OK     bool            `json:"ok"`
	RunID  string          `json:"run_id"`
	Counts map[string]int  `json:"counts"`
	Events []journal.Event `json:"events"`
}

func runsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the events of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			if !journal.ValidRunID(runID) {
				return fmt.Errorf("invalid run id %q", runID)
			}
			j, err := openJournal()
			if err != nil {
				return err
			}
			events, err := j.Events(runID)
			if err != nil {
				return err
			}
			if events == nil {
				return fmt.Errorf("run %s not found", runID)
			}
			counts := make(map[string]int)
			for _, typ := range []string{journal.TypeDispatch, journal.TypePRMerged, journal.TypeUnlock, journal.TypeSyncState} {
				if n := journal.Count(events, typ); n > 0 {
					counts[typ] = n
				}
			}
			return printJSON(cmd.OutOrStdout(), runsShowResult{OK: true, RunID: runID, Counts: counts, Events: events})
		},
	}
}
