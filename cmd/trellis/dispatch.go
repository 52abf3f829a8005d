package main

import (
	"fmt"
	"os"

	"github.com/metalagman/trellis/internal/policy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func dispatchCmd() *cobra.Command {
	var assignSelf bool
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Assign every ready task with satisfied dependencies to a worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := currentRunID()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)
			if cmd.Flags().Changed("assign-self") {
				a.cfg.Tracker.AssignSelf = assignSelf
			}

			release, err := a.lock(ctx)
			if err != nil {
				return err
			}
			defer release()

			engine, err := a.dispatcher()
			if err != nil {
				return err
			}
			res, err := engine.Run(ctx, runID)
			if err != nil {
				return err
			}
			log.Info().Str("run_id", runID).Int("dispatched", len(res.Dispatched)).Msg("dispatch pass finished")
			return report(cmd.OutOrStdout(), res, res.OK)
		},
	}
	cmd.Flags().BoolVar(&assignSelf, "assign-self", false, "assign dispatched records to the acting user")
	return cmd
}

func onMergedCmd() *cobra.Command {
	var pr int
	cmd := &cobra.Command{
		Use:   "on-merged",
		Short: "Close the task of a merged change request and unlock its dependents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pr <= 0 {
				return fmt.Errorf("--pr is required")
			}
			runID, err := currentRunID()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			release, err := a.lock(ctx)
			if err != nil {
				return err
			}
			defer release()

			handler, err := a.completer()
			if err != nil {
				return err
			}
			res, err := handler.Handle(ctx, pr, runID)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), res, res.OK)
		},
	}
	cmd.Flags().IntVar(&pr, "pr", 0, "change request number")
	return cmd
}

func checkPRCmd() *cobra.Command {
	var pr int
	var output string
	cmd := &cobra.Command{
		Use:   "check-pr",
		Short: "Check that a change request references a task record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pr <= 0 {
				return fmt.Errorf("--pr is required")
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			res, err := policy.Check(ctx, a.tracker, a.cfg.Repo, pr)
			if err != nil {
				return err
			}
			if output != "" {
				if err := writeJSONFile(output, res); err != nil {
					return err
				}
			}
			return report(cmd.OutOrStdout(), res, res.OK)
		},
	}
	cmd.Flags().IntVar(&pr, "pr", 0, "change request number")
	cmd.Flags().StringVar(&output, "output", "", "also write the result to this file")
	return cmd
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if err := printIndentedJSON(f, v); err != nil {
		return err
	}
	return f.Close()
}
