package main

import (
	"github.com/metalagman/trellis/internal/config"
	"github.com/metalagman/trellis/internal/notes"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func noteCmd() *cobra.Command {
	var mode string
	var req notes.Request
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Generate a one-line implementation hint for a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Notes need no tracker, so the repo is not validated here.
			cfg, err := config.Load(viper.GetString("config"))
			if err != nil {
				return err
			}
			if mode == "" {
				mode = cfg.Notes.Mode
			}
			gen, err := newNotes(cfg, mode)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), gen.Generate(cmd.Context(), req))
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&mode, "mode", "", "note mode (mock|hosted|subprocess); defaults to notes.mode")
	flags.StringVar(&req.TaskID, "task-id", "", "task id")
	flags.StringVar(&req.TaskType, "task-type", "", "task type")
	flags.IntVar(&req.Issue, "issue", 0, "record number")
	flags.StringVar(&req.Summary, "summary", "", "short task summary")
	_ = cmd.MarkFlagRequired("task-id")
	_ = cmd.MarkFlagRequired("task-type")
	return cmd
}
