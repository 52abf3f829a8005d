package main

import (
	"github.com/metalagman/trellis/internal/task"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage task records",
	}
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskListCmd())
	return cmd
}

type createResult struct {
	OK     bool   `json:"ok"`
	Repo   string `json:"repo"`
	Issue  int    `json:"issue"`
	TaskID string `json:"task_id"`
}

func taskCreateCmd() *cobra.Command {
	var d task.Draft
	var dependsOn string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d.DependsOn = task.SplitCSV(dependsOn)
			t, labels, err := d.Build()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			created, err := a.store.Create(ctx, t, labels)
			if err != nil {
				return err
			}
			log.Info().Int("issue", created.Number).Str("task_id", created.ID).Msg("task created")
			return printJSON(cmd.OutOrStdout(), createResult{
				OK:     true,
				Repo:   a.cfg.Repo,
				Issue:  created.Number,
				TaskID: created.ID,
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&d.ID, "task-id", "", "task id, e.g. TASK-001")
	flags.StringVar(&d.Type, "task-type", "", "task type (REQ|DESIGN|SPLIT|TEST_PLAN|IMPL|DEBUG|REVIEW|INTEGRATION)")
	flags.StringVar(&d.Title, "title", "", "record title")
	flags.StringVar(&d.Status, "status", string(task.StatusReady), "initial status (ready|in_progress|blocked|done)")
	flags.StringVar(&dependsOn, "depends-on", "", "comma-separated task ids")
	flags.StringVar(&d.OwnerWorker, "owner-worker", "", "preassigned worker name")
	flags.StringArrayVar(&d.Acceptance, "acceptance", nil, "acceptance criterion (repeatable)")
	flags.StringVar(&d.Body, "body", task.DefaultBody, "free text body")
	flags.StringArrayVar(&d.Labels, "label", nil, "extra label (repeatable)")
	return cmd
}

type listResult struct {
	OK    bool           `json:"ok"`
	Repo  string         `json:"repo"`
	Tasks []task.Summary `json:"tasks"`
}

func taskListCmd() *cobra.Command {
	var status string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List task records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			items, err := a.store.List(ctx)
			if err != nil {
				return err
			}
			res := listResult{OK: true, Repo: a.cfg.Repo, Tasks: task.Filter(items, task.Status(status), all)}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (ready|in_progress|blocked|done)")
	cmd.Flags().BoolVar(&all, "all", false, "include closed records")
	return cmd
}
