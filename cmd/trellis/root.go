package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/metalagman/trellis/internal/config"
	"github.com/metalagman/trellis/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errReported marks a failure whose JSON summary was already printed.
var errReported = errors.New("failure reported")

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errReported) {
		_ = printJSON(cmd.OutOrStdout(), failure{OK: false, Error: err.Error()})
	}
	return err
}

func newRootCmd() *cobra.Command {
	var debug bool
	var logFormat string
	rootCmd := &cobra.Command{
		Use:           "trellis",
		Short:         "trellis dispatches dependency-ordered tasks to workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.String("config", config.DefaultPath, "config file path")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")
	flags.StringVar(&logFormat, "log-format", logging.FormatConsole, "log format on stderr (console|json)")
	flags.String("repo", "", "repository as owner/name (overrides config)")
	flags.String("run-id", time.Now().Format("20060102-150405"), "journal run id")
	for key, name := range map[string]string{"config": "config", "repo": "repo", "run_id": "run-id"} {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind %s flag: %v", name, err))
		}
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := logging.Init(debug, logFormat); err != nil {
			return err
		}
		if err := config.LoadDotEnv(".env"); err != nil {
			log.Warn().Err(err).Msg("failed to load .env")
		}
		return nil
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(onMergedCmd())
	rootCmd.AddCommand(checkPRCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(syncStateCmd())
	rootCmd.AddCommand(noteCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(serveCmd())
	return rootCmd
}

type failure struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
