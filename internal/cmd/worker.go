package cmd

import (
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gomian/internal/observability"
	"github.com/3leaps/gomian/pkg/analysis"
	"github.com/3leaps/gomian/pkg/supervisor"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one analysis job read from stdin",
	Hidden: true,
	Long: `Run one analysis job.

The supervisor starts this command in its own process group, writes a
gomian.job.v1 record to stdin and reads exactly one result or error
record from stdout. Logs go to stderr; stdout carries only the protocol.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx, nil)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	logger, err := observability.NewLogger(cfg.Logging.Level, observability.ProfileStructured)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := openProjectStore(ctx, cfg.Data)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot open project data", err)
	}
	defer closeStore()

	if err := supervisor.ServeWorker(ctx, os.Stdin, os.Stdout, analysis.Builtin(), store, logger); err != nil {
		return exitError(foundry.ExitFileWriteError, "Worker protocol failure", err)
	}
	return nil
}
