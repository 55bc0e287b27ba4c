package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"atomdeploy/internal/history"
	"atomdeploy/internal/pipeline"
)

var (
	rollbackEnv    string
	rollbackDBPath string
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Redeploy the last-known-good version",
	Long: `Redeploy the version recorded in the target's .previous_version marker.

The marker is written at the start of every deployment, so this restores the
version that was running before the most recent deployment. No health check is
performed. The command fails with exit status 2 if the marker is missing or the
redeploy fails.`,
	Example: `  atomdeploy rollback --environment production`,
	Args:    cobra.NoArgs,
	RunE:    runRollback,
}

func init() {
	rollbackCmd.Flags().StringVarP(&rollbackEnv, "environment", "e", "", "Target environment (staging or production)")
	rollbackCmd.Flags().StringVar(&rollbackDBPath, "db", getEnvOrDefault("ATOMDEPLOY_DB_PATH", ""), "Record the run in this SQLite history database")
	_ = rollbackCmd.MarkFlagRequired("environment")
}

func runRollback(cmd *cobra.Command, args []string) error {
	t, err := loadTarget(rollbackEnv)
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogging(logFile, logLevel, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	opts := pipeline.Options{Logger: logger}
	if rollbackDBPath != "" {
		hist, err := history.NewHistory(rollbackDBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize history database: %w", err)
		}
		defer hist.Close()
		opts.History = hist
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	result := pipeline.Restore(ctx, t, opts)
	printResult(cmd.OutOrStdout(), result)
	return result.ExitError()
}
