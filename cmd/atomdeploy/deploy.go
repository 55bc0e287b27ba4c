package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"atomdeploy/internal/deployment"
	"atomdeploy/internal/history"
	"atomdeploy/internal/pipeline"
	"atomdeploy/internal/security"
)

var (
	deployEnv     string
	deployVersion string
	deployDBPath  string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a version with health check and automatic rollback",
	Long: `Deploy a version to a target host.

This command will:
- Record the currently running commit as the last-known-good version
- Fetch and check out the requested version
- Rebuild and restart the compose stack, then run migrations and collectstatic
- Probe the health endpoint with bounded retries
- Roll back to the last-known-good version if any step fails`,
	Example: `  atomdeploy deploy --environment staging
  atomdeploy deploy --environment production --version v1.3.0`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVarP(&deployEnv, "environment", "e", "", "Target environment (staging or production)")
	deployCmd.Flags().StringVar(&deployVersion, "version", "", "Version to deploy: commit, tag or branch (default: the target's branch)")
	deployCmd.Flags().StringVar(&deployDBPath, "db", getEnvOrDefault("ATOMDEPLOY_DB_PATH", ""), "Record the run in this SQLite history database")
	_ = deployCmd.MarkFlagRequired("environment")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	t, err := loadTarget(deployEnv)
	if err != nil {
		return err
	}

	ref := deployVersion
	if ref == "" {
		ref = t.Branch
	}
	if err := security.ValidateVersionRef(ref); err != nil {
		return fmt.Errorf("invalid version: %w", err)
	}

	logger, closeLog, err := setupLogging(logFile, logLevel, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	opts := pipeline.Options{Logger: logger}
	if deployDBPath != "" {
		hist, err := history.NewHistory(deployDBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize history database: %w", err)
		}
		defer hist.Close()
		opts.History = hist
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	result := pipeline.Deploy(ctx, t, deployment.VersionRef(ref), deployment.TriggerCLI, opts)
	printResult(cmd.OutOrStdout(), result)
	return result.ExitError()
}

// signalContext is cancelled on SIGINT or SIGTERM so that waits end early.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
