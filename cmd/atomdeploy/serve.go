package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"atomdeploy/internal/history"
	"atomdeploy/internal/security"
	"atomdeploy/internal/server"
	"atomdeploy/internal/target"
)

var (
	serveDBPath string
	serveHost   string
	servePort   int
	serveGrace  time.Duration
	testMode    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server to receive GitHub push webhooks.

A push to a target's branch deploys the pushed commit; a tag push deploys the
tag when the target sets deploy_tags. Every target must have a webhook secret.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveDBPath, "db", getEnvOrDefault("ATOMDEPLOY_DB_PATH", "./atomdeploy.db"), "Path to SQLite history database")
	serveCmd.Flags().StringVar(&serveHost, "host", getEnvOrDefault("ATOMDEPLOY_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", getEnvOrDefaultInt("ATOMDEPLOY_PORT", 5000), "Port to listen on")
	serveCmd.Flags().DurationVar(&serveGrace, "shutdown-grace", 10*time.Minute, "How long to wait for in-flight runs on shutdown")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", os.Getenv("ATOMDEPLOY_TEST_MODE") == "1", "Enable test mode (no history, no rate limiting)")
}

func runServe(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath(configFile)
	if err != nil {
		return err
	}

	// Set up logging
	logger, closeLog, err := setupLogging(logFile, logLevel, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	logger.Info("Starting atomdeploy", "version", version)

	// Load configuration
	logger.Info("Loading configuration", "config", path)
	_, targets, err := target.LoadConfig(path)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := requireSecrets(targets); err != nil {
		logger.Error("Invalid webhook configuration", "error", err)
		return err
	}

	logger.Info("Configuration validated successfully", "count", len(targets))

	// Warn if no targets are configured
	if len(targets) == 0 {
		logger.Warn("No targets configured in config file", "config", path)
		logger.Warn("The server will start but won't handle any deployments until targets are added")
	}

	registry := target.NewRegistry(targets)

	// Initialize history database
	var hist *history.History
	if !testMode {
		logger.Info("Initializing history database", "db", serveDBPath)
		hist, err = history.NewHistory(serveDBPath)
		if err != nil {
			logger.Error("Failed to initialize history database", "error", err)
			return fmt.Errorf("failed to initialize history database: %w", err)
		}
	}

	srv := server.NewServer(registry, hist, logger, testMode)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if err := srv.Start(ctx, serveHost, servePort, serveGrace); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// requireSecrets checks every target can verify webhook signatures.
func requireSecrets(targets map[target.Environment]*target.Target) error {
	for name, t := range targets {
		if t.Secret == "" {
			return fmt.Errorf("target %s: secret is required to serve webhooks", name)
		}
		if err := security.ValidateSecret(t.Secret); err != nil {
			return fmt.Errorf("target %s: %w", name, err)
		}
	}
	return nil
}
