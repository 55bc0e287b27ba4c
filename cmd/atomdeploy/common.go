package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"atomdeploy/internal/deployment"
	"atomdeploy/internal/security"
	"atomdeploy/internal/target"
	"atomdeploy/pkg/fileutil"
)

const configFileName = "targets.yaml"

// Global flags
var (
	configFile string
	logFile    string
	logLevel   string
)

// resolveConfigPath returns the --config value or the first targets.yaml
// found in the default locations.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if !fileutil.FileExists(explicit) {
			return "", fmt.Errorf("config file %s does not exist", explicit)
		}
		return explicit, nil
	}

	path, err := fileutil.FindConfig(configFileName)
	if err != nil {
		return "", fmt.Errorf("no %s found in %s; use --config to specify a location",
			configFileName, strings.Join(fileutil.DefaultConfigPaths(configFileName), ", "))
	}
	return path, nil
}

// loadTarget loads the configuration and returns the target for env.
func loadTarget(env string) (*target.Target, error) {
	name, err := target.ParseEnvironment(env)
	if err != nil {
		return nil, err
	}

	path, err := resolveConfigPath(configFile)
	if err != nil {
		return nil, err
	}

	_, targets, err := target.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	t, ok := targets[name]
	if !ok {
		return nil, fmt.Errorf("environment %q is not configured in %s", name, path)
	}
	return t, nil
}

// setupLogging configures a JSON slog logger writing to stdout and, when
// logPath is set, to an append-only log file.
// Returns both the logger and a close function for the file.
func setupLogging(logPath, level string, stdout io.Writer) (*slog.Logger, func() error, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	out := stdout
	closeFn := func() error { return nil }

	if logPath != "" {
		// Create log directory if needed
		if err := fileutil.EnsureParentDir(logPath, security.PermDirectory); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		// Open log file with secure permissions
		file, err := security.OpenAppendFile(logPath, security.PermLogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}

		// Create multi-writer to log to both file and console
		out = io.MultiWriter(stdout, file)
		closeFn = file.Close
	}

	// Create JSON handler for structured logging
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: lvl,
	})

	return slog.New(handler), closeFn, nil
}

// printResult writes the human-readable summary of a run.
func printResult(w io.Writer, result *deployment.RunResult) {
	fmt.Fprintf(w, "\n%s: %s\n", strings.ToUpper(result.Status()), result.Reason())
	fmt.Fprintf(w, "  Run ID:     %s\n", result.ID)
	fmt.Fprintf(w, "  Target:     %s\n", result.Target)
	if result.Requested != "" {
		fmt.Fprintf(w, "  Requested:  %s\n", result.Requested)
	}
	if result.Previous != "" {
		fmt.Fprintf(w, "  Previous:   %s\n", result.Previous)
	}
	serving := result.Serving.String()
	if serving == "" {
		serving = "unknown"
	}
	fmt.Fprintf(w, "  Serving:    %s\n", serving)
	fmt.Fprintf(w, "  Rolled back: %v\n", result.RolledBack)
	fmt.Fprintf(w, "  Duration:   %s\n", result.Duration().Round(time.Second))
	for _, step := range result.Steps {
		mark := "ok"
		if !step.OK() {
			mark = "FAILED: " + step.Reason()
		}
		fmt.Fprintf(w, "    - %-13s %s\n", step.Step, mark)
	}
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
