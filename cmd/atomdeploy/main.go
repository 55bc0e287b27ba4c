package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"atomdeploy/internal/deployment"
)

var version = "dev" // Will be set during build

var rootCmd = &cobra.Command{
	Use:   "atomdeploy",
	Short: "Deploy the atom application with automatic rollback",
	Long: `atomdeploy deploys a version of the atom application to a staging or production
host, health checks it, and rolls back to the last-known-good version on any failure.

Exit status: 0 when the deployment succeeded, 1 when it failed (rolled back or not),
2 when the rollback itself failed and the host state is unknown.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Custom usage template that encourages 'help' subcommand pattern
const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} help [command]" for more information about a command.{{end}}
`

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a run failure to its documented status; anything else is 1.
func exitCode(err error) int {
	var exitErr *deployment.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

func init() {
	// Set custom usage template to encourage 'help' subcommand pattern
	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", getEnvOrDefault("ATOMDEPLOY_CONFIG_FILE", ""), "Path to targets.yaml configuration file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", getEnvOrDefault("ATOMDEPLOY_LOG_FILE", ""), "Append JSON logs to this file as well as stdout")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", getEnvOrDefault("ATOMDEPLOY_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	// Register subcommands
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(versionCmd)
}
