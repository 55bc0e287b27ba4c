package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"atomdeploy/internal/history"
	"atomdeploy/internal/target"
)

var (
	statusEnv    string
	statusDBPath string
	statusLimit  int
	statusJSON   bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded deployment runs",
	Long: `Show recorded runs from the history database.

Without --environment the latest run of every target is shown; with it, the
most recent runs of that target.`,
	Example: `  atomdeploy status --db /var/lib/atomdeploy/runs.db
  atomdeploy status --db /var/lib/atomdeploy/runs.db -e production --limit 20`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusEnv, "environment", "e", "", "Only show runs of this environment")
	statusCmd.Flags().StringVar(&statusDBPath, "db", getEnvOrDefault("ATOMDEPLOY_DB_PATH", "./atomdeploy.db"), "Path to SQLite history database")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of runs to show for one environment")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	hist, err := history.NewHistory(statusDBPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer hist.Close()

	var records []history.RunRecord
	if statusEnv != "" {
		env, err := target.ParseEnvironment(statusEnv)
		if err != nil {
			return err
		}
		records, err = hist.GetRunHistory(cmd.Context(), string(env), statusLimit)
		if err != nil {
			return err
		}
	} else {
		latest, err := hist.GetAllTargetsStatus(cmd.Context())
		if err != nil {
			return err
		}
		for _, env := range []target.Environment{target.Production, target.Staging} {
			if r, ok := latest[string(env)]; ok {
				records = append(records, *r)
			}
		}
	}

	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if records == nil {
			records = []history.RunRecord{}
		}
		return enc.Encode(records)
	}

	writeRuns(cmd.OutOrStdout(), records)
	return nil
}

// writeRuns prints runs as an aligned table.
func writeRuns(out io.Writer, records []history.RunRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tTARGET\tTRIGGER\tSTATUS\tREQUESTED\tSERVING\tDURATION")
	for _, r := range records {
		duration := "-"
		if r.DurationSeconds != nil {
			duration = fmt.Sprintf("%.0fs", *r.DurationSeconds)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Target, r.Trigger, r.Status, short(r.Requested), short(deref(r.Serving)), duration)
	}
	w.Flush()
}

// short abbreviates full commit hashes.
func short(ref string) string {
	if len(ref) == 40 || len(ref) == 64 {
		return ref[:12]
	}
	if ref == "" {
		return "-"
	}
	return ref
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
