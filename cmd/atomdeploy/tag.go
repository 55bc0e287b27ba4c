package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"atomdeploy/internal/release"
)

var (
	tagRepo   string
	tagBranch string
	tagBump   string
	tagAPIURL string
	tagDryRun bool
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Create the next semver release tag on GitHub",
	Long: `Create the next semver release tag on GitHub.

The highest existing vMAJOR.MINOR.PATCH tag is bumped, a tag ref is created at
the head of the branch and a release with generated notes is published.
Requires GITHUB_TOKEN unless --dry-run is given.`,
	Example: `  atomdeploy tag --repo acme/atom --bump minor
  atomdeploy tag --repo acme/atom --dry-run`,
	Args: cobra.NoArgs,
	RunE: runTag,
}

func init() {
	tagCmd.Flags().StringVar(&tagRepo, "repo", getEnvOrDefault("GITHUB_REPOSITORY", ""), "Repository in owner/repo form")
	tagCmd.Flags().StringVar(&tagBranch, "branch", "main", "Branch whose head is tagged")
	tagCmd.Flags().StringVar(&tagBump, "bump", "patch", "Version component to bump (patch, minor, major)")
	tagCmd.Flags().StringVar(&tagAPIURL, "api-url", getEnvOrDefault("GITHUB_API_URL", ""), "GitHub API base URL (GitHub Enterprise)")
	tagCmd.Flags().BoolVar(&tagDryRun, "dry-run", false, "Print the next tag without creating it")
	_ = tagCmd.MarkFlagRequired("repo")
}

func runTag(cmd *cobra.Command, args []string) error {
	bump, err := release.ParseBump(tagBump)
	if err != nil {
		return err
	}

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" && !tagDryRun {
		return fmt.Errorf("GITHUB_TOKEN is required to create tags")
	}

	logger, closeLog, err := setupLogging(logFile, logLevel, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	client, err := release.NewClient(cmd.Context(), token, tagAPIURL)
	if err != nil {
		return err
	}
	tagger, err := release.NewTagger(client, tagRepo, logger)
	if err != nil {
		return err
	}

	plan, err := tagger.Plan(cmd.Context(), tagBranch, bump)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	previous := plan.Previous
	if previous == "" {
		previous = "none"
	}
	fmt.Fprintf(out, "%s/%s %s -> %s at %s (%s)\n", plan.Owner, plan.Repo, previous, plan.Tag, short(plan.Commit), plan.Branch)

	if tagDryRun {
		fmt.Fprintln(out, "Dry run, nothing created.")
		return nil
	}

	url, err := tagger.Publish(cmd.Context(), plan)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Released %s: %s\n", plan.Tag, url)
	return nil
}
