// Package vcs drives the git working tree on a target host.
package vcs

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"atomdeploy/internal/deployment"
	"atomdeploy/internal/security"
	"atomdeploy/pkg/cmdutil"
)

// DefaultTimeout applies when no command timeout is configured.
const DefaultTimeout = 5 * time.Minute

var commitPattern = regexp.MustCompile(`^[0-9a-f]{40}([0-9a-f]{24})?$`)

// Git implements deployment.VcsController with the git CLI.
type Git struct {
	runner  cmdutil.Runner
	dir     string
	remote  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGit returns a controller for the working tree at dir.
func NewGit(runner cmdutil.Runner, dir, remote string, timeout time.Duration, logger *slog.Logger) *Git {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Git{runner: runner, dir: dir, remote: remote, timeout: timeout, logger: logger}
}

// Current returns the commit HEAD points to.
func (g *Git) Current(ctx context.Context) (deployment.VersionRef, error) {
	commit, err := g.revParse(ctx, "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to read current commit: %w", err)
	}
	return commit, nil
}

// Checkout fetches from the remote, resolves ref to a single commit and hard
// resets the working tree to it. Branch names resolve through the freshly
// fetched <remote>/<ref> before any local branch of the same name. When the
// fetch fails only a full commit hash can still be checked out.
func (g *Git) Checkout(ctx context.Context, ref deployment.VersionRef) (deployment.VersionRef, error) {
	if err := security.ValidateVersionRef(ref.String()); err != nil {
		return "", fmt.Errorf("invalid version: %w", err)
	}

	if _, err := g.git(ctx, "fetch", "--tags", "--force", "--prune", g.remote); err != nil {
		// A full commit already in the local object store does not need the remote
		if !commitPattern.MatchString(ref.String()) {
			return "", fmt.Errorf("fetch from %s failed: %w", g.remote, err)
		}
		g.logger.Warn("Fetch failed, resolving commit locally", "remote", g.remote, "commit", ref, "error", err)
	}

	commit, err := g.resolve(ctx, ref)
	if err != nil {
		return "", err
	}

	if _, err := g.git(ctx, "reset", "--hard", commit.String()); err != nil {
		return "", fmt.Errorf("reset to %s failed: %w", commit, err)
	}

	g.logger.Info("Checked out version", "ref", ref, "commit", commit)
	return commit, nil
}

func (g *Git) resolve(ctx context.Context, ref deployment.VersionRef) (deployment.VersionRef, error) {
	var candidates []string
	if !commitPattern.MatchString(ref.String()) {
		candidates = append(candidates, g.remote+"/"+ref.String())
	}
	candidates = append(candidates, ref.String())

	for _, candidate := range candidates {
		if commit, err := g.revParse(ctx, candidate); err == nil {
			return commit, nil
		}
	}
	return "", fmt.Errorf("unknown revision %q", ref)
}

func (g *Git) revParse(ctx context.Context, rev string) (deployment.VersionRef, error) {
	out, err := g.git(ctx, "rev-parse", "--verify", "--quiet", rev+"^0")
	if err != nil {
		return "", err
	}

	commit := strings.TrimSpace(out)
	if !commitPattern.MatchString(commit) {
		return "", fmt.Errorf("unexpected rev-parse output %q", commit)
	}
	return deployment.VersionRef(commit), nil
}

func (g *Git) git(ctx context.Context, args ...string) (string, error) {
	cmd := append([]string{"git"}, args...)
	result, err := g.runner.Run(ctx, cmdutil.ExecOptions{Dir: g.dir, Timeout: g.timeout}, cmd)
	if err != nil {
		if result != nil && len(result.Output) > 0 {
			return "", fmt.Errorf("%s: %w: %s", cmdutil.FormatCommand(cmd), err, cmdutil.TailOutput(result.Output, 5))
		}
		return "", fmt.Errorf("%s: %w", cmdutil.FormatCommand(cmd), err)
	}
	return string(result.Output), nil
}
