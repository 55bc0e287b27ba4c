// Package stack drives the container service stack on a target host with a
// compose CLI (docker compose, docker-compose, podman-compose).
package stack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"atomdeploy/pkg/cmdutil"
)

// DefaultTimeout applies when no command timeout is configured.
const DefaultTimeout = 10 * time.Minute

// Config locates the compose project on the host.
type Config struct {
	Dir         string
	Command     []string // e.g. ["docker", "compose"]
	EnvFile     string
	ComposeFile string
	Timeout     time.Duration
}

// Compose implements deployment.ServiceStackController.
type Compose struct {
	runner cmdutil.Runner
	config Config
	engine string
	logger *slog.Logger
}

// NewCompose returns a controller for the compose project described by config.
func NewCompose(runner cmdutil.Runner, config Config, logger *slog.Logger) *Compose {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Compose{runner: runner, config: config, engine: engineFor(config.Command), logger: logger}
}

// engineFor picks the container engine CLI used for prune commands.
func engineFor(command []string) string {
	if len(command) > 0 && strings.HasPrefix(command[0], "podman") {
		return "podman"
	}
	return "docker"
}

// Down stops and removes the stack, including orphaned containers.
func (c *Compose) Down(ctx context.Context) error {
	_, err := c.compose(ctx, "down", "--remove-orphans")
	return err
}

// Prune removes stopped containers and unused networks.
func (c *Compose) Prune(ctx context.Context) error {
	if _, err := c.run(ctx, c.engine, "container", "prune", "-f"); err != nil {
		return err
	}
	_, err := c.run(ctx, c.engine, "network", "prune", "-f")
	return err
}

// Build rebuilds the stack's images.
func (c *Compose) Build(ctx context.Context, noCache bool) error {
	args := []string{"build"}
	if noCache {
		args = append(args, "--no-cache")
	}
	_, err := c.compose(ctx, args...)
	return err
}

// Up starts the stack detached.
func (c *Compose) Up(ctx context.Context) error {
	_, err := c.compose(ctx, "up", "-d")
	return err
}

// Running reports whether service is in the running state.
func (c *Compose) Running(ctx context.Context, service string) (bool, error) {
	out, err := c.compose(ctx, "ps", "--status", "running", "--services")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == service {
			return true, nil
		}
	}
	return false, nil
}

// Exec runs cmd inside service without a TTY.
func (c *Compose) Exec(ctx context.Context, service string, cmd []string) error {
	args := append([]string{"exec", "-T", service}, cmd...)
	_, err := c.compose(ctx, args...)
	return err
}

// PruneImages removes dangling images.
func (c *Compose) PruneImages(ctx context.Context) error {
	_, err := c.run(ctx, c.engine, "image", "prune", "-f")
	return err
}

func (c *Compose) compose(ctx context.Context, args ...string) (string, error) {
	cmd := append([]string{}, c.config.Command...)
	if c.config.EnvFile != "" {
		cmd = append(cmd, "--env-file", c.config.EnvFile)
	}
	if c.config.ComposeFile != "" {
		cmd = append(cmd, "-f", c.config.ComposeFile)
	}
	return c.run(ctx, append(cmd, args...)...)
}

func (c *Compose) run(ctx context.Context, cmd ...string) (string, error) {
	c.logger.Debug("Running command", "command", cmdutil.FormatCommand(cmd))

	result, err := c.runner.Run(ctx, cmdutil.ExecOptions{Dir: c.config.Dir, Timeout: c.config.Timeout}, cmd)
	if err != nil {
		if result != nil && len(result.Output) > 0 {
			return "", fmt.Errorf("%s: %w: %s", cmdutil.FormatCommand(cmd), err, cmdutil.TailOutput(result.Output, 10))
		}
		return "", fmt.Errorf("%s: %w", cmdutil.FormatCommand(cmd), err)
	}
	return string(result.Output), nil
}
