package security

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"atomdeploy/pkg/cmdutil"
)

// DefaultAllowedCommands is the set of binaries the orchestrator may run on a target host.
var DefaultAllowedCommands = map[string]bool{
	"git":            true,
	"docker":         true,
	"docker-compose": true,
	"podman":         true,
	"podman-compose": true,
}

// shellMetachars can chain or redirect commands once a remote shell sees them.
var shellMetachars = []string{
	";", "|", "&", "$", "`", "\n", ">", "<", "(", ")",
	"{", "}", "*", "?", "[", "]", "\\", "'", "\"",
}

// CommandGuard validates commands before they reach a host.
type CommandGuard struct {
	// AllowedCommands is the map of commands that are permitted to run.
	AllowedCommands map[string]bool

	// AllowShellMetachars allows shell metacharacters in arguments.
	AllowShellMetachars bool
}

// NewCommandGuard creates a guard with the default allowlist.
func NewCommandGuard() *CommandGuard {
	allowed := make(map[string]bool, len(DefaultAllowedCommands))
	for cmd := range DefaultAllowedCommands {
		allowed[cmd] = true
	}
	return &CommandGuard{AllowedCommands: allowed}
}

// Validate checks the base command against the allowlist and the arguments for
// shell metacharacters.
func (g *CommandGuard) Validate(cmdParts []string) error {
	if len(cmdParts) == 0 {
		return fmt.Errorf("empty command")
	}

	baseCmd := cmdParts[0]
	if !g.AllowedCommands[baseCmd] {
		return fmt.Errorf("command not allowed: %s (must be one of: %v)", baseCmd, g.allowedList())
	}

	if !g.AllowShellMetachars {
		for i, arg := range cmdParts[1:] {
			if ContainsShellMetachars(arg) {
				return fmt.Errorf("argument %d contains shell metacharacters: %s", i+1, arg)
			}
		}
	}

	return nil
}

// Allow adds a command to the allowed list.
func (g *CommandGuard) Allow(cmd string) {
	if g.AllowedCommands == nil {
		g.AllowedCommands = make(map[string]bool)
	}
	g.AllowedCommands[cmd] = true
}

func (g *CommandGuard) allowedList() []string {
	commands := make([]string, 0, len(g.AllowedCommands))
	for cmd := range g.AllowedCommands {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}

// ContainsShellMetachars checks if a string contains shell metacharacters.
func ContainsShellMetachars(s string) bool {
	for _, char := range shellMetachars {
		if strings.Contains(s, char) {
			return true
		}
	}
	return false
}

// GuardedRunner validates every command with a CommandGuard before delegating.
// File reads and writes pass through untouched.
type GuardedRunner struct {
	cmdutil.Runner
	Guard *CommandGuard
}

// NewGuardedRunner wraps runner with the default guard.
func NewGuardedRunner(runner cmdutil.Runner) *GuardedRunner {
	return &GuardedRunner{Runner: runner, Guard: NewCommandGuard()}
}

// Run rejects disallowed commands without executing them.
func (r *GuardedRunner) Run(ctx context.Context, opts cmdutil.ExecOptions, cmdParts []string) (*cmdutil.Result, error) {
	if err := r.Guard.Validate(cmdParts); err != nil {
		return &cmdutil.Result{ExitCode: -1}, fmt.Errorf("refusing to run command: %w", err)
	}
	return r.Runner.Run(ctx, opts, cmdParts)
}
