package target

import (
	"fmt"
	"strings"
	"time"
)

// Environment names a deployment target.
type Environment string

const (
	Staging    Environment = "staging"
	Production Environment = "production"
)

// ParseEnvironment accepts "staging" or "production".
func ParseEnvironment(s string) (Environment, error) {
	switch env := Environment(strings.ToLower(strings.TrimSpace(s))); env {
	case Staging, Production:
		return env, nil
	default:
		return "", fmt.Errorf("unknown environment %q (must be staging or production)", s)
	}
}

// Host is where a target's commands run. The zero value is the local machine.
type Host struct {
	User    string
	Address string
	Port    int
}

// IsLocal reports whether commands run on the machine running atomdeploy.
func (h Host) IsLocal() bool {
	return h.Address == ""
}

// String returns the host in user@host:port form, or "local".
func (h Host) String() string {
	if h.IsLocal() {
		return "local"
	}
	return fmt.Sprintf("%s@%s:%d", h.User, h.Address, h.Port)
}

// HealthPolicy controls the post-deploy readiness probe.
type HealthPolicy struct {
	MaxRetries     int
	RetryDelay     time.Duration
	InitialDelay   time.Duration
	RequestTimeout time.Duration

	// Headers are sent with every probe, e.g. Host when probing behind a proxy.
	Headers map[string]string
}

// Target is a validated deployment target. It is immutable for the duration of a run.
type Target struct {
	Name       Environment
	Host       Host
	SSHKey     string
	KnownHosts string

	Path           string
	EnvFile        string
	ComposeFile    string
	ComposeCommand []string
	PrimaryService string

	Remote     string
	Branch     string
	DeployTags bool
	MarkerFile string

	HealthURL string
	Health    HealthPolicy

	// Post-start commands run inside the primary service. Empty means skipped.
	Migrate []string
	Assets  []string

	Secret string

	CommandTimeout time.Duration
	StartupTimeout time.Duration
	StartupPoll    time.Duration
}

// MatchesRef checks if a git ref matches the target's branch
func (t *Target) MatchesRef(ref string) bool {
	return ref == fmt.Sprintf("refs/heads/%s", t.Branch)
}

// VersionForPush picks the version a push event should deploy.
// Branch pushes deploy the pushed commit; tag pushes deploy the tag when DeployTags is set.
func (t *Target) VersionForPush(ref, after string) (string, bool) {
	if t.MatchesRef(ref) {
		if after == "" || strings.Trim(after, "0") == "" {
			// Branch deletion
			return "", false
		}
		return after, true
	}
	if tag, ok := strings.CutPrefix(ref, "refs/tags/"); ok && t.DeployTags && tag != "" {
		return tag, true
	}
	return "", false
}

// TargetConfig represents the YAML configuration for a target
type TargetConfig struct {
	Host           string        `yaml:"host"`
	SSHKey         string        `yaml:"ssh_key"`
	KnownHosts     string        `yaml:"known_hosts"`
	Path           string        `yaml:"path"`
	EnvFile        string        `yaml:"env_file"`
	ComposeFile    string        `yaml:"compose_file"`
	ComposeCommand interface{}   `yaml:"compose_command"` // string or list
	PrimaryService string        `yaml:"primary_service"`
	Remote         string        `yaml:"remote"`
	Branch         string        `yaml:"branch"`
	DeployTags     bool          `yaml:"deploy_tags"`
	MarkerFile     string        `yaml:"marker_file"`
	HealthURL      string        `yaml:"health_url"`
	Migrate        interface{}   `yaml:"migrate"` // string or list, "" disables
	Assets         interface{}   `yaml:"assets"`  // string or list, "" disables
	Secret         string        `yaml:"secret"`
	CommandTimeout int           `yaml:"command_timeout"`
	StartupTimeout int           `yaml:"startup_timeout"`
	StartupPoll    int           `yaml:"startup_poll"`
	Health         *HealthConfig `yaml:"health"`
}

// HealthConfig is the YAML form of HealthPolicy, in seconds.
type HealthConfig struct {
	MaxRetries     int `yaml:"max_retries"`
	RetryDelay     int `yaml:"retry_delay"`
	InitialDelay   int `yaml:"initial_delay"`
	RequestTimeout int `yaml:"request_timeout"`

	Headers map[string]string `yaml:"headers"`
}

// Config represents the root configuration structure
type Config struct {
	Targets map[string]TargetConfig `yaml:"targets"`
}
