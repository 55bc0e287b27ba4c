package target

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"atomdeploy/internal/security"
	"atomdeploy/pkg/cmdutil"
)

const (
	DefaultConfigFile     = "targets.yaml"
	DefaultBranch         = "main"
	DefaultRemote         = "origin"
	DefaultComposeFile    = "docker-compose.yml"
	DefaultComposeCommand = "docker compose"
	DefaultPrimaryService = "web"
	DefaultMarkerName     = ".previous_version"
	DefaultMigrate        = "python manage.py migrate --noinput"
	DefaultAssets         = "python manage.py collectstatic --noinput"
	DefaultSSHPort        = 22

	DefaultCommandTimeout = 600
	DefaultStartupTimeout = 120
	DefaultStartupPoll    = 5

	DefaultHealthMaxRetries     = 5
	DefaultHealthRetryDelay     = 10
	DefaultHealthInitialDelay   = 15
	DefaultHealthRequestTimeout = 10
)

// LoadConfig loads and validates the configuration from a YAML file.
// Every problem in every target is reported at once.
func LoadConfig(configPath string) (*Config, map[Environment]*Target, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Initialize Targets map if it's nil (happens with empty YAML files)
	if config.Targets == nil {
		config.Targets = make(map[string]TargetConfig)
	}

	names := make([]string, 0, len(config.Targets))
	for name := range config.Targets {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []string
	targets := make(map[Environment]*Target)
	for _, name := range names {
		t, errs := BuildTarget(name, config.Targets[name])
		if len(errs) > 0 {
			problems = append(problems, errs...)
			continue
		}
		targets[t.Name] = t
	}
	if len(problems) > 0 {
		return nil, nil, fmt.Errorf("invalid configuration:\n%s", strings.Join(problems, "\n"))
	}

	return &config, targets, nil
}

// BuildTarget validates a single target configuration and applies defaults.
// It returns every validation problem found.
func BuildTarget(name string, config TargetConfig) (*Target, []string) {
	var errors []string
	fail := func(format string, args ...interface{}) {
		errors = append(errors, fmt.Sprintf("  - Target '%s': ", name)+fmt.Sprintf(format, args...))
	}

	env, err := ParseEnvironment(name)
	if err != nil {
		fail("%v", err)
	}

	host, err := ParseHost(config.Host)
	if err != nil {
		fail("%v", err)
	}

	t := &Target{
		Name:           env,
		Host:           host,
		SSHKey:         config.SSHKey,
		KnownHosts:     config.KnownHosts,
		PrimaryService: withDefault(config.PrimaryService, DefaultPrimaryService),
		Remote:         withDefault(config.Remote, DefaultRemote),
		Branch:         withDefault(config.Branch, DefaultBranch),
		DeployTags:     config.DeployTags,
		HealthURL:      config.HealthURL,
		Secret:         config.Secret,
	}

	// Remote access
	if !host.IsLocal() {
		if t.SSHKey == "" {
			fail("missing required 'ssh_key' field for remote host")
		}
		if t.KnownHosts == "" {
			if home, err := os.UserHomeDir(); err == nil {
				t.KnownHosts = filepath.Join(home, ".ssh", "known_hosts")
			} else {
				fail("missing 'known_hosts' field and no home directory to default from")
			}
		}
	}

	// Paths on the target host
	if config.Path == "" {
		fail("missing required 'path' field")
	} else if path, err := security.SanitizePath(config.Path); err != nil {
		fail("%v", err)
	} else {
		t.Path = path
		if host.IsLocal() {
			if info, err := os.Stat(path); err != nil {
				fail("path does not exist: '%s'", path)
			} else if !info.IsDir() {
				fail("path is not a directory: '%s'", path)
			} else if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
				fail("path is not a git repository (missing .git): '%s'", path)
			}
		}

		if config.EnvFile == "" {
			fail("missing required 'env_file' field")
		} else if t.EnvFile, err = resolveHostPath(path, config.EnvFile); err != nil {
			fail("env_file: %v", err)
		}
		if t.ComposeFile, err = resolveHostPath(path, withDefault(config.ComposeFile, DefaultComposeFile)); err != nil {
			fail("compose_file: %v", err)
		}
		if t.MarkerFile, err = resolveHostPath(path, withDefault(config.MarkerFile, DefaultMarkerName)); err != nil {
			fail("marker_file: %v", err)
		}
	}

	// Commands
	var composeCommand interface{} = DefaultComposeCommand
	if config.ComposeCommand != nil {
		composeCommand = config.ComposeCommand
	}
	if parts, err := cmdutil.ParseCommandList(composeCommand); err != nil {
		fail("compose_command: %v", err)
	} else if !security.DefaultAllowedCommands[parts[0]] {
		fail("compose_command: '%s' is not an allowed command", parts[0])
	} else {
		t.ComposeCommand = parts
	}
	if t.Migrate, err = parseOptionalCommand(config.Migrate, DefaultMigrate); err != nil {
		fail("migrate: %v", err)
	}
	if t.Assets, err = parseOptionalCommand(config.Assets, DefaultAssets); err != nil {
		fail("assets: %v", err)
	}

	if err := security.ValidateTargetName(t.PrimaryService); err != nil {
		fail("primary_service: %v", err)
	}
	if err := security.ValidateVersionRef(t.Remote); err != nil {
		fail("remote: %v", err)
	}
	if err := security.ValidateVersionRef(t.Branch); err != nil {
		fail("branch: %v", err)
	}

	// Health endpoint
	if config.HealthURL == "" {
		fail("missing required 'health_url' field")
	} else if u, err := url.Parse(config.HealthURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fail("health_url must be an absolute http(s) URL, got '%s'", config.HealthURL)
	}

	// The secret is only needed by the webhook server
	if config.Secret != "" {
		if err := security.ValidateSecret(config.Secret); err != nil {
			fail("secret: %v", err)
		}
	}

	// Timeouts (must be positive if set, zero uses defaults)
	t.CommandTimeout = seconds(config.CommandTimeout, DefaultCommandTimeout, "command_timeout", fail)
	t.StartupTimeout = seconds(config.StartupTimeout, DefaultStartupTimeout, "startup_timeout", fail)
	t.StartupPoll = seconds(config.StartupPoll, DefaultStartupPoll, "startup_poll", fail)

	health := HealthConfig{}
	if config.Health != nil {
		health = *config.Health
	}
	if health.MaxRetries < 0 {
		fail("health.max_retries must be a positive integer, got %d", health.MaxRetries)
	}
	t.Health = HealthPolicy{
		MaxRetries:     health.MaxRetries,
		RetryDelay:     seconds(health.RetryDelay, DefaultHealthRetryDelay, "health.retry_delay", fail),
		InitialDelay:   seconds(health.InitialDelay, DefaultHealthInitialDelay, "health.initial_delay", fail),
		RequestTimeout: seconds(health.RequestTimeout, DefaultHealthRequestTimeout, "health.request_timeout", fail),
	}
	if t.Health.MaxRetries == 0 {
		t.Health.MaxRetries = DefaultHealthMaxRetries
	}
	for name, value := range health.Headers {
		if name == "" || strings.ContainsAny(name, " \t\r\n:") {
			fail("health.headers has an invalid header name '%s'", name)
			continue
		}
		if strings.ContainsAny(value, "\r\n") {
			fail("health.headers.%s must be a single line", name)
			continue
		}
		if t.Health.Headers == nil {
			t.Health.Headers = make(map[string]string, len(health.Headers))
		}
		t.Health.Headers[name] = value
	}

	if len(errors) > 0 {
		return nil, errors
	}
	return t, nil
}

// ParseHost parses "local" (or empty) and "user@host[:port]".
func ParseHost(s string) (Host, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "local" || s == "localhost" {
		return Host{}, nil
	}

	user, addr, ok := strings.Cut(s, "@")
	if !ok || user == "" || addr == "" {
		return Host{}, fmt.Errorf("host must be 'local' or 'user@host[:port]', got '%s'", s)
	}
	if security.ContainsShellMetachars(user) || strings.HasPrefix(user, "-") {
		return Host{}, fmt.Errorf("invalid ssh user '%s'", user)
	}

	host := Host{User: user, Address: addr, Port: DefaultSSHPort}
	if h, p, err := net.SplitHostPort(addr); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return Host{}, fmt.Errorf("invalid ssh port '%s'", p)
		}
		host.Address = h
		host.Port = port
	}
	if host.Address == "" || strings.HasPrefix(host.Address, "-") {
		return Host{}, fmt.Errorf("invalid host address '%s'", addr)
	}
	return host, nil
}

// resolveHostPath resolves p relative to the target directory.
// Absolute paths are accepted anywhere; relative ones must stay inside base.
func resolveHostPath(base, p string) (string, error) {
	if filepath.IsAbs(p) {
		return security.SanitizePath(p)
	}
	return security.SanitizePathWithin(base, p)
}

func parseOptionalCommand(raw interface{}, def string) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return cmdutil.ParseCommandString(def)
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
	case []interface{}:
		if len(v) == 0 {
			return nil, nil
		}
	}
	return cmdutil.ParseCommandList(raw)
}

func seconds(value, def int, field string, fail func(string, ...interface{})) time.Duration {
	if value < 0 {
		fail("%s must be a positive integer, got %d", field, value)
		return 0
	}
	if value == 0 {
		value = def
	}
	return time.Duration(value) * time.Second
}

func withDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
