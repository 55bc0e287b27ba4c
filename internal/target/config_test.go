package target

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const testSecret = "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS2uW5yA7bD0fG3hK6"

// newCheckout creates a directory that looks like a git working tree.
func newCheckout(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatalf("Failed to create .git directory: %v", err)
	}
	return dir
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func hasError(errors []string, substr string) bool {
	for _, err := range errors {
		if strings.Contains(err, substr) {
			return true
		}
	}
	return false
}

func TestBuildTarget_Defaults(t *testing.T) {
	dir := newCheckout(t)

	tgt, errors := BuildTarget("staging", TargetConfig{
		Path:      dir,
		EnvFile:   ".env.staging",
		HealthURL: "https://staging.example.com/api/v1/docs",
	})
	if len(errors) > 0 {
		t.Fatalf("Expected valid config to pass validation, got errors: %v", errors)
	}

	if tgt.Name != Staging {
		t.Errorf("Name = %q, want staging", tgt.Name)
	}
	if !tgt.Host.IsLocal() {
		t.Errorf("Host = %s, want local", tgt.Host)
	}
	if tgt.Branch != "main" || tgt.Remote != "origin" || tgt.PrimaryService != "web" {
		t.Errorf("unexpected defaults: branch=%q remote=%q service=%q", tgt.Branch, tgt.Remote, tgt.PrimaryService)
	}
	if tgt.EnvFile != filepath.Join(dir, ".env.staging") {
		t.Errorf("EnvFile = %q", tgt.EnvFile)
	}
	if tgt.ComposeFile != filepath.Join(dir, "docker-compose.yml") {
		t.Errorf("ComposeFile = %q", tgt.ComposeFile)
	}
	if tgt.MarkerFile != filepath.Join(dir, ".previous_version") {
		t.Errorf("MarkerFile = %q", tgt.MarkerFile)
	}
	if strings.Join(tgt.ComposeCommand, " ") != "docker compose" {
		t.Errorf("ComposeCommand = %v", tgt.ComposeCommand)
	}
	if strings.Join(tgt.Migrate, " ") != DefaultMigrate {
		t.Errorf("Migrate = %v", tgt.Migrate)
	}
	if strings.Join(tgt.Assets, " ") != DefaultAssets {
		t.Errorf("Assets = %v", tgt.Assets)
	}
	if tgt.StartupTimeout != 120*time.Second || tgt.StartupPoll != 5*time.Second || tgt.CommandTimeout != 600*time.Second {
		t.Errorf("unexpected timeouts: %+v", tgt)
	}

	want := HealthPolicy{MaxRetries: 5, RetryDelay: 10 * time.Second, InitialDelay: 15 * time.Second, RequestTimeout: 10 * time.Second}
	if !reflect.DeepEqual(tgt.Health, want) {
		t.Errorf("Health = %+v, want %+v", tgt.Health, want)
	}
}

func TestBuildTarget_Overrides(t *testing.T) {
	dir := newCheckout(t)

	tgt, errors := BuildTarget("production", TargetConfig{
		Path:           dir,
		EnvFile:        "/etc/atom/production.env",
		ComposeFile:    "compose.prod.yml",
		ComposeCommand: []interface{}{"docker-compose"},
		PrimaryService: "django",
		Branch:         "release",
		DeployTags:     true,
		MarkerFile:     "deploy/.last_good",
		HealthURL:      "http://127.0.0.1:8000/health",
		Migrate:        "",
		Assets:         []interface{}{"python", "manage.py", "collectstatic", "--noinput", "--clear"},
		Secret:         testSecret,
		StartupTimeout: 60,
		Health:         &HealthConfig{MaxRetries: 3, RetryDelay: 2},
	})
	if len(errors) > 0 {
		t.Fatalf("unexpected errors: %v", errors)
	}

	if tgt.EnvFile != "/etc/atom/production.env" {
		t.Errorf("EnvFile = %q", tgt.EnvFile)
	}
	if tgt.MarkerFile != filepath.Join(dir, "deploy", ".last_good") {
		t.Errorf("MarkerFile = %q", tgt.MarkerFile)
	}
	if len(tgt.Migrate) != 0 {
		t.Errorf("empty migrate should disable the step, got %v", tgt.Migrate)
	}
	if len(tgt.Assets) != 5 {
		t.Errorf("Assets = %v", tgt.Assets)
	}
	if tgt.Health.MaxRetries != 3 || tgt.Health.RetryDelay != 2*time.Second || tgt.Health.InitialDelay != 15*time.Second {
		t.Errorf("Health = %+v", tgt.Health)
	}
	if tgt.StartupTimeout != 60*time.Second {
		t.Errorf("StartupTimeout = %s", tgt.StartupTimeout)
	}
}

func TestBuildTarget_Invalid(t *testing.T) {
	dir := newCheckout(t)
	valid := func() TargetConfig {
		return TargetConfig{Path: dir, EnvFile: ".env", HealthURL: "https://example.com/health"}
	}

	tests := []struct {
		name    string
		target  string
		mutate  func(c *TargetConfig)
		wantErr string
	}{
		{"unknown environment", "qa", func(c *TargetConfig) {}, "unknown environment"},
		{"missing path", "staging", func(c *TargetConfig) { c.Path = "" }, "missing required 'path'"},
		{"relative path", "staging", func(c *TargetConfig) { c.Path = "./srv/atom" }, "path must be absolute"},
		{"nonexistent path", "staging", func(c *TargetConfig) { c.Path = "/nonexistent/atom" }, "does not exist"},
		{"not a checkout", "staging", func(c *TargetConfig) { c.Path = t.TempDir() }, "missing .git"},
		{"missing env file", "staging", func(c *TargetConfig) { c.EnvFile = "" }, "env_file"},
		{"env file escapes", "staging", func(c *TargetConfig) { c.EnvFile = "../secrets.env" }, "outside"},
		{"missing health url", "staging", func(c *TargetConfig) { c.HealthURL = "" }, "health_url"},
		{"relative health url", "staging", func(c *TargetConfig) { c.HealthURL = "/api/v1/docs" }, "health_url"},
		{"compose not allowed", "staging", func(c *TargetConfig) { c.ComposeCommand = "bash -c" }, "not an allowed command"},
		{"bad migrate type", "staging", func(c *TargetConfig) { c.Migrate = 42 }, "migrate"},
		{"bad branch", "staging", func(c *TargetConfig) { c.Branch = "-x" }, "branch"},
		{"weak secret", "staging", func(c *TargetConfig) { c.Secret = "changeme" }, "secret"},
		{"negative timeout", "staging", func(c *TargetConfig) { c.StartupTimeout = -1 }, "startup_timeout"},
		{"negative retries", "staging", func(c *TargetConfig) { c.Health = &HealthConfig{MaxRetries: -2} }, "max_retries"},
		{"bad header name", "staging", func(c *TargetConfig) {
			c.Health = &HealthConfig{Headers: map[string]string{"X Forwarded": "1"}}
		}, "invalid header name"},
		{"multi-line header", "staging", func(c *TargetConfig) {
			c.Health = &HealthConfig{Headers: map[string]string{"Host": "atom.example.com\r\nX-Evil: 1"}}
		}, "single line"},
		{"remote without key", "staging", func(c *TargetConfig) { c.Host = "deploy@atom.example.com" }, "ssh_key"},
		{"bad host", "staging", func(c *TargetConfig) { c.Host = "atom.example.com" }, "user@host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)

			tgt, errors := BuildTarget(tt.target, config)
			if tgt != nil {
				t.Fatal("Expected invalid config to be rejected")
			}
			if !hasError(errors, tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, errors)
			}
		})
	}
}

func TestBuildTarget_RemoteSkipsLocalChecks(t *testing.T) {
	tgt, errors := BuildTarget("production", TargetConfig{
		Host:       "deploy@atom.example.com:2222",
		SSHKey:     "/home/deploy/.ssh/id_ed25519",
		KnownHosts: "/home/deploy/.ssh/known_hosts",
		Path:       "/srv/atom",
		EnvFile:    ".env.production",
		HealthURL:  "https://atom.example.com/api/v1/docs",
	})
	if len(errors) > 0 {
		t.Fatalf("unexpected errors: %v", errors)
	}
	if tgt.Host.IsLocal() || tgt.Host.Port != 2222 || tgt.Host.User != "deploy" {
		t.Errorf("Host = %+v", tgt.Host)
	}
}

func TestBuildTarget_CollectsAllErrors(t *testing.T) {
	_, errors := BuildTarget("qa", TargetConfig{Path: "relative", StartupPoll: -1})
	if len(errors) < 4 {
		t.Errorf("expected every problem to be reported, got %d: %v", len(errors), errors)
	}
}

func TestParseHost(t *testing.T) {
	tests := []struct {
		input   string
		want    Host
		wantErr bool
	}{
		{"", Host{}, false},
		{"local", Host{}, false},
		{"deploy@10.0.0.5", Host{User: "deploy", Address: "10.0.0.5", Port: 22}, false},
		{"deploy@atom.example.com:2222", Host{User: "deploy", Address: "atom.example.com", Port: 2222}, false},
		{"deploy@[::1]:22", Host{User: "deploy", Address: "::1", Port: 22}, false},

		{"atom.example.com", Host{}, true},
		{"@atom.example.com", Host{}, true},
		{"deploy@", Host{}, true},
		{"deploy@host:99999", Host{}, true},
		{"-oProxyCommand=x@host", Host{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseHost(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHost() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseHost() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := newCheckout(t)

	path := writeConfig(t, `
targets:
  staging:
    host: local
    path: `+dir+`
    env_file: .env.staging
    health_url: https://staging.example.com/api/v1/docs
    migrate: python manage.py migrate --noinput
    compose_command: [docker, compose]
  production:
    host: deploy@atom.example.com
    ssh_key: /home/deploy/.ssh/id_ed25519
    known_hosts: /home/deploy/.ssh/known_hosts
    path: /srv/atom
    env_file: /srv/atom/.env.production
    health_url: https://atom.example.com/api/v1/docs
    deploy_tags: true
    health:
      max_retries: 5
      retry_delay: 10
      headers:
        Host: atom.example.com
`)

	config, targets, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(config.Targets) != 2 || len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
	if !targets[Production].DeployTags {
		t.Error("production should deploy tags")
	}
	if !targets[Staging].Host.IsLocal() {
		t.Error("staging should be local")
	}
	if got := targets[Production].Health.Headers["Host"]; got != "atom.example.com" {
		t.Errorf("production health Host header = %q", got)
	}
	if targets[Staging].Health.Headers != nil {
		t.Errorf("staging should have no health headers, got %v", targets[Staging].Health.Headers)
	}
}

func TestLoadConfig_Empty(t *testing.T) {
	_, targets, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(targets) != 0 {
		t.Errorf("expected no targets, got %d", len(targets))
	}
}

func TestLoadConfig_ReportsEveryTarget(t *testing.T) {
	path := writeConfig(t, `
targets:
  staging:
    path: relative
  production:
    path: /srv/atom
`)

	_, _, err := LoadConfig(path)
	if err == nil {
		t.Fatal("LoadConfig() should fail")
	}
	if !strings.Contains(err.Error(), "'staging'") || !strings.Contains(err.Error(), "'production'") {
		t.Errorf("error should mention both targets: %v", err)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, _, err := LoadConfig("/nonexistent/targets.yaml"); err == nil {
		t.Error("LoadConfig() should fail for missing file")
	}
	if _, _, err := LoadConfig(writeConfig(t, "targets: [unclosed")); err == nil {
		t.Error("LoadConfig() should fail for invalid YAML")
	}
}
