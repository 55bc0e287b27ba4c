package pipeline

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"atomdeploy/internal/deployment"
	"atomdeploy/internal/security"
	"atomdeploy/internal/target"
	"atomdeploy/pkg/cmdutil"
	"atomdeploy/pkg/cmdutil/cmdutiltest"
)

// containerStub runs git and file operations for real and scripts the
// container engine, which the test host may not have.
type containerStub struct {
	cmdutil.Runner
	engine *cmdutiltest.ScriptRunner
}

func (s containerStub) Run(ctx context.Context, opts cmdutil.ExecOptions, cmdParts []string) (*cmdutil.Result, error) {
	if len(cmdParts) > 0 && cmdParts[0] == "docker" {
		return s.engine.Run(ctx, opts, cmdParts)
	}
	return s.Runner.Run(ctx, opts, cmdParts)
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	base := []string{"-c", "user.name=atomdeploy", "-c", "user.email=atomdeploy@example.com", "-c", "commit.gpgsign=false"}
	cmd := exec.Command("git", append(base, args...)...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func commit(t *testing.T, dir, version string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "VERSION"), []byte(version), 0644); err != nil {
		t.Fatal(err)
	}
	git(t, dir, "add", "VERSION")
	git(t, dir, "commit", "-q", "-m", "release "+version)
	return git(t, dir, "rev-parse", "HEAD")
}

// setupCheckout creates an origin repository and a deployed clone of it,
// then pushes a newer commit to origin.
func setupCheckout(t *testing.T) (work, deployed, pushed string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	origin := t.TempDir()
	git(t, origin, "init", "-q")
	git(t, origin, "symbolic-ref", "HEAD", "refs/heads/main")
	deployed = commit(t, origin, "1.2.0")

	work = filepath.Join(t.TempDir(), "atom")
	git(t, filepath.Dir(work), "clone", "-q", origin, work)

	pushed = commit(t, origin, "1.3.0")
	return work, deployed, pushed
}

func endToEndTarget(work string) *target.Target {
	t := testTarget()
	t.Path = work
	t.EnvFile = filepath.Join(work, ".env.staging")
	t.MarkerFile = filepath.Join(work, ".previous_version")
	return t
}

func readVersion(t *testing.T, work string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(work, "VERSION"))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestEndToEnd_DeployAndRollback(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping end-to-end test in short mode")
	}
	work, deployed, pushed := setupCheckout(t)

	engine := cmdutiltest.NewScriptRunner()
	engine.Handler = func(args []string) cmdutiltest.Response {
		if strings.Contains(strings.Join(args, " "), " ps ") {
			return cmdutiltest.Response{Output: "web\n"}
		}
		return cmdutiltest.Response{}
	}
	host := security.NewGuardedRunner(containerStub{Runner: cmdutil.NewLocalRunner(), engine: engine})

	prober := &fakeProber{err: errors.New("503 Service Unavailable")}
	opts := testOptions(host, prober, nil)
	tgt := endToEndTarget(work)

	result := Deploy(context.Background(), tgt, "main", deployment.TriggerCLI, opts)

	if result.Status() != deployment.StatusRolledBack {
		t.Fatalf("status = %s: %s", result.Status(), result.Reason())
	}
	if result.Previous.String() != deployed || result.Serving.String() != deployed {
		t.Errorf("previous %s serving %s, want %s", result.Previous, result.Serving, deployed)
	}
	if got := readVersion(t, work); got != "1.2.0" {
		t.Errorf("working tree at %q after rollback, want 1.2.0", got)
	}

	marker, err := os.ReadFile(tgt.MarkerFile)
	if err != nil {
		t.Fatalf("marker not written: %v", err)
	}
	if strings.TrimSpace(string(marker)) != deployed {
		t.Errorf("marker = %q, want %s", marker, deployed)
	}

	// Once the endpoint recovers the same push deploys cleanly
	prober.err = nil
	result = Deploy(context.Background(), tgt, "main", deployment.TriggerCLI, opts)

	if result.ExitCode() != 0 {
		t.Fatalf("second deploy failed: %s", result.Reason())
	}
	if result.Serving.String() != pushed || readVersion(t, work) != "1.3.0" {
		t.Errorf("serving %s, want %s", result.Serving, pushed)
	}
}

func TestEndToEnd_UnknownVersion(t *testing.T) {
	work, deployed, _ := setupCheckout(t)

	engine := cmdutiltest.NewScriptRunner().On("docker compose", cmdutiltest.Response{Output: "web\n"})
	host := security.NewGuardedRunner(containerStub{Runner: cmdutil.NewLocalRunner(), engine: engine})

	result := Deploy(context.Background(), endToEndTarget(work), "v9.9.9", deployment.TriggerCLI, testOptions(host, &fakeProber{}, nil))

	if !errors.Is(result.Err, deployment.ErrResolution) {
		t.Fatalf("Err = %v, want a resolution failure", result.Err)
	}
	if !result.RolledBack || result.Serving.String() != deployed {
		t.Errorf("rolled back %v serving %s", result.RolledBack, result.Serving)
	}
	if readVersion(t, work) != "1.2.0" {
		t.Error("working tree should be unchanged")
	}
}
