// Package pipeline assembles the deployment components for one target and
// records what each run did.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"atomdeploy/internal/deployment"
	"atomdeploy/internal/health"
	"atomdeploy/internal/host"
	"atomdeploy/internal/metrics"
	"atomdeploy/internal/stack"
	"atomdeploy/internal/target"
	"atomdeploy/internal/vcs"
	"atomdeploy/pkg/cmdutil"
)

// Recorder persists finished runs. *history.History implements it.
type Recorder interface {
	RecordResult(ctx context.Context, result *deployment.RunResult) (int64, error)
}

// Options customise how a pipeline reaches its target.
type Options struct {
	Logger  *slog.Logger
	History Recorder // nil disables history

	// Open connects to the target host. Defaults to host.Open.
	Open func(ctx context.Context, t *target.Target) (cmdutil.Runner, error)
	// Prober defaults to an HTTP prober with the target's request timeout.
	Prober deployment.Prober
	// Sleep defaults to deployment.Sleep.
	Sleep deployment.SleepFunc
}

// Pipeline is an orchestrator bound to an open connection to one target.
type Pipeline struct {
	target       *target.Target
	runner       cmdutil.Runner
	orchestrator *deployment.Orchestrator
	opts         Options
}

// New connects to t and wires the deployment components.
func New(ctx context.Context, t *target.Target, opts Options) (*Pipeline, error) {
	opts = withDefaults(t, opts)

	runner, err := opts.Open(ctx, t)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.With("target", string(t.Name))

	git := vcs.NewGit(runner, t.Path, t.Remote, t.CommandTimeout, logger.With("component", "vcs"))
	compose := stack.NewCompose(runner, stack.Config{
		Dir:         t.Path,
		Command:     t.ComposeCommand,
		EnvFile:     t.EnvFile,
		ComposeFile: t.ComposeFile,
		Timeout:     t.CommandTimeout,
	}, logger.With("component", "stack"))

	store := deployment.NewVersionStore(git, deployment.NewFileMarker(runner, t.MarkerFile), logger.With("component", "version_store"))
	executor := deployment.NewExecutor(git, compose, deployment.ExecutorConfig{
		PrimaryService: t.PrimaryService,
		Migrate:        t.Migrate,
		Assets:         t.Assets,
		StartupTimeout: t.StartupTimeout,
		StartupPoll:    t.StartupPoll,
		Sleep:          opts.Sleep,
	}, logger.With("component", "executor"))
	probe := deployment.NewHealthProbe(opts.Prober, deployment.HealthPolicy{
		MaxRetries:   t.Health.MaxRetries,
		RetryDelay:   t.Health.RetryDelay,
		InitialDelay: t.Health.InitialDelay,
	}, opts.Sleep, logger.With("component", "health"))
	rollback := deployment.NewRollbackController(store, executor, logger.With("component", "rollback"))

	orchestrator := deployment.NewOrchestrator(deployment.OrchestratorConfig{
		Target:    string(t.Name),
		HealthURL: t.HealthURL,
		Store:     store,
		Deployer:  executor,
		Health:    probe,
		Rollback:  rollback,
		Logger:    opts.Logger.With("component", "orchestrator"),
	})

	return &Pipeline{target: t, runner: runner, orchestrator: orchestrator, opts: opts}, nil
}

func withDefaults(t *target.Target, opts Options) Options {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Open == nil {
		opts.Open = host.Open
	}
	if opts.Prober == nil {
		prober := health.NewHTTPProber(t.Health.RequestTimeout)
		for name, value := range t.Health.Headers {
			prober.WithHeader(name, value)
		}
		opts.Prober = prober
	}
	if opts.Sleep == nil {
		opts.Sleep = deployment.Sleep
	}
	return opts
}

// Deploy runs a full deployment of version and records the result.
func (p *Pipeline) Deploy(ctx context.Context, version deployment.VersionRef, trigger string) *deployment.RunResult {
	return p.record(ctx, p.orchestrator.Run(ctx, version, trigger))
}

// Restore redeploys the last-known-good version and records the result.
func (p *Pipeline) Restore(ctx context.Context) *deployment.RunResult {
	return p.record(ctx, p.orchestrator.Restore(ctx))
}

// Close releases the connection to the target host.
func (p *Pipeline) Close() error {
	return p.runner.Close()
}

func (p *Pipeline) record(ctx context.Context, result *deployment.RunResult) *deployment.RunResult {
	metrics.ObserveRun(result)
	record(ctx, p.opts, result)
	return result
}

func record(ctx context.Context, opts Options, result *deployment.RunResult) {
	if opts.History == nil {
		return
	}
	// The run context may already be cancelled; the record should still land
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := opts.History.RecordResult(ctx, result); err != nil {
		opts.Logger.Error("Failed to record run history", "error", err, "run_id", result.ID, "target", result.Target)
	}
}

// Deploy connects to t, deploys version and disconnects. A host that cannot
// be reached fails the run at the snapshot step; nothing has been changed.
func Deploy(ctx context.Context, t *target.Target, version deployment.VersionRef, trigger string, opts Options) *deployment.RunResult {
	opts = withDefaults(t, opts)

	p, err := New(ctx, t, opts)
	if err != nil {
		return unreachable(ctx, t, version, trigger, opts, err)
	}
	defer p.Close()

	return p.Deploy(ctx, version, trigger)
}

// Restore connects to t, redeploys its last-known-good version and disconnects.
func Restore(ctx context.Context, t *target.Target, opts Options) *deployment.RunResult {
	opts = withDefaults(t, opts)

	p, err := New(ctx, t, opts)
	if err != nil {
		return unreachable(ctx, t, "", deployment.TriggerRollback, opts, err)
	}
	defer p.Close()

	return p.Restore(ctx)
}

func unreachable(ctx context.Context, t *target.Target, version deployment.VersionRef, trigger string, opts Options, err error) *deployment.RunResult {
	now := time.Now()
	result := &deployment.RunResult{
		ID:          uuid.NewString(),
		Target:      string(t.Name),
		Trigger:     trigger,
		Requested:   version,
		State:       deployment.StateFailed,
		StartedAt:   now,
		CompletedAt: now,
	}

	if trigger == deployment.TriggerRollback {
		outcome := deployment.Failure(deployment.StepRollback, deployment.ErrRollbackFailure, err)
		result.RolledBack = true
		result.RollbackErr = outcome.Err
		result.Steps = []deployment.StepOutcome{outcome}
	} else {
		outcome := deployment.Failure(deployment.StepSnapshot, deployment.ErrSnapshotFailure, err)
		result.Err = outcome.Err
		result.Steps = []deployment.StepOutcome{outcome}
	}

	opts.Logger.Error("Cannot reach target host", "target", result.Target, "host", t.Host.String(), "error", err)
	metrics.ObserveRun(result)
	record(ctx, opts, result)
	return result
}
