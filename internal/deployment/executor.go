package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultStartupTimeout bounds the wait for the primary service to run.
	DefaultStartupTimeout = 120 * time.Second

	// DefaultStartupPoll is the interval between running-state checks.
	DefaultStartupPoll = 5 * time.Second
)

// ExecutorConfig holds the per-target settings of an Executor.
type ExecutorConfig struct {
	PrimaryService string
	Migrate        []string // empty skips migrations
	Assets         []string // empty skips static assets
	StartupTimeout time.Duration
	StartupPoll    time.Duration
	Sleep          SleepFunc
}

// Executor deploys a version onto a target: checkout, rebuild, restart and
// post-start steps. The same primitives serve forward deploys and rollbacks.
type Executor struct {
	vcs    VcsController
	stack  ServiceStackController
	config ExecutorConfig
	logger *slog.Logger
}

// NewExecutor creates a new executor
func NewExecutor(vcs VcsController, stack ServiceStackController, config ExecutorConfig, logger *slog.Logger) *Executor {
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = DefaultStartupTimeout
	}
	if config.StartupPoll <= 0 {
		config.StartupPoll = DefaultStartupPoll
	}
	if config.Sleep == nil {
		config.Sleep = Sleep
	}
	return &Executor{vcs: vcs, stack: stack, config: config, logger: logger}
}

// Deploy runs the deployment steps for ref in order. The first failing step
// stops the sequence and its classified failure is returned. On success the
// outcome's Version is the commit ref resolved to.
func (e *Executor) Deploy(ctx context.Context, ref VersionRef) StepOutcome {
	start := time.Now()
	logger := e.logger.With("version", ref)

	outcome := e.deploy(ctx, ref, logger)
	outcome.Duration = time.Since(start)

	if outcome.OK() {
		logger.Info("Deployment steps completed", "commit", outcome.Version, "duration", outcome.Duration)
	} else {
		logger.Error("Deployment steps failed", "step", outcome.FailedStep(), "error", outcome.Err)
	}
	return outcome
}

func (e *Executor) deploy(ctx context.Context, ref VersionRef, logger *slog.Logger) StepOutcome {
	// Step 1: Resolve the version and reset the working tree to it
	logger.Info("Checking out version")
	commit, err := e.vcs.Checkout(ctx, ref)
	if err != nil {
		return e.fail(StepResolve, ErrResolution, err)
	}

	// Step 2: Tear down the running stack
	logger.Info("Stopping service stack", "commit", commit)
	if err := e.stack.Down(ctx); err != nil {
		return e.fail(StepTeardown, ErrStackFailure, err)
	}
	if err := e.stack.Prune(ctx); err != nil {
		return e.fail(StepTeardown, ErrStackFailure, err)
	}

	// Step 3: Rebuild images from scratch
	logger.Info("Building images")
	if err := e.stack.Build(ctx, true); err != nil {
		return e.fail(StepBuild, ErrStackFailure, err)
	}

	// Step 4: Start the stack
	logger.Info("Starting service stack")
	if err := e.stack.Up(ctx); err != nil {
		return e.fail(StepStart, ErrStackFailure, err)
	}

	// Step 5: Wait for the primary service
	if err := e.waitRunning(ctx, logger); err != nil {
		return e.fail(StepWaitRunning, ErrStartupTimeout, err)
	}

	// Step 6: Post-start migrations and static assets
	if len(e.config.Migrate) > 0 {
		logger.Info("Running migrations", "service", e.config.PrimaryService)
		if err := e.stack.Exec(ctx, e.config.PrimaryService, e.config.Migrate); err != nil {
			return e.fail(StepMigrate, ErrMigrationOrAsset, err)
		}
	}
	if len(e.config.Assets) > 0 {
		logger.Info("Collecting static assets", "service", e.config.PrimaryService)
		if err := e.stack.Exec(ctx, e.config.PrimaryService, e.config.Assets); err != nil {
			return e.fail(StepAssets, ErrMigrationOrAsset, err)
		}
	}

	// Step 7: Prune unused images
	// Don't fail the deployment if pruning fails
	if err := e.stack.PruneImages(ctx); err != nil {
		logger.Warn("Image prune failed", "error", err)
	}

	outcome := Success(StepDeploy)
	outcome.Version = commit
	return outcome
}

// waitRunning polls until the primary service is running or StartupTimeout
// worth of polls have elapsed. Checks happen at 0, poll, 2*poll, ... timeout.
func (e *Executor) waitRunning(ctx context.Context, logger *slog.Logger) error {
	service := e.config.PrimaryService
	var waited time.Duration

	for {
		running, err := e.stack.Running(ctx, service)
		if err != nil {
			logger.Debug("Service state query failed", "service", service, "error", err)
		}
		if running {
			logger.Info("Service is running", "service", service, "waited", waited)
			return nil
		}

		if waited >= e.config.StartupTimeout {
			if err != nil {
				return fmt.Errorf("service %s not running after %s: %w", service, waited, err)
			}
			return fmt.Errorf("service %s not running after %s", service, waited)
		}

		if err := e.config.Sleep(ctx, e.config.StartupPoll); err != nil {
			return fmt.Errorf("waiting for service %s: %w", service, err)
		}
		waited += e.config.StartupPoll
	}
}

func (e *Executor) fail(step Step, kind, err error) StepOutcome {
	outcome := Failure(step, kind, err)
	// Deploy always reports under StepDeploy; the StepError keeps the sub-step.
	outcome.Step = StepDeploy
	return outcome
}
