package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// State is a step of the run state machine.
type State int

const (
	StateIdle State = iota
	StateSnapshotting
	StateDeploying
	StateHealthChecking
	StateRollingBack
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSnapshotting:
		return "snapshotting"
	case StateDeploying:
		return "deploying"
	case StateHealthChecking:
		return "health_checking"
	case StateRollingBack:
		return "rolling_back"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// next is the only place run branching is decided. ok is the outcome of the
// work done in state s.
func next(s State, ok bool) State {
	switch s {
	case StateIdle:
		return StateSnapshotting
	case StateSnapshotting:
		if ok {
			return StateDeploying
		}
		// Nothing was mutated, so there is nothing to roll back
		return StateFailed
	case StateDeploying:
		if ok {
			return StateHealthChecking
		}
		return StateRollingBack
	case StateHealthChecking:
		if ok {
			return StateSucceeded
		}
		return StateRollingBack
	case StateRollingBack:
		// A triggered rollback is a failed run even when the rollback succeeds
		return StateFailed
	default:
		return s
	}
}

// RunResult is the terminal record of one run.
type RunResult struct {
	ID          string
	Target      string
	Trigger     string
	Requested   VersionRef
	Previous    VersionRef
	Serving     VersionRef // empty when unknown
	RolledBack  bool
	State       State
	Err         error // failure that ended or diverted the run
	RollbackErr error // set when the rollback itself failed
	Steps       []StepOutcome
	StartedAt   time.Time
	CompletedAt time.Time
}

// Run statuses as recorded in history and metrics.
const (
	StatusSuccess        = "success"
	StatusFailed         = "failed"
	StatusRolledBack     = "rolled_back"
	StatusRollbackFailed = "rollback_failed"
)

// Status classifies the run for reporting.
func (r *RunResult) Status() string {
	switch {
	case r.RollbackErr != nil:
		return StatusRollbackFailed
	case r.State == StateSucceeded:
		return StatusSuccess
	case r.RolledBack:
		return StatusRolledBack
	default:
		return StatusFailed
	}
}

// ExitCode is 0 on success, 2 when the host was left in an unknown state and 1 otherwise.
func (r *RunResult) ExitCode() int {
	switch {
	case r.State == StateSucceeded:
		return 0
	case r.RollbackErr != nil:
		return 2
	default:
		return 1
	}
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Reason is a one-line human-readable summary.
func (r *RunResult) Reason() string {
	switch r.Status() {
	case StatusSuccess:
		if r.Trigger == TriggerRollback {
			return fmt.Sprintf("restored %s", r.Serving)
		}
		return fmt.Sprintf("deployed %s (%s)", r.Requested, r.Serving)
	case StatusRolledBack:
		return fmt.Sprintf("deployment of %s failed (%v); rolled back to %s", r.Requested, r.Err, r.Serving)
	case StatusRollbackFailed:
		if r.Err == nil {
			return fmt.Sprintf("rollback failed (%v); host state unknown", r.RollbackErr)
		}
		return fmt.Sprintf("deployment of %s failed (%v); rollback failed (%v); host state unknown", r.Requested, r.Err, r.RollbackErr)
	default:
		return fmt.Sprintf("deployment of %s failed: %v", r.Requested, r.Err)
	}
}

// ExitError returns nil on success, otherwise an *ExitError with the run's exit code.
func (r *RunResult) ExitError() error {
	if code := r.ExitCode(); code != 0 {
		return &ExitError{Code: code, Err: fmt.Errorf("%s: %s", r.Target, r.Reason())}
	}
	return nil
}

// Run triggers.
const (
	TriggerCLI      = "cli"
	TriggerWebhook  = "webhook"
	TriggerRollback = "rollback"
)

// DefaultRollbackTimeout bounds a rollback once the run it belongs to was cancelled.
const DefaultRollbackTimeout = 30 * time.Minute

// OrchestratorConfig wires an Orchestrator to one target.
type OrchestratorConfig struct {
	Target    string
	HealthURL string
	Store     *VersionStore
	Deployer  Deployer
	Health    *HealthProbe
	Rollback  *RollbackController
	Logger    *slog.Logger

	// RollbackTimeout bounds the rollback step, which ignores cancellation
	// of the run context. Zero means DefaultRollbackTimeout.
	RollbackTimeout time.Duration
}

// Orchestrator sequences snapshot, deploy, health check and rollback for one target.
type Orchestrator struct {
	config OrchestratorConfig
	now    func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	if config.RollbackTimeout <= 0 {
		config.RollbackTimeout = DefaultRollbackTimeout
	}
	return &Orchestrator{config: config, now: time.Now}
}

// Run deploys version and returns the terminal result. It never panics on
// step failure; every failure is classified in the result.
func (o *Orchestrator) Run(ctx context.Context, version VersionRef, trigger string) *RunResult {
	result := o.newResult(version, trigger)
	logger := o.config.Logger.With("run_id", result.ID, "target", result.Target)
	logger.Info("Deployment started", "version", version, "trigger", trigger)

	state := next(StateIdle, true)
	for !state.Terminal() {
		result.State = state
		outcome := o.step(ctx, state, result)
		result.Steps = append(result.Steps, outcome)

		if !outcome.OK() {
			if state == StateRollingBack {
				result.RollbackErr = outcome.Err
			} else {
				result.Err = outcome.Err
			}
		}

		to := next(state, outcome.OK())
		logger.Debug("State transition", "from", state, "to", to, "step", outcome.Step, "ok", outcome.OK())
		state = to
	}

	return o.finish(result, state, logger)
}

// Restore redeploys the last-known-good version on its own. A successful
// manual restore ends in StateSucceeded.
func (o *Orchestrator) Restore(ctx context.Context) *RunResult {
	result := o.newResult("", TriggerRollback)
	logger := o.config.Logger.With("run_id", result.ID, "target", result.Target)
	logger.Info("Manual rollback started")

	result.State = StateRollingBack
	ref, outcome := o.rollback(ctx)
	result.Requested = ref
	result.RolledBack = true
	result.Steps = append(result.Steps, outcome)

	state := StateSucceeded
	if outcome.OK() {
		result.Serving = ref
	} else {
		result.RollbackErr = outcome.Err
		state = StateFailed
	}

	return o.finish(result, state, logger)
}

func (o *Orchestrator) step(ctx context.Context, state State, result *RunResult) StepOutcome {
	switch state {
	case StateSnapshotting:
		start := o.now()
		previous, err := o.config.Store.Snapshot(ctx)
		result.Previous = previous
		result.Serving = previous
		if err != nil {
			return StepOutcome{Step: StepSnapshot, Err: err, Duration: o.now().Sub(start)}
		}
		outcome := Success(StepSnapshot)
		outcome.Version = previous
		outcome.Duration = o.now().Sub(start)
		return outcome

	case StateDeploying:
		// From here on the host no longer serves a known version until a step proves it does
		result.Serving = ""
		outcome := o.config.Deployer.Deploy(ctx, result.Requested)
		if outcome.OK() {
			result.Serving = outcome.Version
		}
		return outcome

	case StateHealthChecking:
		return o.config.Health.Check(ctx, o.config.HealthURL)

	case StateRollingBack:
		result.RolledBack = true
		ref, outcome := o.rollback(ctx)
		if outcome.OK() {
			result.Serving = ref
		} else {
			result.Serving = ""
		}
		return outcome

	default:
		return Failure(Step(state.String()), fmt.Errorf("no work defined for state %s", state), nil)
	}
}

// rollback runs detached from cancellation of ctx, bounded by RollbackTimeout.
func (o *Orchestrator) rollback(ctx context.Context) (VersionRef, StepOutcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.RollbackTimeout)
	defer cancel()
	return o.config.Rollback.Rollback(ctx)
}

func (o *Orchestrator) newResult(version VersionRef, trigger string) *RunResult {
	return &RunResult{
		ID:        uuid.NewString(),
		Target:    o.config.Target,
		Trigger:   trigger,
		Requested: version,
		State:     StateIdle,
		StartedAt: o.now(),
	}
}

func (o *Orchestrator) finish(result *RunResult, state State, logger *slog.Logger) *RunResult {
	result.State = state
	result.CompletedAt = o.now()

	attrs := []any{
		"status", result.Status(),
		"previous", result.Previous,
		"serving", result.Serving,
		"rolled_back", result.RolledBack,
		"duration", result.Duration(),
	}
	switch result.Status() {
	case StatusSuccess:
		logger.Info("Deployment finished", attrs...)
	case StatusRollbackFailed:
		logger.Error("Deployment finished, host state unknown", append(attrs, "reason", result.Reason())...)
	default:
		logger.Error("Deployment finished", append(attrs, "reason", result.Reason())...)
	}
	return result
}
