package deployment

import (
	"errors"
	"time"
)

// VersionRef identifies a deployable revision: a commit, tag or branch.
// It must resolve to a single commit on the target host at use time.
type VersionRef string

func (v VersionRef) String() string {
	return string(v)
}

// Step names a unit of work within a run.
type Step string

const (
	StepSnapshot    Step = "snapshot"
	StepResolve     Step = "resolve"
	StepTeardown    Step = "teardown"
	StepBuild       Step = "build"
	StepStart       Step = "start"
	StepWaitRunning Step = "wait_running"
	StepMigrate     Step = "migrate"
	StepAssets      Step = "assets"
	StepPruneImages Step = "prune_images"
	StepDeploy      Step = "deploy"
	StepHealthCheck Step = "health_check"
	StepRollback    Step = "rollback"
)

// StepOutcome is the result of one step: success when Err is nil, otherwise a
// failure whose Err is a *StepError.
type StepOutcome struct {
	Step     Step
	Err      error
	Version  VersionRef
	Attempts int
	Duration time.Duration
}

// Success returns a successful outcome for step.
func Success(step Step) StepOutcome {
	return StepOutcome{Step: step}
}

// Failure returns a failed outcome for step classified as kind.
func Failure(step Step, kind, cause error) StepOutcome {
	return StepOutcome{Step: step, Err: &StepError{Step: step, Kind: kind, Err: cause}}
}

// OK reports whether the step succeeded.
func (o StepOutcome) OK() bool {
	return o.Err == nil
}

// Reason is a human-readable failure description, empty on success.
func (o StepOutcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// FailedStep returns the innermost step that failed, or "" on success.
func (o StepOutcome) FailedStep() Step {
	var stepErr *StepError
	last := Step("")
	err := o.Err
	for err != nil && errors.As(err, &stepErr) {
		last = stepErr.Step
		err = stepErr.Err
	}
	return last
}
