package deployment

import (
	"errors"
	"fmt"
)

// Failure taxonomy. Every step failure is classified with one of these and
// wrapped in a StepError, so callers match with errors.Is.
var (
	ErrSnapshotFailure      = errors.New("snapshot failed")
	ErrResolution           = errors.New("version could not be resolved")
	ErrStackFailure         = errors.New("service stack operation failed")
	ErrStartupTimeout       = errors.New("service did not start in time")
	ErrMigrationOrAsset     = errors.New("post-start step failed")
	ErrHealthCheckExhausted = errors.New("health check retries exhausted")
	ErrRollbackFailure      = errors.New("rollback failed")
	ErrMarkerMissing        = errors.New("previous version marker missing")
)

// StepError records which step failed, how it is classified and the underlying cause.
type StepError struct {
	Step Step
	Kind error
	Err  error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Step, e.Kind, e.Err)
}

// Unwrap exposes both the classification and the cause to errors.Is and errors.As.
func (e *StepError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ExitError carries the process exit status for a finished run.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
