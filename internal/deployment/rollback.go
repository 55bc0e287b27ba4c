package deployment

import (
	"context"
	"log/slog"
	"time"
)

// RollbackController restores the last-known-good version after a failed run.
type RollbackController struct {
	store    *VersionStore
	deployer Deployer
	logger   *slog.Logger
}

// NewRollbackController creates a rollback controller.
func NewRollbackController(store *VersionStore, deployer Deployer, logger *slog.Logger) *RollbackController {
	return &RollbackController{store: store, deployer: deployer, logger: logger}
}

// Rollback redeploys the last-known-good version once. There is no health
// re-probe and no second attempt; any failure is ErrRollbackFailure.
func (r *RollbackController) Rollback(ctx context.Context) (VersionRef, StepOutcome) {
	start := time.Now()

	ref, err := r.store.LastKnownGood(ctx)
	if err != nil {
		r.logger.Error("Cannot roll back: no last known good version", "error", err)
		outcome := Failure(StepRollback, ErrRollbackFailure, err)
		outcome.Duration = time.Since(start)
		return "", outcome
	}

	r.logger.Warn("Rolling back", "version", ref)
	deployed := r.deployer.Deploy(ctx, ref)
	if !deployed.OK() {
		outcome := Failure(StepRollback, ErrRollbackFailure, deployed.Err)
		outcome.Version = ref
		outcome.Duration = time.Since(start)
		return ref, outcome
	}

	r.logger.Info("Rollback completed", "version", ref, "commit", deployed.Version)
	outcome := Success(StepRollback)
	outcome.Version = ref
	outcome.Duration = time.Since(start)
	return ref, outcome
}
