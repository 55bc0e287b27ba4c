package deployment

import (
	"context"
	"time"
)

// VcsController manages the working tree on the target host.
type VcsController interface {
	// Current returns the commit currently checked out.
	Current(ctx context.Context) (VersionRef, error)
	// Checkout fetches, resolves ref to a single commit and resets the tree to it.
	Checkout(ctx context.Context, ref VersionRef) (VersionRef, error)
}

// ServiceStackController drives the container stack on the target host.
type ServiceStackController interface {
	Down(ctx context.Context) error
	Prune(ctx context.Context) error
	Build(ctx context.Context, noCache bool) error
	Up(ctx context.Context) error
	Running(ctx context.Context, service string) (bool, error)
	Exec(ctx context.Context, service string, cmd []string) error
	PruneImages(ctx context.Context) error
}

// Prober checks a readiness endpoint once. A nil error means healthy.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// MarkerFile persists the last-known-good version on the target host.
type MarkerFile interface {
	Read(ctx context.Context) (VersionRef, error)
	Write(ctx context.Context, ref VersionRef) error
}

// Deployer deploys a version. Executor is the production implementation.
type Deployer interface {
	Deploy(ctx context.Context, ref VersionRef) StepOutcome
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for d, returning early with ctx.Err() if ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
