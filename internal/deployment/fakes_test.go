package deployment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeVCS tracks the checked-out version. Checkout of a ref missing from
// known fails with a resolution error.
type fakeVCS struct {
	current    VersionRef
	known      map[VersionRef]VersionRef
	currentErr error
	checkouts  []VersionRef

	// honourCtx makes Checkout fail once ctx is done, like a real git command.
	honourCtx bool
}

func newFakeVCS(current VersionRef, known ...VersionRef) *fakeVCS {
	v := &fakeVCS{current: current, known: make(map[VersionRef]VersionRef)}
	for _, ref := range append(known, current) {
		v.known[ref] = ref
	}
	return v
}

func (v *fakeVCS) Current(context.Context) (VersionRef, error) {
	if v.currentErr != nil {
		return "", v.currentErr
	}
	return v.current, nil
}

func (v *fakeVCS) Checkout(ctx context.Context, ref VersionRef) (VersionRef, error) {
	v.checkouts = append(v.checkouts, ref)
	if v.honourCtx && ctx.Err() != nil {
		return "", ctx.Err()
	}
	commit, ok := v.known[ref]
	if !ok {
		return "", fmt.Errorf("unknown revision %q", ref)
	}
	v.current = commit
	return commit, nil
}

// fakeStack records calls. failOn makes an operation fail, optionally only
// for a given deployment number (1-based); zero means every time.
type fakeStack struct {
	calls        []string
	failOn       map[string]error
	failOnDeploy int
	deploys      int

	// notRunningChecks is how many Running calls report false before true.
	notRunningChecks int
	neverRunning     bool
	runningChecks    int

	running bool
	execs   [][]string
}

func newFakeStack() *fakeStack {
	return &fakeStack{failOn: make(map[string]error)}
}

func (s *fakeStack) op(name string) error {
	s.calls = append(s.calls, name)
	if err, ok := s.failOn[name]; ok && (s.failOnDeploy == 0 || s.failOnDeploy == s.deploys) {
		return err
	}
	return nil
}

func (s *fakeStack) Down(context.Context) error {
	s.deploys++
	s.running = false
	return s.op("down")
}

func (s *fakeStack) Prune(context.Context) error { return s.op("prune") }

func (s *fakeStack) Build(_ context.Context, noCache bool) error {
	if !noCache {
		return errors.New("build must not use the cache")
	}
	return s.op("build")
}

func (s *fakeStack) Up(context.Context) error {
	if err := s.op("up"); err != nil {
		return err
	}
	s.running = true
	s.runningChecks = 0
	return nil
}

func (s *fakeStack) Running(context.Context, string) (bool, error) {
	s.calls = append(s.calls, "running")
	s.runningChecks++
	if s.neverRunning || s.runningChecks <= s.notRunningChecks {
		return false, nil
	}
	return s.running, nil
}

func (s *fakeStack) Exec(_ context.Context, _ string, cmd []string) error {
	s.execs = append(s.execs, cmd)
	return s.op("exec:" + cmd[len(cmd)-2])
}

func (s *fakeStack) PruneImages(context.Context) error { return s.op("prune_images") }

// fakeProber returns results in order, repeating the last one. onProbe runs
// before each result is returned.
type fakeProber struct {
	results []error
	calls   int
	onProbe func()
}

func (p *fakeProber) Probe(context.Context, string) error {
	p.calls++
	if p.onProbe != nil {
		p.onProbe()
	}
	if len(p.results) == 0 {
		return nil
	}
	i := p.calls - 1
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	return p.results[i]
}

// memMarker is an in-memory MarkerFile.
type memMarker struct {
	value    VersionRef
	writes   int
	writeErr error
}

func (m *memMarker) Read(context.Context) (VersionRef, error) {
	if m.value == "" {
		return "", ErrMarkerMissing
	}
	return m.value, nil
}

func (m *memMarker) Write(_ context.Context, ref VersionRef) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.value = ref
	return nil
}

// sleepRecorder records requested sleeps without waiting.
type sleepRecorder struct {
	sleeps []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return ctx.Err()
}

func (r *sleepRecorder) total() time.Duration {
	var sum time.Duration
	for _, d := range r.sleeps {
		sum += d
	}
	return sum
}
