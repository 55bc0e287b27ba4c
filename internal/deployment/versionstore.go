package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"atomdeploy/internal/security"
	"atomdeploy/pkg/cmdutil"
)

// FileMarker stores the marker as a plain-text file on the target host.
type FileMarker struct {
	runner cmdutil.Runner
	path   string
}

// NewFileMarker returns a marker stored at path, accessed through runner.
func NewFileMarker(runner cmdutil.Runner, path string) *FileMarker {
	return &FileMarker{runner: runner, path: path}
}

// Path returns the marker location on the host.
func (m *FileMarker) Path() string {
	return m.path
}

// Read returns the stored version. A missing, empty or corrupt file is ErrMarkerMissing.
func (m *FileMarker) Read(ctx context.Context) (VersionRef, error) {
	data, err := m.runner.ReadFile(ctx, m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrMarkerMissing
		}
		return "", fmt.Errorf("failed to read marker %s: %w", m.path, err)
	}

	ref := strings.TrimSpace(string(data))
	if ref == "" {
		return "", ErrMarkerMissing
	}
	if err := security.ValidateVersionRef(ref); err != nil {
		return "", fmt.Errorf("%w: %s is corrupt: %w", ErrMarkerMissing, m.path, err)
	}
	return VersionRef(ref), nil
}

// Write replaces the stored version atomically.
func (m *FileMarker) Write(ctx context.Context, ref VersionRef) error {
	if err := m.runner.WriteFile(ctx, m.path, []byte(ref.String()+"\n"), security.PermMarkerFile); err != nil {
		return fmt.Errorf("failed to write marker %s: %w", m.path, err)
	}
	return nil
}

// VersionStore owns the last-known-good version of a target.
type VersionStore struct {
	vcs    VcsController
	marker MarkerFile
	logger *slog.Logger
}

// NewVersionStore creates a version store.
func NewVersionStore(vcs VcsController, marker MarkerFile, logger *slog.Logger) *VersionStore {
	return &VersionStore{vcs: vcs, marker: marker, logger: logger}
}

// Snapshot records the version currently checked out as last-known-good,
// overwriting any previous value. It must run before anything is mutated.
func (s *VersionStore) Snapshot(ctx context.Context) (VersionRef, error) {
	current, err := s.vcs.Current(ctx)
	if err != nil {
		return "", &StepError{Step: StepSnapshot, Kind: ErrSnapshotFailure, Err: err}
	}
	if err := s.marker.Write(ctx, current); err != nil {
		return current, &StepError{Step: StepSnapshot, Kind: ErrSnapshotFailure, Err: err}
	}

	s.logger.Info("Recorded last known good version", "version", current)
	return current, nil
}

// LastKnownGood returns the stored version, or ErrMarkerMissing if none was ever recorded.
func (s *VersionStore) LastKnownGood(ctx context.Context) (VersionRef, error) {
	return s.marker.Read(ctx)
}
