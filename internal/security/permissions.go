package security

import (
	"fmt"
	"os"
)

const (
	// PermLogFile is for run logs, which may include command output.
	PermLogFile os.FileMode = 0640

	// PermDBFile is for the run history database.
	PermDBFile os.FileMode = 0640

	// PermMarkerFile is for the last-known-good version marker on a target host.
	PermMarkerFile os.FileMode = 0640

	// PermDirectory is for directories created for logs and history.
	PermDirectory os.FileMode = 0750
)

// OpenAppendFile opens path for appending, creating it with perm if needed.
func OpenAppendFile(path string, perm os.FileMode) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// IsWorldReadable checks if a file is readable by others.
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// IsWorldWritable checks if a file is writable by others.
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// ValidateSecurePermissions rejects world-readable or world-writable files.
// Used for SSH private keys and config files holding webhook secrets.
func ValidateSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	perm := info.Mode().Perm()

	if IsWorldReadable(perm) {
		return fmt.Errorf("file %s is world-readable (%04o), which is insecure for sensitive data", path, perm)
	}
	if IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o), which is a serious security risk", path, perm)
	}

	return nil
}
