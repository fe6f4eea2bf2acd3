package security

import (
	"fmt"
	"os"
)

// File permission constants for files deploysweep writes
const (
	PermLogFile   os.FileMode = 0640 // rw-r----- (log files may quote API errors)
	PermDBFile    os.FileMode = 0640 // rw-r----- (run history database)
	PermDirectory os.FileMode = 0750 // rwxr-x--- (directories holding logs or history)
)

// OpenAppendFile opens path for appending, creating it with perm. An
// existing file with looser permissions is tightened to perm.
func OpenAppendFile(path string, perm os.FileMode) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	if err := EnsureSecurePermissions(path, perm); err != nil {
		if err := FixFilePermissions(path, perm); err != nil {
			file.Close()
			return nil, err
		}
	}

	return file, nil
}

// CreateSecureDir creates a directory with the given permissions
func CreateSecureDir(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	// MkdirAll is subject to umask
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set directory permissions: %w", err)
	}

	return nil
}

// EnsureSecurePermissions checks that path grants nothing beyond expectedPerm
func EnsureSecurePermissions(path string, expectedPerm os.FileMode) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	actualPerm := info.Mode().Perm()
	if actualPerm&^expectedPerm != 0 {
		return fmt.Errorf("insecure permissions on %s: %04o (expected at most %04o)",
			path, actualPerm, expectedPerm)
	}

	return nil
}

// FixFilePermissions sets path to perm
func FixFilePermissions(path string, perm os.FileMode) error {
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to fix permissions on %s: %w", path, err)
	}
	return nil
}

// IsWorldReadable reports whether anyone may read path
func IsWorldReadable(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.Mode().Perm()&0004 != 0, nil
}
