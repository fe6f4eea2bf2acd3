package fileutil

import (
	"fmt"
	"os"
	"path/filepath"

	"deploysweep/internal/security"
)

// SystemConfigDir is the system-wide configuration directory
const SystemConfigDir = "/etc/deploysweep"

// SearchPathsOptional looks for a file in multiple locations.
// Returns the first path where the file exists, or empty string if not found.
func SearchPathsOptional(paths []string) string {
	for _, path := range paths {
		if FileExists(path) {
			return path
		}
	}
	return ""
}

// DefaultConfigPaths returns standard config search paths for a given filename.
// Search order:
// 1. Current directory (./<filename>)
// 2. Config subdirectory (./config/<filename>)
// 3. System-wide config (/etc/deploysweep/<filename>)
func DefaultConfigPaths(filename string) []string {
	return []string{
		filepath.Join(".", filename),
		filepath.Join(".", "config", filename),
		filepath.Join(SystemConfigDir, filename),
	}
}

// ResolveConfig picks the config file to load. An explicit path (flag or
// environment) must exist; otherwise the default locations are searched and
// an empty string means no config file is in use.
func ResolveConfig(explicit, filename string) (string, error) {
	if explicit != "" {
		if !FileExists(explicit) {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	return SearchPathsOptional(DefaultConfigPaths(filename)), nil
}

// EnsureParentDir creates the directory that will hold path.
// Existing directories are left as they are.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return nil
	}
	return security.CreateSecureDir(dir, security.PermDirectory)
}

// FileExists checks if a file exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
