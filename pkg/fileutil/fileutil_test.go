package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSearchPathsOptional(t *testing.T) {
	tmpDir := t.TempDir()

	// Create test file
	file1 := filepath.Join(tmpDir, "file1.txt")
	if err := os.WriteFile(file1, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{
			"finds existing file",
			[]string{filepath.Join(tmpDir, "nonexistent.txt"), file1},
			file1,
		},
		{
			"returns empty string when not found",
			[]string{filepath.Join(tmpDir, "nonexistent.txt")},
			"",
		},
		{
			"skips directories",
			[]string{tmpDir},
			"",
		},
		{
			"handles empty path list",
			[]string{},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SearchPathsOptional(tt.paths)
			if got != tt.want {
				t.Errorf("SearchPathsOptional() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultConfigPaths(t *testing.T) {
	paths := DefaultConfigPaths("test.yaml")

	if len(paths) != 3 {
		t.Errorf("DefaultConfigPaths() returned %d paths, want 3", len(paths))
	}

	// Check that paths contain the filename
	for i, path := range paths {
		if !strings.Contains(path, "test.yaml") {
			t.Errorf("DefaultConfigPaths()[%d] = %v, should contain 'test.yaml'", i, path)
		}
	}

	if !strings.HasPrefix(paths[2], SystemConfigDir) {
		t.Errorf("DefaultConfigPaths()[2] should start with %s, got %v", SystemConfigDir, paths[2])
	}
}

func TestResolveConfig(t *testing.T) {
	tmpDir := t.TempDir()

	configFile := filepath.Join(tmpDir, "deploysweep.yaml")
	if err := os.WriteFile(configFile, []byte("targets: {}"), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	t.Run("explicit path wins", func(t *testing.T) {
		got, err := ResolveConfig(configFile, "deploysweep.yaml")
		if err != nil {
			t.Fatalf("ResolveConfig() error = %v", err)
		}
		if got != configFile {
			t.Errorf("ResolveConfig() = %v, want %v", got, configFile)
		}
	})

	t.Run("missing explicit path is an error", func(t *testing.T) {
		_, err := ResolveConfig(filepath.Join(tmpDir, "nonexistent.yaml"), "deploysweep.yaml")
		if err == nil {
			t.Error("ResolveConfig() should return error for a missing explicit path")
		}
	})

	t.Run("no default config is not an error", func(t *testing.T) {
		got, err := ResolveConfig("", "deploysweep-test-nonexistent.yaml")
		if err != nil {
			t.Fatalf("ResolveConfig() error = %v", err)
		}
		if got != "" {
			t.Errorf("ResolveConfig() = %v, want empty", got)
		}
	})
}

func TestEnsureParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "state", "nested", "history.db")

	if err := EnsureParentDir(dbPath); err != nil {
		t.Fatalf("EnsureParentDir() error = %v", err)
	}

	info, err := os.Stat(filepath.Dir(dbPath))
	if err != nil {
		t.Fatalf("Expected parent directory to exist: %v", err)
	}
	if !info.IsDir() {
		t.Error("Expected parent to be a directory")
	}
}

func TestEnsureParentDir_Permissions(t *testing.T) {
	tmpDir := t.TempDir()

	created := filepath.Join(tmpDir, "state")
	if err := EnsureParentDir(filepath.Join(created, "history.db")); err != nil {
		t.Fatalf("EnsureParentDir() error = %v", err)
	}
	info, err := os.Stat(created)
	if err != nil {
		t.Fatalf("Expected directory to exist: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0750 {
		t.Errorf("Created directory permissions = %04o, want 0750", perm)
	}

	existing := filepath.Join(tmpDir, "shared")
	if err := os.Mkdir(existing, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.Chmod(existing, 0755); err != nil {
		t.Fatalf("Failed to chmod: %v", err)
	}
	if err := EnsureParentDir(filepath.Join(existing, "history.db")); err != nil {
		t.Fatalf("EnsureParentDir() error = %v", err)
	}
	info, err = os.Stat(existing)
	if err != nil {
		t.Fatalf("Failed to stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0755 {
		t.Errorf("Existing directory permissions changed to %04o", perm)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()

	// Create test file
	testFile := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"existing file", testFile, true},
		{"directory", tmpDir, false},
		{"nonexistent", filepath.Join(tmpDir, "nope.txt"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileExists(tt.path); got != tt.want {
				t.Errorf("FileExists() = %v, want %v", got, tt.want)
			}
		})
	}
}
