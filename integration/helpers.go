//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// outPlaceholder in fixture definitions is replaced with a per-test directory
const outPlaceholder = "__OUT__"

// FixturesDir returns the path to the fixtures directory
func FixturesDir(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(filename), "fixtures")
}

// DefinitionsDir returns the path to the definition fixtures
func DefinitionsDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(FixturesDir(t), "definitions")
}

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// TempConfigPath creates a temporary config file path for testing
func TempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.toml")
}

// CopyFixturesToTemp copies the definition fixtures to a temp directory,
// pointing their outputs at outDir.
func CopyFixturesToTemp(t *testing.T, outDir string) string {
	t.Helper()
	src := DefinitionsDir(t)
	dst := filepath.Join(t.TempDir(), "definitions")

	if err := copyDir(src, dst, outDir); err != nil {
		t.Fatalf("Failed to copy fixtures: %v", err)
	}

	return dst
}

// copyDir recursively copies a directory, substituting outPlaceholder
func copyDir(src, dst, outDir string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Get relative path
		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		targetPath := filepath.Join(dst, relPath)

		if info.IsDir() {
			return os.MkdirAll(targetPath, 0755)
		}

		// Copy file
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		data = []byte(strings.ReplaceAll(string(data), outPlaceholder, outDir))

		return os.WriteFile(targetPath, data, 0644)
	})
}
