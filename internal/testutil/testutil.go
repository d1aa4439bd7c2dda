package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// ResultDirs creates a media root and a results root below a fresh temp dir.
func ResultDirs(t *testing.T) (mediaRoot, resultsRoot string) {
	t.Helper()

	base := t.TempDir()
	mediaRoot = filepath.Join(base, "media")
	resultsRoot = filepath.Join(base, "results")
	require.NoError(t, EnsureDir(mediaRoot))
	require.NoError(t, EnsureDir(resultsRoot))
	return mediaRoot, resultsRoot
}

// ListDir returns the entry names of a directory, or nil if it does not exist.
func ListDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o750)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// DirExists checks if a directory exists.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return !os.IsNotExist(err) && info.IsDir()
}
