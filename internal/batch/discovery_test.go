package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.jpg"))
	touch(t, filepath.Join(dir, "b.PNG"))
	touch(t, filepath.Join(dir, "readme.md"))
	touch(t, filepath.Join(dir, "nested", "c.jpg"))
	touch(t, filepath.Join(dir, "thumb_a.jpg"))
	explicit := filepath.Join(dir, "nested", "doc.pdf")
	touch(t, explicit)

	tests := []struct {
		name      string
		paths     []string
		recursive bool
		include   []string
		exclude   []string
		want      []string
	}{
		{
			name:  "flat directory",
			paths: []string{dir},
			want:  []string{"a.jpg", "b.PNG", "thumb_a.jpg"},
		},
		{
			name:      "recursive",
			paths:     []string{dir},
			recursive: true,
			want:      []string{"a.jpg", "b.PNG", "nested/c.jpg", "thumb_a.jpg"},
		},
		{
			name:    "exclude pattern",
			paths:   []string{dir},
			exclude: []string{"thumb_*"},
			want:    []string{"a.jpg", "b.PNG"},
		},
		{
			name:    "include pattern",
			paths:   []string{dir},
			include: []string{"*.jpg"},
			want:    []string{"a.jpg", "thumb_a.jpg"},
		},
		{
			name:  "explicit file is kept",
			paths: []string{explicit},
			want:  []string{"nested/doc.pdf"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Discover(tt.paths, tt.recursive, tt.include, tt.exclude)
			require.NoError(t, err)
			rel := make([]string, 0, len(got))
			for _, p := range got {
				r, err := filepath.Rel(dir, p)
				require.NoError(t, err)
				rel = append(rel, filepath.ToSlash(r))
			}
			assert.Equal(t, tt.want, rel)
		})
	}
}

func TestDiscoverMissingPath(t *testing.T) {
	_, err := Discover([]string{filepath.Join(t.TempDir(), "missing")}, false, nil, nil)
	require.ErrorContains(t, err, "cannot access")
}

func TestShouldIncludeFile(t *testing.T) {
	assert.True(t, shouldIncludeFile("x/a.jpg", nil, nil))
	assert.False(t, shouldIncludeFile("x/a.jpg", nil, []string{"a.*"}))
	assert.False(t, shouldIncludeFile("x/a.jpg", []string{"*.png"}, nil))
	assert.False(t, shouldIncludeFile("x/a.jpg", []string{"*.jpg"}, []string{"a.jpg"}))
}
