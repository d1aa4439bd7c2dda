package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/MeKo-Tech/detscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchCommand(t *testing.T) {
	env := newCLIEnv(t)
	photos := filepath.Join(env.dir, "photos")
	testutil.WriteSceneJPEG(t, photos, "a.jpg", testutil.SmallSize)
	testutil.WriteSceneJPEG(t, photos, "b.jpg", testutil.SmallSize)
	testutil.WriteSceneJPEG(t, filepath.Join(photos, "nested"), "c.jpg", testutil.SmallSize)

	out, err := env.run(t, "batch", photos, "--format", "json", "--workers", "2", "--recursive")
	require.NoError(t, err)

	var decoded struct {
		Images []struct {
			File string            `json:"file"`
			Run  *pipeline.RunView `json:"run"`
		} `json:"images"`
		Succeeded int `json:"succeeded"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded), out)
	assert.Equal(t, 3, decoded.Succeeded)
	ids := map[string]bool{}
	for _, img := range decoded.Images {
		require.NotNil(t, img.Run, img.File)
		require.Len(t, img.Run.Detections, 1)
		ids[img.Run.ID] = true
	}
	assert.Len(t, ids, 3)
	assert.Len(t, testutil.ListDir(t, env.resultsDir), 3)
}

func TestBatchCommandReportsFailures(t *testing.T) {
	env := newCLIEnv(t)
	good := testutil.WriteSceneJPEG(t, env.dir, "good.jpg", testutil.SmallSize)
	bad := filepath.Join(env.dir, "broken.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("not a jpeg"), 0o600))

	out, err := env.run(t, "batch", good, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 files failed")
	assert.Contains(t, out, "# "+good)
	assert.Contains(t, out, "# "+bad+"\nerror:")

	_, err = env.run(t, "batch", good, bad, "--allow-failures")
	require.NoError(t, err)
}

func TestBatchCommandOutputFile(t *testing.T) {
	env := newCLIEnv(t)
	img := testutil.WriteSceneJPEG(t, env.dir, "a.jpg", testutil.SmallSize)
	dest := filepath.Join(env.dir, "out.csv")

	out, err := env.run(t, "batch", img, "--format", "csv", "--output", dest)
	require.NoError(t, err)
	assert.Equal(t, "Results written to "+dest, out)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], ",sign,0.912,40.3,60.0,200.6,121.0,STOP,")
}

func TestBatchCommandErrors(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "batch")
	require.Error(t, err)

	_, err = env.run(t, "batch", t.TempDir())
	require.EqualError(t, err, "no image files found")

	_, err = env.run(t, "batch", env.dir, "--workers", "0")
	require.ErrorContains(t, err, "batch workers")
}
