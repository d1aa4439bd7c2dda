package cmd

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/detscan/internal/artifacts"
	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/MeKo-Tech/detscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *cliEnv) analyze(t *testing.T) *pipeline.RunView {
	t.Helper()

	img := testutil.WriteSceneJPEG(t, e.dir, "scene.jpg", testutil.SmallSize)
	out, err := e.run(t, "analyze", img)
	require.NoError(t, err)

	var view pipeline.RunView
	require.NoError(t, json.Unmarshal([]byte(out), &view), out)
	return &view
}

func TestAnalyzeCommand(t *testing.T) {
	env := newCLIEnv(t)

	view := env.analyze(t)
	require.Len(t, view.Detections, 1)
	d := view.Detections[0]
	assert.Equal(t, 1, d.ID)
	assert.Equal(t, "sign", d.Class)
	assert.InDelta(t, 0.912, d.Confidence, 1e-9)
	assert.Equal(t, "STOP", d.OCRText)
	assert.NotNil(t, view.AnalyzedAt)

	assert.Equal(t, env.resultsDir, filepath.Dir(view.ResultDir))
	for _, name := range []string{artifacts.ReportFile, artifacts.AnnotatedFile, artifacts.OriginalFile} {
		assert.FileExists(t, filepath.Join(view.ResultDir, name))
	}
	assert.Len(t, testutil.ListDir(t, filepath.Join(env.mediaDir, artifacts.UploadsDir)), 1)
}

func TestAnalyzeCommandTextFormat(t *testing.T) {
	env := newCLIEnv(t)
	img := testutil.WriteSceneJPEG(t, env.dir, "scene.jpg", testutil.SmallSize)

	out, err := env.run(t, "analyze", img, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "(uploads/")
	assert.Contains(t, out, `1. sign 0.912 [40.3, 60.0, 200.6, 121.0] "STOP"`)
}

func TestAnalyzeCommandErrors(t *testing.T) {
	env := newCLIEnv(t)
	img := testutil.WriteSceneJPEG(t, env.dir, "scene.jpg", testutil.SmallSize)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no args", []string{"analyze"}, "accepts 1 arg"},
		{"bad format", []string{"analyze", img, "--format", "xml"}, "unsupported format"},
		{"missing file", []string{"analyze", filepath.Join(env.dir, "missing.jpg")}, "no such file"},
		{"unsupported extension", []string{"analyze", filepath.Join(env.dir, "doc.pdf")}, "unsupported format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
