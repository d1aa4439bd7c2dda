package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/detscan/internal/detector"
	"github.com/MeKo-Tech/detscan/internal/recognizer"
	"github.com/stretchr/testify/require"
)

type stubModel struct{}

func (stubModel) Predict(context.Context, image.Image) ([]detector.Detection, error) {
	return []detector.Detection{{
		Label:      "sign",
		Confidence: 0.91234,
		Box:        detector.Box{X1: 40.26, Y1: 60.04, X2: 200.57, Y2: 120.96},
	}}, nil
}

func (stubModel) Close() error { return nil }

type stubEngine struct{}

func (stubEngine) Recognize(context.Context, []byte) ([]string, error) {
	return []string{"STOP"}, nil
}

func (stubEngine) Close() error { return nil }

// cliEnv is a temp workspace with a config file pointing every store into it.
type cliEnv struct {
	dir        string
	configPath string
	dbPath     string
	resultsDir string
	mediaDir   string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	prevDet, prevEng := detectorFactory, engineFactory
	detectorFactory = func(detector.Config) (detector.Model, error) { return stubModel{}, nil }
	engineFactory = func(recognizer.Config) (recognizer.Engine, error) { return stubEngine{}, nil }
	t.Cleanup(func() { detectorFactory, engineFactory = prevDet, prevEng })

	dir := t.TempDir()
	env := &cliEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "detscan.yaml"),
		dbPath:     filepath.Join(dir, "detscan.db"),
		resultsDir: filepath.Join(dir, "results"),
		mediaDir:   filepath.Join(dir, "media"),
	}
	content := fmt.Sprintf(`log_level: error
store:
  driver: sqlite
  dsn: %s
  auto_migrate: true
artifacts:
  media_root: %s
  results_root: %s
  mirror:
    secret_key: hunter2
`, env.dbPath, env.mediaDir, env.resultsDir)
	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0o600))
	return env
}

// run executes a fresh command tree and returns stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.Execute()
	return strings.TrimSpace(out.String()), err
}
