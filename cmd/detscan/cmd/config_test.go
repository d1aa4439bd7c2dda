package cmd

import (
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/detscan/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateCommand(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "schema up to date (sqlite)", out)
	assert.FileExists(t, env.dbPath)
}

func TestConfigShow(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "results_root: "+env.resultsDir)
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "hunter2")

	out, err = env.run(t, "config", "show", "--results-root", "/tmp/elsewhere")
	require.NoError(t, err)
	assert.Contains(t, out, "results_root: /tmp/elsewhere")
}

func TestConfigInit(t *testing.T) {
	env := newCLIEnv(t)
	target := filepath.Join(env.dir, "generated.yaml")

	out, err := env.run(t, "config", "init", target)
	require.NoError(t, err)
	assert.Equal(t, "wrote "+target, out)

	cfg, err := config.NewIsolatedLoader().LoadWithFile(target)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Artifacts.ResultsRoot, cfg.Artifacts.ResultsRoot)
}

func TestCheckCommand(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ detector")
	assert.Contains(t, out, "✓ text recognition")
	assert.Contains(t, out, "All backends are ready.")
}
