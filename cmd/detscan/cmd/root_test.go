package cmd

import (
	"bytes"
	"testing"

	"github.com/MeKo-Tech/detscan/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := GetRootCommand()
	assert.Equal(t, "detscan", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, expected := range []string{"serve", "analyze", "runs", "migrate", "config", "check"} {
		assert.Contains(t, names, expected)
	}
}

func TestRootCommandHelp(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Available Commands:")
	assert.Contains(t, out, "detscan analyze street.jpg")
}

func TestRootCommandVersion(t *testing.T) {
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), version.Version)
}

func TestRootCommandInvalidFlag(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "--invalid-flag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestMissingConfigFile(t *testing.T) {
	root := newRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"--config", "/nonexistent/detscan.yaml", "migrate"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file does not exist")
}
