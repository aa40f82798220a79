package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs a cobra command with args and returns captured output.
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "headless")
	assert.Contains(t, names, "version")

	for _, flag := range []string{"config", "log-level", "stream", "plugins"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(newRootCmd(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "hostshim dev")
	assert.Contains(t, out, "Commit: unknown")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := executeCommand(newRootCmd(), "--log-level", "loud", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestHeadless_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostshim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: xml\n"), 0o644))

	_, err := executeCommand(newRootCmd(), "headless", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize")
}

func TestHeadless_StopsWithContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostshim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: json\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	root := newRootCmd()
	root.SetArgs([]string{"headless", "--config", path, "--plugins", t.TempDir()})
	assert.NoError(t, root.ExecuteContext(ctx))
}
