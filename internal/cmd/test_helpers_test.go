package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/cameronsjo/stackrender/internal/ui"
)

// newTestCmd returns a fresh root command writing to buf.
// A new command per test keeps flag values from leaking between executions.
func newTestCmd(t *testing.T, args ...string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	buf := new(bytes.Buffer)
	cmd := newRootCmd()
	// Empty slice, not nil, which would use os.Args
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return cmd, buf
}

// executeCmd executes a fresh root command with the given args and returns the output.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd, buf := newTestCmd(t, args...)
	err := cmd.Execute()
	return buf.String(), err
}

// captureLog redirects ui output into a buffer for the duration of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	oldOutput, oldNoColor := ui.Output, color.NoColor
	ui.Output, color.NoColor = &buf, true
	t.Cleanup(func() {
		ui.Output, color.NoColor = oldOutput, oldNoColor
	})
	return &buf
}

// writeProject creates a project directory holding the given template files.
func writeProject(t *testing.T, templates map[string]string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "template")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range templates {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return root
}

func readOutput(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, name))
	require.NoError(t, err)
	return string(data)
}
