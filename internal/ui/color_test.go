package ui

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

// captureOutput swaps Output for a buffer and disables colors for the duration of fn.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	oldNoColor := color.NoColor
	oldOutput := Output
	color.NoColor = true

	var buf bytes.Buffer
	Output = &buf

	t.Cleanup(func() {
		color.NoColor = oldNoColor
		Output = oldOutput
	})

	fn()
	return buf.String()
}

func TestSuccess(t *testing.T) {
	output := captureOutput(t, func() {
		Success("Rendered %s to %s", "environment.j2", "stack.env")
	})
	assert.Equal(t, "✓ Rendered environment.j2 to stack.env\n", output)
}

func TestError(t *testing.T) {
	output := captureOutput(t, func() {
		Error("render failed: %v", "boom")
	})
	assert.Contains(t, output, "✗")
	assert.Contains(t, output, "render failed: boom")
}

func TestWarning(t *testing.T) {
	output := captureOutput(t, func() {
		Warning("variables.yaml not found. Proceeding without it.")
	})
	assert.Equal(t, "⚠ variables.yaml not found. Proceeding without it.\n", output)
}

func TestInfo(t *testing.T) {
	output := captureOutput(t, func() {
		Info("Loaded variables from %s", "template/variables.yaml")
	})
	assert.Equal(t, "Loaded variables from template/variables.yaml\n", output)
}

func TestDetail(t *testing.T) {
	output := captureOutput(t, func() {
		Detail("trace line")
	})
	assert.Equal(t, "trace line\n", output)
}

func TestBanner(t *testing.T) {
	captureOutput(t, func() {
		var buf bytes.Buffer
		Banner(&buf, "%s", "docker-compose.yaml")
		assert.Equal(t, "--- docker-compose.yaml ---\n", buf.String())
	})
}

func TestPlain(t *testing.T) {
	var buf bytes.Buffer
	Plain(&buf, "%d lines\n", 3)
	assert.Equal(t, "3 lines\n", buf.String())
}
