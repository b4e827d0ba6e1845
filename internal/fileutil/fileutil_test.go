package fileutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile(t *testing.T) {
	t.Run("creates new file", func(t *testing.T) {
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "stack.env")

		require.NoError(t, WriteFile(path, []byte("PORT=8080\n")))

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "PORT=8080\n", string(content))
	})

	t.Run("truncates longer existing content", func(t *testing.T) {
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "docker-compose.yaml")
		require.NoError(t, os.WriteFile(path, []byte("services:\n  old: {}\n  older: {}\n"), 0644))

		require.NoError(t, WriteFile(path, []byte("services: {}\n")))

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "services: {}\n", string(content))
	})

	t.Run("preserves existing permissions", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("unix permissions")
		}
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "stack.env")
		require.NoError(t, os.WriteFile(path, []byte("old"), 0600))
		require.NoError(t, os.Chmod(path, 0600))

		require.NoError(t, WriteFile(path, []byte("new")))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("creates parent directories", func(t *testing.T) {
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "deep", "nested", "out.yaml")

		require.NoError(t, WriteFile(path, []byte("x")))
		assert.FileExists(t, path)
	})

	t.Run("empty path", func(t *testing.T) {
		err := WriteFile("", []byte("x"))
		assert.ErrorIs(t, err, ErrMissingDest)
	})

	t.Run("directory destination", func(t *testing.T) {
		tmpDir := t.TempDir()
		err := WriteFile(tmpDir, []byte("x"))
		assert.ErrorIs(t, err, ErrIsDirectory)
	})
}

func TestReadIfExists(t *testing.T) {
	t.Run("existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "a.txt")
		require.NoError(t, os.WriteFile(path, []byte("content"), 0644))

		data, ok, err := ReadIfExists(path)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "content", string(data))
	})

	t.Run("missing file", func(t *testing.T) {
		data, ok, err := ReadIfExists(filepath.Join(t.TempDir(), "missing.txt"))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, data)
	})

	t.Run("directory", func(t *testing.T) {
		_, _, err := ReadIfExists(t.TempDir())
		assert.Error(t, err)
	})
}

func TestExists(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "file")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	assert.True(t, Exists(path))
	assert.False(t, Exists(tmpDir))
	assert.False(t, Exists(filepath.Join(tmpDir, "nope")))
}
