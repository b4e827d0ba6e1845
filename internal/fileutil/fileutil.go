// Package fileutil provides common file operations.
package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultFilePerms is the mode given to files that do not exist yet.
const DefaultFilePerms = 0644

// ErrMissingDest indicates an empty destination path.
var ErrMissingDest = errors.New("missing destination")

// ErrIsDirectory indicates the destination is a directory.
var ErrIsDirectory = errors.New("destination is a directory")

// WriteFile replaces the contents of path with data.
// The file is truncated in place rather than renamed over, so bind-mounted
// targets and existing permissions survive. Parent directories are created.
func WriteFile(path string, data []byte) error {
	if path == "" {
		return ErrMissingDest
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return fmt.Errorf("%s: %w", path, ErrIsDirectory)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, DefaultFilePerms)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write content: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync destination: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}

	return nil
}

// ReadIfExists returns the contents of path and whether it existed.
// A missing file is not an error.
func ReadIfExists(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
