package variables

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cameronsjo/stackrender/internal/fileutil"
	"github.com/cameronsjo/stackrender/internal/ui"
)

// Loader assembles the variable set for one run.
type Loader struct {
	variablesFile string
	secretsFile   string
	environ       func() []string
	decryptor     Decryptor
}

// LoaderOption is a functional option for configuring the Loader.
type LoaderOption func(*Loader)

// WithSecretsFile sets the SOPS overlay path. Missing files are skipped.
func WithSecretsFile(path string) LoaderOption {
	return func(l *Loader) {
		l.secretsFile = path
	}
}

// WithEnviron sets the environment source. Defaults to os.Environ.
func WithEnviron(environ func() []string) LoaderOption {
	return func(l *Loader) {
		l.environ = environ
	}
}

// WithDecryptor sets the Decryptor implementation.
func WithDecryptor(d Decryptor) LoaderOption {
	return func(l *Loader) {
		l.decryptor = d
	}
}

// NewLoader creates a Loader reading variablesFile.
func NewLoader(variablesFile string, opts ...LoaderOption) *Loader {
	l := &Loader{
		variablesFile: variablesFile,
		environ:       os.Environ,
		decryptor:     NewSOPSDecryptor(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load reads the variables file, applies the secrets overlay when present,
// then overrides with the environment.
func (l *Loader) Load(ctx context.Context) (Set, error) {
	base, err := LoadFile(l.variablesFile)
	switch {
	case errors.Is(err, ErrNotFound):
		ui.Warning("%s not found. Proceeding without it.", filepath.Base(l.variablesFile))
		base = Set{}
	case err != nil:
		return nil, err
	default:
		ui.Info("Loaded variables from %s", l.variablesFile)
	}

	if l.secretsFile != "" && fileutil.Exists(l.secretsFile) {
		secrets, err := l.loadSecrets(ctx)
		if err != nil {
			return nil, err
		}
		base = DeepMerge(base, secrets)
		ui.Info("Decrypted secrets from %s", l.secretsFile)
	}

	merged := Merge(base, FromEnviron(l.environ()))
	ui.Info("Environment variables loaded and overridden if necessary")

	return merged, nil
}

func (l *Loader) loadSecrets(ctx context.Context) (Set, error) {
	data, err := l.decryptor.Decrypt(ctx, l.secretsFile)
	if err != nil {
		return nil, err
	}

	secrets, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.secretsFile, err)
	}
	return secrets, nil
}
