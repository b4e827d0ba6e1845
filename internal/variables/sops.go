package variables

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/getsops/sops/v3/decrypt"
)

// Decryptor turns an encrypted variables file into cleartext YAML or JSON.
type Decryptor interface {
	Decrypt(ctx context.Context, path string) ([]byte, error)
}

// SOPSDecryptor decrypts SOPS files in-process using the keys available to
// the sops library (age, PGP, cloud KMS) from the environment.
type SOPSDecryptor struct{}

// NewSOPSDecryptor creates a new SOPSDecryptor.
func NewSOPSDecryptor() *SOPSDecryptor {
	return &SOPSDecryptor{}
}

// Decrypt decrypts path, choosing the sops store from the file extension.
func (d *SOPSDecryptor) Decrypt(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := decrypt.File(path, storeFormat(path))
	if err != nil {
		return nil, fmt.Errorf("sops decrypt failed for %s: %w", path, err)
	}
	return data, nil
}

// storeFormat maps a file name to a sops store. Both stores produce
// documents Parse understands.
func storeFormat(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "json"
	}
	return "yaml"
}
