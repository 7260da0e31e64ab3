package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// FileProvider reads secrets from files in a directory, one file per secret,
// the file name being the secret name. Trailing whitespace is trimmed, which
// tolerates editor-added final newlines. Fits tmpfs-mounted secret volumes.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a file provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func (p *FileProvider) path(name string) string {
	// Secret names never traverse out of the root.
	return filepath.Join(p.dir, filepath.Base(name))
}

// GetSecret reads the secret file.
func (p *FileProvider) GetSecret(ctx context.Context, name string) (string, error) {
	raw, err := os.ReadFile(p.path(name))
	if os.IsNotExist(err) {
		return "", &LookupError{Name: name, Source: p.Source(), Err: ErrSecretNotFound}
	}
	if err != nil {
		return "", &LookupError{Name: name, Source: p.Source(), Err: err}
	}
	value := strings.TrimRight(string(raw), "\r\n ")
	if value == "" {
		return "", &LookupError{Name: name, Source: p.Source(), Err: ErrSecretNotFound}
	}
	return value, nil
}

// ListSecrets returns the file names in the secret directory.
func (p *FileProvider) ListSecrets(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (p *FileProvider) Source() string { return "file" }

// Supports reports whether the secret file exists.
func (p *FileProvider) Supports(name string) bool {
	info, err := os.Stat(p.path(name))
	return err == nil && !info.IsDir()
}
