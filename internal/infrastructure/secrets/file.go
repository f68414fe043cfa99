package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/daybook-io/daybook-auth/pkg/errors"
)

// FileBackend stores secrets as individual files under a base directory,
// for local development. Files are written 0600 under a 0700 directory.
// Secret paths are hashed into filenames so path separators and other
// special characters cannot escape the base directory.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the base directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) filename(path string) string {
	sum := sha256.Sum256([]byte(path))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:])+".secret")
}

func (f *FileBackend) Fetch(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(f.filename(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}

func (f *FileBackend) Store(_ context.Context, path, value string) error {
	// Write-then-rename so a crash never leaves a partial secret.
	name := f.filename(path)
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, name)
}

func (f *FileBackend) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(f.filename(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *FileBackend) Delete(_ context.Context, path string) error {
	err := os.Remove(f.filename(path))
	if os.IsNotExist(err) {
		return errors.ErrNotFound
	}
	return err
}
