package framestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// containedPath ensures that the resolved path stays within basePath.
func containedPath(basePath, untrustedPath string) (string, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	joined := filepath.Join(absBase, filepath.FromSlash(untrustedPath))
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q resolves outside base %q", untrustedPath, absBase)
	}
	return absJoined, nil
}

// LocalStore writes frames below a directory on a local or mounted
// filesystem.
type LocalStore struct {
	BasePath string
}

func NewLocalStore(basePath string) *LocalStore {
	return &LocalStore{BasePath: filepath.Clean(basePath)}
}

// Put writes r to a temporary file next to the target and renames it into
// place, so readers never observe a partial frame.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, _ string) error {
	if s.BasePath == "" {
		return errors.New("local store base path is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := containedPath(s.BasePath, key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".deskcap-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func (s *LocalStore) Close() error {
	return nil
}
