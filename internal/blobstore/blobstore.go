// Package blobstore uploads finished recordings and returns a URL for the
// interview record.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store uploads data under key and returns a URL for it.
type Store interface {
	Upload(ctx context.Context, data []byte, key, contentType string) (string, error)
}

var ErrInvalidKey = errors.New("invalid blob key")

// DirStore keeps blobs on the local filesystem.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) *DirStore {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join("data", "recordings")
	}
	return &DirStore{dir: dir}
}

func (s *DirStore) Upload(ctx context.Context, data []byte, key, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean(key)
	if key == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	path := filepath.Join(s.dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}
