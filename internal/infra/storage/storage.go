// Package storage persists files uploaded to the reference backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage stores uploaded objects under a key such as "documents/manual.pdf".
type Storage interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
}

// ErrInvalidKey rejects keys that are empty or would escape the store root.
var ErrInvalidKey = errors.New("storage: invalid object key")

// CleanKey normalizes key to a relative slash path.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(filepath.ToSlash(key))
	clean := filepath.ToSlash(filepath.Clean("/" + key))[1:]
	if clean == "" || clean != strings.TrimPrefix(key, "/") || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}

// LocalStorage writes objects below a directory.
type LocalStorage struct {
	Root string
}

// NewLocalStorage creates root if needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", root, err)
	}
	return &LocalStorage{Root: root}, nil
}

func (s *LocalStorage) Upload(ctx context.Context, key, _ string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := CleanKey(key)
	if err != nil {
		return err
	}
	path := filepath.Join(s.Root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage: create dir: %w", err)
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", clean, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: commit %s: %w", clean, err)
	}
	return nil
}
