// Package storage holds the media stores behind the extdata importer.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const localStagingDir = ".staging"

// LocalStore keeps media files below a directory. Staged files live in
// .staging/<import id> and are renamed into place on promotion.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	root = filepath.Clean(root)
	if err := os.MkdirAll(filepath.Join(root, localStagingDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") || strings.HasPrefix(clean, localStagingDir) {
		return "", fmt.Errorf("invalid media key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *LocalStore) stagingDir(importID string) string {
	return filepath.Join(s.root, localStagingDir, importID)
}

func (s *LocalStore) Stage(ctx context.Context, importID, key string, r io.ReadSeeker, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.path(key); err != nil {
		return err
	}
	dst := filepath.Join(s.stagingDir(importID), filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *LocalStore) Promote(ctx context.Context, importID string, keys []string) error {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst, err := s.path(key)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		src := filepath.Join(s.stagingDir(importID), filepath.FromSlash(key))
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("failed to promote %s: %w", key, err)
		}
	}
	return os.RemoveAll(s.stagingDir(importID))
}

func (s *LocalStore) Discard(_ context.Context, importID string) error {
	return os.RemoveAll(s.stagingDir(importID))
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the keys of all promoted files.
func (s *LocalStore) List(_ context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == localStagingDir && filepath.Dir(p) == s.root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list media directory: %w", err)
	}
	return keys, nil
}
