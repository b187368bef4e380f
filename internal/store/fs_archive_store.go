package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FSArchiveStore implements the global archive namespace on the local
// filesystem as a flat directory of blobs.
type FSArchiveStore struct {
	root   string
	logger *zap.Logger
}

// NewFSArchiveStore creates a filesystem archive store rooted at dir
func NewFSArchiveStore(root string, logger *zap.Logger) (*FSArchiveStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive root %s: %w", root, err)
	}
	return &FSArchiveStore{root: root, logger: logger}, nil
}

// entryPath resolves an archive entry name to a file path, rejecting
// names that escape the archive root.
func (s *FSArchiveStore) entryPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("invalid archive entry name %q", name)
	}
	return filepath.Join(s.root, name), nil
}

// Put stores an archive entry
func (s *FSArchiveStore) Put(ctx context.Context, name string, data []byte) error {
	p, err := s.entryPath(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive entry %s: %w", name, err)
	}
	return nil
}

// Get retrieves an archive entry
func (s *FSArchiveStore) Get(ctx context.Context, name string) ([]byte, error) {
	p, err := s.entryPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archive entry %s: %w", name, err)
	}
	return data, nil
}

// List returns all entry names with the given prefix
func (s *FSArchiveStore) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Delete removes an archive entry
func (s *FSArchiveStore) Delete(ctx context.Context, name string) error {
	p, err := s.entryPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete archive entry %s: %w", name, err)
	}
	return nil
}
