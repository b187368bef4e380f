package store

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

const bundleArchiveName = "bundle.tar.gz"

// FSStateStore implements StateStore on the local filesystem. Each bot
// owns a directory under the configured root.
type FSStateStore struct {
	root   string
	logger *zap.Logger
}

// NewFSStateStore creates a filesystem state store rooted at dir
func NewFSStateStore(root string, logger *zap.Logger) (*FSStateStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state root %s: %w", root, err)
	}
	return &FSStateStore{root: root, logger: logger}, nil
}

// botDir resolves the directory owned by one bot
func (s *FSStateStore) botDir(botID string) string {
	return filepath.Join(s.root, botID)
}

// resolve joins a bot-relative path and rejects traversal outside the
// bot's directory.
func (s *FSStateStore) resolve(botID, rel string) (string, error) {
	full := filepath.Join(s.botDir(botID), filepath.FromSlash(rel))
	if !strings.HasPrefix(full, s.botDir(botID)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid path %q for bot %s", rel, botID)
	}
	return full, nil
}

// List returns the relative paths of all files owned by a bot
func (s *FSStateStore) List(ctx context.Context, botID string) ([]string, error) {
	dir := s.botDir(botID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var paths []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list state for bot %s: %w", botID, err)
	}
	return paths, nil
}

// ReadAll reads one file of a bot's state
func (s *FSStateStore) ReadAll(ctx context.Context, botID, rel string) ([]byte, error) {
	full, err := s.resolve(botID, rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s for bot %s: %w", rel, botID, err)
	}
	return data, nil
}

// WriteAll writes one file of a bot's state, creating parent directories
func (s *FSStateStore) WriteAll(ctx context.Context, botID, rel string, data []byte) error {
	full, err := s.resolve(botID, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s for bot %s: %w", rel, botID, err)
	}
	return nil
}

// ExportArchive packs a bot's state into a tar.gz blob. An empty
// includeGlobs exports everything; otherwise a file is included when
// any glob matches its relative path.
func (s *FSStateStore) ExportArchive(ctx context.Context, botID string, includeGlobs []string) ([]byte, error) {
	paths, err := s.List(ctx, botID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, rel := range paths {
		if !matchesAny(rel, includeGlobs) {
			continue
		}
		data, err := s.ReadAll(ctx, botID, rel)
		if err != nil {
			return nil, err
		}
		hdr := &tar.Header{
			Name:    rel,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("failed to write tar header for %s: %w", rel, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write tar entry for %s: %w", rel, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportFromArchive restores a bot's state from a tar.gz blob produced
// by ExportArchive. Entries escaping the bot directory are rejected.
func (s *FSStateStore) ImportFromArchive(ctx context.Context, botID string, data []byte) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("corrupt archive for bot %s: %w", botID, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt archive for bot %s: %w", botID, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("corrupt archive entry %s: %w", hdr.Name, err)
		}
		if err := s.WriteAll(ctx, botID, hdr.Name, content); err != nil {
			return err
		}
	}
}

// DeleteAll removes every file owned by a bot
func (s *FSStateStore) DeleteAll(ctx context.Context, botID string) error {
	if err := os.RemoveAll(s.botDir(botID)); err != nil {
		return fmt.Errorf("failed to delete state for bot %s: %w", botID, err)
	}
	return nil
}

// CopyAll duplicates a bot's full state under another bot ID
func (s *FSStateStore) CopyAll(ctx context.Context, srcBotID, dstBotID string) error {
	paths, err := s.List(ctx, srcBotID)
	if err != nil {
		return err
	}
	for _, rel := range paths {
		data, err := s.ReadAll(ctx, srcBotID, rel)
		if err != nil {
			return err
		}
		if err := s.WriteAll(ctx, dstBotID, rel, data); err != nil {
			return err
		}
	}
	return nil
}

// ExtractBundle unpacks the bot's packaged dependency archive, if one
// is present and not already extracted. Safe to call on every mount.
func (s *FSStateStore) ExtractBundle(ctx context.Context, botID string) error {
	archivePath, err := s.resolve(botID, bundleArchiveName)
	if err != nil {
		return err
	}
	if _, err := os.Stat(archivePath); os.IsNotExist(err) {
		return nil
	}

	markerPath := filepath.Join(s.botDir(botID), ".bundle-extracted")
	if _, err := os.Stat(markerPath); err == nil {
		return nil
	}

	data, err := os.ReadFile(archivePath)
	if err != nil {
		return fmt.Errorf("failed to read bundle for bot %s: %w", botID, err)
	}
	if err := s.ImportFromArchive(ctx, botID, data); err != nil {
		return fmt.Errorf("failed to extract bundle for bot %s: %w", botID, err)
	}
	if err := os.WriteFile(markerPath, []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
		return fmt.Errorf("failed to mark bundle extracted for bot %s: %w", botID, err)
	}

	s.logger.Info("Extracted dependency bundle", zap.String("bot_id", botID))
	return nil
}

// matchesAny reports whether rel matches any of the globs. An empty
// glob list matches everything.
func matchesAny(rel string, globs []string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if ok, err := path.Match(g, rel); err == nil && ok {
			return true
		}
	}
	return false
}
