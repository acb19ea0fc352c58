// Package blobstore is a content-addressable file store. Files are keyed by
// the hex SHA-256 of their bytes, which makes Put idempotent and identical
// payloads dedup to a single entry no matter how many documents carry them.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Store writes blobs under a single directory, one file per distinct content.
// All methods are safe for concurrent use: content-addressing means two
// writers racing on the same bytes produce the same file.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates the backing directory if needed. A directory that cannot be
// created is the one failure that should abort a crawl run at startup.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create dir %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Put stores content and returns its key. Nil or empty content returns ""
// without side effects. If a file for the hash already exists the existing
// key is returned without rewriting.
func (s *Store) Put(content []byte) (string, error) {
	if len(content) == 0 {
		return "", nil
	}
	sum := sha256.Sum256(content)
	key := hex.EncodeToString(sum[:])
	path := filepath.Join(s.dir, key)

	if _, err := os.Stat(path); err == nil {
		return key, nil
	}

	// Write through a temp file and rename so a concurrent Get never
	// observes a partial blob.
	tmp, err := os.CreateTemp(s.dir, "put-*")
	if err != nil {
		return "", fmt.Errorf("blobstore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("blobstore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("blobstore: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("blobstore: rename: %w", err)
	}
	return key, nil
}

// Get returns the content for key, or nil when the key is empty or the blob
// is missing. "Not found" is never an error.
func (s *Store) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	content, err := os.ReadFile(filepath.Join(s.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", key, err)
	}
	return content, nil
}

// Remove deletes the blob for key. Best effort: failures are logged and
// reported as false, never raised.
func (s *Store) Remove(key string) bool {
	if key == "" {
		return false
	}
	if err := os.Remove(filepath.Join(s.dir, key)); err != nil {
		s.logger.Warn("blobstore: remove failed", "key", key, "error", err)
		return false
	}
	return true
}
