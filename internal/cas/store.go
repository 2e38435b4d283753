// Package cas implements a content-addressable blob store keyed by the
// SHA-256 hash of the stored bytes, sharded two hex characters deep.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// MaxBlobSize is the largest blob the store will accept (10 MiB).
const MaxBlobSize = 10 * 1024 * 1024

// ErrFileTooLarge is returned by Store when content exceeds MaxBlobSize.
type ErrFileTooLarge struct {
	Actual int
	Limit  int
}

func (e *ErrFileTooLarge) Error() string {
	return fmt.Sprintf("content too large for CAS (%d bytes, max %d)", e.Actual, e.Limit)
}

// ErrBlobNotFound is returned by Get when the hash is not present.
type ErrBlobNotFound struct {
	Hash string
}

func (e *ErrBlobNotFound) Error() string {
	return fmt.Sprintf("CAS blob not found: %s", e.Hash)
}

// Store is a SHA-256-keyed, shard-directory blob store. Writes are
// idempotent: storing identical content twice never rewrites the blob.
// Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	base string
}

// New creates (if needed) the base directory and returns a Store rooted there.
func New(base string) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create CAS directory: %w", err)
	}
	return &Store{base: base}, nil
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *Store) blobPath(hash string) (string, error) {
	if len(hash) < 3 {
		return "", fmt.Errorf("invalid hash: %q", hash)
	}
	return filepath.Join(s.base, hash[:2], hash), nil
}

// Store writes content to the blob store and returns its hex hash.
// If a blob with that hash already exists, the write is skipped.
func (s *Store) Store(data []byte) (string, error) {
	if len(data) > MaxBlobSize {
		return "", &ErrFileTooLarge{Actual: len(data), Limit: MaxBlobSize}
	}

	hash := hashHex(data)
	path, err := s.blobPath(hash)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create CAS shard dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write CAS blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename CAS blob: %w", err)
	}
	return hash, nil
}

// Get returns the content stored under hash.
func (s *Store) Get(hash string) ([]byte, error) {
	path, err := s.blobPath(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrBlobNotFound{Hash: hash}
		}
		return nil, fmt.Errorf("read CAS blob: %w", err)
	}
	return data, nil
}

// Open returns a reader for the blob, avoiding a full in-memory copy.
func (s *Store) Open(hash string) (io.ReadCloser, error) {
	path, err := s.blobPath(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrBlobNotFound{Hash: hash}
		}
		return nil, fmt.Errorf("open CAS blob: %w", err)
	}
	return f, nil
}

// Exists reports whether a blob for hash is present.
func (s *Store) Exists(hash string) (bool, error) {
	path, err := s.blobPath(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Capture reads path and stores its content, returning the hash. It returns
// ("", nil, false) when path does not exist — callers treat that as "no
// before-state" rather than an error.
func Capture(s *Store, path string) (hash string, existed bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	h, err := s.Store(data)
	if err != nil {
		return "", true, err
	}
	return h, true, nil
}
