// Package archive exports the ledger as content-addressed bundles to a local
// directory or an object store.
package archive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CatarinaFranco94/workers-insurance/pkg/canonicalize"
)

var ErrNotFound = errors.New("archive: blob not found")

// Store is content-addressed storage. Keys are canonicalize.HashBytes of the data.
type Store interface {
	// Put persists data and returns its hash. Storing the same data twice is a no-op.
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Exists(ctx context.Context, hash string) (bool, error)
}

// objectName maps a prefixed hash to the blob name used by every backend.
func objectName(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, canonicalize.HashPrefix)
	if !ok {
		return "", fmt.Errorf("archive: invalid hash format: %s", hash)
	}
	if _, err := hex.DecodeString(raw); err != nil || len(raw) != 64 {
		return "", fmt.Errorf("archive: invalid hash hex: %s", hash)
	}
	return raw + ".jsonl", nil
}

// FileStore keeps blobs in a directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

func NewFileStore(dir string) (*FileStore, error) {
	//nolint:gosec // G301: archive directory is shared with operators
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("archive: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	hash := canonicalize.HashBytes(data)
	name, err := objectName(hash)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	tmp := path + ".tmp"
	//nolint:gosec // G306: bundles are readable by operators
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("archive: write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("archive: commit blob: %w", err)
	}
	return hash, nil
}

func (s *FileStore) Get(_ context.Context, hash string) ([]byte, error) {
	name, err := objectName(hash)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name)) //nolint:gosec // name validated as hex
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return data, err
}

func (s *FileStore) Exists(_ context.Context, hash string) (bool, error) {
	name, err := objectName(hash)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(filepath.Join(s.dir, name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	}
	return false, err
}
