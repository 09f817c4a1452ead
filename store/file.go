package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	cacheFilePrefix = "cache_"
	cacheFileSuffix = ".json"
)

// FileBackend stores one JSON document per fingerprint under a data directory.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a backend rooted at dir. The directory is created on first write.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Dir data directory
func (b *FileBackend) Dir() string { return b.dir }

func (b *FileBackend) path(fp Fingerprint) string {
	return filepath.Join(b.dir, cacheFilePrefix+string(fp)+cacheFileSuffix)
}

// Load implements Backend.
func (b *FileBackend) Load(_ context.Context, fp Fingerprint) ([]byte, error) {
	data, err := os.ReadFile(b.path(fp))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Save implements Backend.
func (b *FileBackend) Save(_ context.Context, fp Fingerprint, data []byte) error {
	if err := ensureDir(b.dir); err != nil {
		return err
	}
	return writeFileAtomic(b.path(fp), data, 0o644)
}

// Keys implements Backend.
func (b *FileBackend) Keys(_ context.Context) ([]Fingerprint, error) {
	entries, err := os.ReadDir(b.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var keys []Fingerprint
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, cacheFilePrefix) || !strings.HasSuffix(name, cacheFileSuffix) {
			continue
		}
		keys = append(keys, Fingerprint(strings.TrimSuffix(strings.TrimPrefix(name, cacheFilePrefix), cacheFileSuffix)))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// writeFileAtomic writes to a temp file in the same directory and renames it
// over the target so readers never observe a partial document.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
