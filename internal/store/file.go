package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/eldtechnologies/peerchat/internal/models"
)

// DefaultShardDepth bounds directory fan-out: each of the first N characters
// of a key becomes one directory level.
const DefaultShardDepth = 4

// FileBackend stores one JSON file per record under a sharded directory tree.
// Serialization of writers is left to the Store's per-key locks, so a store
// directory must not be shared between processes.
type FileBackend struct {
	dir   string
	depth int
}

// NewFileBackend creates a file backend rooted at dir.
// If dir is empty, defaults to "./store"
func NewFileBackend(dir string, depth int) (*FileBackend, error) {
	if dir == "" {
		dir = "store"
	}
	if depth < 0 {
		depth = DefaultShardDepth
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &FileBackend{dir: dir, depth: depth}, nil
}

func (b *FileBackend) Name() string { return "file" }

// Ping checks the store directory is reachable.
func (b *FileBackend) Ping(ctx context.Context) error {
	info, err := os.Stat(b.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", b.dir)
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }

// Path maps a key to its file. The mapping is a pure function of the key.
func (b *FileBackend) Path(key string) (string, error) {
	parts := []string{b.dir}
	n := 0
	for n < len(key)-1 && n < b.depth {
		parts = append(parts, key[n:n+1])
		n++
	}
	name := key[n:]
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: unusable key %q", ErrMalformed, key)
	}
	parts = append(parts, name)
	return filepath.Join(parts...), nil
}

func (b *FileBackend) Load(ctx context.Context, key string) (*models.Record, error) {
	path, err := b.Path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return decodeRecord(data)
}

func (b *FileBackend) Mutate(ctx context.Context, key string, fn func(*models.Record) (*models.Record, error)) (*models.Record, error) {
	current, err := b.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	path, err := b.Path(key)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, next); err != nil {
		return nil, err
	}
	return next, nil
}

// writeFileAtomic replaces path with the encoded record via a temp file and
// rename, so readers never observe a partial write.
func writeFileAtomic(path string, rec *models.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
