package statecache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DefaultFile is the cache file used when none is configured
const DefaultFile = ".dbagent/system-state.json"

// FileStore keeps the snapshot as a JSON file. Writes go to a temporary file
// that is renamed into place while holding an exclusive lock, so readers see
// either the previous snapshot or the new one.
type FileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore creates a store at path
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultFile
	}
	return &FileStore{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the cache file path
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load(context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state cache: %w", err)
	}
	snapshot, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("corrupt state cache %s: %w", f.path, err)
	}
	return snapshot, nil
}

func (f *FileStore) Save(ctx context.Context, snapshot *Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state cache directory: %w", err)
	}

	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("acquiring state cache lock: %w", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state cache: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("failed to replace state cache: %w", err)
	}
	return nil
}

func (f *FileStore) Invalidate(context.Context) error {
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("acquiring state cache lock: %w", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove state cache: %w", err)
	}
	return nil
}
