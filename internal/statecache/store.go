package statecache

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotCached is returned by Store.Load when nothing has been saved
	ErrNotCached = errors.New("no cached state")

	errMissingTimestamp = errors.New("cached state has no timestamp")
)

// Store persists one snapshot. Load returns ErrNotCached when empty; any
// other Load error is treated by Cache as a miss.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
	Invalidate(ctx context.Context) error
}

// MemoryStore keeps the encoded snapshot in memory
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNotCached
	}
	return decodeSnapshot(m.data)
}

func (m *MemoryStore) Save(_ context.Context, snapshot *Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Invalidate(context.Context) error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}
