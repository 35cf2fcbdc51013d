package settingsstore

import (
	"context"
	"errors"
	"maps"
	"sync"
)

// ErrStoreClosed is returned by operations on a closed persister.
var ErrStoreClosed = errors.New("settingsstore: closed")

// Record is the persisted selection of one slot.
type Record struct {
	// Implementation is the selected implementation name; empty means the
	// slot was explicitly disabled.
	Implementation string

	// Settings holds the flattened settings, field name to scalar value.
	Settings map[string]any
}

// Store persists slot records by slot key ("laser/Laser").
type Store interface {
	Save(ctx context.Context, key string, rec Record) error

	// Load returns false when nothing was stored for key.
	Load(ctx context.Context, key string) (Record, bool, error)

	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Save(_ context.Context, key string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Settings = maps.Clone(rec.Settings)
	m.records[key] = rec
	return nil
}

func (m *MemoryStore) Load(_ context.Context, key string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return Record{}, false, nil
	}
	rec.Settings = maps.Clone(rec.Settings)
	return rec, true, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}
