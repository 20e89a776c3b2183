package store

import (
	"io/fs"
	"sort"
	"sync"
)

// MemoryStore keeps every collection in memory as encoded JSON, so callers
// never share state with the store. Data is lost on restart.
// Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]byte)}
}

func (m *MemoryStore) Load(collection string) ([]Record, error) {
	if !ValidName(collection) {
		return nil, &ReadError{Collection: collection, Err: ErrInvalidName}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.collections[collection]
	if !ok {
		return nil, &ReadError{Collection: collection, Err: fs.ErrNotExist}
	}
	records, err := decodeRecords(data)
	if err != nil {
		return nil, &ReadError{Collection: collection, Err: err}
	}
	return records, nil
}

func (m *MemoryStore) Save(collection string, records []Record) error {
	if !ValidName(collection) {
		return &WriteError{Collection: collection, Err: ErrInvalidName}
	}
	b, err := encodeRecords(records)
	if err != nil {
		return &WriteError{Collection: collection, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[collection] = b
	return nil
}

func (m *MemoryStore) Ensure(collection string) error {
	if !ValidName(collection) {
		return &WriteError{Collection: collection, Err: ErrInvalidName}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = []byte("[]")
	}
	return nil
}

func (m *MemoryStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
