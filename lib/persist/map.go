package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// --------------------------------------------------------------------------
// Persistent Map
// --------------------------------------------------------------------------

// Map is a durable string-keyed map that write-through persists its full
// contents to a JSON file on every mutation and loads from it on
// construction. It backs the user credential table and both ownership
// indices, which are small and mutate rarely, so the full rewrite per
// mutation is acceptable.
//
// Thread-safety: all methods are safe for concurrent use.
type Map[V any] struct {
	path string
	mu   sync.RWMutex
	data map[string]V
}

// NewMap loads the map stored at path, creating an empty file if none
// exists.
func NewMap[V any](path string) (*Map[V], error) {
	m := &Map[V]{
		path: path,
		data: make(map[string]V),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := m.writeFile(); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := json.Unmarshal(raw, &m.data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return m, nil
}

// writeFile rewrites the backing file with the current contents.
// Written to a temp file first and renamed so a crash mid-write never
// leaves a truncated file behind. Caller must hold the lock.
func (m *Map[V]) writeFile() error {
	raw, err := json.Marshal(m.data)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", m.path, err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	return os.Rename(tmp, m.path)
}

// Get returns the value for key. The boolean indicates presence.
func (m *Map[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Map[V]) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok
}

// Set stores value under key and persists the map.
func (m *Map[V]) Set(key string, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return m.writeFile()
}

// Delete removes key and persists the map. Deleting an absent key still
// rewrites the file and returns nil.
func (m *Map[V]) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return m.writeFile()
}

// Keys returns the current key set in unspecified order.
func (m *Map[V]) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of entries.
func (m *Map[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
