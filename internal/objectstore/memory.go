package objectstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"notesync/internal/notesync"
)

type memoryObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modTime     time.Time
}

// MemoryStore is an in-memory implementation of notesync.ObjectStore.
// It is safe for concurrent use and is meant for tests and dry runs.
type MemoryStore struct {
	name    string
	objects map[string]memoryObject
	failure error
	puts    int
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty store named name.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:    name,
		objects: make(map[string]memoryObject),
	}
}

// SetFailure makes every subsequent call fail with ErrUnreachable wrapping
// err. Passing nil restores normal operation.
func (m *MemoryStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *MemoryStore) failed() error {
	if m.failure != nil {
		return fmt.Errorf("%w: %s: %w", notesync.ErrUnreachable, m.name, m.failure)
	}
	return nil
}

func (m *MemoryStore) Stat(_ context.Context, key string) (*notesync.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failed(); err != nil {
		return nil, err
	}

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, notesync.ErrNotFound)
	}
	return infoFor(key, obj), nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, *notesync.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failed(); err != nil {
		return nil, nil, err
	}

	obj, ok := m.objects[key]
	if !ok {
		return nil, nil, fmt.Errorf("object %s: %w", key, notesync.ErrNotFound)
	}
	return append([]byte(nil), obj.data...), infoFor(key, obj), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed(); err != nil {
		return err
	}

	m.objects[key] = memoryObject{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		metadata:    maps.Clone(metadata),
		modTime:     time.Now().UTC(),
	}
	m.puts++
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed(); err != nil {
		return err
	}

	delete(m.objects, key)
	return nil
}

// Location returns the store's name.
func (m *MemoryStore) Location() string {
	return "memory:" + m.name
}

// Keys lists stored keys with the given prefix in lexical order.
func (m *MemoryStore) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Puts returns how many writes the store has accepted.
func (m *MemoryStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// SetMetadata replaces an object's metadata in place. It returns false when
// the key is absent.
func (m *MemoryStore) SetMetadata(key string, metadata map[string]string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return false
	}
	obj.metadata = maps.Clone(metadata)
	m.objects[key] = obj
	return true
}

func infoFor(key string, obj memoryObject) *notesync.ObjectInfo {
	return &notesync.ObjectInfo{
		Key:      key,
		Size:     int64(len(obj.data)),
		ModTime:  obj.modTime,
		Metadata: maps.Clone(obj.metadata),
	}
}

var _ notesync.ObjectStore = (*MemoryStore)(nil)
