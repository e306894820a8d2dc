package remoteindex

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"notesync/internal/notesync"
)

// MemoryDocument is a document held by MemoryIndex.
type MemoryDocument struct {
	ID   string
	Name string
	Kind notesync.DocumentKind
	Text string
}

// MemoryIndex is an in-memory notesync.RemoteIndex for tests and offline
// profiles. It is safe for concurrent use.
type MemoryIndex struct {
	mu       sync.Mutex
	docs     map[string]*MemoryDocument
	next     int
	failure  error
	failKind notesync.DocumentKind
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]*MemoryDocument)}
}

// SetFailure makes every call fail with ErrUnreachable wrapping err.
// Passing nil restores normal operation.
func (m *MemoryIndex) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
	m.failKind = ""
}

// FailWrites makes writes and deletes of one kind fail while listing keeps
// working.
func (m *MemoryIndex) FailWrites(kind notesync.DocumentKind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
	m.failKind = kind
}

func (m *MemoryIndex) failed(kind notesync.DocumentKind, write bool) error {
	if m.failure == nil {
		return nil
	}
	if m.failKind != "" && (!write || kind != m.failKind) {
		return nil
	}
	return fmt.Errorf("%w: memory index: %w", notesync.ErrUnreachable, m.failure)
}

// Add inserts a document directly and returns its id.
func (m *MemoryIndex) Add(kind notesync.DocumentKind, name, text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(kind, name, text)
}

func (m *MemoryIndex) insert(kind notesync.DocumentKind, name, text string) string {
	m.next++
	id := "doc-" + strconv.Itoa(m.next)
	m.docs[id] = &MemoryDocument{ID: id, Name: name, Kind: kind, Text: text}
	return id
}

// Document returns a copy of the document with id.
func (m *MemoryIndex) Document(id string) (MemoryDocument, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return MemoryDocument{}, false
	}
	return *d, true
}

// Len returns the number of stored documents.
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func (m *MemoryIndex) ListDocuments(_ context.Context) ([]notesync.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed("", false); err != nil {
		return nil, err
	}

	out := make([]notesync.Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, notesync.Document{ID: d.ID, Name: d.Name, Kind: d.Kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryIndex) UpsertDocument(_ context.Context, kind notesync.DocumentKind, documentID, name, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed(kind, true); err != nil {
		return "", err
	}

	if d, ok := m.docs[documentID]; ok && documentID != "" {
		d.Name, d.Text, d.Kind = name, text, kind
		return d.ID, nil
	}
	for _, d := range m.docs {
		if d.Name == name && d.Kind == kind {
			d.Text = text
			return d.ID, nil
		}
	}
	return m.insert(kind, name, text), nil
}

func (m *MemoryIndex) DeleteDocument(_ context.Context, kind notesync.DocumentKind, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed(kind, true); err != nil {
		return err
	}
	delete(m.docs, documentID)
	return nil
}

var _ notesync.RemoteIndex = (*MemoryIndex)(nil)
