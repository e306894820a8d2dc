package testutil

import (
	"testing"

	"notesync/internal/bundle"
	"notesync/internal/lock"
	"notesync/internal/notesync"
	"notesync/internal/objectstore"
	"notesync/internal/remoteindex"
)

// Harness wires a Service to in-memory stores.
type Harness struct {
	DB      notesync.Database
	Clock   *StubClock
	IDs     *StubIDGenerator
	Service *notesync.Service
	Scope   notesync.Scope
	Objects *objectstore.MemoryStore
	Index   *remoteindex.MemoryIndex
}

// NewHarness creates a Service over a fresh database and a scope named
// "default" backed by memory stores.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	db := NewTestDatabase(t)
	clock := FixedClock()
	ids := NewStubIDGenerator()
	h := &Harness{
		DB:      db,
		Clock:   clock,
		IDs:     ids,
		Service: notesync.NewService(db, db, lock.NewMemoryLocker(), notesync.NewNopLogger(), clock, ids),
	}
	h.Scope, h.Objects, h.Index = NewMemoryScope("default")
	return h
}

// NewMemoryScope creates a scope backed by a memory object store and index.
func NewMemoryScope(name string, opts ...notesync.BundleStoreOption) (notesync.Scope, *objectstore.MemoryStore, *remoteindex.MemoryIndex) {
	store := objectstore.NewMemoryStore(name)
	index := remoteindex.NewMemoryIndex()
	return notesync.Scope{
		Name:    name,
		Bundles: notesync.NewBundleStore(store, opts...),
		Index:   index,
	}, store, index
}

// SampleTranscript returns a two-segment transcript.
func SampleTranscript() *bundle.Transcript {
	return &bundle.Transcript{
		Language: "en",
		FullText: "hello world. second line.",
		Segments: []bundle.Segment{
			{Start: 0, End: 2.5, Text: "hello world."},
			{Start: 2.5, End: 5, Text: "second line."},
		},
	}
}

// SampleRecord returns an unsaved record with a note and a transcript.
func SampleRecord(videoID string, createdAtMs int64) *notesync.LocalRecord {
	return &notesync.LocalRecord{
		Title:       "Talk " + videoID,
		Platform:    "youtube",
		VideoID:     videoID,
		CreatedAtMs: createdAtMs,
		Note:        "# Notes for " + videoID + "\n\n- point one\n",
		Transcript:  SampleTranscript(),
		Audio:       map[string]any{"title": "Talk " + videoID, "duration": 5},
	}
}

// SaveRecord stores rec through the service and fails the test on error.
func (h *Harness) SaveRecord(t *testing.T, rec *notesync.LocalRecord) *notesync.LocalRecord {
	t.Helper()
	if err := h.Service.SaveLocal(t.Context(), rec); err != nil {
		t.Fatalf("SaveLocal() error = %v", err)
	}
	return rec
}
