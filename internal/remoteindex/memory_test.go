package remoteindex

import (
	"context"
	"errors"
	"testing"

	"notesync/internal/notesync"
)

func TestMemoryIndex_Upsert(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	id, err := idx.UpsertDocument(ctx, notesync.KindNote, "", "A [youtube:v:1] (note)", "one")
	if err != nil {
		t.Fatalf("UpsertDocument() error = %v", err)
	}

	t.Run("known id updates in place", func(t *testing.T) {
		got, err := idx.UpsertDocument(ctx, notesync.KindNote, id, "A [youtube:v:1] (note)", "two")
		if err != nil {
			t.Fatalf("UpsertDocument() error = %v", err)
		}
		doc, _ := idx.Document(id)
		if got != id || doc.Text != "two" {
			t.Errorf("UpsertDocument() = %q text %q, want %q text two", got, doc.Text, id)
		}
	})

	t.Run("unknown id matches by name", func(t *testing.T) {
		got, err := idx.UpsertDocument(ctx, notesync.KindNote, "stale", "A [youtube:v:1] (note)", "three")
		if err != nil {
			t.Fatalf("UpsertDocument() error = %v", err)
		}
		if got != id {
			t.Errorf("UpsertDocument() = %q, want %q", got, id)
		}
	})

	t.Run("other kind creates", func(t *testing.T) {
		got, err := idx.UpsertDocument(ctx, notesync.KindTranscript, "", "A [youtube:v:1] (transcript)", "t")
		if err != nil {
			t.Fatalf("UpsertDocument() error = %v", err)
		}
		if got == id {
			t.Error("transcript reused the note document")
		}
		if idx.Len() != 2 {
			t.Errorf("Len() = %d, want 2", idx.Len())
		}
	})
}

func TestMemoryIndex_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	a := idx.Add(notesync.KindNote, "A (note)", "a")
	idx.Add(notesync.KindTranscript, "A (transcript)", "b")

	docs, err := idx.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 2 || docs[0].ID != a {
		t.Fatalf("ListDocuments() = %+v", docs)
	}

	if err := idx.DeleteDocument(ctx, notesync.KindNote, a); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if err := idx.DeleteDocument(ctx, notesync.KindNote, a); err != nil {
		t.Errorf("DeleteDocument() on missing document error = %v", err)
	}
	if _, ok := idx.Document(a); ok {
		t.Error("document still present after delete")
	}
}

func TestMemoryIndex_Failures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("SetFailure fails every call", func(t *testing.T) {
		idx := NewMemoryIndex()
		idx.SetFailure(boom)
		if _, err := idx.ListDocuments(ctx); !errors.Is(err, notesync.ErrUnreachable) {
			t.Errorf("ListDocuments() error = %v, want ErrUnreachable", err)
		}
		idx.SetFailure(nil)
		if _, err := idx.ListDocuments(ctx); err != nil {
			t.Errorf("ListDocuments() after reset error = %v", err)
		}
	})

	t.Run("FailWrites only fails that kind", func(t *testing.T) {
		idx := NewMemoryIndex()
		idx.FailWrites(notesync.KindTranscript, boom)
		if _, err := idx.ListDocuments(ctx); err != nil {
			t.Errorf("ListDocuments() error = %v", err)
		}
		if _, err := idx.UpsertDocument(ctx, notesync.KindNote, "", "n", "x"); err != nil {
			t.Errorf("note UpsertDocument() error = %v", err)
		}
		if _, err := idx.UpsertDocument(ctx, notesync.KindTranscript, "", "t", "x"); !errors.Is(err, notesync.ErrUnreachable) {
			t.Errorf("transcript UpsertDocument() error = %v, want ErrUnreachable", err)
		}
	})
}
