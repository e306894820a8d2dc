package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"notesync/internal/bundle"
	"notesync/internal/notesync"
)

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func sampleRecord(id string) *notesync.LocalRecord {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	return &notesync.LocalRecord{
		ID:          id,
		SourceKey:   "youtube:abc123:1700000000000",
		Title:       "A talk",
		Platform:    "youtube",
		VideoID:     "abc123",
		CreatedAtMs: 1700000000000,
		Note:        "# Notes\n\nhello",
		Transcript: &bundle.Transcript{
			Language: "en",
			FullText: "hello world",
			Segments: []bundle.Segment{{Start: 0, End: 1.5, Text: "hello world"}},
		},
		Audio:            map[string]any{"title": "A talk", "duration": float64(90)},
		Request:          map[string]any{"model": "small"},
		Revision:         2,
		SyncedRevision:   1,
		SyncedBundleHash: "deadbeef",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestSQLiteDatabase_LocalRecords(t *testing.T) {
	ctx := context.Background()

	t.Run("get returns ErrNotFound for unknown id", func(t *testing.T) {
		db := newTestDB(t)

		_, err := db.Get(ctx, "missing")
		if !errors.Is(err, notesync.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("upsert then get round trips every field", func(t *testing.T) {
		db := newTestDB(t)
		rec := sampleRecord("rec-1")

		if err := db.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		got, err := db.Get(ctx, "rec-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.SourceKey != rec.SourceKey || got.Title != rec.Title || got.Note != rec.Note {
			t.Errorf("Get() = %+v, want %+v", got, rec)
		}
		if got.Transcript == nil || got.Transcript.FullText != "hello world" || len(got.Transcript.Segments) != 1 {
			t.Errorf("Transcript = %+v, want round-tripped transcript", got.Transcript)
		}
		if got.Audio["title"] != "A talk" {
			t.Errorf("Audio = %v, want title preserved", got.Audio)
		}
		if got.Request["model"] != "small" {
			t.Errorf("Request = %v, want model preserved", got.Request)
		}
		if got.Revision != 2 || got.SyncedRevision != 1 || got.SyncedBundleHash != "deadbeef" {
			t.Errorf("revisions = (%d, %d, %q), want (2, 1, deadbeef)", got.Revision, got.SyncedRevision, got.SyncedBundleHash)
		}
		if !got.CreatedAt.Equal(rec.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
		}
	})

	t.Run("upsert replaces an existing record", func(t *testing.T) {
		db := newTestDB(t)
		rec := sampleRecord("rec-1")
		if err := db.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		rec.Note = "changed"
		rec.Transcript = nil
		rec.Revision = 3
		if err := db.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		got, err := db.Get(ctx, "rec-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Note != "changed" || got.Transcript != nil || got.Revision != 3 {
			t.Errorf("Get() after update = note %q transcript %v revision %d", got.Note, got.Transcript, got.Revision)
		}

		all, err := db.ListAll(ctx)
		if err != nil {
			t.Fatalf("ListAll() error = %v", err)
		}
		if len(all) != 1 {
			t.Errorf("ListAll() returned %d records, want 1", len(all))
		}
	})

	t.Run("find by source key", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.Upsert(ctx, sampleRecord("rec-1")); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		got, err := db.FindBySourceKey(ctx, "youtube:abc123:1700000000000")
		if err != nil {
			t.Fatalf("FindBySourceKey() error = %v", err)
		}
		if got == nil || got.ID != "rec-1" {
			t.Errorf("FindBySourceKey() = %v, want rec-1", got)
		}

		got, err = db.FindBySourceKey(ctx, "youtube:other:1")
		if err != nil {
			t.Fatalf("FindBySourceKey() error = %v", err)
		}
		if got != nil {
			t.Errorf("FindBySourceKey() = %v, want nil", got)
		}
	})

	t.Run("list orders newest first", func(t *testing.T) {
		db := newTestDB(t)
		older := sampleRecord("old")
		older.CreatedAtMs = 1000
		newer := sampleRecord("new")
		newer.CreatedAtMs = 2000
		for _, r := range []*notesync.LocalRecord{older, newer} {
			if err := db.Upsert(ctx, r); err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}
		}

		all, err := db.ListAll(ctx)
		if err != nil {
			t.Fatalf("ListAll() error = %v", err)
		}
		if len(all) != 2 || all[0].ID != "new" {
			t.Errorf("ListAll() first = %v, want new", all)
		}
	})

	t.Run("delete removes the record", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.Upsert(ctx, sampleRecord("rec-1")); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if err := db.Delete(ctx, "rec-1"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := db.Get(ctx, "rec-1"); !errors.Is(err, notesync.ErrNotFound) {
			t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
		}
	})
}

func sampleReconciliation(scope, key string, status notesync.Status) notesync.ReconciliationRecord {
	return notesync.ReconciliationRecord{
		Scope: scope,
		Facts: notesync.Facts{
			SourceKey:   key,
			SyncID:      "sync-" + key,
			Title:       "title",
			Platform:    "youtube",
			VideoID:     "abc",
			CreatedAtMs: 1700000000000,
			Local: &notesync.LocalFacts{
				RecordID:   "rec-1",
				HasNote:    true,
				BundleHash: "h1",
				NoteSHA256: "n1",
			},
			Remote: notesync.RemoteFacts{
				Known:     true,
				NoteDocID: "doc-1",
				NoteName:  "title [youtube:abc:1700000000000] (note)",
			},
			Objects: notesync.ObjectFacts{Known: true},
		},
		Verdict: notesync.Verdict{
			Status:        status,
			RemoteMissing: []notesync.DocumentKind{notesync.KindNote, notesync.KindTranscript},
		},
		ScannedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestSQLiteDatabase_Reconciliation(t *testing.T) {
	ctx := context.Background()

	t.Run("get returns nil when absent", func(t *testing.T) {
		db := newTestDB(t)

		got, err := db.GetReconciliation(ctx, "default", "youtube:abc:1")
		if err != nil {
			t.Fatalf("GetReconciliation() error = %v", err)
		}
		if got != nil {
			t.Errorf("GetReconciliation() = %v, want nil", got)
		}
	})

	t.Run("upsert round trips facts and verdict", func(t *testing.T) {
		db := newTestDB(t)
		rec := sampleReconciliation("default", "youtube:abc:1", notesync.StatusPartial)

		if err := db.UpsertReconciliation(ctx, rec); err != nil {
			t.Fatalf("UpsertReconciliation() error = %v", err)
		}

		got, err := db.GetReconciliation(ctx, "default", "youtube:abc:1")
		if err != nil {
			t.Fatalf("GetReconciliation() error = %v", err)
		}
		if got == nil {
			t.Fatal("GetReconciliation() = nil, want record")
		}
		if got.Status != notesync.StatusPartial {
			t.Errorf("Status = %s, want PARTIAL", got.Status)
		}
		if got.Local == nil || got.Local.RecordID != "rec-1" || !got.Local.HasNote {
			t.Errorf("Local = %+v, want rec-1 with note", got.Local)
		}
		if got.Remote.NoteDocID != "doc-1" || !got.Remote.Known {
			t.Errorf("Remote = %+v, want doc-1", got.Remote)
		}
		if len(got.RemoteMissing) != 2 || got.RemoteMissing[1] != notesync.KindTranscript {
			t.Errorf("RemoteMissing = %v, want [note transcript]", got.RemoteMissing)
		}
		if got.LocalMissing != nil {
			t.Errorf("LocalMissing = %v, want nil", got.LocalMissing)
		}
	})

	t.Run("record without local side keeps Local nil", func(t *testing.T) {
		db := newTestDB(t)
		rec := sampleReconciliation("default", "youtube:abc:1", notesync.StatusDifyOnly)
		rec.Local = nil

		if err := db.UpsertReconciliation(ctx, rec); err != nil {
			t.Fatalf("UpsertReconciliation() error = %v", err)
		}
		got, err := db.GetReconciliation(ctx, "default", "youtube:abc:1")
		if err != nil {
			t.Fatalf("GetReconciliation() error = %v", err)
		}
		if got.Local != nil {
			t.Errorf("Local = %+v, want nil", got.Local)
		}
	})

	t.Run("replace scope swaps records and leaves other scopes", func(t *testing.T) {
		db := newTestDB(t)
		for _, rec := range []notesync.ReconciliationRecord{
			sampleReconciliation("a", "youtube:abc:1", notesync.StatusSynced),
			sampleReconciliation("a", "youtube:abc:2", notesync.StatusSynced),
			sampleReconciliation("b", "youtube:abc:1", notesync.StatusLocalOnly),
		} {
			if err := db.UpsertReconciliation(ctx, rec); err != nil {
				t.Fatalf("UpsertReconciliation() error = %v", err)
			}
		}

		replacement := []notesync.ReconciliationRecord{
			sampleReconciliation("ignored", "youtube:abc:3", notesync.StatusConflict),
		}
		if err := db.ReplaceScope(ctx, "a", replacement); err != nil {
			t.Fatalf("ReplaceScope() error = %v", err)
		}

		got, err := db.ListReconciliation(ctx, "a")
		if err != nil {
			t.Fatalf("ListReconciliation() error = %v", err)
		}
		if len(got) != 1 || got[0].SourceKey != "youtube:abc:3" || got[0].Scope != "a" {
			t.Errorf("scope a = %+v, want only youtube:abc:3", got)
		}

		other, err := db.ListReconciliation(ctx, "b")
		if err != nil {
			t.Fatalf("ListReconciliation() error = %v", err)
		}
		if len(other) != 1 || other[0].Status != notesync.StatusLocalOnly {
			t.Errorf("scope b = %+v, want untouched", other)
		}
	})

	t.Run("delete scope", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.UpsertReconciliation(ctx, sampleReconciliation("a", "youtube:abc:1", notesync.StatusSynced)); err != nil {
			t.Fatalf("UpsertReconciliation() error = %v", err)
		}
		if err := db.DeleteScope(ctx, "a"); err != nil {
			t.Fatalf("DeleteScope() error = %v", err)
		}
		got, err := db.ListReconciliation(ctx, "a")
		if err != nil {
			t.Fatalf("ListReconciliation() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("ListReconciliation() = %d records, want 0", len(got))
		}
	})
}

func TestSQLiteDatabase_Operations(t *testing.T) {
	ctx := context.Background()

	t.Run("create and list operations", func(t *testing.T) {
		db := newTestDB(t)

		op1, err := db.CreateOperation(ctx, "push", "youtube:abc:1")
		if err != nil {
			t.Fatalf("CreateOperation() error = %v", err)
		}
		if op1.ID == 0 {
			t.Error("operation ID should be non-zero")
		}

		op2, err := db.CreateOperation(ctx, "scan", "")
		if err != nil {
			t.Fatalf("CreateOperation() error = %v", err)
		}

		ops, err := db.ListOperations(ctx, 10)
		if err != nil {
			t.Fatalf("ListOperations() error = %v", err)
		}
		if len(ops) != 2 {
			t.Fatalf("got %d operations, want 2", len(ops))
		}
		// Newest first
		if ops[0].ID != op2.ID {
			t.Errorf("expected newest first: got ID %d, want %d", ops[0].ID, op2.ID)
		}
		if ops[1].Parameters != "youtube:abc:1" {
			t.Errorf("Parameters = %q, want youtube:abc:1", ops[1].Parameters)
		}
	})

	t.Run("finish operation sets status and time", func(t *testing.T) {
		db := newTestDB(t)

		op, err := db.CreateOperation(ctx, "pull", "")
		if err != nil {
			t.Fatalf("CreateOperation() error = %v", err)
		}
		if err := db.FinishOperation(ctx, op.ID, "success"); err != nil {
			t.Fatalf("FinishOperation() error = %v", err)
		}

		ops, err := db.ListOperations(ctx, 1)
		if err != nil {
			t.Fatalf("ListOperations() error = %v", err)
		}
		if ops[0].Status != "success" {
			t.Errorf("Status = %q, want %q", ops[0].Status, "success")
		}
		if ops[0].FinishedAt == nil {
			t.Error("FinishedAt should be set")
		}
	})
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	if err := db.Upsert(ctx, sampleRecord("rec-1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	destPath := filepath.Join(t.TempDir(), "backup.db")
	if err := db.BackupTo(destPath); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	// Open the backup and verify it has the data
	backup, err := NewSQLiteDatabase(destPath)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer backup.Close()

	if err := backup.CheckMigrations(); err != nil {
		t.Errorf("backup CheckMigrations() error = %v", err)
	}
	rec, err := backup.Get(ctx, "rec-1")
	if err != nil {
		t.Fatalf("Get() on backup error = %v", err)
	}
	if rec.Title != "A talk" {
		t.Errorf("backup record title = %q, want %q", rec.Title, "A talk")
	}
}

func TestSQLiteDatabase_CheckMigrations(t *testing.T) {
	t.Run("fails on DB without migrations applied", func(t *testing.T) {
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			t.Fatalf("NewSQLiteDatabase() error = %v", err)
		}
		defer db.Close()

		if err := db.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() expected error for missing schema")
		}
	})

	t.Run("passes after Migrate", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})
}
