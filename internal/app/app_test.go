package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"notesync/internal/config"
	"notesync/internal/database"
	"notesync/internal/database/migrations"
	"notesync/internal/notesync"
)

func testConfig(t *testing.T, hostID string) *config.Config {
	t.Helper()
	cfg := config.NewConfig(hostID, t.TempDir())
	if err := InitDatabase(cfg); err != nil {
		t.Fatalf("InitDatabase() error = %v", err)
	}
	return cfg
}

func openApp(t *testing.T, cfg *config.Config, operation string) *NotesyncApp {
	t.Helper()
	a, err := NewNotesyncApp(t.Context(), cfg, operation)
	if err != nil {
		t.Fatalf("NewNotesyncApp() error = %v", err)
	}
	return a
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleTranscriptJSON = `{"language":"en","full_text":"hello there","segments":[{"start":0,"end":1.5,"text":"hello there"}]}`

func addSample(t *testing.T, a *NotesyncApp, videoID string, ms int64) *notesync.LocalRecord {
	t.Helper()
	dir := t.TempDir()
	rec, err := a.AddRecord(t.Context(), RecordInput{
		Title:          "Talk " + videoID,
		Platform:       "youtube",
		VideoID:        videoID,
		CreatedAtMs:    ms,
		NotePath:       writeFile(t, filepath.Join(dir, "note.md"), "# Notes\n\n- one\n"),
		TranscriptPath: writeFile(t, filepath.Join(dir, "transcript.json"), sampleTranscriptJSON),
	})
	if err != nil {
		t.Fatalf("AddRecord() error = %v", err)
	}
	return rec
}

var pushAll = notesync.PushOptions{IncludeNote: true, IncludeTranscript: true, UpdateRemoteIndex: true}

func TestNewNotesyncApp(t *testing.T) {
	t.Run("requires migrated database", func(t *testing.T) {
		cfg := config.NewConfig("host", t.TempDir())
		a, err := NewNotesyncApp(t.Context(), cfg, "Scan")
		if err == nil {
			a.Close()
			t.Fatal("NewNotesyncApp() error = nil, want schema error")
		}
		if a != nil {
			t.Error("NewNotesyncApp() returned an app alongside an error")
		}
		if !errors.Is(err, migrations.ErrNotMigrated) {
			t.Errorf("error = %v, want ErrNotMigrated", err)
		}
	})

	t.Run("unknown profile", func(t *testing.T) {
		cfg := testConfig(t, "host")
		cfg.ActiveProfile = "missing"
		if _, err := NewNotesyncApp(t.Context(), cfg, "Scan"); err == nil {
			t.Fatal("NewNotesyncApp() error = nil, want profile error")
		}
	})

	t.Run("unknown object store type", func(t *testing.T) {
		cfg := testConfig(t, "host")
		cfg.Profiles[0].ObjectStore.Type = "tape"
		if _, err := NewNotesyncApp(t.Context(), cfg, "Scan"); err == nil {
			t.Fatal("NewNotesyncApp() error = nil, want object store error")
		}
	})

	t.Run("env overrides stay out of the config", func(t *testing.T) {
		cfg := testConfig(t, "host")
		t.Setenv("NOTESYNC_DIFY_API_KEY", "from-env")

		a := openApp(t, cfg, "Scan")
		defer a.Close()

		if got := a.Profile().RemoteIndex.APIKey; got != "from-env" {
			t.Errorf("active APIKey = %q, want from-env", got)
		}
		if got := cfg.Profiles[0].RemoteIndex.APIKey; got != "" {
			t.Errorf("config APIKey = %q, want it untouched", got)
		}
		if got := a.Profile().ObjectStore.ObjectPrefix; got != config.DefaultObjectPrefix {
			t.Errorf("ObjectPrefix = %q, want default", got)
		}
	})
}

func TestNotesyncApp_AddRecord(t *testing.T) {
	cfg := testConfig(t, "host")
	a := openApp(t, cfg, "AddRecord")
	defer a.Close()

	rec := addSample(t, a, "abc", 1700000000000)
	if rec.SourceKey != "youtube:abc:1700000000000" {
		t.Errorf("SourceKey = %q", rec.SourceKey)
	}
	if rec.Transcript == nil || len(rec.Transcript.Segments) != 1 {
		t.Errorf("Transcript = %+v, want one segment", rec.Transcript)
	}

	got, err := a.GetRecord(t.Context(), rec.SourceKey)
	if err != nil {
		t.Fatalf("GetRecord(source key) error = %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("GetRecord(source key).ID = %q, want %q", got.ID, rec.ID)
	}
	if _, err := a.GetRecord(t.Context(), rec.ID); err != nil {
		t.Errorf("GetRecord(id) error = %v", err)
	}
	if _, err := a.GetRecord(t.Context(), "youtube:zzz:1"); !errors.Is(err, notesync.ErrNotFound) {
		t.Errorf("GetRecord(unknown) error = %v, want ErrNotFound", err)
	}

	t.Run("plain text transcript", func(t *testing.T) {
		p := writeFile(t, filepath.Join(t.TempDir(), "t.txt"), "  spoken words \n")
		rec, err := a.AddRecord(t.Context(), RecordInput{Platform: "bilibili", VideoID: "BV1", TranscriptPath: p})
		if err != nil {
			t.Fatalf("AddRecord() error = %v", err)
		}
		if rec.Transcript.FullText != "spoken words" {
			t.Errorf("FullText = %q", rec.Transcript.FullText)
		}
	})

	t.Run("missing identity", func(t *testing.T) {
		_, err := a.AddRecord(t.Context(), RecordInput{Platform: "youtube"})
		if !errors.Is(err, notesync.ErrInvalidIdentity) {
			t.Errorf("error = %v, want ErrInvalidIdentity", err)
		}
	})

	t.Run("no content", func(t *testing.T) {
		_, err := a.AddRecord(t.Context(), RecordInput{Platform: "youtube", VideoID: "x"})
		if !errors.Is(err, notesync.ErrNoContent) {
			t.Errorf("error = %v, want ErrNoContent", err)
		}
	})

	t.Run("remove", func(t *testing.T) {
		if err := a.RemoveRecord(t.Context(), rec.SourceKey); err != nil {
			t.Fatalf("RemoveRecord() error = %v", err)
		}
		if _, err := a.GetRecord(t.Context(), rec.ID); !errors.Is(err, notesync.ErrNotFound) {
			t.Errorf("GetRecord() after remove error = %v, want ErrNotFound", err)
		}
	})
}

func TestNotesyncApp_PushScanItems(t *testing.T) {
	cfg := testConfig(t, "host")
	a := openApp(t, cfg, "Push")
	defer a.Close()

	rec := addSample(t, a, "abc", 1700000000000)
	res, err := a.Push(t.Context(), rec.ID, pushAll)
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if !res.Uploaded {
		t.Error("Push().Uploaded = false, want true")
	}
	if len(res.DocumentIDs) != 2 {
		t.Errorf("DocumentIDs = %v, want note and transcript", res.DocumentIDs)
	}
	if _, err := os.Stat(filepath.Join(cfg.BaseDir, "objects")); err != nil {
		t.Errorf("object store root not created: %v", err)
	}

	recs, err := a.Scan(t.Context())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Status != notesync.StatusSynced {
		t.Fatalf("Scan() = %+v, want one SYNCED record", recs)
	}

	items, err := a.Items(t.Context())
	if err != nil {
		t.Fatalf("Items() error = %v", err)
	}
	if len(items) != 1 || items[0].Status != notesync.StatusSynced {
		t.Errorf("Items() = %+v, want the persisted SYNCED record", items)
	}

	del, err := a.DeleteRemote(t.Context(), rec.SourceKey, notesync.DeleteOptions{DeleteRemoteIndexDocs: true})
	if err != nil {
		t.Fatalf("DeleteRemote() error = %v", err)
	}
	if len(del.Deleted) != 2 {
		t.Errorf("Deleted = %v, want both documents", del.Deleted)
	}
	if del.Record == nil || del.Record.Status != notesync.StatusDeleted {
		t.Errorf("DeleteRemote().Record = %+v, want DELETED", del.Record)
	}
}

func TestNotesyncApp_PullOnSecondHost(t *testing.T) {
	cfgA := testConfig(t, "host-a")
	cfgB := testConfig(t, "host-b")
	cfgB.Profiles[0].ObjectStore.Root = cfgA.Profiles[0].ObjectStore.Root

	a := openApp(t, cfgA, "Push")
	rec := addSample(t, a, "abc", 1700000000000)
	if _, err := a.Push(t.Context(), rec.SourceKey, pushAll); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	b := openApp(t, cfgB, "Pull")
	defer b.Close()

	res, err := b.Pull(t.Context(), rec.SourceKey, notesync.PullOptions{})
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if !res.Created {
		t.Error("Pull().Created = false, want true")
	}
	got, err := b.GetRecord(t.Context(), rec.SourceKey)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.Note != rec.Note {
		t.Errorf("pulled note = %q, want %q", got.Note, rec.Note)
	}

	fork, err := b.Fork(t.Context(), rec.SourceKey, notesync.ForkOptions{FromSide: notesync.SideLocal, NewCreatedAtMs: 1700000000001})
	if err != nil {
		t.Fatalf("Fork() error = %v", err)
	}
	if fork.NewSourceKey != "youtube:abc:1700000000001" {
		t.Errorf("NewSourceKey = %q", fork.NewSourceKey)
	}
}

func TestNotesyncApp_EncryptedBundles(t *testing.T) {
	cfgA := testConfig(t, "host-a")
	cfgA.Encryption.Type = "test"
	cfgB := testConfig(t, "host-b")
	cfgB.Encryption.Type = "test"
	cfgB.Profiles[0].ObjectStore.Root = cfgA.Profiles[0].ObjectStore.Root

	a := openApp(t, cfgA, "Push")
	rec := addSample(t, a, "enc", 1700000000000)
	if _, err := a.Push(t.Context(), rec.ID, pushAll); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	a.Close()

	b := openApp(t, cfgB, "Pull")
	defer b.Close()

	if !b.NeedsPassphrase() {
		t.Fatal("NeedsPassphrase() = false, want true")
	}
	if _, err := b.Pull(t.Context(), rec.SourceKey, notesync.PullOptions{}); err == nil {
		t.Fatal("Pull() before Unlock error = nil, want locked error")
	}
	if err := b.Unlock("secret"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if _, err := b.Pull(t.Context(), rec.SourceKey, notesync.PullOptions{}); err != nil {
		t.Fatalf("Pull() after Unlock error = %v", err)
	}
}

func TestNotesyncApp_SetupKeys(t *testing.T) {
	t.Run("encryption disabled", func(t *testing.T) {
		a := openApp(t, testConfig(t, "host"), "SetupKeys")
		defer a.Close()
		if a.NeedsPassphrase() {
			t.Error("NeedsPassphrase() = true with encryption disabled")
		}
		if err := a.SetupKeys("pw"); err == nil {
			t.Error("SetupKeys() error = nil, want disabled error")
		}
		if err := a.Unlock("pw"); err != nil {
			t.Errorf("Unlock() error = %v, want no-op", err)
		}
	})

	t.Run("age keys", func(t *testing.T) {
		cfg := testConfig(t, "host")
		cfg.Encryption.Type = "age"
		a := openApp(t, cfg, "SetupKeys")
		defer a.Close()

		if a.NeedsPassphrase() {
			t.Error("NeedsPassphrase() = true before setup")
		}
		if err := a.SetupKeys("correct horse"); err != nil {
			t.Fatalf("SetupKeys() error = %v", err)
		}
		if !a.NeedsPassphrase() {
			t.Error("NeedsPassphrase() = false after setup")
		}
		if err := a.SetupKeys("again"); err == nil {
			t.Error("second SetupKeys() error = nil, want already exists")
		}
		if err := a.Unlock("wrong"); err == nil {
			t.Error("Unlock(wrong) error = nil")
		}
		if err := a.Unlock("correct horse"); err != nil {
			t.Errorf("Unlock() error = %v", err)
		}
	})
}

func TestNotesyncApp_OperationJournal(t *testing.T) {
	cfg := testConfig(t, "host")

	a := openApp(t, cfg, "Push")
	rec := addSample(t, a, "abc", 1700000000000)
	if _, err := a.Push(t.Context(), rec.ID, pushAll); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	a.Close()

	b := openApp(t, cfg, "Pull")
	if _, err := b.Pull(t.Context(), "not-a-key", notesync.PullOptions{}); err == nil {
		t.Fatal("Pull(bad key) error = nil")
	}
	b.Close()

	c := openApp(t, cfg, "History")
	defer c.Close()
	ops, err := c.History(t.Context(), 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("History() returned %d operations, want 2", len(ops))
	}

	// Newest first.
	if ops[0].Operation != "Pull" || ops[0].Status != StatusError {
		t.Errorf("ops[0] = %+v, want failed Pull", ops[0])
	}
	if ops[1].Operation != "Push" || ops[1].Status != StatusSuccess {
		t.Errorf("ops[1] = %+v, want successful Push", ops[1])
	}
	if ops[1].FinishedAt == nil {
		t.Error("Push operation has no finish time")
	}
}

func TestNotesyncApp_UseProfile(t *testing.T) {
	cfg := testConfig(t, "host")
	cfg.Profiles = append(cfg.Profiles, config.ProfileConfig{
		Name:        "work",
		ObjectStore: config.ObjectStoreConfig{Type: "memory"},
		RemoteIndex: config.RemoteIndexConfig{Type: "memory"},
	})

	a := openApp(t, cfg, "UseProfile")
	addSample(t, a, "abc", 1700000000000)
	if _, err := a.Scan(t.Context()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if err := a.UseProfile(t.Context(), "nope"); err == nil {
		t.Error("UseProfile(unknown) error = nil")
	}
	if err := a.UseProfile(t.Context(), "work"); err != nil {
		t.Fatalf("UseProfile() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if cfg.ActiveProfile != "work" {
		t.Errorf("ActiveProfile = %q, want work", cfg.ActiveProfile)
	}

	db, err := database.NewSQLiteDatabase(filepath.Join(cfg.Database.DataDir, cfg.HostID+".db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	left, err := db.ListReconciliation(t.Context(), config.DefaultProfile)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("default scope still has %d records", len(left))
	}
}

func TestNotesyncApp_BackupDatabase(t *testing.T) {
	a := openApp(t, testConfig(t, "host"), "BackupDatabase")
	defer a.Close()
	addSample(t, a, "abc", 1700000000000)

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := a.BackupDatabase(dest); err != nil {
		t.Fatalf("BackupDatabase() error = %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("backup not written: %v", err)
	}
	if err := a.BackupDatabase(dest); err == nil {
		t.Error("BackupDatabase() onto an existing file error = nil")
	}
}
