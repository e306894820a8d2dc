package testutil

import (
	"testing"

	"notesync/internal/database"
	"notesync/internal/notesync"
)

// NewTestDatabase creates a migrated in-memory SQLite database. It is
// closed when the test completes.
func NewTestDatabase(t *testing.T) notesync.Database {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}
