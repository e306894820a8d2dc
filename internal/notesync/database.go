package notesync

import (
	"context"
	"time"
)

// Operation is one journaled CLI invocation that changed state.
type Operation struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Operation  string
	Parameters string
	Status     string
}

// Database is the local persistence layer: the record store, the
// reconciliation table and the operation journal behind one handle.
type Database interface {
	LocalStore
	ReconciliationStore

	CreateOperation(ctx context.Context, operation, parameters string) (*Operation, error)
	FinishOperation(ctx context.Context, id int64, status string) error
	// ListOperations returns the newest operations first.
	ListOperations(ctx context.Context, limit int) ([]*Operation, error)

	Path() string
	// CheckMigrations returns an error when the schema is not at the latest version.
	CheckMigrations() error
	Migrate() error
	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(destPath string) error
	Close() error
}
