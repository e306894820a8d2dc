package notesync

import (
	"context"
	"fmt"
)

// ReconciliationStore persists scan results per scope.
type ReconciliationStore interface {
	// ReplaceScope atomically swaps every record of scope for recs.
	ReplaceScope(ctx context.Context, scope string, recs []ReconciliationRecord) error
	// UpsertReconciliation writes one record.
	UpsertReconciliation(ctx context.Context, rec ReconciliationRecord) error
	// GetReconciliation returns nil, nil when the scope has no record for the key.
	GetReconciliation(ctx context.Context, scope, sourceKey string) (*ReconciliationRecord, error)
	ListReconciliation(ctx context.Context, scope string) ([]ReconciliationRecord, error)
	// DeleteScope drops every record of scope.
	DeleteScope(ctx context.Context, scope string) error
}

// Locker serializes operations on one identity.
type Locker interface {
	// Lock blocks until key is held or ctx is done.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Scope binds the stores of one profile. Every scan and operation receives
// its scope explicitly; records computed under one scope are never mixed
// with another's.
type Scope struct {
	Name    string
	Bundles *BundleStore
	Index   RemoteIndex
}

// Service runs scans and sync operations against a scope.
type Service struct {
	local    LocalStore
	recs     ReconciliationStore
	locker   Locker
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	parallel int
}

// DefaultScanParallelism bounds concurrent object store lookups during a scan.
const DefaultScanParallelism = 8

// NewService creates a Service with the provided dependencies.
func NewService(local LocalStore, recs ReconciliationStore, locker Locker, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		local:    local,
		recs:     recs,
		locker:   locker,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		parallel: DefaultScanParallelism,
	}
}

// SetScanParallelism overrides the bound on concurrent lookups.
func (s *Service) SetScanParallelism(n int) {
	if n > 0 {
		s.parallel = n
	}
}

func (s *Service) nowMs() int64 {
	return s.clock.Now().UnixMilli()
}

// lock acquires the per-identity lock keyed by scope and sync id.
func (s *Service) lock(ctx context.Context, scope Scope, id Identity) (func(), error) {
	unlock, err := s.locker.Lock(ctx, scope.Name+"/"+id.SyncID)
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", id.SourceKey, err)
	}
	return unlock, nil
}

// SaveLocal records a local content write: it assigns an id to new records,
// bumps the revision and stores the record.
func (s *Service) SaveLocal(ctx context.Context, rec *LocalRecord) error {
	now := s.clock.Now()
	if rec.ID == "" {
		rec.ID = s.idgen.New()
		rec.CreatedAt = now
	}
	if rec.CreatedAtMs == 0 {
		rec.CreatedAtMs = now.UnixMilli()
	}
	if rec.SourceKey == "" {
		if id, err := NewIdentity(rec.Platform, rec.VideoID, rec.CreatedAtMs); err == nil {
			rec.SourceKey = id.SourceKey
		}
	}
	rec.Revision++
	rec.UpdatedAt = now
	if err := s.local.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("saving local record: %w", err)
	}
	s.logger.Info("local record saved", "id", rec.ID, "source_key", rec.SourceKey, "revision", rec.Revision)
	return nil
}

// DeleteLocal removes a local record. Remote copies are untouched.
func (s *Service) DeleteLocal(ctx context.Context, id string) error {
	if _, err := s.local.Get(ctx, id); err != nil {
		return err
	}
	if err := s.local.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting local record: %w", err)
	}
	s.logger.Info("local record deleted", "id", id)
	return nil
}

// InvalidateScope drops persisted statuses for a scope, used when the
// active profile changes.
func (s *Service) InvalidateScope(ctx context.Context, scope string) error {
	if err := s.recs.DeleteScope(ctx, scope); err != nil {
		return fmt.Errorf("invalidating scope %s: %w", scope, err)
	}
	return nil
}
