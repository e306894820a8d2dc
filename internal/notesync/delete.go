package notesync

import (
	"context"
	"fmt"
)

// DeleteOptions controls a remote delete.
type DeleteOptions struct {
	DeleteRemoteIndexDocs bool
}

// DeleteResult reports what a remote delete changed.
type DeleteResult struct {
	SourceKey    string
	TombstoneKey string
	Deleted      []DocumentKind
	// Warnings collects document deletions that failed. The tombstone is
	// already written, so every replica converges to DELETED regardless.
	Warnings []string
	Record   *ReconciliationRecord
}

// DeleteRemote tombstones sourceKey in the scope's object store, then makes
// a best-effort attempt to delete its remote index documents.
func (s *Service) DeleteRemote(ctx context.Context, scope Scope, sourceKey string, opts DeleteOptions) (*DeleteResult, error) {
	id, err := ParseSourceKey(sourceKey)
	if err != nil {
		return nil, fmt.Errorf("delete: %w", err)
	}

	unlock, err := s.lock(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t := Tombstone{
		Version:     1,
		SourceKey:   id.SourceKey,
		SyncID:      id.SyncID,
		DeletedAtMs: s.nowMs(),
		Profile:     scope.Name,
	}
	if info, err := scope.Bundles.Stat(ctx, id.SyncID); err == nil && info != nil {
		t.BundleSHA256 = info.Hash
	}
	if err := scope.Bundles.WriteTombstone(ctx, t); err != nil {
		return nil, fmt.Errorf("delete %s: %w", id.SourceKey, err)
	}

	res := &DeleteResult{
		SourceKey:    id.SourceKey,
		TombstoneKey: scope.Bundles.TombstoneKey(id.SyncID),
	}

	remote := s.remoteFactsFor(ctx, scope, id.SourceKey)
	if opts.DeleteRemoteIndexDocs {
		for _, kind := range Kinds {
			docID := remote.DocumentID(kind)
			if docID == "" {
				continue
			}
			if err := scope.Index.DeleteDocument(ctx, kind, docID); err != nil {
				s.logger.Warn("remote index delete failed", "source_key", id.SourceKey, "kind", kind, "document_id", docID, "error", err)
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", kind, err))
				continue
			}
			res.Deleted = append(res.Deleted, kind)
			if kind == KindNote {
				remote.NoteDocID, remote.NoteName = "", ""
			} else {
				remote.TranscriptDocID, remote.TranscriptName = "", ""
			}
		}
	}

	if res.Record, err = s.refresh(ctx, scope, id, remote); err != nil {
		return nil, err
	}
	s.logger.Info("deleted remotely", "scope", scope.Name, "source_key", id.SourceKey,
		"documents", res.Deleted, "warnings", len(res.Warnings), "status", res.Record.Status)
	return res, nil
}
