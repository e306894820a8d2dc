package notesync

import (
	"context"
	"fmt"

	"notesync/internal/bundle"
)

// PushOptions selects what a push uploads.
type PushOptions struct {
	IncludeNote       bool
	IncludeTranscript bool
	UpdateRemoteIndex bool
	// Overwrite replaces divergent remote content. Without it a push onto a
	// CONFLICT fails with ErrConflictingWrite.
	Overwrite bool
}

// PushResult reports what a push changed.
type PushResult struct {
	SourceKey  string
	SyncID     string
	BundleKey  string
	BundleHash string
	Uploaded   bool
	// DocumentIDs maps each indexed kind to the document written.
	DocumentIDs map[DocumentKind]string
	// Warnings collects remote index failures; the bundle upload stands.
	Warnings []string
	Record   *ReconciliationRecord
}

// Push uploads a local record's bundle to the scope's object store, clears
// any tombstone, and optionally upserts the remote index documents.
func (s *Service) Push(ctx context.Context, scope Scope, localID string, opts PushOptions) (*PushResult, error) {
	if !opts.IncludeNote && !opts.IncludeTranscript {
		return nil, fmt.Errorf("push %s: %w", localID, ErrNoContent)
	}

	rec, err := s.local.Get(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("push %s: %w", localID, err)
	}
	hasNote := opts.IncludeNote && rec.HasNote()
	hasTranscript := opts.IncludeTranscript && rec.HasTranscript()
	if !hasNote && !hasTranscript {
		return nil, fmt.Errorf("push %s: %w", localID, ErrNoContent)
	}

	id, err := rec.Identity()
	if err != nil {
		return nil, fmt.Errorf("push %s: %w", localID, err)
	}

	unlock, err := s.lock(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if rec.SourceKey == "" {
		rec.SourceKey = id.SourceKey
		if err := s.local.Upsert(ctx, rec); err != nil {
			return nil, fmt.Errorf("assigning source key: %w", err)
		}
	}

	remote := s.remoteFactsFor(ctx, scope, id.SourceKey)
	facts, _, err := s.inspect(ctx, scope, id, remote)
	if err != nil {
		return nil, err
	}
	if !facts.Objects.Known {
		return nil, fmt.Errorf("push %s: %w: %s", id.SourceKey, ErrUnreachable, facts.Problem)
	}
	if !opts.Overwrite && !facts.Objects.TombstoneExists && divergent(facts) {
		return nil, fmt.Errorf("push %s: %w", id.SourceKey, ErrConflictingWrite)
	}

	bn, err := bundle.Encode(rec.Parts(id, hasNote, hasTranscript))
	if err != nil {
		return nil, fmt.Errorf("push %s: %w", id.SourceKey, err)
	}
	uploaded, err := scope.Bundles.Put(ctx, id, bn)
	if err != nil {
		return nil, fmt.Errorf("push %s: %w", id.SourceKey, err)
	}
	if err := scope.Bundles.ClearTombstone(ctx, id.SyncID); err != nil {
		return nil, fmt.Errorf("push %s: %w", id.SourceKey, err)
	}

	res := &PushResult{
		SourceKey:   id.SourceKey,
		SyncID:      id.SyncID,
		BundleKey:   scope.Bundles.BundleKey(id.SyncID),
		BundleHash:  bn.Hash,
		Uploaded:    uploaded,
		DocumentIDs: map[DocumentKind]string{},
	}

	if opts.UpdateRemoteIndex {
		remote = s.upsertDocuments(ctx, scope, id, rec, hasNote, hasTranscript, remote, res)
	}

	rec.markSynced(bn.Hash)
	if err := s.local.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("marking %s synced: %w", localID, err)
	}

	if res.Record, err = s.refresh(ctx, scope, id, remote); err != nil {
		return nil, err
	}
	s.logger.Info("pushed", "scope", scope.Name, "source_key", id.SourceKey, "uploaded", uploaded,
		"bundle_sha256", bn.Hash, "status", res.Record.Status, "warnings", len(res.Warnings))
	return res, nil
}

func (s *Service) upsertDocuments(ctx context.Context, scope Scope, id Identity, rec *LocalRecord, hasNote, hasTranscript bool, remote RemoteFacts, res *PushResult) RemoteFacts {
	title := rec.DisplayTitle()
	for _, kind := range Kinds {
		var text string
		switch {
		case kind == KindNote && hasNote:
			text = NoteDocumentText(title, id, rec.Note)
		case kind == KindTranscript && hasTranscript:
			text = TranscriptDocumentText(title, id, rec.Transcript)
		default:
			continue
		}

		name := DocumentName(title, id, kind)
		docID, err := scope.Index.UpsertDocument(ctx, kind, remote.DocumentID(kind), name, text)
		if err != nil {
			s.logger.Warn("remote index upsert failed", "source_key", id.SourceKey, "kind", kind, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", kind, err))
			continue
		}
		res.DocumentIDs[kind] = docID
		if kind == KindNote {
			remote.NoteDocID, remote.NoteName = docID, name
		} else {
			remote.TranscriptDocID, remote.TranscriptName = docID, name
		}
	}
	return remote
}
