package notesync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"notesync/internal/bundle"
)

// PullOptions controls how a pulled bundle merges into the local record.
type PullOptions struct {
	// Overwrite replaces every local part with the bundle's. Without it only
	// parts the local record lacks are written, and a pull onto a CONFLICT
	// fails with ErrConflictingWrite.
	Overwrite bool
}

// PullResult reports what a pull changed.
type PullResult struct {
	SourceKey string
	LocalID   string
	Created   bool
	Written   []DocumentKind
	Record    *ReconciliationRecord
}

// Pull fetches the bundle for sourceKey from the scope's object store and
// writes it into the local store.
func (s *Service) Pull(ctx context.Context, scope Scope, sourceKey string, opts PullOptions) (*PullResult, error) {
	id, err := ParseSourceKey(sourceKey)
	if err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}

	unlock, err := s.lock(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tomb, err := scope.Bundles.TombstoneExists(ctx, id.SyncID)
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", id.SourceKey, err)
	}
	if tomb {
		return nil, fmt.Errorf("pull %s: %w", id.SourceKey, ErrTombstoned)
	}

	data, info, err := scope.Bundles.Get(ctx, id.SyncID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("pull %s: %w", id.SourceKey, ErrBundleMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", id.SourceKey, err)
	}
	parts, meta, err := bundle.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", id.SourceKey, err)
	}
	if meta.SourceKey != id.SourceKey || meta.SyncID != id.SyncID {
		return nil, fmt.Errorf("pull %s: %w: bundle belongs to %q", id.SourceKey, ErrCorruptBundle, meta.SourceKey)
	}

	remote := s.remoteFactsFor(ctx, scope, id.SourceKey)
	facts, rec, err := s.inspect(ctx, scope, id, remote)
	if err != nil {
		return nil, err
	}

	res := &PullResult{SourceKey: id.SourceKey}
	overwrite := opts.Overwrite
	if rec != nil && !overwrite && divergent(facts) {
		return nil, fmt.Errorf("pull %s: %w", id.SourceKey, ErrConflictingWrite)
	}

	if rec == nil {
		res.Created = true
		rec = &LocalRecord{
			ID:          s.idgen.New(),
			SourceKey:   id.SourceKey,
			Platform:    id.Platform,
			VideoID:     id.VideoID,
			CreatedAtMs: id.CreatedAtMs,
			Title:       pulledTitle(parts, facts),
			CreatedAt:   s.clock.Now(),
		}
		overwrite = true
	}

	res.Written = mergeParts(rec, parts, overwrite)
	if len(res.Written) > 0 || res.Created {
		rec.Revision++
		rec.UpdatedAt = s.clock.Now()
	}
	if merged, err := localFacts(rec, id); err == nil && merged.BundleHash == info.Hash {
		rec.markSynced(info.Hash)
	}
	if err := s.local.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("pull %s: saving local record: %w", id.SourceKey, err)
	}
	res.LocalID = rec.ID

	if res.Record, err = s.refresh(ctx, scope, id, remote); err != nil {
		return nil, err
	}
	s.logger.Info("pulled", "scope", scope.Name, "source_key", id.SourceKey, "local_id", rec.ID,
		"created", res.Created, "written", res.Written, "status", res.Record.Status)
	return res, nil
}

// mergeParts copies bundle parts into rec. Without overwrite only absent
// parts are filled. It returns the document kinds that were written.
func mergeParts(rec *LocalRecord, parts *bundle.Parts, overwrite bool) []DocumentKind {
	var written []DocumentKind
	if parts.HasNote() && (overwrite || !rec.HasNote()) {
		rec.Note = parts.Note
		written = append(written, KindNote)
	}
	if parts.HasTranscript() && (overwrite || !rec.HasTranscript()) {
		rec.Transcript = parts.Transcript
		written = append(written, KindTranscript)
	}
	if parts.Audio != nil && (overwrite || rec.Audio == nil) {
		rec.Audio = parts.Audio
	}
	if parts.Request != nil && (overwrite || rec.Request == nil) {
		rec.Request = parts.Request
	}
	return written
}

func pulledTitle(parts *bundle.Parts, f Facts) string {
	if parts.Audio != nil {
		if t, ok := parts.Audio["title"].(string); ok && strings.TrimSpace(t) != "" {
			return strings.TrimSpace(t)
		}
	}
	for _, name := range []string{f.Remote.NoteName, f.Remote.TranscriptName} {
		if tag, ok := ParseDocumentName(name); ok && tag.Title != "" && tag.Title != untitled {
			return tag.Title
		}
	}
	return ""
}
