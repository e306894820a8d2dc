package notesync

import (
	"context"
	"fmt"

	"notesync/internal/bundle"
)

// localFacts summarizes a local record, including the hash the record would
// have as a bundle under id.
func localFacts(rec *LocalRecord, id Identity) (*LocalFacts, error) {
	lf := &LocalFacts{
		RecordID:      rec.ID,
		HasNote:       rec.HasNote(),
		HasTranscript: rec.HasTranscript(),
		Dirty:         rec.Dirty(),
		NoteSHA256:    bundle.NoteSHA256(rec.Note),
	}
	ts, err := bundle.TranscriptSHA256(rec.Transcript)
	if err != nil {
		return nil, fmt.Errorf("hashing local transcript: %w", err)
	}
	lf.TranscriptSHA256 = ts

	bn, err := bundle.Encode(rec.Parts(id, true, true))
	if err != nil {
		return nil, fmt.Errorf("encoding local bundle: %w", err)
	}
	lf.BundleHash = bn.Hash
	return lf, nil
}

// objectFacts looks up the bundle and tombstone for syncID. A bundle stored
// without hash metadata is downloaded and hashed.
func objectFacts(ctx context.Context, bundles *BundleStore, syncID string) (ObjectFacts, error) {
	var of ObjectFacts

	tomb, err := bundles.TombstoneExists(ctx, syncID)
	if err != nil {
		return of, err
	}
	info, err := bundles.Stat(ctx, syncID)
	if err != nil {
		return of, err
	}

	of.Known = true
	of.TombstoneExists = tomb
	if info == nil {
		return of, nil
	}
	of.BundleExists = true
	of.BundleHash = info.Hash
	of.NoteSHA256 = info.NoteSHA256
	of.TranscriptSHA256 = info.TranscriptSHA256

	if of.BundleHash == "" {
		data, full, err := bundles.Get(ctx, syncID)
		if err != nil {
			return ObjectFacts{}, err
		}
		_, meta, err := bundle.Decode(data)
		if err != nil {
			return ObjectFacts{}, err
		}
		of.BundleHash = full.Hash
		of.NoteSHA256 = meta.ContentSHA256["note_md"]
		of.TranscriptSHA256 = meta.ContentSHA256["transcript_json"]
	}
	return of, nil
}

// remoteDocs is a remote index listing grouped by identity.
type remoteDocs struct {
	byKey  map[string]*RemoteFacts
	tags   map[string]DocumentTag
	legacy []legacyDoc
}

type legacyDoc struct {
	doc Document
	tag DocumentTag
}

func groupDocuments(docs []Document, logger Logger) remoteDocs {
	rd := remoteDocs{
		byKey: make(map[string]*RemoteFacts),
		tags:  make(map[string]DocumentTag),
	}
	for _, d := range docs {
		tag, ok := ParseDocumentName(d.Name)
		key := tag.SourceKey()
		if !ok || key == "" {
			rd.legacy = append(rd.legacy, legacyDoc{doc: d, tag: tag})
			continue
		}
		kind := d.Kind
		if kind == "" {
			kind = tag.Kind
		}

		rf, found := rd.byKey[key]
		if !found {
			rf = &RemoteFacts{Known: true}
			rd.byKey[key] = rf
			rd.tags[key] = tag
		}
		switch kind {
		case KindTranscript:
			if rf.TranscriptDocID != "" {
				logger.Warn("duplicate remote document", "source_key", key, "kind", kind, "document_id", d.ID)
				continue
			}
			rf.TranscriptDocID, rf.TranscriptName = d.ID, d.Name
		default:
			if rf.NoteDocID != "" {
				logger.Warn("duplicate remote document", "source_key", key, "kind", KindNote, "document_id", d.ID)
				continue
			}
			rf.NoteDocID, rf.NoteName = d.ID, d.Name
		}
	}
	return rd
}

// remoteFactsFor returns the index state for one identity from a live
// listing. When the listing fails it falls back to the last persisted record,
// and to unknown when there is none.
func (s *Service) remoteFactsFor(ctx context.Context, scope Scope, sourceKey string) RemoteFacts {
	docs, err := scope.Index.ListDocuments(ctx)
	if err != nil {
		s.logger.Warn("listing remote documents failed", "scope", scope.Name, "error", err)
		prev, perr := s.recs.GetReconciliation(ctx, scope.Name, sourceKey)
		if perr == nil && prev != nil && prev.Remote.Known {
			return prev.Remote
		}
		return RemoteFacts{}
	}
	rd := groupDocuments(docs, s.logger)
	if rf, ok := rd.byKey[sourceKey]; ok {
		return *rf
	}
	return RemoteFacts{Known: true}
}

// inspect gathers the facts for one identity outside a full scan.
func (s *Service) inspect(ctx context.Context, scope Scope, id Identity, remote RemoteFacts) (Facts, *LocalRecord, error) {
	f := Facts{
		SourceKey:   id.SourceKey,
		SyncID:      id.SyncID,
		Platform:    id.Platform,
		VideoID:     id.VideoID,
		CreatedAtMs: id.CreatedAtMs,
		Remote:      remote,
	}

	rec, err := s.local.FindBySourceKey(ctx, id.SourceKey)
	if err != nil {
		return f, nil, fmt.Errorf("finding local record: %w", err)
	}
	if rec != nil {
		f.Title = rec.DisplayTitle()
		lf, err := localFacts(rec, id)
		if err != nil {
			return f, rec, err
		}
		f.Local = lf
	}

	of, err := objectFacts(ctx, scope.Bundles, id.SyncID)
	if err != nil {
		f.Problem = err.Error()
	}
	f.Objects = of
	return f, rec, nil
}

// refresh reclassifies one identity after an operation and persists the
// record so callers can update their view without a full scan.
func (s *Service) refresh(ctx context.Context, scope Scope, id Identity, remote RemoteFacts) (*ReconciliationRecord, error) {
	f, _, err := s.inspect(ctx, scope, id, remote)
	if err != nil {
		return nil, err
	}
	if f.Title == "" {
		if prev, err := s.recs.GetReconciliation(ctx, scope.Name, id.SourceKey); err == nil && prev != nil {
			f.Title = prev.Title
		}
	}
	rec := ReconciliationRecord{
		Scope:     scope.Name,
		Facts:     f,
		Verdict:   Classify(f),
		ScannedAt: s.clock.Now(),
	}
	if err := s.recs.UpsertReconciliation(ctx, rec); err != nil {
		return nil, fmt.Errorf("persisting reconciliation: %w", err)
	}
	return &rec, nil
}
