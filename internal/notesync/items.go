package notesync

import (
	"context"
	"fmt"
)

// Items returns the persisted records of scope without contacting any
// remote store. Local facts are refreshed from the local store: records
// deleted since the scan lose their local side, and records created since
// appear as LOCAL_ONLY. Statuses that only a scan can settle are kept.
func (s *Service) Items(ctx context.Context, scope string) ([]ReconciliationRecord, error) {
	recs, err := s.recs.ListReconciliation(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("listing reconciliation for %s: %w", scope, err)
	}
	locals, err := s.local.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing local records: %w", err)
	}

	byKey := make(map[string]*LocalRecord, len(locals))
	for _, rec := range locals {
		id, err := rec.Identity()
		if err != nil {
			continue
		}
		if prev, ok := byKey[id.SourceKey]; ok {
			rec = newer(prev, rec)
		}
		byKey[id.SourceKey] = rec
	}

	seen := make(map[string]bool, len(recs))
	out := make([]ReconciliationRecord, 0, len(recs)+len(byKey))
	for _, r := range recs {
		seen[r.SourceKey] = true
		var lf *LocalFacts
		if rec, ok := byKey[r.SourceKey]; ok {
			id, err := rec.Identity()
			if err == nil {
				lf, err = localFacts(rec, id)
			}
			if err != nil {
				s.logger.Warn("local facts unavailable", "source_key", r.SourceKey, "error", err)
				lf = r.Local
			}
		}
		r.Local = lf
		if r.Status != StatusConflict && r.Status != StatusDeleted {
			r.Verdict = Classify(r.Facts)
		}
		out = append(out, r)
	}

	for key, rec := range byKey {
		if seen[key] {
			continue
		}
		id, err := rec.Identity()
		if err != nil {
			continue
		}
		f := Facts{
			SourceKey:   id.SourceKey,
			SyncID:      id.SyncID,
			Title:       rec.DisplayTitle(),
			Platform:    id.Platform,
			VideoID:     id.VideoID,
			CreatedAtMs: id.CreatedAtMs,
			Local: &LocalFacts{
				RecordID:      rec.ID,
				HasNote:       rec.HasNote(),
				HasTranscript: rec.HasTranscript(),
				Dirty:         rec.Dirty(),
			},
		}
		out = append(out, ReconciliationRecord{
			Scope:   scope,
			Facts:   f,
			Verdict: Verdict{Status: StatusLocalOnly},
		})
	}

	SortRecords(out)
	return out, nil
}
