package notesync

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

type candidate struct {
	id     Identity
	title  string
	rec    *LocalRecord
	remote *RemoteFacts
	facts  Facts
}

// Scan reconciles every identity known to the local store or the remote
// index of scope, persists the records under the scope's name, and returns
// them newest first. Failures reaching the object store or the remote index
// degrade the affected identities to UNKNOWN instead of aborting.
func (s *Service) Scan(ctx context.Context, scope Scope) ([]ReconciliationRecord, error) {
	locals, err := s.local.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing local records: %w", err)
	}

	remoteKnown := true
	var rd remoteDocs
	docs, err := scope.Index.ListDocuments(ctx)
	if err != nil {
		remoteKnown = false
		s.logger.Warn("listing remote documents failed", "scope", scope.Name, "error", err)
		rd = groupDocuments(nil, s.logger)
	} else {
		rd = groupDocuments(docs, s.logger)
	}

	byKey := make(map[string]*candidate)
	for _, rec := range locals {
		id, err := rec.Identity()
		if err != nil {
			s.logger.Warn("skipping local record without identity", "id", rec.ID, "error", err)
			continue
		}
		if c, ok := byKey[id.SourceKey]; ok {
			s.logger.Warn("duplicate local records", "source_key", id.SourceKey, "kept", newer(c.rec, rec).ID)
			c.rec = newer(c.rec, rec)
			continue
		}
		byKey[id.SourceKey] = &candidate{id: id, rec: rec}
	}
	for key, rf := range rd.byKey {
		c, ok := byKey[key]
		if !ok {
			id, err := ParseSourceKey(key)
			if err != nil {
				continue
			}
			c = &candidate{id: id}
			byKey[key] = c
		}
		c.remote = rf
		c.title = rd.tags[key].Title
	}

	cands := make([]*candidate, 0, len(byKey))
	for _, c := range byKey {
		cands = append(cands, c)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for _, c := range cands {
		g.Go(func() error {
			c.facts = s.gather(gctx, scope, c, remoteKnown)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", scope.Name, err)
	}

	now := s.clock.Now()
	out := make([]ReconciliationRecord, 0, len(cands)+len(rd.legacy))
	for _, c := range cands {
		out = append(out, ReconciliationRecord{
			Scope:     scope.Name,
			Facts:     c.facts,
			Verdict:   Classify(c.facts),
			ScannedAt: now,
		})
	}
	for _, l := range rd.legacy {
		f := Facts{
			Title:    l.tag.Title,
			Platform: l.tag.Platform,
			VideoID:  l.tag.VideoID,
			Legacy:   true,
			Remote:   RemoteFacts{Known: true},
		}
		if l.tag.Title == "" && l.tag.Platform == "" {
			f.Title = l.doc.Name
		}
		if l.doc.Kind == KindTranscript || l.tag.Kind == KindTranscript {
			f.Remote.TranscriptDocID, f.Remote.TranscriptName = l.doc.ID, l.doc.Name
		} else {
			f.Remote.NoteDocID, f.Remote.NoteName = l.doc.ID, l.doc.Name
		}
		out = append(out, ReconciliationRecord{Scope: scope.Name, Facts: f, Verdict: Classify(f), ScannedAt: now})
	}
	SortRecords(out)

	persisted := make([]ReconciliationRecord, 0, len(out))
	for _, r := range out {
		if r.SourceKey != "" {
			persisted = append(persisted, r)
		}
	}
	if err := s.recs.ReplaceScope(ctx, scope.Name, persisted); err != nil {
		return nil, fmt.Errorf("persisting scan of %s: %w", scope.Name, err)
	}

	s.logger.Info("scan complete", "scope", scope.Name, "identities", len(cands), "legacy", len(rd.legacy), "statuses", countStatuses(out))
	return out, nil
}

func (s *Service) gather(ctx context.Context, scope Scope, c *candidate, remoteKnown bool) Facts {
	f := Facts{
		SourceKey:   c.id.SourceKey,
		SyncID:      c.id.SyncID,
		Title:       c.title,
		Platform:    c.id.Platform,
		VideoID:     c.id.VideoID,
		CreatedAtMs: c.id.CreatedAtMs,
		Remote:      RemoteFacts{Known: remoteKnown},
	}
	if c.remote != nil {
		f.Remote = *c.remote
	}

	if c.rec != nil {
		if t := c.rec.DisplayTitle(); t != "" {
			f.Title = t
		}
		lf, err := localFacts(c.rec, c.id)
		if err != nil {
			s.logger.Warn("local facts unavailable", "source_key", c.id.SourceKey, "error", err)
			f.Problem = err.Error()
			f.Objects = ObjectFacts{}
			f.Remote.Known = false
			return f
		}
		f.Local = lf
	}

	of, err := objectFacts(ctx, scope.Bundles, c.id.SyncID)
	if err != nil {
		s.logger.Warn("object store lookup failed", "source_key", c.id.SourceKey, "error", err)
		f.Problem = err.Error()
	}
	f.Objects = of
	return f
}

func newer(a, b *LocalRecord) *LocalRecord {
	if b.UpdatedAt.After(a.UpdatedAt) {
		return b
	}
	return a
}

// SortRecords orders records newest first, then by source key.
func SortRecords(recs []ReconciliationRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAtMs != recs[j].CreatedAtMs {
			return recs[i].CreatedAtMs > recs[j].CreatedAtMs
		}
		if recs[i].SourceKey != recs[j].SourceKey {
			return recs[i].SourceKey < recs[j].SourceKey
		}
		return recs[i].Title < recs[j].Title
	})
}

func countStatuses(recs []ReconciliationRecord) map[Status]int {
	counts := make(map[Status]int)
	for _, r := range recs {
		counts[r.Status]++
	}
	return counts
}
