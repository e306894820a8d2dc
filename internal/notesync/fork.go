package notesync

import (
	"context"
	"errors"
	"fmt"

	"notesync/internal/bundle"
)

// Side names where a fork takes its content from.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// MaxForkAttempts bounds how far a fork bumps created_at_ms past collisions.
const MaxForkAttempts = 20

// ForkOptions controls a fork.
type ForkOptions struct {
	FromSide Side
	// NewCreatedAtMs is the new identity's timestamp; zero means now.
	NewCreatedAtMs int64
	// Push uploads the fork right away, leaving it SYNCED instead of LOCAL_ONLY.
	Push              bool
	UpdateRemoteIndex bool
}

// ForkResult reports the new identity.
type ForkResult struct {
	SourceKey    string
	NewSourceKey string
	LocalID      string
	Record       *ReconciliationRecord
	Push         *PushResult
}

// ForkAsCopy saves one side of sourceKey as a new, independent identity with
// a fresh created_at_ms. The original identity is left as it was.
func (s *Service) ForkAsCopy(ctx context.Context, scope Scope, sourceKey string, opts ForkOptions) (*ForkResult, error) {
	id, err := ParseSourceKey(sourceKey)
	if err != nil {
		return nil, fmt.Errorf("fork: %w", err)
	}

	unlock, err := s.lock(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	parts, title, err := s.forkSource(ctx, scope, id, opts.FromSide)
	unlock()
	if err != nil {
		return nil, err
	}

	ms := opts.NewCreatedAtMs
	if ms == 0 {
		ms = s.nowMs()
	}
	newID, err := s.freeIdentity(ctx, scope, id, ms)
	if err != nil {
		return nil, err
	}

	rec := &LocalRecord{
		SourceKey:   newID.SourceKey,
		Title:       title,
		Platform:    newID.Platform,
		VideoID:     newID.VideoID,
		CreatedAtMs: newID.CreatedAtMs,
		Note:        parts.Note,
		Transcript:  parts.Transcript,
		Audio:       parts.Audio,
		Request:     parts.Request,
	}
	if err := s.SaveLocal(ctx, rec); err != nil {
		return nil, fmt.Errorf("fork %s: %w", id.SourceKey, err)
	}

	res := &ForkResult{SourceKey: id.SourceKey, NewSourceKey: newID.SourceKey, LocalID: rec.ID}
	if opts.Push {
		push, err := s.Push(ctx, scope, rec.ID, PushOptions{
			IncludeNote:       true,
			IncludeTranscript: true,
			UpdateRemoteIndex: opts.UpdateRemoteIndex,
		})
		if err != nil {
			return nil, fmt.Errorf("fork %s: pushing copy: %w", id.SourceKey, err)
		}
		res.Push = push
		res.Record = push.Record
	} else {
		unlock, err := s.lock(ctx, scope, newID)
		if err != nil {
			return nil, err
		}
		res.Record, err = s.refresh(ctx, scope, newID, RemoteFacts{Known: true})
		unlock()
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("forked", "scope", scope.Name, "source_key", id.SourceKey, "new_source_key", newID.SourceKey,
		"from", opts.FromSide, "local_id", rec.ID)
	return res, nil
}

func (s *Service) forkSource(ctx context.Context, scope Scope, id Identity, side Side) (*bundle.Parts, string, error) {
	switch side {
	case SideLocal:
		rec, err := s.local.FindBySourceKey(ctx, id.SourceKey)
		if err != nil {
			return nil, "", fmt.Errorf("fork %s: %w", id.SourceKey, err)
		}
		if rec == nil {
			return nil, "", fmt.Errorf("fork %s: local record: %w", id.SourceKey, ErrNotFound)
		}
		if !rec.HasNote() && !rec.HasTranscript() {
			return nil, "", fmt.Errorf("fork %s: %w", id.SourceKey, ErrNoContent)
		}
		return rec.Parts(id, true, true), rec.DisplayTitle(), nil

	case SideRemote:
		data, _, err := scope.Bundles.Get(ctx, id.SyncID)
		if errors.Is(err, ErrNotFound) {
			return nil, "", fmt.Errorf("fork %s: %w", id.SourceKey, ErrBundleMissing)
		}
		if err != nil {
			return nil, "", fmt.Errorf("fork %s: %w", id.SourceKey, err)
		}
		parts, _, err := bundle.Decode(data)
		if err != nil {
			return nil, "", fmt.Errorf("fork %s: %w", id.SourceKey, err)
		}
		title := ""
		if prev, err := s.recs.GetReconciliation(ctx, scope.Name, id.SourceKey); err == nil && prev != nil {
			title = prev.Title
		}
		if title == "" {
			title = pulledTitle(parts, Facts{})
		}
		return parts, title, nil
	}
	return nil, "", fmt.Errorf("fork %s: unknown side %q", id.SourceKey, side)
}

// freeIdentity finds the first timestamp from ms on that no local record,
// bundle or tombstone already uses.
func (s *Service) freeIdentity(ctx context.Context, scope Scope, from Identity, ms int64) (Identity, error) {
	for attempt := 0; attempt < MaxForkAttempts; attempt++ {
		cand, err := from.WithCreatedAt(ms + int64(attempt))
		if err != nil {
			return Identity{}, err
		}
		if cand.SourceKey == from.SourceKey {
			continue
		}
		taken, err := s.identityTaken(ctx, scope, cand)
		if err != nil {
			return Identity{}, err
		}
		if !taken {
			return cand, nil
		}
	}
	return Identity{}, fmt.Errorf("fork %s: no free created_at_ms within %d attempts", from.SourceKey, MaxForkAttempts)
}

func (s *Service) identityTaken(ctx context.Context, scope Scope, id Identity) (bool, error) {
	rec, err := s.local.FindBySourceKey(ctx, id.SourceKey)
	if err != nil {
		return false, fmt.Errorf("checking local records: %w", err)
	}
	if rec != nil {
		return true, nil
	}
	exists, err := scope.Bundles.Exists(ctx, id.SyncID)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}
	return scope.Bundles.TombstoneExists(ctx, id.SyncID)
}
