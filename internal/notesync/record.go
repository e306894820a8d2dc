package notesync

import (
	"context"
	"strings"
	"time"

	"notesync/internal/bundle"
)

// DocumentKind distinguishes the two projections of an artifact.
type DocumentKind string

const (
	KindNote       DocumentKind = "note"
	KindTranscript DocumentKind = "transcript"
)

// Kinds lists every document kind in canonical order.
var Kinds = []DocumentKind{KindNote, KindTranscript}

// LocalRecord is one locally generated or pulled note.
//
// Revision counts content writes on this device and SyncedRevision is the
// revision last confirmed equal to the object store. A record whose
// Revision is ahead of SyncedRevision carries a write no other replica has
// seen; that is the logical clock used against tombstones. SyncedBundleHash
// is the bundle hash both sides agreed on at that point.
type LocalRecord struct {
	ID          string
	SourceKey   string
	Title       string
	Platform    string
	VideoID     string
	CreatedAtMs int64

	Note       string
	Transcript *bundle.Transcript
	Audio      map[string]any
	Request    map[string]any

	Revision         int64
	SyncedRevision   int64
	SyncedBundleHash string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasNote reports whether the record holds a non-blank note.
func (r *LocalRecord) HasNote() bool {
	return strings.TrimSpace(strings.TrimPrefix(r.Note, "\ufeff")) != ""
}

// HasTranscript reports whether the record holds a transcript.
func (r *LocalRecord) HasTranscript() bool {
	return r.Transcript != nil
}

// Has reports whether the record holds the given part.
func (r *LocalRecord) Has(kind DocumentKind) bool {
	switch kind {
	case KindNote:
		return r.HasNote()
	case KindTranscript:
		return r.HasTranscript()
	}
	return false
}

// Dirty reports whether the record has writes not yet confirmed remotely.
func (r *LocalRecord) Dirty() bool {
	return r.Revision > r.SyncedRevision
}

// markSynced records that the record now matches the bundle with hash.
func (r *LocalRecord) markSynced(hash string) {
	r.SyncedRevision = r.Revision
	r.SyncedBundleHash = hash
}

// Identity returns the record's identity, deriving it from platform, video
// id and creation time when no source key has been assigned yet.
func (r *LocalRecord) Identity() (Identity, error) {
	if r.SourceKey != "" {
		return ParseSourceKey(r.SourceKey)
	}
	return NewIdentity(r.Platform, r.VideoID, r.CreatedAtMs)
}

// Parts returns the bundle content for the selected kinds.
func (r *LocalRecord) Parts(id Identity, includeNote, includeTranscript bool) *bundle.Parts {
	p := &bundle.Parts{
		SourceKey: id.SourceKey,
		SyncID:    id.SyncID,
		Audio:     r.Audio,
		Request:   r.Request,
	}
	if includeNote && r.HasNote() {
		p.Note = r.Note
	}
	if includeTranscript {
		p.Transcript = r.Transcript
	}
	return p
}

// DisplayTitle returns the title used in remote document names.
func (r *LocalRecord) DisplayTitle() string {
	if t := strings.TrimSpace(r.Title); t != "" {
		return t
	}
	if r.Audio != nil {
		if t, ok := r.Audio["title"].(string); ok && strings.TrimSpace(t) != "" {
			return strings.TrimSpace(t)
		}
	}
	return ""
}

// LocalStore is CRUD over local records.
type LocalStore interface {
	// Get returns ErrNotFound when no record has the id.
	Get(ctx context.Context, id string) (*LocalRecord, error)
	ListAll(ctx context.Context) ([]*LocalRecord, error)
	// Upsert inserts or replaces a record by id.
	Upsert(ctx context.Context, rec *LocalRecord) error
	Delete(ctx context.Context, id string) error
	// FindBySourceKey returns nil, nil when no record carries the key.
	FindBySourceKey(ctx context.Context, sourceKey string) (*LocalRecord, error)
}
