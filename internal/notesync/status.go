package notesync

import "time"

// Status is the reconciliation verdict for one identity within one scope.
type Status string

const (
	StatusLocalOnly        Status = "LOCAL_ONLY"
	StatusDifyOnly         Status = "DIFY_ONLY"
	StatusDifyOnlyNoBundle Status = "DIFY_ONLY_NO_BUNDLE"
	StatusPartial          Status = "PARTIAL"
	StatusConflict         Status = "CONFLICT"
	StatusSynced           Status = "SYNCED"
	StatusDeleted          Status = "DELETED"
	StatusDifyOnlyLegacy   Status = "DIFY_ONLY_LEGACY"
	StatusUnknown          Status = "UNKNOWN"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusLocalOnly, StatusDifyOnly, StatusDifyOnlyNoBundle, StatusPartial,
		StatusConflict, StatusSynced, StatusDeleted, StatusDifyOnlyLegacy, StatusUnknown:
		return true
	}
	return false
}

// LocalFacts is what the local store knows about an identity.
type LocalFacts struct {
	RecordID         string
	HasNote          bool
	HasTranscript    bool
	Dirty            bool
	BundleHash       string
	NoteSHA256       string
	TranscriptSHA256 string
}

// RemoteFacts is what the remote index listing shows for an identity.
// Known is false when the listing could not be fetched.
type RemoteFacts struct {
	Known           bool
	NoteDocID       string
	NoteName        string
	TranscriptDocID string
	TranscriptName  string
}

// HasNote reports whether a note document is indexed.
func (r RemoteFacts) HasNote() bool { return r.NoteDocID != "" }

// HasTranscript reports whether a transcript document is indexed.
func (r RemoteFacts) HasTranscript() bool { return r.TranscriptDocID != "" }

// DocumentID returns the indexed document id of the given kind.
func (r RemoteFacts) DocumentID(kind DocumentKind) string {
	if kind == KindNote {
		return r.NoteDocID
	}
	return r.TranscriptDocID
}

// ObjectFacts is what the object store holds for an identity.
// Known is false when either lookup failed.
type ObjectFacts struct {
	Known            bool
	BundleExists     bool
	BundleHash       string
	NoteSHA256       string
	TranscriptSHA256 string
	TombstoneExists  bool
}

// Facts gathers one identity's state in all three stores.
type Facts struct {
	SourceKey   string
	SyncID      string
	Title       string
	Platform    string
	VideoID     string
	CreatedAtMs int64

	Local   *LocalFacts
	Remote  RemoteFacts
	Objects ObjectFacts
	Legacy  bool

	// Problem explains why a fact could not be gathered.
	Problem string
}

// Verdict is the Reconciler's classification of a Facts value.
type Verdict struct {
	Status Status
	// LocalMissing lists parts the remote side has and the local record lacks.
	LocalMissing []DocumentKind
	// RemoteMissing lists parts the local record has and the bundle lacks.
	RemoteMissing []DocumentKind
	// IndexMissing lists parts the bundle has but the remote index lacks.
	IndexMissing []DocumentKind
	// BundleAbsent is set when remote documents exist without a bundle.
	BundleAbsent bool
}

// ReconciliationRecord is the persisted scan result for (scope, identity).
type ReconciliationRecord struct {
	Scope string
	Facts
	Verdict
	ScannedAt time.Time
}
