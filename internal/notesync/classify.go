package notesync

// Classify computes the status of one identity from its facts. It is pure:
// the same facts always yield the same verdict.
//
// Precedence, highest first:
//  1. legacy remote documents
//  2. a tombstone, unless the local record carries an unsynced write
//  3. unknown, when the object store or remote index could not be read
//  4. presence: local only, or remote only with or without a bundle
//  5. completeness: parts present on one side and not the other
//  6. content: bundle hashes must match for SYNCED
func Classify(f Facts) Verdict {
	if f.Legacy {
		return Verdict{Status: StatusDifyOnlyLegacy}
	}

	hasLocal := f.Local != nil

	if f.Objects.Known && f.Objects.TombstoneExists {
		if hasLocal && f.Local.Dirty {
			return Verdict{Status: StatusLocalOnly}
		}
		return Verdict{Status: StatusDeleted}
	}

	if !f.Objects.Known || !f.Remote.Known {
		return Verdict{Status: StatusUnknown}
	}

	hasDocs := f.Remote.HasNote() || f.Remote.HasTranscript()
	hasBundle := f.Objects.BundleExists

	switch {
	case hasLocal && !hasDocs && !hasBundle:
		return Verdict{Status: StatusLocalOnly}
	case !hasLocal && !hasBundle:
		return Verdict{Status: StatusDifyOnlyNoBundle, BundleAbsent: true}
	case !hasLocal:
		return Verdict{Status: StatusDifyOnly, IndexMissing: indexMissing(f)}
	}

	v := Verdict{BundleAbsent: !hasBundle}
	remoteNote, remoteTranscript := remoteParts(f)
	if remoteNote && !f.Local.HasNote {
		v.LocalMissing = append(v.LocalMissing, KindNote)
	}
	if remoteTranscript && !f.Local.HasTranscript {
		v.LocalMissing = append(v.LocalMissing, KindTranscript)
	}
	if hasBundle {
		if f.Local.HasNote && f.Objects.NoteSHA256 == "" {
			v.RemoteMissing = append(v.RemoteMissing, KindNote)
		}
		if f.Local.HasTranscript && f.Objects.TranscriptSHA256 == "" {
			v.RemoteMissing = append(v.RemoteMissing, KindTranscript)
		}
		v.IndexMissing = indexMissing(f)
	}

	if v.BundleAbsent || len(v.LocalMissing) > 0 || len(v.RemoteMissing) > 0 || len(v.IndexMissing) > 0 {
		v.Status = StatusPartial
		return v
	}

	if f.Local.BundleHash == "" || f.Objects.BundleHash == "" {
		v.Status = StatusUnknown
		return v
	}
	if f.Local.BundleHash != f.Objects.BundleHash {
		v.Status = StatusConflict
		return v
	}
	v.Status = StatusSynced
	return v
}

// remoteParts reports which parts the remote side holds. The bundle is
// authoritative when present; otherwise the index documents stand in.
func remoteParts(f Facts) (note, transcript bool) {
	if f.Objects.BundleExists {
		return f.Objects.NoteSHA256 != "", f.Objects.TranscriptSHA256 != ""
	}
	return f.Remote.HasNote(), f.Remote.HasTranscript()
}

func indexMissing(f Facts) []DocumentKind {
	var missing []DocumentKind
	if f.Objects.NoteSHA256 != "" && !f.Remote.HasNote() {
		missing = append(missing, KindNote)
	}
	if f.Objects.TranscriptSHA256 != "" && !f.Remote.HasTranscript() {
		missing = append(missing, KindTranscript)
	}
	return missing
}

// Conflicting reports whether local and remote content diverge on a part
// both sides hold. A PARTIAL identity can still be conflicting.
func Conflicting(f Facts) bool {
	if f.Local == nil || !f.Objects.BundleExists {
		return false
	}
	if f.Local.HasNote && f.Objects.NoteSHA256 != "" && f.Local.NoteSHA256 != f.Objects.NoteSHA256 {
		return true
	}
	if f.Local.HasTranscript && f.Objects.TranscriptSHA256 != "" && f.Local.TranscriptSHA256 != f.Objects.TranscriptSHA256 {
		return true
	}
	return false
}

// divergent reports whether local and remote content disagree, either as a
// whole-bundle CONFLICT or on a part both sides hold.
func divergent(f Facts) bool {
	return Classify(f).Status == StatusConflict || Conflicting(f)
}
