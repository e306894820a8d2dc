package notesync

import (
	"fmt"
	"strconv"
	"strings"

	"notesync/internal/bundle"
)

const untitled = "Untitled"

// DocumentTag is the identity recovered from a remote document name.
type DocumentTag struct {
	Title       string
	Platform    string
	VideoID     string
	CreatedAtMs int64
	Kind        DocumentKind
	// Legacy is set when the tag carries no created_at_ms. Legacy documents
	// are never matched to an identity.
	Legacy bool
}

// SourceKey returns the tag's source key, or "" for legacy tags.
func (t DocumentTag) SourceKey() string {
	if t.Legacy {
		return ""
	}
	key, err := DeriveSourceKey(t.Platform, t.VideoID, t.CreatedAtMs)
	if err != nil {
		return ""
	}
	return key
}

// DocumentName renders "<title> [source_key] (kind)".
func DocumentName(title string, id Identity, kind DocumentKind) string {
	t := strings.TrimSpace(title)
	if t == "" {
		t = untitled
	}
	return fmt.Sprintf("%s [%s] (%s)", t, id.SourceKey, kind)
}

// ParseDocumentName recovers the identity tag embedded in a document name.
// The last bracketed segment is the tag; it needs at least a platform and a
// video id. A missing or non-numeric timestamp marks the tag legacy. ok is
// false when no tag can be found at all.
func ParseDocumentName(name string) (tag DocumentTag, ok bool) {
	n := strings.TrimSpace(name)

	if i := strings.LastIndex(n, "("); i >= 0 && strings.HasSuffix(n, ")") {
		switch DocumentKind(strings.TrimSpace(n[i+1 : len(n)-1])) {
		case KindNote:
			tag.Kind = KindNote
			n = strings.TrimSpace(n[:i])
		case KindTranscript:
			tag.Kind = KindTranscript
			n = strings.TrimSpace(n[:i])
		}
	}

	right := strings.LastIndex(n, "]")
	if right < 0 {
		return DocumentTag{}, false
	}
	left := strings.LastIndex(n[:right], "[")
	if left < 0 {
		return DocumentTag{}, false
	}

	segs := strings.Split(n[left+1:right], ":")
	for i := range segs {
		segs[i] = strings.TrimSpace(segs[i])
	}
	if len(segs) < 2 || segs[0] == "" {
		return DocumentTag{}, false
	}

	tag.Title = strings.TrimSpace(n[:left])
	tag.Platform = segs[0]
	tag.Legacy = true
	if len(segs) == 2 {
		tag.VideoID = segs[1]
	} else {
		last := segs[len(segs)-1]
		tag.VideoID = strings.Join(segs[1:len(segs)-1], ":")
		if ms, err := strconv.ParseInt(last, 10, 64); err == nil && isDigits(last) {
			tag.CreatedAtMs = ms
			tag.Legacy = false
		} else {
			tag.VideoID = strings.Join(segs[1:], ":")
		}
	}
	if tag.VideoID == "" {
		return DocumentTag{}, false
	}
	return tag, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func documentHeader(title string, id Identity) []string {
	t := strings.TrimSpace(title)
	if t == "" {
		t = untitled
	}
	return []string{
		"[TITLE]=" + t,
		"[PLATFORM]=" + id.Platform,
		"[VIDEO_ID]=" + id.VideoID,
		"[SOURCE]=" + id.SourceKey,
	}
}

// NoteDocumentText renders the searchable text of a note document.
func NoteDocumentText(title string, id Identity, note string) string {
	lines := append(documentHeader(title, id), "", strings.TrimSpace(string(bundle.NoteBytes(note))))
	return strings.Join(lines, "\n") + "\n"
}

// TranscriptDocumentText renders the searchable text of a transcript
// document: one tagged line per segment, or the full text when the
// transcript has no segments.
func TranscriptDocumentText(title string, id Identity, t *bundle.Transcript) string {
	lines := append(documentHeader(title, id), "")
	if t != nil {
		wrote := false
		for _, seg := range t.Segments {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf("[VID=%s][PLATFORM=%s][TIME=%s-%s] %s",
				id.VideoID, id.Platform, clockTime(seg.Start), clockTime(seg.End), text))
			wrote = true
		}
		if !wrote {
			if full := strings.TrimSpace(t.FullText); full != "" {
				lines = append(lines, full)
			}
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

// clockTime formats seconds as MM:SS, or HH:MM:SS from one hour on.
func clockTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
