package notesync_test

import (
	"strings"
	"testing"

	"notesync/internal/bundle"
	"notesync/internal/notesync"
)

func TestDocumentName(t *testing.T) {
	id, _ := notesync.NewIdentity("youtube", "abc", 1700000000000)

	tests := []struct {
		title string
		kind  notesync.DocumentKind
		want  string
	}{
		{"My Talk", notesync.KindNote, "My Talk [youtube:abc:1700000000000] (note)"},
		{"  ", notesync.KindTranscript, "Untitled [youtube:abc:1700000000000] (transcript)"},
	}
	for _, tt := range tests {
		if got := notesync.DocumentName(tt.title, id, tt.kind); got != tt.want {
			t.Errorf("DocumentName(%q, %s) = %q, want %q", tt.title, tt.kind, got, tt.want)
		}
	}
}

func TestParseDocumentName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantOK     bool
		wantKey    string
		wantTitle  string
		wantKind   notesync.DocumentKind
		wantLegacy bool
	}{
		{
			name:      "note document",
			input:     "My Talk [youtube:abc:1700000000000] (note)",
			wantOK:    true,
			wantKey:   "youtube:abc:1700000000000",
			wantTitle: "My Talk",
			wantKind:  notesync.KindNote,
		},
		{
			name:      "transcript with brackets in title",
			input:     "[Live] Talk [bilibili:BV1x:5] (transcript)",
			wantOK:    true,
			wantKey:   "bilibili:BV1x:5",
			wantTitle: "[Live] Talk",
			wantKind:  notesync.KindTranscript,
		},
		{
			name:      "video id with colon",
			input:     "Clip [local:c:/a.mp4:42] (note)",
			wantOK:    true,
			wantKey:   "local:c:/a.mp4:42",
			wantTitle: "Clip",
			wantKind:  notesync.KindNote,
		},
		{
			name:      "no kind suffix",
			input:     "Talk [youtube:abc:7]",
			wantOK:    true,
			wantKey:   "youtube:abc:7",
			wantTitle: "Talk",
		},
		{
			name:       "legacy without timestamp",
			input:      "Old Talk [youtube:abc] (note)",
			wantOK:     true,
			wantTitle:  "Old Talk",
			wantKind:   notesync.KindNote,
			wantLegacy: true,
		},
		{
			name:   "no tag",
			input:  "random upload.pdf",
			wantOK: false,
		},
		{
			name:   "tag without video id",
			input:  "Talk [youtube] (note)",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, ok := notesync.ParseDocumentName(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseDocumentName() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if tag.SourceKey() != tt.wantKey {
				t.Errorf("SourceKey() = %q, want %q", tag.SourceKey(), tt.wantKey)
			}
			if tag.Title != tt.wantTitle || tag.Kind != tt.wantKind || tag.Legacy != tt.wantLegacy {
				t.Errorf("tag = %+v", tag)
			}
		})
	}
}

func TestDocumentNameRoundTrip(t *testing.T) {
	id, _ := notesync.NewIdentity("youtube", "a:b", 123)
	for _, kind := range notesync.Kinds {
		tag, ok := notesync.ParseDocumentName(notesync.DocumentName("Title", id, kind))
		if !ok || tag.SourceKey() != id.SourceKey || tag.Kind != kind {
			t.Errorf("round trip of %s = %+v, %v", kind, tag, ok)
		}
	}
}

func TestDocumentText(t *testing.T) {
	id, _ := notesync.NewIdentity("youtube", "abc", 1)

	note := notesync.NoteDocumentText("Talk", id, "\ufeff# Heading\r\nbody\r\n")
	wantNote := "[TITLE]=Talk\n[PLATFORM]=youtube\n[VIDEO_ID]=abc\n[SOURCE]=youtube:abc:1\n\n# Heading\nbody\n"
	if note != wantNote {
		t.Errorf("NoteDocumentText() = %q, want %q", note, wantNote)
	}

	tr := notesync.TranscriptDocumentText("Talk", id, &bundle.Transcript{
		Segments: []bundle.Segment{
			{Start: 0, End: 65, Text: "first"},
			{Start: 65, End: 3725, Text: " "},
			{Start: 3600, End: 3725, Text: "late"},
		},
	})
	for _, want := range []string{
		"[VID=abc][PLATFORM=youtube][TIME=00:00-01:05] first",
		"[VID=abc][PLATFORM=youtube][TIME=01:00:00-01:02:05] late",
	} {
		if !strings.Contains(tr, want) {
			t.Errorf("TranscriptDocumentText() missing %q in:\n%s", want, tr)
		}
	}
	if strings.Count(tr, "[VID=") != 2 {
		t.Errorf("blank segment was rendered:\n%s", tr)
	}

	full := notesync.TranscriptDocumentText("", id, &bundle.Transcript{FullText: "only text"})
	if !strings.HasPrefix(full, "[TITLE]=Untitled\n") || !strings.HasSuffix(full, "\nonly text\n") {
		t.Errorf("TranscriptDocumentText() fallback = %q", full)
	}
}
