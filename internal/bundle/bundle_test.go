package bundle

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"reflect"
	"testing"
)

const testSourceKey = "yt:abc123:1700000000000"

func testSyncID() string {
	sum := sha256.Sum256([]byte(testSourceKey))
	return hex.EncodeToString(sum[:])
}

func fullParts() *Parts {
	return &Parts{
		SourceKey: testSourceKey,
		SyncID:    testSyncID(),
		Note:      "# Title\n\nSome notes.\n",
		Transcript: &Transcript{
			Language: "en",
			FullText: "hello world",
			Segments: []Segment{
				{Start: 0, End: 1.5, Text: "hello"},
				{Start: 1.5, End: 3, Text: "world"},
			},
		},
		Audio:   map[string]any{"title": "A video", "platform": "yt", "video_id": "abc123"},
		Request: map[string]any{"style": "minimal"},
	}
}

func TestEncode_Deterministic(t *testing.T) {
	a, err := Encode(fullParts())
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	b, err := Encode(fullParts())
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	if !bytes.Equal(a.Data, b.Data) {
		t.Error("Encode() produced different bytes for the same parts")
	}
	if a.Hash != b.Hash {
		t.Errorf("Encode() hash = %s, then %s", a.Hash, b.Hash)
	}
}

func TestEncode_EntryOrderAndHeaders(t *testing.T) {
	b, err := Encode(fullParts())
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(b.Data), int64(len(b.Data)))
	if err != nil {
		t.Fatalf("zip.NewReader() error: %v", err)
	}

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		if f.Method != zip.Deflate {
			t.Errorf("%s: method = %d, want deflate", f.Name, f.Method)
		}
		if f.Modified.Year() != 1980 {
			t.Errorf("%s: modified = %v, want 1980", f.Name, f.Modified)
		}
		if perm := f.Mode().Perm(); perm != 0o644 {
			t.Errorf("%s: mode = %o, want 644", f.Name, perm)
		}
	}

	want := []string{MetaFile, AudioFile, TranscriptFile, TranscriptSRTFile, NoteFile}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("entries = %v, want %v", names, want)
	}
}

func TestEncode_LineEndingsAndBOM(t *testing.T) {
	lf := fullParts()
	crlf := fullParts()
	crlf.Note = "\ufeff# Title\r\n\r\nSome notes.\r\n"

	a, err := Encode(lf)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	b, err := Encode(crlf)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if a.Hash != b.Hash {
		t.Error("CRLF/BOM note hashed differently from its LF form")
	}
}

func TestEncode_OmitsMissingParts(t *testing.T) {
	tests := []struct {
		name  string
		parts func() *Parts
		files Files
	}{
		{
			name: "note only",
			parts: func() *Parts {
				p := fullParts()
				p.Transcript = nil
				p.Audio = nil
				return p
			},
			files: Files{NoteMD: true},
		},
		{
			name: "transcript only",
			parts: func() *Parts {
				p := fullParts()
				p.Note = "   \n"
				p.Audio = nil
				return p
			},
			files: Files{TranscriptJSON: true, TranscriptSRT: true},
		},
		{
			name: "empty transcript has no subtitles",
			parts: func() *Parts {
				p := fullParts()
				p.Transcript = &Transcript{}
				return p
			},
			files: Files{NoteMD: true, AudioJSON: true, TranscriptJSON: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.parts())
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}
			if b.Meta.Files != tt.files {
				t.Errorf("Files = %+v, want %+v", b.Meta.Files, tt.files)
			}

			zr, err := zip.NewReader(bytes.NewReader(b.Data), int64(len(b.Data)))
			if err != nil {
				t.Fatalf("zip.NewReader() error: %v", err)
			}
			present := map[string]bool{}
			for _, f := range zr.File {
				present[f.Name] = true
			}
			if present[NoteFile] != tt.files.NoteMD {
				t.Errorf("note.md present = %v, want %v", present[NoteFile], tt.files.NoteMD)
			}
			if present[TranscriptSRTFile] != tt.files.TranscriptSRT {
				t.Errorf("transcript.srt present = %v, want %v", present[TranscriptSRTFile], tt.files.TranscriptSRT)
			}
		})
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		parts *Parts
	}{
		{name: "all parts", parts: fullParts()},
		{name: "note only", parts: &Parts{SourceKey: testSourceKey, SyncID: testSyncID(), Note: "just a note\n"}},
		{name: "transcript only", parts: &Parts{
			SourceKey:  testSourceKey,
			SyncID:     testSyncID(),
			Transcript: &Transcript{FullText: "text only"},
		}},
		{name: "nothing but meta", parts: &Parts{SourceKey: testSourceKey, SyncID: testSyncID()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.parts)
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}
			got, meta, err := Decode(b.Data)
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.parts) {
				t.Errorf("Decode() = %+v, want %+v", got, tt.parts)
			}
			if meta.SourceKey != testSourceKey {
				t.Errorf("meta.SourceKey = %q, want %q", meta.SourceKey, testSourceKey)
			}
			if meta.CreatedAtMs == nil || *meta.CreatedAtMs != 1700000000000 {
				t.Errorf("meta.CreatedAtMs = %v, want 1700000000000", meta.CreatedAtMs)
			}
		})
	}
}

func TestDecode_Corrupt(t *testing.T) {
	good, err := Encode(fullParts())
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	archive := func(entries ...entry) []byte {
		data, err := writeArchive(entries)
		if err != nil {
			t.Fatalf("writeArchive() error: %v", err)
		}
		return data
	}
	metaBytes, err := CanonicalJSON(good.Meta)
	if err != nil {
		t.Fatalf("CanonicalJSON() error: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "not a zip", data: []byte("definitely not a zip")},
		{name: "truncated", data: good.Data[:len(good.Data)/2]},
		{name: "missing meta", data: archive(entry{NoteFile, []byte("x")})},
		{name: "invalid meta", data: archive(entry{MetaFile, []byte(`{"version": "one"}`)})},
		{name: "flagged part missing", data: archive(entry{MetaFile, metaBytes})},
		{name: "part hash mismatch", data: archive(
			entry{MetaFile, metaBytes},
			entry{AudioFile, []byte(`{}`)},
			entry{TranscriptFile, []byte(`{}`)},
			entry{TranscriptSRTFile, []byte("x")},
			entry{NoteFile, []byte("tampered")},
		)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.data)
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("Decode() error = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestRenderSRT(t *testing.T) {
	tests := []struct {
		name string
		in   *Transcript
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "empty", in: &Transcript{}, want: ""},
		{
			name: "full text only",
			in:   &Transcript{FullText: "  whole thing  "},
			want: "1\n00:00:00,000 --> 00:00:00,000\nwhole thing\n",
		},
		{
			name: "segments",
			in: &Transcript{Segments: []Segment{
				{Start: 0, End: 1.25, Text: "first"},
				{Start: 2, End: 3, Text: "   "},
				{Start: 3661.5, End: 0, Text: "second"},
			}},
			want: "1\n00:00:00,000 --> 00:00:01,250\nfirst\n\n2\n01:01:01,500 --> 01:01:01,500\nsecond\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderSRT(tt.in); got != tt.want {
				t.Errorf("RenderSRT() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCanonicalJSON_SortsKeys(t *testing.T) {
	got, err := CanonicalJSON(map[string]any{"b": 1, "a": "<ü>"})
	if err != nil {
		t.Fatalf("CanonicalJSON() error: %v", err)
	}
	want := "{\n  \"a\": \"<ü>\",\n  \"b\": 1\n}"
	if string(got) != want {
		t.Errorf("CanonicalJSON() = %q, want %q", got, want)
	}
}
