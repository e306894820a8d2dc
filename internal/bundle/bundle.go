// Package bundle encodes a note artifact into a deterministic zip archive.
//
// Archive layout, in this order:
//
//	meta.json        always
//	audio.json       optional
//	transcript.json  optional
//	transcript.srt   optional, derived from transcript.json
//	note.md          optional
//
// Every entry uses deflate, a fixed 1980-01-01 timestamp and mode 0644, so
// the same logical content always produces the same bytes and the same hash.
package bundle

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Entry names inside the archive.
const (
	MetaFile           = "meta.json"
	AudioFile          = "audio.json"
	TranscriptFile     = "transcript.json"
	TranscriptSRTFile  = "transcript.srt"
	NoteFile           = "note.md"
	MetaVersion        = 1
	maxEntrySize int64 = 64 << 20
)

// ErrCorrupt is returned by Decode when the archive is malformed, a required
// entry is absent, or a part does not match its recorded hash.
var ErrCorrupt = errors.New("corrupt bundle")

// epoch is the earliest timestamp a zip entry can carry.
var epoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Parts is the logical content of one artifact.
// Zero values mean "absent": an empty Note, a nil Transcript or a nil Audio
// are left out of the archive.
type Parts struct {
	SourceKey  string
	SyncID     string
	Note       string
	Transcript *Transcript
	Audio      map[string]any
	Request    map[string]any
}

// HasNote reports whether the note part carries content.
func (p *Parts) HasNote() bool {
	return strings.TrimSpace(normalizeNote(p.Note)) != ""
}

// HasTranscript reports whether the transcript part is present.
func (p *Parts) HasTranscript() bool {
	return p.Transcript != nil
}

// Files records which entries an archive contains.
type Files struct {
	AudioJSON      bool `json:"audio_json"`
	NoteMD         bool `json:"note_md"`
	TranscriptJSON bool `json:"transcript_json"`
	TranscriptSRT  bool `json:"transcript_srt"`
}

// Meta is the content of meta.json.
type Meta struct {
	Version       int               `json:"version"`
	SourceKey     string            `json:"source_key"`
	SyncID        string            `json:"sync_id"`
	CreatedAtMs   *int64            `json:"created_at_ms"`
	Files         Files             `json:"files"`
	ContentSHA256 map[string]string `json:"content_sha256"`
	Request       map[string]any    `json:"request,omitempty"`
}

// Bundle is an encoded archive together with its hash and manifest.
type Bundle struct {
	Data []byte
	Hash string
	Meta Meta
}

// NoteSHA256 returns the hash of the note entry, or "" when absent.
func (b *Bundle) NoteSHA256() string { return b.Meta.ContentSHA256["note_md"] }

// TranscriptSHA256 returns the hash of the transcript entry, or "" when absent.
func (b *Bundle) TranscriptSHA256() string { return b.Meta.ContentSHA256["transcript_json"] }

type entry struct {
	name string
	data []byte
}

// Encode serializes parts into the canonical archive.
func Encode(p *Parts) (*Bundle, error) {
	if p == nil {
		return nil, fmt.Errorf("encoding bundle: nil parts")
	}

	noteBytes := NoteBytes(p.Note)

	var audioBytes, transcriptBytes, srtBytes []byte
	var err error
	if len(p.Audio) > 0 {
		if audioBytes, err = CanonicalJSON(p.Audio); err != nil {
			return nil, fmt.Errorf("encoding audio: %w", err)
		}
	}
	if p.Transcript != nil {
		if transcriptBytes, err = TranscriptBytes(p.Transcript); err != nil {
			return nil, fmt.Errorf("encoding transcript: %w", err)
		}
		if srt := RenderSRT(p.Transcript); strings.TrimSpace(srt) != "" {
			srtBytes = []byte(srt)
		}
	}

	meta := Meta{
		Version:       MetaVersion,
		SourceKey:     p.SourceKey,
		SyncID:        p.SyncID,
		CreatedAtMs:   createdAtFromSourceKey(p.SourceKey),
		ContentSHA256: map[string]string{},
		Files: Files{
			AudioJSON:      len(audioBytes) > 0,
			NoteMD:         len(noteBytes) > 0,
			TranscriptJSON: len(transcriptBytes) > 0,
			TranscriptSRT:  len(srtBytes) > 0,
		},
	}
	if len(p.Request) > 0 {
		meta.Request = p.Request
	}
	if len(noteBytes) > 0 {
		meta.ContentSHA256["note_md"] = sha256Hex(noteBytes)
	}
	if len(audioBytes) > 0 {
		meta.ContentSHA256["audio_json"] = sha256Hex(audioBytes)
	}
	if len(transcriptBytes) > 0 {
		meta.ContentSHA256["transcript_json"] = sha256Hex(transcriptBytes)
	}
	if len(srtBytes) > 0 {
		meta.ContentSHA256["transcript_srt"] = sha256Hex(srtBytes)
	}

	metaBytes, err := CanonicalJSON(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding meta: %w", err)
	}

	entries := []entry{{MetaFile, metaBytes}}
	for _, e := range []entry{
		{AudioFile, audioBytes},
		{TranscriptFile, transcriptBytes},
		{TranscriptSRTFile, srtBytes},
		{NoteFile, noteBytes},
	} {
		if len(e.data) > 0 {
			entries = append(entries, e)
		}
	}

	data, err := writeArchive(entries)
	if err != nil {
		return nil, err
	}
	return &Bundle{Data: data, Hash: sha256Hex(data), Meta: meta}, nil
}

func writeArchive(entries []entry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: epoch,
		}
		hdr.SetMode(0o644)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("creating entry %s: %w", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, fmt.Errorf("writing entry %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an archive produced by Encode. It fails with ErrCorrupt when
// the archive cannot be read, meta.json is missing or invalid, an entry
// flagged in meta.json is absent, or an entry does not match its hash.
func Decode(data []byte) (*Parts, *Meta, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading archive: %w", ErrCorrupt, err)
	}

	contents := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		b, err := readEntry(f)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: reading %s: %w", ErrCorrupt, f.Name, err)
		}
		contents[f.Name] = b
	}

	metaBytes, ok := contents[MetaFile]
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing %s", ErrCorrupt, MetaFile)
	}
	meta, err := parseMeta(metaBytes)
	if err != nil {
		return nil, nil, err
	}

	required := []struct {
		name    string
		flagged bool
		hashKey string
	}{
		{AudioFile, meta.Files.AudioJSON, "audio_json"},
		{TranscriptFile, meta.Files.TranscriptJSON, "transcript_json"},
		{TranscriptSRTFile, meta.Files.TranscriptSRT, "transcript_srt"},
		{NoteFile, meta.Files.NoteMD, "note_md"},
	}
	for _, r := range required {
		b, present := contents[r.name]
		if !r.flagged {
			continue
		}
		if !present {
			return nil, nil, fmt.Errorf("%w: missing %s", ErrCorrupt, r.name)
		}
		if want := meta.ContentSHA256[r.hashKey]; want != "" && want != sha256Hex(b) {
			return nil, nil, fmt.Errorf("%w: %s does not match its recorded hash", ErrCorrupt, r.name)
		}
	}

	parts := &Parts{
		SourceKey: meta.SourceKey,
		SyncID:    meta.SyncID,
		Request:   meta.Request,
	}
	if meta.Files.NoteMD {
		parts.Note = string(contents[NoteFile])
	}
	if meta.Files.TranscriptJSON {
		t, err := ParseTranscript(contents[TranscriptFile])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		parts.Transcript = t
	}
	if meta.Files.AudioJSON {
		audio, err := decodeObject(contents[AudioFile])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: parsing %s: %w", ErrCorrupt, AudioFile, err)
		}
		parts.Audio = audio
	}
	return parts, meta, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > maxEntrySize {
		return nil, fmt.Errorf("entry exceeds %d bytes", maxEntrySize)
	}
	return b, nil
}

// NoteBytes returns the bytes stored for a note: BOM stripped, line endings
// normalized to LF, and nil when nothing but whitespace remains.
func NoteBytes(note string) []byte {
	n := normalizeNote(note)
	if strings.TrimSpace(n) == "" {
		return nil
	}
	return []byte(n)
}

// NoteSHA256 returns the hash a bundle would record for the note, or "".
func NoteSHA256(note string) string {
	b := NoteBytes(note)
	if b == nil {
		return ""
	}
	return sha256Hex(b)
}

// TranscriptSHA256 returns the hash a bundle would record for the transcript, or "".
func TranscriptSHA256(t *Transcript) (string, error) {
	if t == nil {
		return "", nil
	}
	b, err := TranscriptBytes(t)
	if err != nil {
		return "", err
	}
	return sha256Hex(b), nil
}

func normalizeNote(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func createdAtFromSourceKey(sourceKey string) *int64 {
	i := strings.LastIndex(sourceKey, ":")
	if i < 0 {
		return nil
	}
	var ms int64
	tail := strings.TrimSpace(sourceKey[i+1:])
	if tail == "" {
		return nil
	}
	for _, c := range tail {
		if c < '0' || c > '9' {
			return nil
		}
		ms = ms*10 + int64(c-'0')
	}
	return &ms
}

// Hash returns the hex sha256 of data.
func Hash(data []byte) string {
	return sha256Hex(data)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
