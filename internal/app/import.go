package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"notesync/internal/bundle"
	"notesync/internal/notesync"
)

// Task file suffixes inside a notes directory.
const (
	markdownSuffix   = "_markdown.md"
	transcriptSuffix = "_transcript.json"
	audioSuffix      = "_audio.json"
)

// ImportSummary counts what ImportDirectory did.
type ImportSummary struct {
	Created   int
	Updated   int
	Unchanged int
	// Skipped lists task ids that carry no platform or video id.
	Skipped []string
}

// taskFiles locates the files of one task. Empty paths are absent.
type taskFiles struct {
	id         string
	markdown   string
	transcript string
	audio      string
}

// findTasks lists the tasks under dir. A task lives either in its own
// directory, dir/<task>/<task>_audio.json, or flat as dir/<task>_audio.json.
func findTasks(dir string) ([]taskFiles, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	byID := make(map[string]taskFiles)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if tf, ok := locateTask(filepath.Join(dir, name), name); ok {
				byID[name] = tf
			}
			continue
		}
		if id, ok := strings.CutSuffix(name, audioSuffix); ok && id != "" {
			if _, seen := byID[id]; !seen {
				if tf, ok := locateTask(dir, id); ok {
					byID[id] = tf
				}
			}
		}
	}

	out := make([]taskFiles, 0, len(byID))
	for _, tf := range byID {
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

func locateTask(base, id string) (taskFiles, bool) {
	tf := taskFiles{id: id}
	exists := func(suffix string) string {
		p := filepath.Join(base, id+suffix)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
		return ""
	}
	tf.audio = exists(audioSuffix)
	tf.markdown = exists(markdownSuffix)
	tf.transcript = exists(transcriptSuffix)
	return tf, tf.audio != ""
}

// readTask builds a local record from a task's files. It returns nil when
// the audio metadata names no platform or video id.
func readTask(tf taskFiles) (*notesync.LocalRecord, error) {
	raw, err := os.ReadFile(tf.audio)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", tf.audio, err)
	}
	var audio map[string]any
	if err := json.Unmarshal(raw, &audio); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", tf.audio, err)
	}

	rec := &notesync.LocalRecord{
		Title:    stringField(audio, "title"),
		Platform: stringField(audio, "platform"),
		VideoID:  stringField(audio, "video_id"),
		Audio:    audio,
	}
	if rec.Platform == "" || rec.VideoID == "" {
		return nil, nil
	}

	if tf.markdown != "" {
		b, err := os.ReadFile(tf.markdown)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", tf.markdown, err)
		}
		rec.Note = string(b)
	}
	if tf.transcript != "" {
		b, err := os.ReadFile(tf.transcript)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", tf.transcript, err)
		}
		t, err := bundle.ParseTranscript(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", tf.transcript, err)
		}
		rec.Transcript = t
	}

	rec.CreatedAtMs = createdAtMs(audio, tf)
	return rec, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// createdAtMs prefers a created_at_ms recorded in the audio metadata and
// falls back to the oldest modification time among the task's files.
func createdAtMs(audio map[string]any, tf taskFiles) int64 {
	if v, ok := audio["created_at_ms"].(float64); ok && v > 0 {
		return int64(v)
	}
	var oldest int64
	for _, p := range []string{tf.markdown, tf.transcript, tf.audio} {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if ms := info.ModTime().UnixMilli(); oldest == 0 || ms < oldest {
			oldest = ms
		}
	}
	return oldest
}

// ImportDirectory reads every task under dir and upserts a local record for
// each, matched by source key. Records whose content is unchanged are not
// rewritten, so re-importing never marks them dirty.
func (a *NotesyncApp) ImportDirectory(ctx context.Context, dir string) (*ImportSummary, error) {
	if err := a.persistOperation(ctx, dir); err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, a.op.Fail(fmt.Errorf("import directory %s does not exist", dir))
		}
		return nil, a.op.Fail(err)
	}
	if !info.IsDir() {
		return nil, a.op.Fail(fmt.Errorf("%s is not a directory", dir))
	}

	tasks, err := findTasks(dir)
	if err != nil {
		return nil, a.op.Fail(err)
	}

	sum := &ImportSummary{}
	for _, tf := range tasks {
		rec, err := readTask(tf)
		if err != nil {
			return sum, a.op.Fail(err)
		}
		if rec == nil {
			sum.Skipped = append(sum.Skipped, tf.id)
			continue
		}
		id, err := notesync.NewIdentity(rec.Platform, rec.VideoID, rec.CreatedAtMs)
		if err != nil {
			sum.Skipped = append(sum.Skipped, tf.id)
			continue
		}
		rec.SourceKey = id.SourceKey

		existing, err := a.db.FindBySourceKey(ctx, id.SourceKey)
		if err != nil {
			return sum, a.op.Fail(err)
		}
		if existing == nil {
			if err := a.service.SaveLocal(ctx, rec); err != nil {
				return sum, a.op.Fail(err)
			}
			sum.Created++
			continue
		}

		same, err := sameContent(existing, rec)
		if err != nil {
			return sum, a.op.Fail(err)
		}
		if same {
			sum.Unchanged++
			continue
		}
		existing.Title = rec.Title
		existing.Note = rec.Note
		existing.Transcript = rec.Transcript
		existing.Audio = rec.Audio
		if err := a.service.SaveLocal(ctx, existing); err != nil {
			return sum, a.op.Fail(err)
		}
		sum.Updated++
	}

	a.logger.Info("import finished",
		"dir", dir,
		"created", sum.Created,
		"updated", sum.Updated,
		"unchanged", sum.Unchanged,
		"skipped", len(sum.Skipped))
	return sum, nil
}

// sameContent compares the parts a bundle would carry.
func sameContent(a, b *notesync.LocalRecord) (bool, error) {
	if a.Title != b.Title || bundle.NoteSHA256(a.Note) != bundle.NoteSHA256(b.Note) {
		return false, nil
	}
	ta, err := bundle.TranscriptSHA256(a.Transcript)
	if err != nil {
		return false, err
	}
	tb, err := bundle.TranscriptSHA256(b.Transcript)
	if err != nil {
		return false, err
	}
	if ta != tb {
		return false, nil
	}
	aa, err := bundle.CanonicalJSON(a.Audio)
	if err != nil {
		return false, err
	}
	ab, err := bundle.CanonicalJSON(b.Audio)
	if err != nil {
		return false, err
	}
	return string(aa) == string(ab), nil
}
