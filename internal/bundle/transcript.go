package bundle

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Transcript is the structured transcript stored as transcript.json.
type Transcript struct {
	Language string         `json:"language,omitempty"`
	FullText string         `json:"full_text"`
	Segments []Segment      `json:"segments"`
	Raw      map[string]any `json:"raw,omitempty"`
}

// Segment is one timed span of a transcript. Times are in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptBytes returns the canonical JSON stored for t.
func TranscriptBytes(t *Transcript) ([]byte, error) {
	return CanonicalJSON(t)
}

// ParseTranscript decodes transcript.json.
func ParseTranscript(data []byte) (*Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing transcript: %w", err)
	}
	return &t, nil
}

// RenderSRT derives SubRip subtitles from t. Segments with blank text are
// skipped. A transcript with no segments but a full text yields a single
// zero-length cue; an empty transcript yields "".
func RenderSRT(t *Transcript) string {
	if t == nil {
		return ""
	}
	if len(t.Segments) == 0 {
		full := strings.TrimSpace(t.FullText)
		if full == "" {
			return ""
		}
		return "1\n00:00:00,000 --> 00:00:00,000\n" + full + "\n"
	}

	var lines []string
	idx := 1
	for _, seg := range t.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		end := seg.End
		if end == 0 {
			end = seg.Start
		}
		lines = append(lines,
			strconv.Itoa(idx),
			srtTimestamp(int64(seg.Start*1000))+" --> "+srtTimestamp(int64(end*1000)),
			text,
			"",
		)
		idx++
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

func srtTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hh := ms / 3_600_000
	mm := (ms % 3_600_000) / 60_000
	ss := (ms % 60_000) / 1_000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hh, mm, ss, ms%1_000)
}
