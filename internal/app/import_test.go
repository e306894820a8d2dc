package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTaskTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	// Directory layout with an explicit timestamp.
	writeFile(t, filepath.Join(dir, "task1", "task1_audio.json"),
		`{"title":"First talk","platform":"youtube","video_id":"v1","created_at_ms":1700000000000}`)
	writeFile(t, filepath.Join(dir, "task1", "task1_markdown.md"), "# First\n")
	writeFile(t, filepath.Join(dir, "task1", "task1_transcript.json"), sampleTranscriptJSON)

	// Flat layout, timestamp from file times.
	writeFile(t, filepath.Join(dir, "task2_audio.json"), `{"title":"Second","platform":"bilibili","video_id":"BV2"}`)
	writeFile(t, filepath.Join(dir, "task2_markdown.md"), "# Second\n")
	old := time.UnixMilli(1600000000000)
	for _, name := range []string{"task2_audio.json", "task2_markdown.md"} {
		if err := os.Chtimes(filepath.Join(dir, name), old, old); err != nil {
			t.Fatal(err)
		}
	}

	// No video id: skipped.
	writeFile(t, filepath.Join(dir, "task3", "task3_audio.json"), `{"title":"Broken","platform":"youtube"}`)

	// Not a task.
	writeFile(t, filepath.Join(dir, "misc", "readme.txt"), "hello")
	return dir
}

func TestFindTasks(t *testing.T) {
	dir := writeTaskTree(t)

	tasks, err := findTasks(dir)
	if err != nil {
		t.Fatalf("findTasks() error = %v", err)
	}
	var ids []string
	for _, tf := range tasks {
		ids = append(ids, tf.id)
	}
	want := []string{"task1", "task2", "task3"}
	if len(ids) != len(want) {
		t.Fatalf("findTasks() ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
	if tasks[0].transcript == "" || tasks[0].markdown == "" {
		t.Errorf("task1 files = %+v, want markdown and transcript", tasks[0])
	}
	if tasks[1].transcript != "" {
		t.Errorf("task2 transcript = %q, want none", tasks[1].transcript)
	}
}

func TestNotesyncApp_ImportDirectory(t *testing.T) {
	dir := writeTaskTree(t)
	a := openApp(t, testConfig(t, "host"), "ImportDirectory")
	defer a.Close()

	sum, err := a.ImportDirectory(t.Context(), dir)
	if err != nil {
		t.Fatalf("ImportDirectory() error = %v", err)
	}
	if sum.Created != 2 || sum.Updated != 0 || sum.Unchanged != 0 {
		t.Errorf("first import = %+v, want 2 created", sum)
	}
	if len(sum.Skipped) != 1 || sum.Skipped[0] != "task3" {
		t.Errorf("Skipped = %v, want [task3]", sum.Skipped)
	}

	first, err := a.GetRecord(t.Context(), "youtube:v1:1700000000000")
	if err != nil {
		t.Fatalf("GetRecord(task1) error = %v", err)
	}
	if first.Title != "First talk" || first.Note != "# First\n" || first.Transcript == nil {
		t.Errorf("task1 record = %+v", first)
	}
	if _, err := a.GetRecord(t.Context(), "bilibili:BV2:1600000000000"); err != nil {
		t.Errorf("GetRecord(task2) error = %v, want identity from file times", err)
	}

	t.Run("reimport leaves records alone", func(t *testing.T) {
		sum, err := a.ImportDirectory(t.Context(), dir)
		if err != nil {
			t.Fatalf("ImportDirectory() error = %v", err)
		}
		if sum.Created != 0 || sum.Updated != 0 || sum.Unchanged != 2 {
			t.Errorf("reimport = %+v, want 2 unchanged", sum)
		}
		again, _ := a.GetRecord(t.Context(), first.ID)
		if again.Revision != first.Revision {
			t.Errorf("Revision = %d, want %d", again.Revision, first.Revision)
		}
	})

	t.Run("changed note updates", func(t *testing.T) {
		writeFile(t, filepath.Join(dir, "task1", "task1_markdown.md"), "# First, revised\n")
		sum, err := a.ImportDirectory(t.Context(), dir)
		if err != nil {
			t.Fatalf("ImportDirectory() error = %v", err)
		}
		if sum.Updated != 1 || sum.Unchanged != 1 {
			t.Errorf("import = %+v, want 1 updated and 1 unchanged", sum)
		}
		got, _ := a.GetRecord(t.Context(), first.ID)
		if got.Note != "# First, revised\n" {
			t.Errorf("Note = %q", got.Note)
		}
		if got.Revision != first.Revision+1 {
			t.Errorf("Revision = %d, want %d", got.Revision, first.Revision+1)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		if _, err := a.ImportDirectory(t.Context(), filepath.Join(dir, "nope")); err == nil {
			t.Error("ImportDirectory(missing) error = nil")
		}
	})
}
