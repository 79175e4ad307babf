package eventlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewWriter(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "events")

	writer, err := NewWriter(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	current := writer.CurrentFile()
	if current == "" {
		t.Fatal("No current log file set")
	}
	if _, err := os.Stat(current); os.IsNotExist(err) {
		t.Error("Current log file does not exist")
	}
}

func TestWriteAndReadEvents(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	steps := []string{"clarifying", "generating_prompt", "building_chart"}
	for i, step := range steps {
		ev := &Event{
			SessionID: "s-1",
			Step:      step,
			Iteration: 1,
			Progress:  float64(i * 10),
			Output:    json.RawMessage(`{"ok":true}`),
		}
		if err := writer.Write(ev); err != nil {
			t.Fatalf("Failed to write event %d: %v", i, err)
		}
		if ev.Timestamp.IsZero() {
			t.Error("Write should stamp a timestamp")
		}
	}

	events, err := ReadEvents(writer.CurrentFile())
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}
	if len(events) != len(steps) {
		t.Fatalf("Expected %d events, got %d", len(steps), len(events))
	}
	for i, ev := range events {
		if ev.Step != steps[i] {
			t.Errorf("Event %d: expected step %s, got %s", i, steps[i], ev.Step)
		}
		if string(ev.Output) != `{"ok":true}` {
			t.Errorf("Event %d: unexpected output %s", i, ev.Output)
		}
	}
}

func TestRotationByDate(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	writer.mu.Lock()
	writer.now = func() time.Time { return day }
	writer.mu.Unlock()

	if err := writer.Write(&Event{Step: "scoring"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	day = day.Add(2 * time.Minute)
	if err := writer.Write(&Event{Step: "rewriting_prompt"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	files, err := ListLogFiles(tmpDir)
	if err != nil {
		t.Fatalf("ListLogFiles failed: %v", err)
	}
	want := map[string]bool{
		filepath.Join(tmpDir, "events-2026-03-01.jsonl"): false,
		filepath.Join(tmpDir, "events-2026-03-02.jsonl"): false,
	}
	for _, f := range files {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for f, seen := range want {
		if !seen {
			t.Errorf("Expected rotated file %s", f)
		}
	}
}

func TestWriteAfterClose(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("Second close should be a no-op: %v", err)
	}
	if writer.CurrentFile() != "" {
		t.Error("CurrentFile should be empty after close")
	}
	if err := writer.Write(&Event{Step: "init"}); err == nil {
		t.Error("Write after close should fail")
	}
}

func TestReadEventsRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events-bad.jsonl")
	if err := os.WriteFile(path, []byte("{\"step\":\"init\"}\n\nnot json\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadEvents(path); err == nil {
		t.Error("Expected parse error")
	}
}
