// Package eventlog records pipeline progress events to daily rotated JSONL files.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one progress snapshot as written to disk.
type Event struct {
	SessionID string          `json:"session_id"`
	Step      string          `json:"step"`
	Agent     string          `json:"agent,omitempty"`
	Iteration int             `json:"iteration"`
	Progress  float64         `json:"overall_progress"`
	Status    string          `json:"status,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Writer appends events to events-YYYY-MM-DD.jsonl in its directory, switching files at midnight.
type Writer struct {
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
	now         func() time.Time
}

// NewWriter creates the directory if needed and opens the current day's file.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}

	w := &Writer{logDir: logDir, now: time.Now}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize event log file: %w", err)
	}
	return w, nil
}

// Write appends one event as a JSON line. A zero Timestamp is stamped with the current time.
func (w *Writer) Write(ev *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return fmt.Errorf("event log writer is closed")
	}
	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate event log: %w", err)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = w.now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.currentFile.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log: %w", err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded() error {
	newDate := w.now().Format("2006-01-02")
	if w.currentFile == nil || w.currentDate != newDate {
		return w.rotate(newDate)
	}
	return nil
}

func (w *Writer) rotate(newDate string) error {
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close event log file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, fileName(newDate))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log file %s: %w", path, err)
	}
	w.currentFile = file
	w.currentDate = newDate
	return nil
}

// Close closes the current file. Further writes fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	if err != nil {
		return fmt.Errorf("failed to close event log file: %w", err)
	}
	return nil
}

// CurrentFile returns the path of the active file, or "" after Close.
func (w *Writer) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, fileName(w.currentDate))
}

func fileName(date string) string {
	return fmt.Sprintf("events-%s.jsonl", date)
}

// ReadEvents parses every event in a log file. Blank lines are skipped.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("failed to parse event on line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}

// ListLogFiles returns every event log file in logDir, oldest first.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list event log files: %w", err)
	}
	return files, nil
}
