package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"promptsmith/pkg/eventlog"
	"promptsmith/pkg/logx"
)

// Progress is the snapshot published after every step.
type Progress struct {
	SessionID string    `json:"session_id"`
	Step      string    `json:"step"`
	Agent     string    `json:"agent,omitempty"`
	Iteration int       `json:"iteration"`
	Progress  float64   `json:"overall_progress"`
	Status    string    `json:"status"`
	Output    any       `json:"output,omitempty"`
	At        time.Time `json:"timestamp"`
}

// ProgressSink receives progress snapshots. Publish errors are logged and never stop a session.
type ProgressSink interface {
	Publish(ctx context.Context, p Progress) error
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ctx context.Context, p Progress) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, p Progress) error { return f(ctx, p) }

// MultiSink fans snapshots out to every sink and joins their errors.
type MultiSink []ProgressSink

// Publish implements ProgressSink.
func (m MultiSink) Publish(ctx context.Context, p Progress) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ChannelSink delivers snapshots on a buffered channel. When the buffer is full the snapshot
// is dropped rather than blocking the loop.
type ChannelSink struct {
	ch      chan Progress
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewChannelSink returns a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Progress, buffer)}
}

// C returns the receive side.
func (c *ChannelSink) C() <-chan Progress { return c.ch }

// Publish implements ProgressSink.
func (c *ChannelSink) Publish(_ context.Context, p Progress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("progress channel closed")
	}
	select {
	case c.ch <- p:
		return nil
	default:
		c.dropped++
		return nil
	}
}

// Dropped counts snapshots lost to a full buffer.
func (c *ChannelSink) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close closes the channel. Later publishes fail.
func (c *ChannelSink) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// EventLogSink appends snapshots to the daily JSONL event log.
type EventLogSink struct {
	w *eventlog.Writer
}

// NewEventLogSink wraps w.
func NewEventLogSink(w *eventlog.Writer) *EventLogSink {
	return &EventLogSink{w: w}
}

// Publish implements ProgressSink.
func (s *EventLogSink) Publish(_ context.Context, p Progress) error {
	var raw json.RawMessage
	if p.Output != nil {
		data, err := json.Marshal(p.Output)
		if err != nil {
			return fmt.Errorf("failed to encode progress output: %w", err)
		}
		raw = data
	}
	return s.w.Write(&eventlog.Event{
		SessionID: p.SessionID,
		Step:      p.Step,
		Agent:     p.Agent,
		Iteration: p.Iteration,
		Progress:  p.Progress,
		Status:    p.Status,
		Output:    raw,
		Timestamp: p.At,
	})
}

// LogSink writes one line per snapshot.
type LogSink struct {
	logger *logx.Logger
}

// NewLogSink logs through logger, or a "progress" logger when nil.
func NewLogSink(logger *logx.Logger) *LogSink {
	if logger == nil {
		logger = logx.NewLogger("progress")
	}
	return &LogSink{logger: logger}
}

// Publish implements ProgressSink.
func (s *LogSink) Publish(_ context.Context, p Progress) error {
	if p.Agent != "" {
		s.logger.Info("📍 [%s] iteration %d %s (%s) %.0f%%", shortID(p.SessionID), p.Iteration, p.Step, p.Agent, p.Progress)
		return nil
	}
	s.logger.Info("📍 [%s] iteration %d %s %.0f%%", shortID(p.SessionID), p.Iteration, p.Step, p.Progress)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
