package orchestrator

import (
	"sync"
	"time"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/patterns"
	"promptsmith/pkg/proto"
)

// Session is one optimisation run. Its history is append-only and every accessor returns
// copies, so a session can be read from other goroutines while it runs.
type Session struct {
	ID        string
	Query     string
	StartedAt time.Time

	mu            sync.RWMutex
	state         agent.State
	iteration     int
	records       []proto.IterationRecord
	clarification *proto.Clarification
	endedAt       time.Time
	err           error
}

func newSession(id, query string, now time.Time) *Session {
	return &Session{ID: id, Query: query, StartedAt: now, state: StateInit}
}

// State returns the current orchestrator state.
func (s *Session) State() agent.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status maps the current state to a session status.
func (s *Session) Status() proto.Status {
	return StatusFor(s.State())
}

// Iteration returns the iteration in progress, or the last one once finished.
func (s *Session) Iteration() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iteration
}

// Records returns a deep copy of the history.
func (s *Session) Records() []proto.IterationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]proto.IterationRecord, len(s.records))
	for i := range s.records {
		out[i] = s.records[i].Clone()
	}
	return out
}

// Best returns the record with the highest final score; ties go to the earliest.
func (s *Session) Best() (proto.IterationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best := -1
	for i := range s.records {
		if best < 0 || s.records[i].Decision.Final > s.records[best].Decision.Final {
			best = i
		}
	}
	if best < 0 {
		return proto.IterationRecord{}, false
	}
	return s.records[best].Clone(), true
}

// Done reports whether the session reached a terminal state.
func (s *Session) Done() bool {
	return IsTerminal(s.State())
}

func (s *Session) setState(state agent.State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setIteration(i int) {
	s.mu.Lock()
	s.iteration = i
	s.mu.Unlock()
}

func (s *Session) appendRecord(rec proto.IterationRecord) {
	s.mu.Lock()
	s.records = append(s.records, rec.Clone())
	s.mu.Unlock()
}

func (s *Session) setClarification(c *proto.Clarification) {
	s.mu.Lock()
	cp := *c
	cp.Issues = append([]string(nil), c.Issues...)
	s.clarification = &cp
	s.mu.Unlock()
}

func (s *Session) finish(at time.Time, err error) {
	s.mu.Lock()
	s.endedAt = at
	s.err = err
	s.mu.Unlock()
}

// Result is the terminal outcome handed to callers. Err is set only for status error.
type Result struct {
	SessionID     string                  `json:"session_id"`
	Query         string                  `json:"query"`
	Status        proto.Status            `json:"status"`
	Final         *proto.IterationRecord  `json:"final,omitempty"`
	History       []proto.IterationRecord `json:"history"`
	Partial       *proto.IterationRecord  `json:"partial,omitempty"`
	Clarification *proto.Clarification    `json:"clarification,omitempty"`
	Stats         patterns.Stats          `json:"cache_stats"`
	Learned       patterns.Learned        `json:"learned"`
	Iterations    int                     `json:"iterations"`
	Err           error                   `json:"-"`
	Error         string                  `json:"error,omitempty"`
	StartedAt     time.Time               `json:"started_at"`
	Duration      time.Duration           `json:"duration_ns"`
}

// Result snapshots the session. Partial, Stats and Learned are filled by the orchestrator.
func (s *Session) Result() *Result {
	records := s.Records()
	res := &Result{
		SessionID:  s.ID,
		Query:      s.Query,
		Status:     s.Status(),
		History:    records,
		Iterations: len(records),
		StartedAt:  s.StartedAt,
	}
	if best, ok := s.Best(); ok {
		res.Final = &best
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.clarification != nil {
		cp := *s.clarification
		res.Clarification = &cp
	}
	if !s.endedAt.IsZero() {
		res.Duration = s.endedAt.Sub(s.StartedAt)
	}
	if s.err != nil {
		res.Err = s.err
		res.Error = s.err.Error()
	}
	return res
}
