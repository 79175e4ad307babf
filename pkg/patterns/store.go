// Package patterns is the learning cache: a process-wide store of signatures mapped to learned
// prompts, chart specs and issue fixes, persisted through a pluggable Backend.
//
// The store is constructed once from a backend (Open), mutated only through Record and the
// helpers built on it, and persisted with Flush. Load failures never stop the process: the store
// starts empty and reports the cause through Degraded.
package patterns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"promptsmith/pkg/config"
	"promptsmith/pkg/logx"
)

// ErrCorruptStore marks persisted bytes that could not be decoded.
var ErrCorruptStore = errors.New("corrupt pattern store")

// snapshotVersion is written into every persisted snapshot.
const snapshotVersion = 1

// Family is one partition of the store.
type Family string

const (
	FamilyQueryChartType Family = "query_chart_type"
	FamilyIssueFix       Family = "issue_fix"
	FamilyQueryPrompt    Family = "query_prompt"
	FamilyQueryChartSpec Family = "query_chart_spec"
	FamilyIssueStrategy  Family = "issue_strategy"
)

// Families returns the five families in a stable order.
func Families() []Family {
	return []Family{FamilyQueryChartType, FamilyIssueFix, FamilyQueryPrompt, FamilyQueryChartSpec, FamilyIssueStrategy}
}

func (f Family) valid() bool {
	for _, known := range Families() {
		if f == known {
			return true
		}
	}
	return false
}

// Entry is one stored pattern. Payload is the JSON encoding of the family's payload type.
type Entry struct {
	Signature string          `json:"signature"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	Uses      int             `json:"uses"`
	Score     float64         `json:"score"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (e *Entry) clone() Entry {
	out := *e
	out.Payload = append(json.RawMessage(nil), e.Payload...)
	return out
}

// Decode unmarshals the payload into v.
func (e Entry) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Signature, err)
	}
	return nil
}

// Match describes how a lookup was satisfied.
type Match struct {
	Signature  string  `json:"signature"`
	Similarity float64 `json:"similarity"`
	Exact      bool    `json:"exact"`
}

// RunSummary is one entry of the run history.
type RunSummary struct {
	SessionID      string    `json:"session_id,omitempty"`
	Query          string    `json:"query"`
	Prompt         string    `json:"prompt,omitempty"`
	HeuristicScore float64   `json:"heuristic_score"`
	ModelScore     float64   `json:"model_score"`
	FinalScore     float64   `json:"final_score"`
	Iterations     int       `json:"iterations"`
	Status         string    `json:"status"`
	Issues         []string  `json:"issues,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Options tunes matching and learning.
type Options struct {
	Similarity        float64 // fuzzy match threshold; 1 disables fuzzy lookups
	LearnThreshold    float64 // minimum best score to learn query patterns
	SolutionThreshold float64 // minimum score for a fix to be kept as a solution
	MaxRuns           int
	MaxSolutions      int
	AutoFlush         bool // persist after every write
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Similarity:        config.DefaultSimilarity,
		LearnThreshold:    config.DefaultLearnThreshold,
		SolutionThreshold: config.DefaultSolutionThreshold,
		MaxRuns:           500,
		MaxSolutions:      20,
	}
}

// OptionsFromConfig maps the store and scoring sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.Similarity = cfg.Store.Similarity
	opts.LearnThreshold = cfg.Scoring.LearnThreshold
	opts.SolutionThreshold = cfg.Scoring.SolutionThreshold
	opts.AutoFlush = cfg.Store.AutoFlush
	return opts
}

type snapshot struct {
	Version  int                          `json:"version"`
	Runs     []RunSummary                 `json:"runs"`
	Patterns map[Family]map[string]*Entry `json:"patterns"`
}

func emptySnapshot() snapshot {
	s := snapshot{Version: snapshotVersion, Runs: []RunSummary{}, Patterns: make(map[Family]map[string]*Entry)}
	for _, f := range Families() {
		s.Patterns[f] = make(map[string]*Entry)
	}
	return s
}

// Store is safe for concurrent use. Reads take a shared lock and return copies.
type Store struct {
	mu       sync.RWMutex
	data     snapshot
	dirty    bool
	degraded error

	flushMu sync.Mutex
	backend Backend
	opts    Options
	logger  *logx.Logger
	now     func() time.Time
}

// Open loads the store from backend. It never fails: unreadable or undecodable data leaves the
// store empty with Degraded set.
func Open(ctx context.Context, backend Backend, opts Options) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	defaults := DefaultOptions()
	if opts.Similarity <= 0 || opts.Similarity > 1 {
		opts.Similarity = defaults.Similarity
	}
	if opts.MaxRuns <= 0 {
		opts.MaxRuns = defaults.MaxRuns
	}
	if opts.MaxSolutions <= 0 {
		opts.MaxSolutions = defaults.MaxSolutions
	}

	s := &Store{
		data:    emptySnapshot(),
		backend: backend,
		opts:    opts,
		logger:  logx.NewLogger("patterns"),
		now:     time.Now,
	}
	s.load(ctx)
	return s
}

// NewMemoryStore returns an empty store on a fresh MemoryBackend.
func NewMemoryStore() *Store {
	return Open(context.Background(), NewMemoryBackend(), DefaultOptions())
}

func (s *Store) load(ctx context.Context) {
	raw, err := s.backend.Load(ctx)
	if err != nil {
		s.degrade(fmt.Errorf("%w: %w", ErrCorruptStore, err))
		return
	}
	if len(raw) == 0 {
		return
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		s.degrade(err)
		return
	}
	s.data = snap
	s.logger.Info("🧠 Pattern store loaded from %s: %d runs", s.backend.Name(), len(snap.Runs))
}

func (s *Store) degrade(err error) {
	s.degraded = err
	s.data = emptySnapshot()
	s.logger.Warn("⚠️  Pattern store %s unreadable, starting empty: %v", s.backend.Name(), err)
}

func decodeSnapshot(raw []byte) (snapshot, error) {
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snapshot{}, fmt.Errorf("%w: %w", ErrCorruptStore, err)
	}
	if snap.Version > snapshotVersion {
		return snapshot{}, fmt.Errorf("%w: snapshot version %d is newer than %d", ErrCorruptStore, snap.Version, snapshotVersion)
	}
	out := emptySnapshot()
	out.Runs = append(out.Runs, snap.Runs...)
	for family, entries := range snap.Patterns {
		if !family.valid() {
			continue
		}
		for sig, e := range entries {
			if e == nil || sig == "" {
				continue
			}
			e.Signature = sig
			out.Patterns[family][sig] = e
		}
	}
	return out, nil
}

// Degraded returns the load failure the store recovered from, or nil.
func (s *Store) Degraded() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Backend returns the backend name.
func (s *Store) Backend() string {
	return s.backend.Name()
}

// Options returns the store options.
func (s *Store) Options() Options {
	return s.opts
}

// Lookup finds the entry for text in family: exact signature first, then the most similar
// normalised key at or above the similarity threshold. Ties go to the higher score, then the key.
func (s *Store) Lookup(family Family, text string) (Entry, Match, bool) {
	key := Normalize(text)
	sig := signatureOfNormalized(key)

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.data.Patterns[family]
	if e, ok := entries[sig]; ok {
		return e.clone(), Match{Signature: sig, Similarity: 1, Exact: true}, true
	}
	if s.opts.Similarity >= 1 || key == "" {
		return Entry{}, Match{}, false
	}

	var best *Entry
	bestSim := 0.0
	for _, e := range entries {
		sim := Similarity(key, e.Key)
		if sim < s.opts.Similarity {
			continue
		}
		if best == nil || sim > bestSim ||
			(sim == bestSim && (e.Score > best.Score || (e.Score == best.Score && e.Key < best.Key))) {
			best, bestSim = e, sim
		}
	}
	if best == nil {
		return Entry{}, Match{}, false
	}
	return best.clone(), Match{Signature: best.Signature, Similarity: bestSim}, true
}

// Record upserts payload under text's signature in family. Recording the same signature again
// replaces payload and score and increments Uses.
func (s *Store) Record(ctx context.Context, family Family, text string, payload any, score float64) (Entry, error) {
	e, err := s.record(ctx, family, text, payload, score)
	if err != nil {
		return Entry{}, err
	}
	return e, s.maybeFlush(ctx)
}

func (s *Store) record(ctx context.Context, family Family, text string, payload any, score float64) (Entry, error) {
	if !family.valid() {
		return Entry{}, fmt.Errorf("unknown pattern family %q", family)
	}
	key := Normalize(text)
	if key == "" {
		return Entry{}, fmt.Errorf("cannot record an empty key in %s", family)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode %s payload: %w", family, err)
	}

	s.mu.Lock()
	e := s.recordLocked(family, key, raw, score)
	out := e.clone()
	s.mu.Unlock()

	logx.Debug(ctx, "patterns", "recorded %s %s (uses=%d score=%.2f)", family, out.Signature, out.Uses, score)
	return out, nil
}

func (s *Store) recordLocked(family Family, key string, raw json.RawMessage, score float64) *Entry {
	sig := signatureOfNormalized(key)
	entries := s.data.Patterns[family]
	e, ok := entries[sig]
	if !ok {
		e = &Entry{Signature: sig, Key: key}
		entries[sig] = e
	}
	e.Payload = raw
	e.Score = score
	e.Uses++
	e.UpdatedAt = s.now().UTC()
	s.dirty = true
	return e
}

// Entries returns copies of every entry in family sorted by signature.
func (s *Store) Entries(family Family) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.data.Patterns[family]))
	for _, e := range s.data.Patterns[family] {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signature < out[j].Signature })
	return out
}

// RecordRun appends a run to the bounded history.
func (s *Store) RecordRun(ctx context.Context, run RunSummary) error {
	s.appendRun(run)
	return s.maybeFlush(ctx)
}

func (s *Store) appendRun(run RunSummary) {
	if run.Timestamp.IsZero() {
		run.Timestamp = s.now().UTC()
	}
	run.Issues = append([]string(nil), run.Issues...)

	s.mu.Lock()
	s.data.Runs = append(s.data.Runs, run)
	if over := len(s.data.Runs) - s.opts.MaxRuns; over > 0 {
		s.data.Runs = append([]RunSummary(nil), s.data.Runs[over:]...)
	}
	s.dirty = true
	s.mu.Unlock()
}

// Runs returns a copy of the run history, oldest first.
func (s *Store) Runs() []RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RunSummary(nil), s.data.Runs...)
}

// Stats is the cache statistics snapshot.
type Stats struct {
	TotalRuns int            `json:"total_runs"`
	Families  map[Family]int `json:"families"`
	AvgScore  float64        `json:"avg_score"`
	Backend   string         `json:"backend"`
	Degraded  string         `json:"degraded,omitempty"`
}

// Stats returns counts per family and the running average final score.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		TotalRuns: len(s.data.Runs),
		Families:  make(map[Family]int, len(s.data.Patterns)),
		Backend:   s.backend.Name(),
	}
	for _, f := range Families() {
		st.Families[f] = len(s.data.Patterns[f])
	}
	if len(s.data.Runs) > 0 {
		var sum float64
		for i := range s.data.Runs {
			sum += s.data.Runs[i].FinalScore
		}
		st.AvgScore = sum / float64(len(s.data.Runs))
	}
	if s.degraded != nil {
		st.Degraded = s.degraded.Error()
	}
	return st
}

// Clear drops all patterns and the run history, then persists.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.data = emptySnapshot()
	s.dirty = true
	s.mu.Unlock()
	s.logger.Info("🧠 Learning cache cleared")
	return s.Flush(ctx)
}

// ResetPatterns drops all patterns but keeps the run history, then persists.
func (s *Store) ResetPatterns(ctx context.Context) error {
	s.mu.Lock()
	runs := s.data.Runs
	s.data = emptySnapshot()
	s.data.Runs = runs
	s.dirty = true
	s.mu.Unlock()
	s.logger.Info("🔄 Patterns reset")
	return s.Flush(ctx)
}

// Flush persists the current snapshot. Concurrent flushes are serialised; writers are only
// blocked while the snapshot is encoded.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	raw, err := json.MarshalIndent(s.data, "", "  ")
	s.dirty = false
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode pattern store: %w", err)
	}

	if err := s.backend.Persist(ctx, raw); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("failed to persist pattern store: %w", err)
	}
	return nil
}

// Dirty reports whether there are writes not yet flushed.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Close flushes pending writes and closes the backend.
func (s *Store) Close(ctx context.Context) error {
	var flushErr error
	if s.Dirty() {
		flushErr = s.Flush(ctx)
	}
	if err := s.backend.Close(); err != nil {
		return errors.Join(flushErr, fmt.Errorf("failed to close pattern backend: %w", err))
	}
	return flushErr
}

func (s *Store) maybeFlush(ctx context.Context) error {
	if !s.opts.AutoFlush {
		return nil
	}
	return s.Flush(ctx)
}
