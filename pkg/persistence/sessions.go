package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session is one finished optimisation run.
//
//nolint:govet // struct alignment optimization not critical for this type.
type Session struct {
	SessionID     string    `json:"session_id"`
	Query         string    `json:"query"`
	Status        string    `json:"status"`
	FinalScore    float64   `json:"final_score"`
	BestIteration int       `json:"best_iteration"`
	Iterations    int       `json:"iterations"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
}

// Iteration is one persisted iteration row. RecordJSON holds the full record.
type Iteration struct {
	SessionID      string  `json:"session_id"`
	Index          int     `json:"iteration"`
	Prompt         string  `json:"prompt"`
	ChartSpec      string  `json:"chart_spec,omitempty"`
	HeuristicScore float64 `json:"heuristic_score"`
	ModelScore     float64 `json:"model_score"`
	FinalScore     float64 `json:"final_score"`
	Continue       bool    `json:"should_continue"`
	Reason         string  `json:"reason,omitempty"`
	RecordJSON     string  `json:"record_json"`
}

// SaveSession writes a session and its iterations in one transaction, replacing any earlier
// copy of the same session.
func (d *DB) SaveSession(ctx context.Context, s *Session, iterations []Iteration) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM iterations WHERE session_id = ?`, s.SessionID); err != nil {
		return fmt.Errorf("failed to clear iterations: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
			(session_id, query, status, final_score, best_iteration, iterations, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.SessionID, s.Query, s.Status, s.FinalScore, s.BestIteration, s.Iterations, nullString(s.Error),
		s.StartedAt.UTC().Format(time.RFC3339Nano), s.EndedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	for i := range iterations {
		it := &iterations[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO iterations
				(session_id, iteration, prompt, chart_spec, heuristic_score, model_score, final_score,
				 should_continue, reason, record_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.SessionID, it.Index, it.Prompt, nullString(it.ChartSpec), it.HeuristicScore, it.ModelScore,
			it.FinalScore, boolToInt(it.Continue), nullString(it.Reason), it.RecordJSON)
		if err != nil {
			return fmt.Errorf("failed to save iteration %d: %w", it.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

// GetSession returns one session by ID.
func (d *DB) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT session_id, query, status, final_score, best_iteration, iterations, error, started_at, ended_at
		FROM sessions WHERE session_id = ?
	`, sessionID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

// ListSessions returns the most recent sessions, newest first.
func (d *DB) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT session_id, query, status, final_score, best_iteration, iterations, error, started_at, ended_at
		FROM sessions ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// GetIterations returns a session's iterations in order.
func (d *DB) GetIterations(ctx context.Context, sessionID string) ([]Iteration, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT session_id, iteration, prompt, chart_spec, heuristic_score, model_score, final_score,
			should_continue, reason, record_json
		FROM iterations WHERE session_id = ? ORDER BY iteration
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Iteration
	for rows.Next() {
		var it Iteration
		var spec, reason sql.NullString
		var cont int
		if err := rows.Scan(&it.SessionID, &it.Index, &it.Prompt, &spec, &it.HeuristicScore, &it.ModelScore,
			&it.FinalScore, &cont, &reason, &it.RecordJSON); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		it.ChartSpec = spec.String
		it.Reason = reason.String
		it.Continue = cont != 0
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate iterations: %w", err)
	}
	return out, nil
}

// DeleteSessions removes every session and iteration row.
func (d *DB) DeleteSessions(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM iterations`); err != nil {
		return fmt.Errorf("failed to delete iterations: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var errText sql.NullString
	var started, ended string
	if err := row.Scan(&s.SessionID, &s.Query, &s.Status, &s.FinalScore, &s.BestIteration, &s.Iterations,
		&errText, &started, &ended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	s.Error = errText.String
	s.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	s.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
