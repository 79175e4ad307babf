package orchestrator

import (
	"context"
	"encoding/json"

	"promptsmith/pkg/persistence"
)

func (o *Orchestrator) saveHistory(ctx context.Context, res *Result) {
	if o.history == nil {
		return
	}
	session, iterations := historyRows(res)
	if err := o.history.SaveSession(ctx, session, iterations); err != nil {
		o.logger.Warn("⚠️  Could not save session %s: %v", shortID(res.SessionID), err)
	}
}

func historyRows(res *Result) (*persistence.Session, []persistence.Iteration) {
	session := &persistence.Session{
		SessionID:  res.SessionID,
		Query:      res.Query,
		Status:     string(res.Status),
		Iterations: res.Iterations,
		Error:      res.Error,
		StartedAt:  res.StartedAt,
		EndedAt:    res.StartedAt.Add(res.Duration),
	}
	if res.Final != nil {
		session.FinalScore = res.Final.Decision.Final
		session.BestIteration = res.Final.Index
	}

	rows := make([]persistence.Iteration, 0, len(res.History))
	for i := range res.History {
		rec := &res.History[i]
		row := persistence.Iteration{
			SessionID:      res.SessionID,
			Index:          rec.Index,
			Prompt:         rec.Prompt.Text,
			HeuristicScore: rec.Decision.Heuristic,
			ModelScore:     rec.Decision.Model,
			FinalScore:     rec.Decision.Final,
			Continue:       rec.Decision.Continue,
			Reason:         rec.Decision.Reason,
		}
		if rec.Build.Spec != nil {
			if data, err := rec.Build.Spec.JSON(); err == nil {
				row.ChartSpec = string(data)
			}
		}
		if data, err := json.Marshal(rec); err == nil {
			row.RecordJSON = string(data)
		}
		rows = append(rows, row)
	}
	return session, rows
}
