package orchestrator

import (
	"context"

	"promptsmith/pkg/patterns"
	"promptsmith/pkg/proto"
	"promptsmith/pkg/rewriter"
)

// learn writes the session back to the store. Failures are logged; learning never changes a
// session's outcome.
func (o *Orchestrator) learn(ctx context.Context, res *Result) patterns.Learned {
	if o.store == nil {
		return patterns.Learned{}
	}
	lesson := lessonFrom(res)
	learned, err := o.store.Learn(ctx, lesson)
	if err != nil {
		o.logger.Warn("⚠️  Could not update pattern store: %v", err)
	}
	return learned
}

func lessonFrom(res *Result) patterns.Lesson {
	run := patterns.RunSummary{
		SessionID:  res.SessionID,
		Query:      res.Query,
		Iterations: res.Iterations,
		Status:     string(res.Status),
		Timestamp:  res.StartedAt,
	}
	lesson := patterns.Lesson{Run: run, Query: res.Query}
	if res.Final == nil {
		return lesson
	}

	best := res.Final
	lesson.Run.Prompt = best.Prompt.Text
	lesson.Run.HeuristicScore = best.Decision.Heuristic
	lesson.Run.ModelScore = best.Decision.Model
	lesson.Run.FinalScore = best.Decision.Final
	lesson.Run.Issues = best.Issues()
	lesson.Prompt = best.Prompt.Text
	lesson.Spec = best.Build.Spec
	lesson.ChartType = best.Build.ChartType
	lesson.BestScore = best.Decision.Final
	lesson.Resolved = ResolvedIssues(res.History)
	return lesson
}

// ResolvedIssues pairs every issue present in iteration k and gone in k+1 with the clauses
// k's rewrite applied for it. When the rewrite applied nothing for that issue specifically,
// all of its clauses are credited.
func ResolvedIssues(history []proto.IterationRecord) []patterns.ResolvedIssue {
	var out []patterns.ResolvedIssue
	seen := map[string]bool{}
	for k := 0; k+1 < len(history); k++ {
		cur, next := history[k], history[k+1]
		if cur.Rewrite == nil {
			continue
		}
		still := map[string]bool{}
		for _, issue := range next.Issues() {
			still[issue] = true
		}

		var all []string
		for _, f := range cur.Rewrite.AppliedFixes {
			all = append(all, f.Clause)
		}
		if len(all) == 0 {
			all = cur.Rewrite.ImprovementsMade
		}

		for _, issue := range cur.Issues() {
			if still[issue] || seen[issue] {
				continue
			}
			seen[issue] = true
			var clauses []string
			for _, f := range cur.Rewrite.AppliedFixes {
				if f.Issue == issue {
					clauses = append(clauses, f.Clause)
				}
			}
			if len(clauses) == 0 {
				clauses = append([]string(nil), all...)
			}
			category, _ := rewriter.Categorize(issue)
			out = append(out, patterns.ResolvedIssue{
				Issue:    issue,
				Category: category,
				Clauses:  clauses,
				Prompt:   next.Prompt.Text,
			})
		}
	}
	return out
}
