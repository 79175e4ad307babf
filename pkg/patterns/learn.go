package patterns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"promptsmith/pkg/chart"
)

// suggestionThreshold: runs scoring at or above it get no cached suggestions.
const suggestionThreshold = 8.0

// PromptPattern is the query_prompt payload.
type PromptPattern struct {
	Query  string `json:"query"`
	Prompt string `json:"prompt"`
}

// SpecPattern is the query_chart_spec payload.
type SpecPattern struct {
	Query string      `json:"query"`
	Spec  *chart.Spec `json:"chart_spec"`
}

// ChartTypePattern is the query_chart_type payload.
type ChartTypePattern struct {
	Query           string `json:"query"`
	ChartType       string `json:"chart_type"`
	Mark            string `json:"mark"`
	EffectivePrompt string `json:"effective_prompt,omitempty"`
}

// Solution is one fix clause that resolved an issue in a run scoring Score.
type Solution struct {
	Clause string  `json:"clause"`
	Prompt string  `json:"prompt,omitempty"`
	Score  float64 `json:"score"`
}

// FixSet is the issue_fix payload: how often the issue was seen and its best solutions.
type FixSet struct {
	Issue     string     `json:"issue"`
	Count     int        `json:"count"`
	Solutions []Solution `json:"solutions"`
}

// Best returns the highest scoring solution.
func (f FixSet) Best() (Solution, bool) {
	if len(f.Solutions) == 0 {
		return Solution{}, false
	}
	return f.Solutions[0], true
}

// Strategy is the issue_strategy payload.
type Strategy struct {
	Issue       string `json:"issue"`
	Category    string `json:"category"`
	Improvement string `json:"improvement"`
	Resolved    int    `json:"resolved"`
}

// LookupPrompt returns the learned prompt for query.
func (s *Store) LookupPrompt(query string) (PromptPattern, Match, bool) {
	var p PromptPattern
	m, ok := s.lookupInto(FamilyQueryPrompt, query, &p)
	return p, m, ok && p.Prompt != ""
}

// LookupSpec returns the learned chart spec for query.
func (s *Store) LookupSpec(query string) (*chart.Spec, Match, bool) {
	var p SpecPattern
	m, ok := s.lookupInto(FamilyQueryChartSpec, query, &p)
	return p.Spec, m, ok && p.Spec != nil
}

// LookupChartType returns the learned chart type for query.
func (s *Store) LookupChartType(query string) (ChartTypePattern, Match, bool) {
	var p ChartTypePattern
	m, ok := s.lookupInto(FamilyQueryChartType, query, &p)
	return p, m, ok && p.ChartType != ""
}

// LookupFixes returns the stored fixes for issue.
func (s *Store) LookupFixes(issue string) (FixSet, Match, bool) {
	var f FixSet
	m, ok := s.lookupInto(FamilyIssueFix, issue, &f)
	return f, m, ok && len(f.Solutions) > 0
}

// LookupStrategy returns the stored improvement strategy for issue.
func (s *Store) LookupStrategy(issue string) (Strategy, bool) {
	var st Strategy
	_, ok := s.lookupInto(FamilyIssueStrategy, issue, &st)
	return st, ok && st.Improvement != ""
}

func (s *Store) lookupInto(family Family, text string, v any) (Match, bool) {
	e, m, ok := s.Lookup(family, text)
	if !ok {
		return Match{}, false
	}
	if err := e.Decode(v); err != nil {
		s.logger.Warn("⚠️  Ignoring undecodable %s entry %s: %v", family, e.Signature, err)
		return Match{}, false
	}
	return m, true
}

// RecordFix counts an occurrence of issue and, when score reaches the solution threshold, keeps
// clause as a solution. Solutions are distinct by clause, best score first, capped at MaxSolutions.
func (s *Store) RecordFix(ctx context.Context, issue, clause, prompt string, score float64) error {
	var clauses []string
	if clause != "" {
		clauses = []string{clause}
	}
	if err := s.recordFix(issue, clauses, prompt, score); err != nil {
		return err
	}
	return s.maybeFlush(ctx)
}

func (s *Store) recordFix(issue string, clauses []string, prompt string, score float64) error {
	key := Normalize(issue)
	if key == "" {
		return fmt.Errorf("cannot record a fix for an empty issue")
	}

	s.mu.Lock()
	var set FixSet
	if e, ok := s.data.Patterns[FamilyIssueFix][signatureOfNormalized(key)]; ok {
		if err := json.Unmarshal(e.Payload, &set); err != nil {
			set = FixSet{}
		}
	}
	set.Issue = issue
	set.Count++
	if score >= s.opts.SolutionThreshold {
		for _, clause := range clauses {
			if clause == "" {
				continue
			}
			set.Solutions = mergeSolution(set.Solutions, Solution{Clause: clause, Prompt: prompt, Score: score}, s.opts.MaxSolutions)
		}
	}
	raw, err := json.Marshal(set)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to encode fix set: %w", err)
	}
	best := score
	if b, ok := set.Best(); ok {
		best = b.Score
	}
	s.recordLocked(FamilyIssueFix, key, raw, best)
	s.mu.Unlock()
	return nil
}

// recordStrategy replaces the strategy for issue and bumps its resolved count in one locked step.
func (s *Store) recordStrategy(issue, category, improvement string, score float64) error {
	key := Normalize(issue)
	if key == "" {
		return fmt.Errorf("cannot record a strategy for an empty issue")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var prev Strategy
	if e, ok := s.data.Patterns[FamilyIssueStrategy][signatureOfNormalized(key)]; ok {
		if err := json.Unmarshal(e.Payload, &prev); err != nil {
			prev = Strategy{}
		}
	}
	raw, err := json.Marshal(Strategy{
		Issue:       issue,
		Category:    category,
		Improvement: improvement,
		Resolved:    prev.Resolved + 1,
	})
	if err != nil {
		return fmt.Errorf("failed to encode strategy: %w", err)
	}
	s.recordLocked(FamilyIssueStrategy, key, raw, score)
	return nil
}

func mergeSolution(solutions []Solution, sol Solution, limit int) []Solution {
	out := make([]Solution, 0, len(solutions)+1)
	replaced := false
	for _, existing := range solutions {
		if existing.Clause == sol.Clause {
			if sol.Score < existing.Score {
				sol = existing
			}
			if !replaced {
				out = append(out, sol)
				replaced = true
			}
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, sol)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Clause < out[j].Clause
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ResolvedIssue is an issue that disappeared after a rewrite, with the clauses that rewrite applied.
type ResolvedIssue struct {
	Issue    string
	Category string
	Clauses  []string
	Prompt   string
}

// Lesson is everything a finished session contributes to the store.
type Lesson struct {
	Run       RunSummary
	Query     string
	Prompt    string
	Spec      *chart.Spec
	ChartType string
	BestScore float64
	Resolved  []ResolvedIssue
}

// Learned reports what Learn wrote.
type Learned struct {
	QueryPatterns bool `json:"query_patterns"`
	Fixes         int  `json:"fixes"`
	Strategies    int  `json:"strategies"`
}

// Learn records the run, then the query patterns when BestScore reaches LearnThreshold, then
// the resolved issue fixes and strategies, and flushes once.
func (s *Store) Learn(ctx context.Context, lesson Lesson) (Learned, error) {
	var learned Learned
	var errs []error

	s.appendRun(lesson.Run)

	if lesson.BestScore >= s.opts.LearnThreshold && lesson.Query != "" {
		learned.QueryPatterns = true
		if lesson.Prompt != "" {
			_, err := s.record(ctx, FamilyQueryPrompt, lesson.Query,
				PromptPattern{Query: lesson.Query, Prompt: lesson.Prompt}, lesson.BestScore)
			errs = append(errs, err)
		}
		if lesson.Spec != nil {
			_, err := s.record(ctx, FamilyQueryChartSpec, lesson.Query,
				SpecPattern{Query: lesson.Query, Spec: lesson.Spec}, lesson.BestScore)
			errs = append(errs, err)
			_, err = s.record(ctx, FamilyQueryChartType, lesson.Query, ChartTypePattern{
				Query:           lesson.Query,
				ChartType:       lesson.ChartType,
				Mark:            lesson.Spec.MarkType(),
				EffectivePrompt: lesson.Prompt,
			}, lesson.BestScore)
			errs = append(errs, err)
		}
	}

	for _, r := range lesson.Resolved {
		errs = append(errs, s.recordFix(r.Issue, r.Clauses, r.Prompt, lesson.BestScore))
		learned.Fixes++

		if r.Category != "" && len(r.Clauses) > 0 {
			errs = append(errs, s.recordStrategy(r.Issue, r.Category, r.Clauses[0], lesson.BestScore))
			learned.Strategies++
		}
	}

	errs = append(errs, s.Flush(ctx))
	if err := errors.Join(errs...); err != nil {
		return learned, fmt.Errorf("failed to learn from run: %w", err)
	}
	s.logger.Info("🧠 Learned from run (score %.2f): query_patterns=%t fixes=%d", lesson.BestScore, learned.QueryPatterns, learned.Fixes)
	return learned, nil
}

// Suggestions returns one hint per issue with a stored solution. Scores at or above 8 get none.
func (s *Store) Suggestions(issues []string, currentScore float64) []string {
	if currentScore >= suggestionThreshold {
		return nil
	}
	var out []string
	for _, issue := range issues {
		set, _, ok := s.LookupFixes(issue)
		if !ok {
			continue
		}
		best, _ := set.Best()
		out = append(out, fmt.Sprintf("Based on previous runs, %s was resolved with: %s", issue, best.Clause))
	}
	return out
}
