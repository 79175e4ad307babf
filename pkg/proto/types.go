// Package proto defines the value types exchanged between the pipeline agents: queries, prompts,
// evaluations, score decisions and iteration records.
package proto

import (
	"fmt"
	"strings"
	"time"

	"promptsmith/pkg/chart"
)

// Query is the immutable user request.
type Query struct {
	Text          string `json:"text"`
	MaxIterations int    `json:"max_iterations"`
}

// NewQuery validates and returns a query.
func NewQuery(text string, maxIterations int) (Query, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Query{}, fmt.Errorf("query text cannot be empty")
	}
	if maxIterations <= 0 {
		return Query{}, fmt.Errorf("max iterations must be positive, got %d", maxIterations)
	}
	return Query{Text: text, MaxIterations: maxIterations}, nil
}

// Provenance records where a prompt came from.
type Provenance string

const (
	ProvenanceCache     Provenance = "cache"
	ProvenanceGenerated Provenance = "generated"
	ProvenanceTemplate  Provenance = "template"
)

// Prompt is the structured instruction handed to the chart builder.
type Prompt struct {
	Text             string     `json:"text"`
	Provenance       Provenance `json:"provenance"`
	FromCache        bool       `json:"from_cache"`
	CacheHit         string     `json:"cache_hit,omitempty"`
	GenerationMethod string     `json:"generation_method"`
	LLMFallback      bool       `json:"llm_fallback,omitempty"`
	LLMError         string     `json:"llm_error,omitempty"`
	Entities         []string   `json:"entities,omitempty"`
	Tokens           int        `json:"tokens,omitempty"`
}

// Build is the chart builder's output.
type Build struct {
	Spec        *chart.Spec `json:"chart_spec"`
	ChartType   string      `json:"chart_type"`
	IsValid     bool        `json:"is_valid"`
	Problems    []string    `json:"problems,omitempty"`
	FromCache   bool        `json:"from_cache"`
	CacheHit    string      `json:"cache_hit,omitempty"`
	Method      string      `json:"generation_method"`
	LLMFallback bool        `json:"llm_fallback,omitempty"`
	LLMError    string      `json:"llm_error,omitempty"`
}

// Source tags which evaluator produced a result.
type Source string

const (
	SourceHeuristic Source = "heuristic"
	SourceModel     Source = "model"
)

// CriterionScore is one weighted rubric criterion.
type CriterionScore struct {
	Name     string   `json:"name"`
	Score    float64  `json:"score"`
	Weight   float64  `json:"weight"`
	Required bool     `json:"required"`
	Issues   []string `json:"issues,omitempty"`
	Feedback string   `json:"feedback,omitempty"`
}

// Weighted returns score x weight.
func (c CriterionScore) Weighted() float64 {
	return c.Score * c.Weight
}

// Evaluation is the output of either evaluator. Score is in [0,10].
type Evaluation struct {
	Source        Source             `json:"source"`
	Method        string             `json:"evaluation_method"`
	Score         float64            `json:"score"`
	RawScore      float64            `json:"raw_score,omitempty"`
	Criteria      []CriterionScore   `json:"criteria,omitempty"`
	Dimensions    map[string]float64 `json:"dimensions,omitempty"`
	Issues        []string           `json:"issues,omitempty"`
	Strengths     []string           `json:"strengths,omitempty"`
	Weaknesses    []string           `json:"weaknesses,omitempty"`
	Feedback      string             `json:"feedback,omitempty"`
	ChartValid    bool               `json:"chart_valid"`
	ShouldClarify bool               `json:"should_clarify,omitempty"`
	LLMError      string             `json:"llm_error,omitempty"`
}

// Criterion returns the named criterion and whether it exists.
func (e *Evaluation) Criterion(name string) (CriterionScore, bool) {
	if e == nil {
		return CriterionScore{}, false
	}
	for _, c := range e.Criteria {
		if c.Name == name {
			return c, true
		}
	}
	return CriterionScore{}, false
}

// Status is a session status.
type Status string

const (
	StatusIterating          Status = "iterating"
	StatusOptimal            Status = "optimal"
	StatusExhausted          Status = "exhausted"
	StatusNeedsClarification Status = "needs_clarification"
	StatusError              Status = "error"
)

// IsTerminal reports whether the status ends a session.
func (s Status) IsTerminal() bool {
	return s != StatusIterating && s != ""
}

// Decision is the scorer's verdict for one iteration.
type Decision struct {
	Heuristic   float64 `json:"heuristic_score"`
	Model       float64 `json:"model_score"`
	Final       float64 `json:"final_score"`
	Continue    bool    `json:"should_continue"`
	Status      Status  `json:"status"`
	Reason      string  `json:"reason"`
	Driver      string  `json:"driver,omitempty"`
	Summary     string  `json:"summary"`
	StatusLabel string  `json:"status_label"`
}

// Rewrite is the rewriter's output.
type Rewrite struct {
	Original         string   `json:"original_prompt"`
	Prompt           string   `json:"rewritten_prompt"`
	IssuesAddressed  []string `json:"issues_addressed"`
	AppliedFixes     []Fix    `json:"applied_fixes,omitempty"`
	ImprovementsMade []string `json:"improvements_made"`
	RewriteReason    string   `json:"rewrite_reason"`
	LLMFallback      bool     `json:"llm_fallback,omitempty"`
	LLMError         string   `json:"llm_error,omitempty"`
}

// Fix pairs an issue with the clause applied for it.
type Fix struct {
	Issue  string `json:"issue"`
	Clause string `json:"clause"`
	Cached bool   `json:"cached"`
}

// Clarification is the clarifier's output.
type Clarification struct {
	NeedsClarification bool     `json:"needs_clarification"`
	Issues             []string `json:"issues,omitempty"`
	Question           string   `json:"question,omitempty"`
	SuggestedQuery     string   `json:"suggested_query,omitempty"`
	Confidence         float64  `json:"confidence"`
}

// IterationRecord captures one completed pass through the loop.
type IterationRecord struct {
	Index     int                `json:"iteration"`
	Prompt    Prompt             `json:"prompt"`
	Build     Build              `json:"build"`
	Heuristic Evaluation         `json:"heuristic"`
	Model     Evaluation         `json:"model"`
	Decision  Decision           `json:"decision"`
	Rewrite   *Rewrite           `json:"rewrite,omitempty"`
	Snapshot  map[string]any     `json:"agent_outputs,omitempty"`
	Timings   map[string]float64 `json:"timings_ms,omitempty"`
	At        time.Time          `json:"completed_at"`
}

// Issues returns the union of heuristic issues and model weaknesses, order preserved.
func (r *IterationRecord) Issues() []string {
	return MergeIssues(r.Heuristic.Issues, r.Model.Weaknesses)
}

// Clone returns a deep copy of the record.
func (r IterationRecord) Clone() IterationRecord {
	out := r
	out.Build.Spec = r.Build.Spec.Clone()
	out.Prompt.Entities = append([]string(nil), r.Prompt.Entities...)
	out.Build.Problems = append([]string(nil), r.Build.Problems...)
	out.Heuristic = r.Heuristic.clone()
	out.Model = r.Model.clone()
	if r.Rewrite != nil {
		rw := *r.Rewrite
		rw.IssuesAddressed = append([]string(nil), r.Rewrite.IssuesAddressed...)
		rw.AppliedFixes = append([]Fix(nil), r.Rewrite.AppliedFixes...)
		rw.ImprovementsMade = append([]string(nil), r.Rewrite.ImprovementsMade...)
		out.Rewrite = &rw
	}
	if r.Snapshot != nil {
		out.Snapshot = make(map[string]any, len(r.Snapshot))
		for k, v := range r.Snapshot {
			out.Snapshot[k] = v
		}
	}
	if r.Timings != nil {
		out.Timings = make(map[string]float64, len(r.Timings))
		for k, v := range r.Timings {
			out.Timings[k] = v
		}
	}
	return out
}

func (e Evaluation) clone() Evaluation {
	out := e
	out.Criteria = make([]CriterionScore, len(e.Criteria))
	for i, c := range e.Criteria {
		c.Issues = append([]string(nil), c.Issues...)
		out.Criteria[i] = c
	}
	if e.Criteria == nil {
		out.Criteria = nil
	}
	out.Issues = append([]string(nil), e.Issues...)
	out.Strengths = append([]string(nil), e.Strengths...)
	out.Weaknesses = append([]string(nil), e.Weaknesses...)
	if e.Dimensions != nil {
		out.Dimensions = make(map[string]float64, len(e.Dimensions))
		for k, v := range e.Dimensions {
			out.Dimensions[k] = v
		}
	}
	return out
}

// MergeIssues unions issue lists, dropping blanks and duplicates, keeping first-seen order.
func MergeIssues(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, issue := range list {
			issue = strings.TrimSpace(issue)
			if issue == "" || seen[issue] {
				continue
			}
			seen[issue] = true
			out = append(out, issue)
		}
	}
	return out
}
