// Package heuristic scores a chart spec against a fixed weighted rubric. It performs no I/O.
package heuristic

import (
	"context"
	"fmt"
	"strings"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/chart"
	"promptsmith/pkg/config"
	"promptsmith/pkg/proto"
)

// MethodRubric tags rubric evaluations.
const MethodRubric = "rubric"

// Evaluator applies a Rubric. It is safe for concurrent use.
type Evaluator struct {
	rubric           Rubric
	clarifyThreshold float64
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRubric replaces the default rubric. Weights are normalised to sum to 1.
func WithRubric(r Rubric) Option {
	return func(e *Evaluator) { e.rubric = r.Normalized() }
}

// WithClarifyThreshold sets the raw score below which a failed required criterion asks for
// clarification.
func WithClarifyThreshold(t float64) Option {
	return func(e *Evaluator) { e.clarifyThreshold = t }
}

// New returns an evaluator using DefaultRubric.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{rubric: DefaultRubric(), clarifyThreshold: config.DefaultClarifyThreshold}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rubric returns a copy of the rubric in use.
func (e *Evaluator) Rubric() Rubric {
	return append(Rubric(nil), e.rubric...)
}

// Kind implements agent.Agent.
func (e *Evaluator) Kind() agent.Kind { return agent.KindHeuristicEvaluator }

// Step implements agent.Agent.
func (e *Evaluator) Step(_ context.Context, in agent.Input) (agent.Output, error) {
	if err := agent.Require(agent.KindHeuristicEvaluator, in.Build != nil, "build"); err != nil {
		return agent.Output{}, err
	}
	eval := e.Evaluate(in.Build.Spec)
	return agent.Output{Kind: agent.KindHeuristicEvaluator, Evaluation: &eval}, nil
}

// Evaluate scores s. A nil spec scores as an empty one.
func (e *Evaluator) Evaluate(s *chart.Spec) proto.Evaluation {
	if s == nil {
		s = &chart.Spec{}
	}

	var raw float64
	var issues []string
	requiredFailed := false
	criteria := make([]proto.CriterionScore, 0, len(e.rubric))

	for _, c := range e.rubric {
		score, found := c.Check(s)
		cs := proto.CriterionScore{
			Name:     c.Name,
			Score:    score,
			Weight:   c.Weight,
			Required: c.Required,
			Issues:   found,
			Feedback: feedbackFor(c.Name, score, s),
		}
		criteria = append(criteria, cs)
		raw += cs.Weighted()
		issues = append(issues, found...)
		if c.Required && score == 0 {
			requiredFailed = true
		}
	}

	problems := chart.Problems(s)
	eval := proto.Evaluation{
		Source:        proto.SourceHeuristic,
		Method:        MethodRubric,
		Score:         clamp(raw*10, 0, 10),
		RawScore:      raw,
		Criteria:      criteria,
		Issues:        proto.MergeIssues(issues),
		ChartValid:    !requiredFailed && len(problems) == 0,
		ShouldClarify: raw < e.clarifyThreshold && requiredFailed,
	}
	eval.Strengths, eval.Weaknesses = strengthsAndWeaknesses(criteria)
	eval.Feedback = joinFeedback(criteria, problems)
	return eval
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func strengthsAndWeaknesses(criteria []proto.CriterionScore) (strengths, weaknesses []string) {
	for _, c := range criteria {
		label := labels[c.Name]
		if label == "" {
			label = c.Name
		}
		switch {
		case c.Score >= 1:
			strengths = append(strengths, label)
		case c.Score == 0:
			weaknesses = append(weaknesses, label)
		}
	}
	return strengths, weaknesses
}

func joinFeedback(criteria []proto.CriterionScore, problems []string) string {
	parts := make([]string, 0, len(criteria)+1)
	for _, c := range criteria {
		if c.Feedback == "" {
			continue
		}
		part := c.Feedback
		if len(c.Issues) > 0 {
			part += " Issues: " + explainIssues(c.Issues)
		}
		parts = append(parts, part)
	}
	if len(problems) > 0 {
		parts = append(parts, "❌ Structure: "+strings.Join(problems, ", "))
	}
	return strings.Join(parts, " | ")
}

//nolint:gochecknoglobals // static text tables
var (
	labels = map[string]string{
		HasTitle:             "Chart Title",
		HasAxisLabels:        "Axis Labels",
		AppropriateChartType: "Chart Type",
		HasData:              "Data Structure",
		ProperEncoding:       "Data Encoding",
		GoodStyling:          "Visual Styling",
		ResponsiveDesign:     "Responsive Design",
	}

	issueText = map[string]string{
		"missing_title":       "No chart title provided",
		"missing_axis_labels": "Axis labels are missing",
		"partial_axis_labels": "Only one axis is labeled",
		"missing_mark":        "No mark type specified",
		"missing_data":        "No data values found",
		"missing_encoding":    "Data encoding is incomplete",
		"partial_encoding":    "Only one axis is encoded",
		"missing_styling":     "Chart dimensions not specified",
		"partial_styling":     "Only one dimension specified",
		"not_responsive":      "Fixed width and height with no autosize",
	}
)

func explainIssues(issues []string) string {
	out := make([]string, len(issues))
	for i, issue := range issues {
		if text, ok := issueText[issue]; ok {
			out[i] = text
			continue
		}
		out[i] = issue
	}
	return strings.Join(out, ", ")
}

func feedbackFor(name string, score float64, s *chart.Spec) string {
	label := labels[name]
	if label == "" {
		return ""
	}
	switch name {
	case HasTitle:
		if score == 1 {
			return fmt.Sprintf("✅ %s: the chart has a descriptive title.", label)
		}
		return fmt.Sprintf("❌ %s: missing. Add a title that says what the chart shows.", label)
	case HasAxisLabels:
		switch {
		case score == 1:
			return fmt.Sprintf("✅ %s: both axes explain what the data represents.", label)
		case score > 0:
			return fmt.Sprintf("⚠️ %s: partial. Label both axes.", label)
		}
		return fmt.Sprintf("❌ %s: missing. Add axis titles.", label)
	case AppropriateChartType:
		if score == 1 {
			return fmt.Sprintf("✅ %s: %s is a standard mark.", label, s.MarkType())
		}
		return fmt.Sprintf("❌ %s: use bar, line, point, area or another standard mark.", label)
	case HasData:
		if score == 1 {
			return fmt.Sprintf("✅ %s: the chart has data to visualize.", label)
		}
		return fmt.Sprintf("❌ %s: missing. Include data values.", label)
	case ProperEncoding:
		switch {
		case score == 1:
			return fmt.Sprintf("✅ %s: fields are mapped to the chart channels.", label)
		case score > 0:
			return fmt.Sprintf("⚠️ %s: partial. Map fields to both x and y.", label)
		}
		return fmt.Sprintf("❌ %s: missing. Add x and y field mappings.", label)
	case GoodStyling:
		switch {
		case score == 1:
			return fmt.Sprintf("✅ %s: explicit width and height.", label)
		case score > 0:
			return fmt.Sprintf("⚠️ %s: partial. Set both width and height.", label)
		}
		return fmt.Sprintf("❌ %s: missing. Add width and height.", label)
	case ResponsiveDesign:
		if score == 1 {
			return fmt.Sprintf("✅ %s: the chart adapts to its container.", label)
		}
		return fmt.Sprintf("⚠️ %s: could be improved with autosize or a container width.", label)
	}
	return ""
}
