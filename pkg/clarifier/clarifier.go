// Package clarifier decides whether a query is too vague to chart and, if so, what to ask.
package clarifier

import (
	"context"
	"fmt"
	"strings"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/chart"
	"promptsmith/pkg/logx"
	"promptsmith/pkg/proto"
)

// Issue tags.
const (
	VagueBusiness          = "vague_business"
	MissingTimeframe       = "missing_timeframe"
	MissingDimensions      = "missing_dimensions"
	MissingChartType       = "missing_chart_type"
	MissingDataSource      = "missing_data_source"
	TooBroad               = "too_broad"
	AmbiguousMetrics       = "ambiguous_metrics"
	ContradictoryChartType = "contradictory_chart_type"
	MissingMetric          = "missing_metric"
)

//nolint:gochecknoglobals // static question table
var questions = map[string]string{
	VagueBusiness:     "What specific business metrics would you like to see? (e.g., revenue, profit, sales, customers)",
	MissingTimeframe:  "What time period would you like to analyze? (e.g., last month, Q1 2024, past year)",
	MissingDimensions: "What dimensions would you like to compare? (e.g., by region, product, department)",
	MissingChartType:  "What type of visualization would you prefer? (e.g., bar chart, line chart, pie chart)",
	MissingDataSource: "What data source should I use for this analysis?",
	TooBroad:          "Could you be more specific about what you'd like to visualize?",
	AmbiguousMetrics:  "Which specific metrics are you interested in? (e.g., total, average, percentage change)",
	MissingMetric:     "What would you like to chart? Name a metric and how to break it down (e.g., revenue by region over time).",
}

// priority orders tags when picking the one the question is about.
//
//nolint:gochecknoglobals // static ordering
var priority = []string{
	ContradictoryChartType, VagueBusiness, TooBroad, MissingMetric, AmbiguousMetrics,
	MissingDimensions, MissingTimeframe, MissingChartType, MissingDataSource,
}

//nolint:gochecknoglobals // static term tables
var (
	vagueTerms       = []string{"business", "performance", "metric", "data", "result"}
	broadTerms       = []string{"everything", "all", "overview", "summary", "general"}
	ambiguousTerms   = []string{"performance", "result", "number", "figure", "statistic"}
	aggregationTerms = []string{"total", "average", "percentage", "count", "sum", "mean"}
	timeTerms        = []string{"time", "trend", "period", "over time", "monthly", "annual", "daily", "weekly", "quarterly", "yearly"}
	dimensionTerms   = []string{"by", "across", "per", "group", "each"}
	chartTypes       = []string{"bar", "line", "pie", "scatter", "area", "heatmap", "histogram", "donut"}
)

// Clarifier inspects queries. It has no external dependencies.
type Clarifier struct {
	logger *logx.Logger
}

// New returns a clarifier.
func New() *Clarifier {
	return &Clarifier{logger: logx.NewLogger("clarifier")}
}

// Kind implements agent.Agent.
func (c *Clarifier) Kind() agent.Kind { return agent.KindClarifier }

// Step implements agent.Agent. With a heuristic evaluation in the input it runs the
// post-iteration check, otherwise the pre-check.
func (c *Clarifier) Step(_ context.Context, in agent.Input) (agent.Output, error) {
	if err := agent.Require(agent.KindClarifier, in.Query.Text != "", "query"); err != nil {
		return agent.Output{}, err
	}
	var out proto.Clarification
	if in.Heuristic != nil {
		out = c.Recheck(in.Query.Text, in.Heuristic.Issues)
	} else {
		out = c.Check(in.Query.Text)
	}
	return agent.Output{Kind: agent.KindClarifier, Clarification: &out}, nil
}

// analysis is what a query names and lacks.
type analysis struct {
	tags     []string
	blocking bool
	types    []string
}

func (a analysis) has(tag string) bool {
	for _, t := range a.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// stalls reports whether the query itself explains a chart too weak to improve: it is
// unchartable as written, or names neither a grouping dimension nor a time axis.
func (a analysis) stalls() bool {
	return a.blocking || (a.has(MissingDimensions) && a.has(MissingTimeframe))
}

func analyze(query string) analysis {
	words := chart.Words(query)
	fields := chart.ImpliedFields(query)
	has := func(terms []string) bool {
		for _, t := range terms {
			if strings.Contains(words, " "+t+" ") || strings.Contains(words, " "+t+"s ") {
				return true
			}
		}
		return false
	}

	hasMetric := len(fields.Metrics) > 0
	hasDimension := len(fields.Dimensions) > 0 || has(dimensionTerms)
	hasTime := len(fields.Time) > 0 || has(timeTerms)

	var a analysis
	a.types = namedTypes(words)

	tag := func(ok bool, name string) {
		if ok {
			a.tags = append(a.tags, name)
		}
	}
	vague := has(vagueTerms) && !hasMetric
	broad := has(broadTerms)
	empty := !hasMetric && !hasDimension && !hasTime

	tag(len(a.types) > 1, ContradictoryChartType)
	tag(empty, MissingMetric)
	tag(vague, VagueBusiness)
	tag(broad, TooBroad)
	tag(has(ambiguousTerms) && !has(aggregationTerms), AmbiguousMetrics)
	tag(!hasDimension, MissingDimensions)
	tag(!hasTime, MissingTimeframe)
	tag(len(a.types) == 0, MissingChartType)
	tag(empty, MissingDataSource)

	a.blocking = empty || len(a.types) > 1 || ((vague || broad) && !hasMetric)
	return a
}

// Check is the pre-check. It asks for clarification only when the query is unchartable as
// written; softer gaps are reported as issues with NeedsClarification false.
func (c *Clarifier) Check(query string) proto.Clarification {
	a := analyze(query)
	out := proto.Clarification{
		NeedsClarification: a.blocking,
		Issues:             a.tags,
		Confidence:         confidence(a),
	}
	if !a.blocking {
		return out
	}
	primary := primaryTag(a.tags)
	out.Question = question(primary, query, a.types)
	out.SuggestedQuery = suggest(primary, query, a.types)
	c.logger.Info("❓ Query needs clarification (%s): %s", primary, query)
	return out
}

// Recheck runs after an iteration whose chart was too weak to improve. It stops the loop only
// when the query lacks a metric, names contradictory chart types, or has neither a grouping
// dimension nor a timeframe; softer gaps leave the rewriter to it. The chart's issues are
// appended to the reported ones.
func (c *Clarifier) Recheck(query string, chartIssues []string) proto.Clarification {
	a := analyze(query)
	out := proto.Clarification{
		NeedsClarification: a.stalls(),
		Issues:             proto.MergeIssues(a.tags, chartIssues),
		Confidence:         confidence(a),
	}
	if !out.NeedsClarification {
		return out
	}
	primary := primaryTag(a.tags)
	out.Question = question(primary, query, a.types)
	if len(chartIssues) > 0 {
		out.Question += " The generated chart also had: " + strings.Join(chartIssues, ", ") + "."
	}
	out.SuggestedQuery = suggest(primary, query, a.types)
	c.logger.Info("❓ Chart stalled, asking for clarification (%s): %s", primary, query)
	return out
}

// namedTypes lists chart types in the order the query names them.
func namedTypes(words string) []string {
	var out []string
	seen := map[string]bool{}
	for _, w := range strings.Fields(words) {
		w = strings.TrimSuffix(w, "s")
		for _, t := range chartTypes {
			if w == t && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func primaryTag(tags []string) string {
	for _, p := range priority {
		for _, t := range tags {
			if t == p {
				return p
			}
		}
	}
	return ""
}

func confidence(a analysis) float64 {
	if a.blocking {
		return minf(0.5+0.1*float64(len(a.tags)), 0.95)
	}
	return minf(0.05*float64(len(a.tags)), 0.45)
}

func question(tag, query string, types []string) string {
	base := questions[tag]
	switch tag {
	case ContradictoryChartType:
		return fmt.Sprintf("You mentioned more than one chart type (%s). Which one would you prefer?", strings.Join(types, ", "))
	case VagueBusiness:
		return "I see you want to analyze your business. " + base
	case MissingTimeframe:
		return fmt.Sprintf("For your query about '%s', %s", query, base)
	case MissingDimensions:
		return fmt.Sprintf("To better visualize '%s', %s", query, base)
	case TooBroad:
		return "Your request is quite broad. " + base
	case AmbiguousMetrics:
		return fmt.Sprintf("Regarding '%s', %s", query, base)
	case "":
		return "Could you provide more details?"
	default:
		return base
	}
}

func suggest(tag, query string, types []string) string {
	q := strings.TrimRight(strings.TrimSpace(query), "?.!")
	switch tag {
	case VagueBusiness, MissingMetric:
		return "Show me revenue trends over the last 12 months"
	case TooBroad:
		return "Show me monthly revenue by product category"
	case MissingTimeframe:
		return q + " over the last quarter"
	case MissingDimensions:
		return q + " by region"
	case AmbiguousMetrics:
		return "Show me total " + q + " by month"
	case ContradictoryChartType:
		return keepFirstType(q, types)
	default:
		return query
	}
}

// keepFirstType drops every chart type word after the first one named, along with the "and",
// "or" or comma that joined it to the type before.
func keepFirstType(query string, types []string) string {
	drop := map[string]bool{}
	for _, t := range types[1:] {
		drop[t] = true
	}
	fields := strings.Fields(query)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !drop[strings.TrimSuffix(strings.ToLower(strings.Trim(f, ",")), "s")] {
			out = append(out, f)
			continue
		}
		if n := len(out); n > 0 {
			switch last := strings.ToLower(out[n-1]); {
			case last == "and" || last == "or" || last == "&" || last == "vs":
				out = out[:n-1]
			case strings.HasSuffix(last, ","):
				out[n-1] = strings.TrimSuffix(out[n-1], ",")
			}
		}
	}
	return strings.Join(out, " ")
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
