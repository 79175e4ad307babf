package modeleval

import (
	"strings"

	"promptsmith/pkg/chart"
	"promptsmith/pkg/proto"
)

type dimension struct {
	value    float64
	feedback string
}

// Simulate blends the heuristic score with rule-based dimension scores and the jitter:
// clamp(0.5*heuristic + 0.5*mean(dimensions)*10 + jitter, 0, 10).
func (e *Evaluator) Simulate(query string, spec *chart.Spec) proto.Evaluation {
	if spec == nil {
		spec = &chart.Spec{}
	}
	h := e.heuristic.Evaluate(spec)

	intent := intentDimension(query, spec)
	clarity := clarityDimension(spec)
	insight := insightDimension(spec)
	aesthetics := aestheticsDimension(spec)
	accuracy := accuracyDimension(spec)

	dims := map[string]float64{
		IntentAppropriateness: intent.value,
		Clarity:               clarity.value,
		InsightPotential:      insight.value,
		Aesthetics:            aesthetics.value,
		DataAccuracy:          accuracy.value,
	}

	var strengths, weaknesses []string
	note := func(ok bool, strength, weakness string) {
		if ok {
			strengths = append(strengths, strength)
			return
		}
		weaknesses = append(weaknesses, weakness)
	}
	note(intent.value > 1.0/3, "Appropriate chart type for the request", "Chart type may not be optimal for the request")
	note(clarity.value > 0.5, "Clear and readable design", "Could improve clarity and readability")
	note(insight.value > 0.6, "Good potential for insights", "Limited insight potential")
	note(aesthetics.value > 0.5, "Good aesthetic quality", "Could enhance visual appeal")
	note(accuracy.value > 0.8, "Accurate data representation", "Data representation could be improved")

	score := 0.5*h.Score + 0.5*mean(dims)*10 + Jitter(query, spec)
	return proto.Evaluation{
		Source:     proto.SourceModel,
		Method:     MethodSimulated,
		Score:      round2(clamp(score, 0, 10)),
		Dimensions: dims,
		Strengths:  strengths,
		Weaknesses: weaknesses,
		Feedback: strings.Join([]string{
			intent.feedback, clarity.feedback, insight.feedback, aesthetics.feedback, accuracy.feedback,
		}, " "),
		ChartValid: h.ChartValid,
	}
}

// intentDimension lifts the -0.5..1 intent rule onto [0,1].
func intentDimension(query string, spec *chart.Spec) dimension {
	mark := spec.MarkType()
	if mark == "" {
		return dimension{0, "No mark type specified."}
	}
	lift := func(v float64) float64 { return (v + 0.5) / 1.5 }

	switch chart.DetectIntent(query) {
	case chart.IntentTime:
		switch mark {
		case "line":
			return dimension{lift(1), "Line chart appropriately shows temporal trends."}
		case "area":
			return dimension{lift(0.8), "Area chart shows temporal trends but a line might be clearer."}
		}
		return dimension{lift(-0.5), "Chart type '" + mark + "' may not be optimal for time-based data."}
	case chart.IntentComparison:
		if mark == "bar" {
			return dimension{lift(1), "Bar chart effectively compares categories."}
		}
		return dimension{lift(0), "Chart type '" + mark + "' may not be optimal for comparisons."}
	case chart.IntentDistribution:
		if mark == "point" || mark == "circle" {
			return dimension{lift(1), "Scatter plot effectively shows distribution and correlation."}
		}
		return dimension{lift(0), "Chart type '" + mark + "' may not show the distribution effectively."}
	case chart.IntentShare:
		if mark == "arc" {
			return dimension{lift(1), "Arc chart shows the share of each part."}
		}
		return dimension{lift(0), "Chart type '" + mark + "' may not show proportions clearly."}
	}
	return dimension{lift(0.5), "Chart type '" + mark + "' is generally suitable for the request."}
}

func clarityDimension(spec *chart.Spec) dimension {
	var v float64
	var parts []string
	if spec.TitleText() != "" {
		v += 0.5
		parts = append(parts, "Chart has a clear title.")
	} else {
		parts = append(parts, "Chart lacks a descriptive title.")
	}
	x := spec.Channel("x").Label() != ""
	y := spec.Channel("y").Label() != ""
	switch {
	case x && y:
		v += 0.5
		parts = append(parts, "Both axes are properly labeled.")
	case x || y:
		v += 0.25
		parts = append(parts, "One axis is labeled.")
	default:
		parts = append(parts, "Axis labels are missing.")
	}
	return dimension{v, strings.Join(parts, " ")}
}

func insightDimension(spec *chart.Spec) dimension {
	switch n := len(spec.Rows()); {
	case n >= 5:
		return dimension{1, "Sufficient data points for meaningful analysis."}
	case n >= 3:
		return dimension{0.6, "Moderate data points available."}
	default:
		return dimension{0, "Limited data points for analysis."}
	}
}

func aestheticsDimension(spec *chart.Spec) dimension {
	var v float64
	var parts []string
	if spec.Width != nil && spec.Height != nil {
		v += 0.5
		parts = append(parts, "Chart has appropriate dimensions.")
	} else {
		parts = append(parts, "Chart dimensions could be improved.")
	}
	if spec.TitleText() != "" {
		v += 0.3
		parts = append(parts, "Chart has a title for context.")
	}
	if spec.Channel("color") != nil {
		v += 0.2
		parts = append(parts, "Chart uses color effectively.")
	}
	return dimension{v, strings.Join(parts, " ")}
}

func accuracyDimension(spec *chart.Spec) dimension {
	var v float64
	var parts []string
	rows := spec.Rows()
	if len(rows) > 0 {
		v += 0.5
		parts = append(parts, "Chart has data to visualize.")
		if len(rows[0]) >= 2 {
			v += 0.3
			parts = append(parts, "Data structure is appropriate.")
		}
	} else {
		parts = append(parts, "No data available for visualization.")
	}
	if x, y := spec.Channel("x"), spec.Channel("y"); x != nil && y != nil && x.Field != "" && y.Field != "" {
		v += 0.2
		parts = append(parts, "Data fields are properly encoded.")
	} else if t := spec.Channel("theta"); t != nil && t.Field != "" {
		v += 0.2
		parts = append(parts, "Data fields are properly encoded.")
	} else {
		parts = append(parts, "Data encoding could be improved.")
	}
	return dimension{v, strings.Join(parts, " ")}
}
