package heuristic

import (
	"fmt"

	"promptsmith/pkg/chart"
)

// Criterion names.
const (
	HasTitle             = "has_title"
	HasAxisLabels        = "has_axis_labels"
	AppropriateChartType = "appropriate_chart_type"
	HasData              = "has_data"
	ProperEncoding       = "proper_encoding"
	GoodStyling          = "good_styling"
	ResponsiveDesign     = "responsive_design"
)

// CheckFunc scores one criterion in [0,1] and names the issues it found.
type CheckFunc func(s *chart.Spec) (float64, []string)

// Criterion is one weighted rubric entry.
type Criterion struct {
	Name     string
	Weight   float64
	Required bool
	Check    CheckFunc
}

// Rubric is an ordered list of criteria.
type Rubric []Criterion

// DefaultRubric returns the seven chart criteria. Weights sum to 1.
func DefaultRubric() Rubric {
	return Rubric{
		{Name: HasTitle, Weight: 0.10, Required: true, Check: checkTitle},
		{Name: HasAxisLabels, Weight: 0.15, Check: checkAxisLabels},
		{Name: AppropriateChartType, Weight: 0.25, Required: true, Check: checkChartType},
		{Name: HasData, Weight: 0.20, Required: true, Check: checkData},
		{Name: ProperEncoding, Weight: 0.15, Check: checkEncoding},
		{Name: GoodStyling, Weight: 0.10, Check: checkStyling},
		{Name: ResponsiveDesign, Weight: 0.05, Check: checkResponsive},
	}
}

// TotalWeight sums the weights.
func (r Rubric) TotalWeight() float64 {
	var total float64
	for _, c := range r {
		total += c.Weight
	}
	return total
}

// Normalized returns a copy whose weights sum to 1. A rubric with no positive weight gets
// equal weights.
func (r Rubric) Normalized() Rubric {
	out := append(Rubric(nil), r...)
	total := r.TotalWeight()
	for i := range out {
		if total <= 0 {
			out[i].Weight = 1 / float64(len(out))
			continue
		}
		out[i].Weight /= total
	}
	return out
}

func checkTitle(s *chart.Spec) (float64, []string) {
	if s.TitleText() != "" {
		return 1, nil
	}
	return 0, []string{"missing_title"}
}

func isArc(s *chart.Spec) bool {
	return s.MarkType() == "arc"
}

func checkAxisLabels(s *chart.Spec) (float64, []string) {
	first, second := "x", "y"
	if isArc(s) {
		first, second = "theta", "color"
	}
	a := s.Channel(first).Label() != ""
	b := s.Channel(second).Label() != ""
	switch {
	case a && b:
		return 1, nil
	case a || b:
		return 0.5, []string{"partial_axis_labels"}
	default:
		return 0, []string{"missing_axis_labels"}
	}
}

func checkChartType(s *chart.Spec) (float64, []string) {
	mark := s.MarkType()
	if mark == "" {
		return 0, []string{"missing_mark"}
	}
	if chart.ValidMarks[mark] {
		return 1, nil
	}
	return 0, []string{fmt.Sprintf("invalid_chart_type: %s", mark)}
}

func checkData(s *chart.Spec) (float64, []string) {
	if len(s.Rows()) > 0 || (s.Data != nil && s.Data.URL != "") {
		return 1, nil
	}
	return 0, []string{"missing_data"}
}

func checkEncoding(s *chart.Spec) (float64, []string) {
	if len(s.Encoding) == 0 {
		return 0, []string{"missing_encoding"}
	}
	if isArc(s) && s.Channel("theta") != nil {
		return 1, nil
	}
	hasX := s.Channel("x") != nil
	hasY := s.Channel("y") != nil
	switch {
	case hasX && hasY:
		return 1, nil
	case hasX || hasY:
		return 0.5, []string{"partial_encoding"}
	default:
		return 0, []string{"missing_encoding"}
	}
}

func checkStyling(s *chart.Spec) (float64, []string) {
	switch {
	case s.Width != nil && s.Height != nil:
		return 1, nil
	case s.Width != nil || s.Height != nil:
		return 0.5, []string{"partial_styling"}
	default:
		return 0, []string{"missing_styling"}
	}
}

// checkResponsive passes on autosize, a container dimension, or sizes that are not both fixed.
func checkResponsive(s *chart.Spec) (float64, []string) {
	if s.Autosize != nil {
		return 1, nil
	}
	fixed := func(sz *chart.Size) bool { return sz != nil && !sz.Container }
	if fixed(s.Width) && fixed(s.Height) {
		return 0, []string{"not_responsive"}
	}
	return 1, nil
}
