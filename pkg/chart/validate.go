package chart

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSpec marks a structurally invalid chart specification.
var ErrInvalidSpec = errors.New("invalid chart spec")

// ValidMarks lists the Vega-Lite mark types the rubric accepts.
//
//nolint:gochecknoglobals // Static lookup table
var ValidMarks = map[string]bool{
	"bar": true, "line": true, "point": true, "area": true, "circle": true, "square": true,
	"tick": true, "rect": true, "rule": true, "arc": true, "text": true, "geoshape": true,
	"trail": true, "boxplot": true, "errorband": true, "errorbar": true,
}

// Problems lists structural defects: a missing mark, no encoding channels, or a data block
// with neither rows, a URL nor a named source.
func Problems(s *Spec) []string {
	if s == nil {
		return []string{"missing spec"}
	}
	var problems []string
	if strings.TrimSpace(s.MarkType()) == "" {
		problems = append(problems, "missing mark")
	}
	if len(s.Encoding) == 0 {
		problems = append(problems, "missing encoding")
	}
	switch {
	case s.Data == nil:
		problems = append(problems, "missing data")
	case len(s.Data.Values) == 0 && s.Data.URL == "" && s.Data.Name == "":
		problems = append(problems, "empty data block")
	}
	return problems
}

// Validate returns an ErrInvalidSpec-wrapped error describing every structural defect.
func Validate(s *Spec) error {
	problems := Problems(s)
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidSpec, strings.Join(problems, ", "))
}

// IsValid reports whether Validate passes.
func IsValid(s *Spec) bool {
	return len(Problems(s)) == 0
}

// DetectType maps the mark to a chart type name.
func DetectType(s *Spec) string {
	switch mark := s.MarkType(); mark {
	case "":
		return "unknown"
	case "point", "circle", "square":
		return "scatter"
	case "rect":
		return "heatmap"
	case "arc":
		return "pie"
	default:
		return mark
	}
}
