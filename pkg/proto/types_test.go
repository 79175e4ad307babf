package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptsmith/pkg/chart"
)

func TestNewQuery(t *testing.T) {
	q, err := NewQuery("  Show me revenue  ", 3)
	require.NoError(t, err)
	assert.Equal(t, "Show me revenue", q.Text)
	assert.Equal(t, 3, q.MaxIterations)

	_, err = NewQuery("   ", 3)
	assert.Error(t, err)

	_, err = NewQuery("chart", 0)
	assert.Error(t, err)
}

func TestMergeIssues(t *testing.T) {
	got := MergeIssues(
		[]string{"missing_title", "partial_axis_labels", ""},
		[]string{"partial_axis_labels", "Chart type may not match query intent"},
	)
	assert.Equal(t, []string{"missing_title", "partial_axis_labels", "Chart type may not match query intent"}, got)
	assert.Nil(t, MergeIssues(nil, []string{" "}))
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusIterating.IsTerminal())
	assert.False(t, Status("").IsTerminal())
	for _, s := range []Status{StatusOptimal, StatusExhausted, StatusNeedsClarification, StatusError} {
		assert.True(t, s.IsTerminal(), s)
	}
}

func TestIterationRecordCloneIsDeep(t *testing.T) {
	rec := IterationRecord{
		Index: 1,
		Build: Build{Spec: &chart.Spec{Mark: &chart.Mark{Type: "bar"}}},
		Heuristic: Evaluation{
			Issues:   []string{"missing_title"},
			Criteria: []CriterionScore{{Name: "has_title", Issues: []string{"missing_title"}}},
		},
		Model:   Evaluation{Dimensions: map[string]float64{"clarity": 0.5}},
		Rewrite: &Rewrite{ImprovementsMade: []string{"added title"}},
	}

	clone := rec.Clone()
	clone.Build.Spec.Mark.Type = "line"
	clone.Heuristic.Issues[0] = "changed"
	clone.Heuristic.Criteria[0].Issues[0] = "changed"
	clone.Model.Dimensions["clarity"] = 1
	clone.Rewrite.ImprovementsMade[0] = "changed"

	assert.Equal(t, "bar", rec.Build.Spec.MarkType())
	assert.Equal(t, "missing_title", rec.Heuristic.Issues[0])
	assert.Equal(t, "missing_title", rec.Heuristic.Criteria[0].Issues[0])
	assert.InDelta(t, 0.5, rec.Model.Dimensions["clarity"], 1e-9)
	assert.Equal(t, "added title", rec.Rewrite.ImprovementsMade[0])
}

func TestEvaluationCriterionLookup(t *testing.T) {
	e := &Evaluation{Criteria: []CriterionScore{{Name: "has_data", Score: 1, Weight: 0.2}}}
	c, ok := e.Criterion("has_data")
	require.True(t, ok)
	assert.InDelta(t, 0.2, c.Weighted(), 1e-9)

	_, ok = e.Criterion("missing")
	assert.False(t, ok)

	var nilEval *Evaluation
	_, ok = nilEval.Criterion("has_data")
	assert.False(t, ok)
}
