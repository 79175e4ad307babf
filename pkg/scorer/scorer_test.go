package scorer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/chart"
	"promptsmith/pkg/heuristic"
	"promptsmith/pkg/proto"
)

func evals(h, m float64) (*proto.Evaluation, *proto.Evaluation) {
	return &proto.Evaluation{Source: proto.SourceHeuristic, Score: h},
		&proto.Evaluation{Source: proto.SourceModel, Score: m}
}

func TestCombine(t *testing.T) {
	s := Default()
	hw, mw := s.Weights()
	assert.InDelta(t, 0.5, hw, 1e-12)
	assert.InDelta(t, 0.5, mw, 1e-12)
	assert.InDelta(t, 7.5, s.Combine(7, 8), 1e-12)
	assert.InDelta(t, 8.33, s.Combine(8.333, 8.333), 1e-12)

	skewed := New(1, 3, 8.5)
	assert.InDelta(t, 7.75, skewed.Combine(7, 8), 1e-12)

	fallback := New(-1, 0, 8.5)
	hw, mw = fallback.Weights()
	assert.InDelta(t, 0.5, hw, 1e-12)
	assert.InDelta(t, 0.5, mw, 1e-12)
}

func TestCombineIsMonotonic(t *testing.T) {
	for _, s := range []*Scorer{Default(), New(0.3, 0.7, 8.5), New(1, 0, 8.5)} {
		for h := 0.0; h <= 10; h += 0.25 {
			for m := 0.0; m <= 10; m += 0.25 {
				base := s.Combine(h, m)
				assert.GreaterOrEqual(t, s.Combine(h+0.25, m), base)
				assert.GreaterOrEqual(t, s.Combine(h, m+0.25), base)
			}
		}
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		h, m      float64
		iteration int
		max       int
		status    proto.Status
		cont      bool
		label     string
	}{
		{"optimal", 9, 8, 1, 3, proto.StatusOptimal, false, LabelOptimal},
		{"optimal beats exhausted", 9, 9, 3, 3, proto.StatusOptimal, false, LabelOptimal},
		{"exhausted", 6, 6, 3, 3, proto.StatusExhausted, false, LabelMaxIterations},
		{"good", 8, 7, 1, 3, proto.StatusIterating, true, LabelGood},
		{"needs work", 5, 6, 2, 3, proto.StatusIterating, true, LabelNeedsWork},
		{"poor", 1, 2, 1, 3, proto.StatusIterating, true, LabelPoor},
		{"threshold is inclusive", 8.5, 8.5, 1, 3, proto.StatusOptimal, false, LabelOptimal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, m := evals(tt.h, tt.m)
			d := Default().Decide(tt.iteration, tt.max, h, m)
			assert.Equal(t, tt.status, d.Status)
			assert.Equal(t, tt.cont, d.Continue)
			assert.Equal(t, tt.label, d.StatusLabel)
			assert.NotEmpty(t, d.Reason)
			assert.NotEmpty(t, d.Summary)
		})
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	h := &proto.Evaluation{Score: 6, Criteria: []proto.CriterionScore{{Name: "has_title", Score: 0.5}}}
	m := &proto.Evaluation{Score: 7, Dimensions: map[string]float64{"clarity": 0.5, "aesthetics": 0.5, "insight_potential": 0.9}}
	first := Default().Decide(1, 5, h, m)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Default().Decide(1, 5, h, m))
	}
	assert.Equal(t, "has_title (0.50)", first.Driver, "ties prefer the rubric")
	assert.Contains(t, first.Reason, "weakest: has_title (0.50)")
}

func TestReasonNamesLowestDimension(t *testing.T) {
	h := &proto.Evaluation{Score: 7, Criteria: []proto.CriterionScore{{Name: "has_title", Score: 1}, {Name: "good_styling", Score: 0.5}}}
	m := &proto.Evaluation{Score: 6, Dimensions: map[string]float64{"clarity": 0.8, "insight_potential": 0.2}}
	d := Default().Decide(1, 3, h, m)
	assert.Equal(t, "insight_potential (0.20)", d.Driver)

	h.Criteria = nil
	m.Dimensions = nil
	d = Default().Decide(1, 3, h, m)
	assert.Empty(t, d.Driver)
	assert.Equal(t, "Score 6.50 below threshold 8.5", d.Reason)
}

func TestSummaryBands(t *testing.T) {
	h, m := evals(9.5, 9.5)
	h.Issues = []string{"not_responsive"}
	m.Feedback = "Looks good."
	d := Default().Decide(1, 3, h, m)
	assert.Contains(t, d.Summary, "Excellent chart quality")
	assert.Contains(t, d.Summary, "Identified issues: not_responsive")
	assert.Contains(t, d.Summary, "Model feedback: Looks good.")

	h, m = evals(3, 3)
	assert.Contains(t, Default().Decide(1, 3, h, m).Summary, "Poor chart quality")
}

func TestMissingEncodingContinues(t *testing.T) {
	spec := &chart.Spec{
		Schema: chart.SchemaV5,
		Title:  &chart.Title{Text: "Revenue"},
		Data:   &chart.Data{Values: []map[string]any{{"revenue": 1}}},
		Mark:   &chart.Mark{Type: "bar"},
		Width:  chart.Pixels(600),
		Height: chart.Pixels(400),
	}
	h := heuristic.New().Evaluate(spec)
	require.False(t, h.ChartValid)
	m := proto.Evaluation{Source: proto.SourceModel, Score: h.Score}

	d := Default().Decide(1, 3, &h, &m)
	assert.True(t, d.Continue)
	assert.Equal(t, proto.StatusIterating, d.Status)

	d = Default().Decide(3, 3, &h, &m)
	assert.False(t, d.Continue)
	assert.Equal(t, proto.StatusExhausted, d.Status)
}

func TestStep(t *testing.T) {
	s := Default()
	assert.Equal(t, agent.KindScorer, s.Kind())

	h, m := evals(9, 9)
	_, err := s.Step(context.Background(), agent.Input{Heuristic: h})
	assert.True(t, errors.Is(err, agent.ErrMissingInput))

	q, err := proto.NewQuery("revenue by month", 2)
	require.NoError(t, err)
	out, err := s.Step(context.Background(), agent.Input{Query: q, Iteration: 1, Heuristic: h, Model: m})
	require.NoError(t, err)
	require.NotNil(t, out.Decision)
	assert.Equal(t, proto.StatusOptimal, out.Decision.Status)
}
