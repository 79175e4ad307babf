package rewriter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/patterns"
	"promptsmith/pkg/proto"
)

const basePrompt = "Create a chart showing revenue by region"

func evals(issues, weaknesses []string) (*proto.Evaluation, *proto.Evaluation) {
	return &proto.Evaluation{Source: proto.SourceHeuristic, Issues: issues},
		&proto.Evaluation{Source: proto.SourceModel, Weaknesses: weaknesses, Feedback: "Chart is functional but could be more informative"}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		issue    string
		category string
	}{
		{"not_responsive", CategoryResponsive},
		{"missing_axis_labels", CategoryAxis},
		{"partial_axis_labels", CategoryAxis},
		{"Colors lack contrast", CategoryColor},
		{"missing_data", CategoryData},
		{"Data representation could be improved", CategoryData},
		{"missing_mark", CategoryType},
		{"invalid_chart_type: bubble", CategoryType},
		{"Chart type may not be optimal for the request", CategoryType},
		{"missing_title", CategoryTitle},
		{"partial_encoding", CategoryEncoding},
		{"missing_styling", CategoryStyling},
		{"Could improve clarity and readability", CategoryClarity},
		{"Limited insight potential", CategoryInsight},
		{"Could enhance visual appeal", CategoryVisual},
		{"something else entirely", ""},
	}
	for _, tt := range tests {
		t.Run(tt.issue, func(t *testing.T) {
			name, clause := Categorize(tt.issue)
			assert.Equal(t, tt.category, name)
			assert.Equal(t, tt.category == "", clause == "")
		})
	}
}

func TestTemplateRewrite(t *testing.T) {
	h, m := evals([]string{"missing_axis_labels", "missing_title"}, []string{"Could improve clarity and readability"})
	rw := New(nil, nil).Rewrite(context.Background(), basePrompt, h, m, 9)

	assert.Equal(t, basePrompt, rw.Original)
	assert.Equal(t, basePrompt+"\n\nAdditional requirements:\n"+
		"- Include clear axis labels and titles\n"+
		"- Add a clear, descriptive chart title\n"+
		"- Ensure the chart is clear and easy to interpret with proper labels and titles", rw.Prompt)
	assert.Equal(t, "Template rewrite addressing 3 issues", rw.RewriteReason)
	assert.Equal(t, []string{"missing_axis_labels", "missing_title", "Could improve clarity and readability"}, rw.IssuesAddressed)
	require.Len(t, rw.AppliedFixes, 3)
	assert.False(t, rw.AppliedFixes[0].Cached)
	assert.False(t, rw.LLMFallback)
}

func TestDuplicateAndPresentClausesSkipped(t *testing.T) {
	h, m := evals([]string{"missing_axis_labels", "partial_axis_labels"}, nil)
	rw := New(nil, nil).Rewrite(context.Background(), basePrompt, h, m, 9)
	assert.Len(t, rw.AppliedFixes, 1)

	again := New(nil, nil).Rewrite(context.Background(), rw.Prompt, h, m, 9)
	assert.Empty(t, again.AppliedFixes)
	assert.Equal(t, ReasonGeneral, again.RewriteReason)
}

func TestGeneralSentenceWhenNothingApplies(t *testing.T) {
	h, m := evals(nil, []string{"something else entirely"})
	rw := New(nil, nil).Rewrite(context.Background(), basePrompt, h, m, 9)
	assert.Equal(t, basePrompt+"\n\nPlease ensure the chart is clear, well-labeled, and effectively communicates the data insights.", rw.Prompt)
	assert.Equal(t, ReasonGeneral, rw.RewriteReason)
	assert.Len(t, rw.ImprovementsMade, 1)
}

func TestCachedFixesWin(t *testing.T) {
	ctx := context.Background()
	store := patterns.NewMemoryStore()
	require.NoError(t, store.RecordFix(ctx, "missing_title", "Title the chart after the metric and grouping", "p", 9.1))

	h, m := evals([]string{"missing_title", "missing_data"}, nil)
	rw := New(store, nil).Rewrite(ctx, basePrompt, h, m, 9)

	require.Len(t, rw.AppliedFixes, 2)
	assert.Equal(t, proto.Fix{Issue: "missing_title", Clause: "Title the chart after the metric and grouping", Cached: true}, rw.AppliedFixes[0])
	assert.Equal(t, proto.Fix{Issue: "missing_data", Clause: "Specify data handling and transformations"}, rw.AppliedFixes[1])
	assert.Equal(t, "Applied 1 cached fixes and 1 template clauses", rw.RewriteReason)
}

func TestSuggestionsOnlyBelowEight(t *testing.T) {
	ctx := context.Background()
	store := patterns.NewMemoryStore()
	require.NoError(t, store.RecordFix(ctx, "missing_title", "Add a clear, descriptive chart title", "p", 9))
	h, m := evals([]string{"missing_title"}, nil)

	low := New(store, nil).Rewrite(ctx, basePrompt, h, m, 6.5)
	assert.Contains(t, low.Prompt, "Learned suggestions:\n- Based on previous runs, missing_title was resolved with")

	high := New(store, nil).Rewrite(ctx, basePrompt, h, m, 8.2)
	assert.NotContains(t, high.Prompt, "Learned suggestions")
}

func TestGeneratedRewrite(t *testing.T) {
	var sent string
	gen := llm.GeneratorFunc(func(_ context.Context, p string, gctx llm.Context) llm.Result {
		sent = p
		assert.Equal(t, "rewriter", gctx.Agent)
		return llm.Ok("  Create a responsive, titled bar chart of revenue by region with tooltips.  ")
	})
	h, m := evals([]string{"missing_title"}, nil)
	rw := New(nil, gen).Rewrite(context.Background(), basePrompt, h, m, 6)

	assert.Contains(t, sent, "Add a clear, descriptive chart title")
	assert.Contains(t, sent, "Current Score: 6.00/10")
	assert.Equal(t, "Create a responsive, titled bar chart of revenue by region with tooltips.", rw.Prompt)
	assert.True(t, strings.HasPrefix(rw.RewriteReason, "LLM rewrite: addressed issues [missing_title]"))
	assert.Len(t, rw.AppliedFixes, 1)
}

func TestGeneratedRewriteFallbacks(t *testing.T) {
	h, m := evals([]string{"missing_title"}, nil)
	for name, gen := range map[string]llm.Generator{
		"offline": llm.Offline("offline"),
		"timeout": llm.GeneratorFunc(func(context.Context, string, llm.Context) llm.Result {
			return llm.Timeout(context.DeadlineExceeded)
		}),
		"empty": llm.GeneratorFunc(func(context.Context, string, llm.Context) llm.Result { return llm.Ok("   ") }),
	} {
		t.Run(name, func(t *testing.T) {
			rw := New(nil, gen).Rewrite(context.Background(), basePrompt, h, m, 6)
			assert.True(t, rw.LLMFallback)
			assert.NotEmpty(t, rw.LLMError)
			assert.Equal(t, "Template rewrite addressing 1 issues", rw.RewriteReason)
		})
	}
}

func TestStep(t *testing.T) {
	r := New(nil, nil)
	assert.Equal(t, agent.KindRewriter, r.Kind())

	_, err := r.Step(context.Background(), agent.Input{})
	assert.True(t, errors.Is(err, agent.ErrMissingInput))

	_, err = r.Step(context.Background(), agent.Input{Prompt: &proto.Prompt{Text: basePrompt}})
	assert.True(t, errors.Is(err, agent.ErrMissingInput))

	h, m := evals([]string{"not_responsive"}, nil)
	out, err := r.Step(context.Background(), agent.Input{
		Prompt:    &proto.Prompt{Text: basePrompt},
		Heuristic: h,
		Model:     m,
		Decision:  &proto.Decision{Final: 7.9},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Rewrite)
	assert.Contains(t, out.Rewrite.Prompt, "- Make the chart responsive with container width and autosize")
}
