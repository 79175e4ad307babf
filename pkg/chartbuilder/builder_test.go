package chartbuilder

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/chart"
	"promptsmith/pkg/heuristic"
	"promptsmith/pkg/patterns"
	"promptsmith/pkg/proto"
)

const query = "Show me revenue by region over time"

func prompt(text string) *proto.Prompt {
	return &proto.Prompt{Text: text, Provenance: proto.ProvenanceTemplate}
}

func TestTemplateIntents(t *testing.T) {
	tests := []struct {
		query     string
		mark      string
		chartType string
		x         string
	}{
		{query, "line", "line", "month"},
		{"Compare sales performance across departments", "bar", "bar", "department"},
		{"correlation between price and orders", "point", "scatter", "month"},
		{"share of revenue by product", "arc", "pie", ""},
		{"How is my business doing?", "bar", "bar", "region"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			b := New(nil, nil).Build(context.Background(), tt.query, prompt("Create a chart"), 1)
			assert.Equal(t, MethodTemplate, b.Method)
			assert.True(t, b.IsValid, "problems: %v", b.Problems)
			assert.Equal(t, tt.mark, b.Spec.MarkType())
			assert.Equal(t, tt.chartType, b.ChartType)
			if tt.x != "" {
				require.NotNil(t, b.Spec.Channel("x"))
				assert.Equal(t, tt.x, b.Spec.Channel("x").Field)
			}
			assert.Len(t, b.Spec.Rows(), 12)
		})
	}
}

func TestTemplateMatchesOriginalLayout(t *testing.T) {
	spec := Template(query, "Create a chart")
	assert.Equal(t, chart.SchemaV5, spec.Schema)
	assert.Equal(t, "Revenue by Region Over Time", spec.TitleText())
	assert.Equal(t, "Month", spec.Channel("x").Title)
	assert.Equal(t, "Revenue ($)", spec.Channel("y").Title)
	assert.Equal(t, "region", spec.Channel("color").Field)
	assert.Equal(t, map[string]any{"region": "North", "month": "Jan", "revenue": 120000.0}, spec.Rows()[0])
	assert.Equal(t, map[string]any{"region": "West", "month": "Mar", "revenue": 100000.0}, spec.Rows()[11])

	eval := heuristic.New().Evaluate(spec)
	assert.GreaterOrEqual(t, eval.Score, 5.0)
	assert.InDelta(t, 9.5, eval.Score, 1e-9)
}

func TestRequirementsFromRewrittenPrompt(t *testing.T) {
	base := Template(query, "Create a chart")
	spec := Template(query, "Create a chart\n\nAdditional requirements:\n- Make the chart responsive with container width and autosize\n- Add tooltips")

	require.NotNil(t, spec.Width)
	assert.True(t, spec.Width.Container)
	assert.NotNil(t, spec.Autosize)
	require.NotNil(t, spec.Mark.Tooltip)
	assert.True(t, *spec.Mark.Tooltip)

	assert.InDelta(t, 10, heuristic.New().Evaluate(spec).Score, 1e-9)
	assert.NotEmpty(t, cmp.Diff(base, spec))
	assert.Empty(t, cmp.Diff(base.Encoding, spec.Encoding))
}

func TestChartTitle(t *testing.T) {
	assert.Equal(t, "Revenue by Region Over Time", chartTitle("show me revenue by region over time"))
	assert.Equal(t, "Customer Satisfaction Trends", chartTitle("Display customer satisfaction trends"))
	assert.Equal(t, "How Is My Business Doing", chartTitle("How is my business doing?"))
	assert.Equal(t, "Chart", chartTitle("show me ?"))
}

func TestCacheHitOnFirstIteration(t *testing.T) {
	ctx := context.Background()
	store := patterns.NewMemoryStore()
	cached := Template(query, "")
	cached.Mark = &chart.Mark{Type: "area"}
	entry, err := store.Record(ctx, patterns.FamilyQueryChartSpec, query, patterns.SpecPattern{Query: query, Spec: cached}, 9)
	require.NoError(t, err)

	b := New(store, nil).Build(ctx, query, prompt("p"), 1)
	assert.True(t, b.FromCache)
	assert.Equal(t, entry.Signature, b.CacheHit)
	assert.Equal(t, MethodCache, b.Method)
	assert.Equal(t, "area", b.ChartType)

	b = New(store, nil).Build(ctx, query, prompt("p"), 2)
	assert.False(t, b.FromCache, "later iterations rebuild from the rewritten prompt")
	assert.Equal(t, "line", b.Spec.MarkType())
}

func TestGeneratedSpec(t *testing.T) {
	gen := llm.GeneratorFunc(func(_ context.Context, p string, gctx llm.Context) llm.Result {
		assert.Contains(t, p, "Prompt: make it")
		assert.Equal(t, 800, gctx.MaxTokens)
		return llm.Ok("Here you go:\n```json\n{\"mark\": \"bar\", \"data\": {\"values\": [{\"a\": 1}]}, " +
			"\"encoding\": {\"x\": {\"field\": \"a\"}}}\n```")
	})
	b := New(nil, gen).Build(context.Background(), query, prompt("make it"), 1)
	assert.Equal(t, MethodLLM, b.Method)
	assert.True(t, b.IsValid)
	assert.Equal(t, chart.SchemaV5, b.Spec.Schema)
	assert.False(t, b.LLMFallback)
}

func TestGenerationFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		gen    llm.Generator
		advice string
	}{
		{"unavailable", llm.Offline("offline"), "offline"},
		{"not json", llm.GeneratorFunc(func(context.Context, string, llm.Context) llm.Result {
			return llm.Ok("sorry, I cannot do that")
		}), "invalid chart spec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(nil, tt.gen).Build(context.Background(), query, prompt("p"), 1)
			assert.Equal(t, MethodTemplate, b.Method)
			assert.True(t, b.LLMFallback)
			assert.Contains(t, b.LLMError, tt.advice)
			assert.Equal(t, "line", b.Spec.MarkType())
		})
	}
}

func TestGeneratedSpecWithoutMarkIsReportedInvalid(t *testing.T) {
	gen := llm.GeneratorFunc(func(context.Context, string, llm.Context) llm.Result {
		return llm.Ok(`{"data": {"values": [{"a": 1}]}}`)
	})
	b := New(nil, gen).Build(context.Background(), query, prompt("p"), 1)
	assert.Equal(t, MethodLLM, b.Method)
	assert.False(t, b.IsValid)
	assert.Equal(t, []string{"missing mark", "missing encoding"}, b.Problems)
	assert.Equal(t, "unknown", b.ChartType)
}

func TestStep(t *testing.T) {
	b := New(nil, nil)
	assert.Equal(t, agent.KindChartBuilder, b.Kind())

	_, err := b.Step(context.Background(), agent.Input{})
	assert.True(t, errors.Is(err, agent.ErrMissingInput))

	q, err := proto.NewQuery(query, 3)
	require.NoError(t, err)
	out, err := b.Step(context.Background(), agent.Input{Query: q, Iteration: 1, Prompt: prompt("p")})
	require.NoError(t, err)
	require.NotNil(t, out.Build)
	assert.True(t, out.Build.IsValid)
}
