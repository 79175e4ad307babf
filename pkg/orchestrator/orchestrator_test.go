package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/chart"
	"promptsmith/pkg/chartbuilder"
	"promptsmith/pkg/clarifier"
	"promptsmith/pkg/eventlog"
	"promptsmith/pkg/patterns"
	"promptsmith/pkg/persistence"
	"promptsmith/pkg/proto"
	"promptsmith/pkg/scorer"
)

const trendQuery = "Show me revenue by region over time"

func TestNewRejectsIncompleteAgentSet(t *testing.T) {
	set, err := agent.NewSet(clarifier.New())
	require.NoError(t, err)
	_, err = New(set, nil)
	assert.Error(t, err)
}

func TestFirstRunUsesTemplates(t *testing.T) {
	store := patterns.NewMemoryStore()
	o := newTestOrchestrator(t, store, 3, nil)

	res := o.Run(context.Background(), trendQuery)
	require.NoError(t, res.Err)
	assert.Contains(t, []proto.Status{proto.StatusOptimal, proto.StatusExhausted}, res.Status)
	require.NotEmpty(t, res.History)
	assert.LessOrEqual(t, res.Iterations, 3)

	first := res.History[0]
	assert.False(t, first.Prompt.FromCache)
	assert.Equal(t, proto.ProvenanceTemplate, first.Prompt.Provenance)
	assert.Contains(t, []string{"line", "bar"}, first.Build.Spec.MarkType())
	assert.GreaterOrEqual(t, first.Heuristic.Score, 5.0)
	assert.Contains(t, first.Snapshot, "prompt_generator")
	assert.Contains(t, first.Timings, "model_evaluator")

	require.NotNil(t, res.Final)
	assert.Equal(t, 1, res.Stats.TotalRuns)
}

func TestSecondRunHitsCache(t *testing.T) {
	store := patterns.NewMemoryStore()
	o := newTestOrchestrator(t, store, 3, nil)

	first := o.Run(context.Background(), trendQuery)
	require.NoError(t, first.Err)
	require.NotNil(t, first.Final)
	require.GreaterOrEqual(t, first.Final.Decision.Final, 8.0, "first run must be good enough to learn from")
	assert.True(t, first.Learned.QueryPatterns)

	second := o.Run(context.Background(), trendQuery)
	require.NoError(t, second.Err)
	require.NotEmpty(t, second.History)
	rec := second.History[0]
	assert.True(t, rec.Prompt.FromCache)
	assert.True(t, rec.Build.FromCache)
	assert.Equal(t, patterns.Signature(trendQuery), rec.Prompt.CacheHit)
	assert.Equal(t, patterns.Signature(trendQuery), rec.Build.CacheHit)
	assert.LessOrEqual(t, second.Iterations, first.Iterations)
	assert.Equal(t, 2, second.Stats.TotalRuns)
}

func TestVagueQueryNeedsClarification(t *testing.T) {
	builder := spy(chartbuilder.New(nil, nil))
	o := newTestOrchestrator(t, patterns.NewMemoryStore(), 3, []agent.Agent{builder})

	res := o.Run(context.Background(), "chart")
	require.NoError(t, res.Err)
	assert.Equal(t, proto.StatusNeedsClarification, res.Status)
	assert.Empty(t, res.History)
	assert.Nil(t, res.Final)
	require.NotNil(t, res.Clarification)
	assert.NotEmpty(t, res.Clarification.Question)
	assert.NotEmpty(t, res.Clarification.SuggestedQuery)
	assert.Zero(t, builder.calls.Load(), "no chart is built")
}

func TestMissingEncodingContinues(t *testing.T) {
	builder := &fakeAgent{kind: agent.KindChartBuilder, fn: func(context.Context, agent.Input) (agent.Output, error) {
		spec := &chart.Spec{
			Title:  &chart.Title{Text: "Revenue"},
			Data:   &chart.Data{Values: []map[string]any{{"region": "North", "revenue": 1.0}}},
			Mark:   &chart.Mark{Type: "bar"},
			Width:  chart.Pixels(600),
			Height: chart.Pixels(400),
		}
		return agent.Output{Kind: agent.KindChartBuilder, Build: &proto.Build{Spec: spec, ChartType: "bar"}}, nil
	}}
	o := newTestOrchestrator(t, nil, 2, []agent.Agent{builder})

	res := o.Run(context.Background(), trendQuery)
	require.NoError(t, res.Err)
	require.Len(t, res.History, 2)

	first := res.History[0]
	enc, ok := first.Heuristic.Criterion("proper_encoding")
	require.True(t, ok)
	assert.Zero(t, enc.Score)
	assert.False(t, first.Heuristic.ChartValid)
	assert.True(t, first.Decision.Continue)
	require.NotNil(t, first.Rewrite)
	assert.Equal(t, proto.StatusExhausted, res.Status)
}

// emptyBuilder always produces a spec with nothing in it, which the rubric flags for clarification.
func emptyBuilder() *fakeAgent {
	return &fakeAgent{kind: agent.KindChartBuilder, fn: func(context.Context, agent.Input) (agent.Output, error) {
		return agent.Output{Kind: agent.KindChartBuilder, Build: &proto.Build{Spec: &chart.Spec{}}}, nil
	}}
}

func TestStalledChartOnClearQueryKeepsRewriting(t *testing.T) {
	builder := emptyBuilder()
	o := newTestOrchestrator(t, nil, 3, []agent.Agent{builder})

	res := o.Run(context.Background(), trendQuery)
	require.NoError(t, res.Err)
	assert.Equal(t, proto.StatusExhausted, res.Status)
	require.Len(t, res.History, 3)
	assert.Nil(t, res.Clarification)
	assert.EqualValues(t, 3, builder.calls.Load())

	for _, rec := range res.History[:2] {
		assert.True(t, rec.Heuristic.ShouldClarify)
		assert.True(t, rec.Decision.Continue)
		require.NotNil(t, rec.Rewrite)
	}
}

func TestStalledChartOnUnderspecifiedQueryAsksForClarification(t *testing.T) {
	builder := emptyBuilder()
	o := newTestOrchestrator(t, nil, 3, []agent.Agent{builder})

	res := o.Run(context.Background(), "Show me total revenue")
	require.NoError(t, res.Err)
	assert.Equal(t, proto.StatusNeedsClarification, res.Status)
	require.Len(t, res.History, 1, "the stalled iteration is kept")
	assert.EqualValues(t, 1, builder.calls.Load())

	rec := res.History[0]
	assert.True(t, rec.Heuristic.ShouldClarify)
	assert.False(t, rec.Decision.Continue)
	assert.Equal(t, proto.StatusNeedsClarification, rec.Decision.Status)
	assert.Nil(t, rec.Rewrite)

	require.NotNil(t, res.Clarification)
	assert.Contains(t, res.Clarification.Issues, clarifier.MissingDimensions)
	assert.Equal(t, "Show me total revenue by region", res.Clarification.SuggestedQuery)
	assert.Contains(t, rec.Decision.Reason, res.Clarification.Question)
}

func TestIterationBudgetIsEnforced(t *testing.T) {
	stubborn := &fakeAgent{kind: agent.KindScorer, fn: func(_ context.Context, in agent.Input) (agent.Output, error) {
		d := scorer.Default().Decide(in.Iteration, 100, in.Heuristic, in.Model)
		d.Status, d.Continue, d.Final = proto.StatusIterating, true, 1
		return agent.Output{Kind: agent.KindScorer, Decision: &d}, nil
	}}
	o := newTestOrchestrator(t, nil, 3, []agent.Agent{stubborn})

	res := o.Run(context.Background(), trendQuery)
	require.NoError(t, res.Err)
	assert.Equal(t, proto.StatusExhausted, res.Status)
	require.Len(t, res.History, 3)
	assert.EqualValues(t, 3, stubborn.calls.Load())

	last := res.History[2]
	assert.False(t, last.Decision.Continue)
	assert.Equal(t, "Maximum iterations (3) reached", last.Decision.Reason)
	assert.Nil(t, last.Rewrite)

	assert.Equal(t, "rewrite", res.History[1].Prompt.GenerationMethod)
	assert.Equal(t, res.History[0].Rewrite.Prompt, res.History[1].Prompt.Text)
}

func TestCancellationPreservesCompletedIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := SinkFunc(func(_ context.Context, p Progress) error {
		if p.Step == StateGeneratingPrompt.String() && p.Iteration == 2 {
			cancel()
		}
		return nil
	})
	stubborn := &fakeAgent{kind: agent.KindScorer, fn: func(_ context.Context, in agent.Input) (agent.Output, error) {
		return agent.Output{Kind: agent.KindScorer, Decision: &proto.Decision{Continue: true, Status: proto.StatusIterating}}, nil
	}}
	o := newTestOrchestrator(t, nil, 3, []agent.Agent{stubborn}, WithSink(sink))

	res := o.Run(ctx, trendQuery)
	assert.Equal(t, proto.StatusError, res.Status)
	assert.True(t, errors.Is(res.Err, context.Canceled))
	assert.False(t, errors.Is(res.Err, ErrOrchestratorFault))
	assert.Len(t, res.History, 1)
	require.NotNil(t, res.Partial)
	assert.Equal(t, 2, res.Partial.Index)
	assert.NotEmpty(t, res.Partial.Prompt.Text)
	assert.Nil(t, res.Partial.Build.Spec)
	assert.NotEmpty(t, res.Error)
}

func TestPanicBecomesFault(t *testing.T) {
	boom := &fakeAgent{kind: agent.KindModelEvaluator, fn: func(context.Context, agent.Input) (agent.Output, error) {
		panic("model exploded")
	}}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")
	o := newTestOrchestrator(t, nil, 3, []agent.Agent{boom}, WithMetrics(m))

	res := o.Run(context.Background(), trendQuery)
	assert.Equal(t, proto.StatusError, res.Status)
	assert.True(t, errors.Is(res.Err, ErrOrchestratorFault))
	assert.Contains(t, res.Error, "model exploded")
	assert.Empty(t, res.History)
	require.NotNil(t, res.Partial)
	assert.NotNil(t, res.Partial.Build.Spec)

	assert.InDelta(t, 1, testutil.ToFloat64(m.stepErrors.WithLabelValues("model_evaluator")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sessionsTotal.WithLabelValues("error")), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(m.activeSessions), 1e-9)
}

func TestAgentErrorIsWrapped(t *testing.T) {
	sentinel := errors.New("rewrite backend down")
	broken := &fakeAgent{kind: agent.KindRewriter, fn: func(context.Context, agent.Input) (agent.Output, error) {
		return agent.Output{}, sentinel
	}}
	low := &fakeAgent{kind: agent.KindScorer, fn: func(context.Context, agent.Input) (agent.Output, error) {
		return agent.Output{Kind: agent.KindScorer, Decision: &proto.Decision{Continue: true, Status: proto.StatusIterating}}, nil
	}}
	o := newTestOrchestrator(t, nil, 3, []agent.Agent{broken, low})

	res := o.Run(context.Background(), trendQuery)
	assert.Equal(t, proto.StatusError, res.Status)
	assert.True(t, errors.Is(res.Err, ErrOrchestratorFault))
	assert.True(t, errors.Is(res.Err, sentinel))
	assert.Empty(t, res.History, "an iteration without its rewrite is not complete")
	require.NotNil(t, res.Partial)
	assert.True(t, res.Partial.Decision.Continue)
}

func TestInvalidTransitionIsFault(t *testing.T) {
	o := newTestOrchestrator(t, nil, 3, nil)
	r := o.begin(trendQuery)

	err := r.move(context.Background(), StateScoring)
	assert.True(t, errors.Is(err, ErrOrchestratorFault))
	assert.True(t, errors.Is(err, agent.ErrInvalidTransition))
	assert.Equal(t, StateInit, r.session.State())
}

func TestEmptyQueryIsError(t *testing.T) {
	o := newTestOrchestrator(t, nil, 3, nil)
	res := o.Run(context.Background(), "   ")
	assert.Equal(t, proto.StatusError, res.Status)
	assert.True(t, errors.Is(res.Err, ErrOrchestratorFault))
}

func TestProgressSnapshots(t *testing.T) {
	sink := NewChannelSink(128)
	o := newTestOrchestrator(t, nil, 3, nil, WithSink(sink))

	res := o.Run(context.Background(), trendQuery)
	require.NoError(t, res.Err)
	sink.Close()

	var got []Progress
	for p := range sink.C() {
		got = append(got, p)
	}
	require.NotEmpty(t, got)
	assert.Equal(t, StateClarifying.String(), got[0].Step)
	assert.Equal(t, "clarifier", got[0].Agent)
	assert.Zero(t, got[0].Progress)

	var steps []string
	for i, p := range got {
		assert.Equal(t, res.SessionID, p.SessionID)
		if i > 0 {
			assert.GreaterOrEqual(t, p.Progress, got[i-1].Progress, "progress never goes backwards")
		}
		if p.Iteration == 1 && p.Agent != "" {
			steps = append(steps, p.Step)
		}
	}
	assert.Equal(t, []string{"generating_prompt", "building_chart", "heuristic_evaluation", "model_evaluation", "scoring"}, steps[:5])
	assert.InDelta(t, 100, got[len(got)-1].Progress, 1e-9)
	assert.Zero(t, sink.Dropped())
}

func TestEventLogSink(t *testing.T) {
	w, err := eventlog.NewWriter(t.TempDir())
	require.NoError(t, err)
	path := w.CurrentFile()

	o := newTestOrchestrator(t, nil, 3, nil, WithSink(MultiSink{NewEventLogSink(w), NewLogSink(nil)}))
	res := o.Run(context.Background(), trendQuery)
	require.NoError(t, res.Err)
	require.NoError(t, w.Close())

	events, err := eventlog.ReadEvents(path)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "clarifying", events[0].Step)
	assert.Equal(t, res.SessionID, events[len(events)-1].SessionID)
	assert.Contains(t, string(events[len(events)-1].Output), `"status"`)
}

func TestRegistryTracksSessions(t *testing.T) {
	o := newTestOrchestrator(t, nil, 3, nil)
	res := o.Run(context.Background(), trendQuery)

	s, err := o.Registry().Get(res.SessionID)
	require.NoError(t, err)
	assert.True(t, s.Done())
	assert.Equal(t, res.Status, s.Status())
	assert.Len(t, s.Records(), res.Iterations)

	_, err = o.Registry().Get("nope")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestHistoryIsSaved(t *testing.T) {
	db, err := persistence.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	o := newTestOrchestrator(t, nil, 3, nil, WithHistory(db))
	res := o.Run(context.Background(), trendQuery)
	require.NoError(t, res.Err)

	ctx := context.Background()
	saved, err := db.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, string(res.Status), saved.Status)
	assert.InDelta(t, res.Final.Decision.Final, saved.FinalScore, 1e-9)

	rows, err := db.GetIterations(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Len(t, rows, res.Iterations)
	assert.Contains(t, rows[0].ChartSpec, `"mark"`)
}

func TestRunBatch(t *testing.T) {
	store := patterns.NewMemoryStore()
	o := newTestOrchestrator(t, store, 2, nil)
	queries := []string{trendQuery, "Compare sales performance across departments", "chart"}

	results := o.RunBatch(context.Background(), queries, 2)
	require.Len(t, results, 3)
	ids := map[string]bool{}
	for i, res := range results {
		assert.Equal(t, queries[i], res.Query)
		ids[res.SessionID] = true
	}
	assert.Len(t, ids, 3)
	assert.Equal(t, proto.StatusNeedsClarification, results[2].Status)
	assert.Equal(t, 3, store.Stats().TotalRuns)
}

func TestMetricsForSuccessfulRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "promptsmith")
	o := newTestOrchestrator(t, nil, 3, nil, WithMetrics(m))

	res := o.Run(context.Background(), trendQuery)
	require.NoError(t, res.Err)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sessionsTotal.WithLabelValues(string(res.Status))), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.iterations))

	n, err := testutil.GatherAndCount(reg, "promptsmith_agent_step_duration_seconds")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 6, "one series per agent that ran")
}
