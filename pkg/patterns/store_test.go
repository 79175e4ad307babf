package patterns

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptsmith/pkg/chart"
)

const revenueQuery = "Show me revenue by region over time"

func TestRecordIsIdempotentPerSignature(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, err := s.Record(ctx, FamilyQueryPrompt, revenueQuery, PromptPattern{Query: revenueQuery, Prompt: "v1"}, 8.1)
	require.NoError(t, err)
	second, err := s.Record(ctx, FamilyQueryPrompt, "show me revenue by regions over time", PromptPattern{Query: revenueQuery, Prompt: "v2"}, 9.0)
	require.NoError(t, err)

	assert.Equal(t, first.Signature, second.Signature)
	entries := s.Entries(FamilyQueryPrompt)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Uses)
	assert.InDelta(t, 9.0, entries[0].Score, 1e-9)

	p, m, ok := s.LookupPrompt(revenueQuery)
	require.True(t, ok)
	assert.Equal(t, "v2", p.Prompt, "last write wins")
	assert.True(t, m.Exact)
	assert.Equal(t, first.Signature, m.Signature)
}

func TestRecordRejectsBadInput(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Record(context.Background(), Family("nope"), "q", "x", 1)
	assert.Error(t, err)
	_, err = s.Record(context.Background(), FamilyQueryPrompt, "  !! ", "x", 1)
	assert.Error(t, err)
}

func TestFuzzyLookup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	stored, err := s.Record(ctx, FamilyQueryPrompt, revenueQuery, PromptPattern{Prompt: "p"}, 8.5)
	require.NoError(t, err)

	_, m, ok := s.LookupPrompt("Show me revenue by region over tme")
	require.True(t, ok)
	assert.False(t, m.Exact)
	assert.Equal(t, stored.Signature, m.Signature)
	assert.GreaterOrEqual(t, m.Similarity, DefaultOptions().Similarity)

	_, _, ok = s.LookupPrompt("Plot customer churn by plan")
	assert.False(t, ok)

	strict := Open(ctx, NewMemoryBackend(), Options{Similarity: 1})
	_, err = strict.Record(ctx, FamilyQueryPrompt, revenueQuery, PromptPattern{Prompt: "p"}, 8.5)
	require.NoError(t, err)
	_, _, ok = strict.LookupPrompt("Show me revenue by region over tme")
	assert.False(t, ok, "similarity 1 disables fuzzy matching")
}

func TestFuzzyLookupPrefersHigherScoreOnTie(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Record(ctx, FamilyQueryPrompt, "revenue by region over time a", PromptPattern{Prompt: "low"}, 7)
	require.NoError(t, err)
	_, err = s.Record(ctx, FamilyQueryPrompt, "revenue by region over time b", PromptPattern{Prompt: "high"}, 9)
	require.NoError(t, err)

	p, m, ok := s.LookupPrompt("revenue by region over time c")
	require.True(t, ok)
	assert.False(t, m.Exact)
	assert.Equal(t, "high", p.Prompt)
}

func TestCorruptStoreFailsOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "learning_cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s := Open(ctx, NewFileBackend(path), DefaultOptions())
	require.ErrorIs(t, s.Degraded(), ErrCorruptStore)
	st := s.Stats()
	assert.Equal(t, 0, st.TotalRuns)
	assert.NotEmpty(t, st.Degraded)
	for _, f := range Families() {
		assert.Zero(t, st.Families[f])
	}

	require.NoError(t, s.RecordRun(ctx, RunSummary{Query: "q", FinalScore: 5}))
	require.NoError(t, s.Flush(ctx))
	reopened := Open(ctx, NewFileBackend(path), DefaultOptions())
	assert.NoError(t, reopened.Degraded())
	assert.Equal(t, 1, reopened.Stats().TotalRuns)
}

func TestFailingBackendFailsOpen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	backend := NewRedisBackend("redis://127.0.0.1:1/0", "test:patterns")
	defer backend.Close()

	s := Open(ctx, backend, DefaultOptions())
	assert.ErrorIs(t, s.Degraded(), ErrCorruptStore)
	assert.Equal(t, 0, s.Stats().TotalRuns)

	_, err := s.Record(ctx, FamilyQueryPrompt, revenueQuery, PromptPattern{Prompt: "p"}, 9)
	assert.NoError(t, err, "writes keep working in memory")
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "learning_cache.json")
	s := Open(ctx, NewFileBackend(path), DefaultOptions())
	assert.NoError(t, s.Degraded(), "a missing file is an empty store, not a corrupt one")

	spec := &chart.Spec{Mark: &chart.Mark{Type: "line"}, Title: &chart.Title{Text: "Revenue"}}
	_, err := s.Record(ctx, FamilyQueryChartSpec, revenueQuery, SpecPattern{Query: revenueQuery, Spec: spec}, 8.8)
	require.NoError(t, err)
	assert.True(t, s.Dirty())
	require.NoError(t, s.Close(ctx))

	reopened := Open(ctx, NewFileBackend(path), DefaultOptions())
	got, m, ok := reopened.LookupSpec(revenueQuery)
	require.True(t, ok)
	assert.True(t, m.Exact)
	assert.Equal(t, "line", got.MarkType())
	assert.Equal(t, "Revenue", got.TitleText())
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "patterns.db")
	backend, err := NewSQLiteBackend(path)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.AutoFlush = true
	s := Open(ctx, backend, opts)
	require.NoError(t, s.RecordFix(ctx, "missing_title", "Include a descriptive title", "prompt", 8))
	assert.False(t, s.Dirty(), "auto flush persists every write")
	require.NoError(t, s.Close(ctx))

	backend, err = NewSQLiteBackend(path)
	require.NoError(t, err)
	reopened := Open(ctx, backend, opts)
	defer reopened.Close(ctx)
	set, _, ok := reopened.LookupFixes("missing_title")
	require.True(t, ok)
	assert.Equal(t, 1, set.Count)
	assert.Contains(t, reopened.Backend(), "sqlite:")
}

func TestRunHistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	s := Open(ctx, NewMemoryBackend(), Options{MaxRuns: 3})
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.RecordRun(ctx, RunSummary{Query: fmt.Sprintf("q%d", i), FinalScore: float64(i)}))
	}
	runs := s.Runs()
	require.Len(t, runs, 3)
	assert.Equal(t, "q3", runs[0].Query)
	assert.Equal(t, "q5", runs[2].Query)
	assert.InDelta(t, 4.0, s.Stats().AvgScore, 1e-9)
}

func TestClearAndResetPatterns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.RecordRun(ctx, RunSummary{Query: "q", FinalScore: 9}))
	_, err := s.Record(ctx, FamilyQueryPrompt, "q", PromptPattern{Prompt: "p"}, 9)
	require.NoError(t, err)

	require.NoError(t, s.ResetPatterns(ctx))
	st := s.Stats()
	assert.Equal(t, 1, st.TotalRuns)
	assert.Zero(t, st.Families[FamilyQueryPrompt])

	require.NoError(t, s.Clear(ctx))
	assert.Zero(t, s.Stats().TotalRuns)
}

func TestRecordFixKeepsTopSolutions(t *testing.T) {
	ctx := context.Background()
	s := Open(ctx, NewMemoryBackend(), Options{MaxSolutions: 2, SolutionThreshold: 7})

	require.NoError(t, s.RecordFix(ctx, "missing_title", "weak clause", "p", 6.5))
	set, _, ok := s.LookupFixes("missing_title")
	assert.False(t, ok, "runs below the solution threshold only count the issue")
	assert.Equal(t, 1, set.Count)

	require.NoError(t, s.RecordFix(ctx, "missing_title", "clause a", "p", 7.5))
	require.NoError(t, s.RecordFix(ctx, "missing_title", "clause b", "p", 9))
	require.NoError(t, s.RecordFix(ctx, "missing_title", "clause c", "p", 8))
	require.NoError(t, s.RecordFix(ctx, "missing_title", "clause b", "p", 7.1))

	set, _, ok = s.LookupFixes("missing_title")
	require.True(t, ok)
	assert.Equal(t, 5, set.Count)
	require.Len(t, set.Solutions, 2)
	assert.Equal(t, "clause b", set.Solutions[0].Clause)
	assert.InDelta(t, 9.0, set.Solutions[0].Score, 1e-9, "a lower rescore does not replace the best")
	assert.Equal(t, "clause c", set.Solutions[1].Clause)
}

func TestSuggestions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.RecordFix(ctx, "missing_title", "Include a clear, descriptive title", "p", 8.5))

	got := s.Suggestions([]string{"missing_title", "missing_axis_labels"}, 6)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "missing_title was resolved with: Include a clear, descriptive title")

	assert.Empty(t, s.Suggestions([]string{"missing_title"}, 8.0))
}

func TestLearnGatesQueryPatterns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	spec := &chart.Spec{Mark: &chart.Mark{Type: "line"}}

	learned, err := s.Learn(ctx, Lesson{
		Run:       RunSummary{Query: revenueQuery, FinalScore: 7.5},
		Query:     revenueQuery,
		Prompt:    "p",
		Spec:      spec,
		ChartType: "line",
		BestScore: 7.5,
		Resolved:  []ResolvedIssue{{Issue: "missing_title", Category: "title", Clauses: []string{"Add a title"}}},
	})
	require.NoError(t, err)
	assert.False(t, learned.QueryPatterns)
	assert.Equal(t, 1, learned.Fixes)
	_, _, ok := s.LookupPrompt(revenueQuery)
	assert.False(t, ok)
	set, _, ok := s.LookupFixes("missing_title")
	require.True(t, ok, "7.5 clears the solution threshold")
	assert.Equal(t, "Add a title", set.Solutions[0].Clause)
	st, ok := s.LookupStrategy("missing_title")
	require.True(t, ok)
	assert.Equal(t, "title", st.Category)

	learned, err = s.Learn(ctx, Lesson{
		Run:       RunSummary{Query: revenueQuery, FinalScore: 8.6},
		Query:     revenueQuery,
		Prompt:    "p2",
		Spec:      spec,
		ChartType: "line",
		BestScore: 8.6,
	})
	require.NoError(t, err)
	assert.True(t, learned.QueryPatterns)

	p, _, ok := s.LookupPrompt(revenueQuery)
	require.True(t, ok)
	assert.Equal(t, "p2", p.Prompt)
	ct, _, ok := s.LookupChartType(revenueQuery)
	require.True(t, ok)
	assert.Equal(t, "line", ct.Mark)

	stats := s.Stats()
	assert.Equal(t, 2, stats.TotalRuns)
	assert.Equal(t, 1, stats.Families[FamilyQueryChartSpec])
	assert.InDelta(t, 8.05, stats.AvgScore, 1e-9)
	assert.False(t, s.Dirty(), "Learn flushes")
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			q := fmt.Sprintf("query number %d", i%3)
			_, _ = s.Record(ctx, FamilyQueryPrompt, q, PromptPattern{Prompt: q}, float64(i))
			_ = s.RecordRun(ctx, RunSummary{Query: q})
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _, _ = s.LookupPrompt(fmt.Sprintf("query number %d", i%3))
			_ = s.Stats()
			_ = s.Flush(ctx)
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Entries(FamilyQueryPrompt), 3)
	assert.Equal(t, 8, s.Stats().TotalRuns)
}

func TestConcurrentLearnCountsEveryResolvedStrategy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	const sessions = 16

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Learn(ctx, Lesson{
				Run:       RunSummary{Query: revenueQuery, FinalScore: 7.5},
				BestScore: 7.5,
				Resolved:  []ResolvedIssue{{Issue: "missing_title", Category: "title", Clauses: []string{"Add a title"}}},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, ok := s.LookupStrategy("missing_title")
	require.True(t, ok)
	assert.Equal(t, sessions, st.Resolved)
	set, _, ok := s.LookupFixes("missing_title")
	require.True(t, ok)
	assert.Equal(t, sessions, set.Count)
}
