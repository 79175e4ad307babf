package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/config"
	"promptsmith/pkg/patterns"
)

// fakeAgent scripts one agent kind.
type fakeAgent struct {
	kind  agent.Kind
	fn    func(ctx context.Context, in agent.Input) (agent.Output, error)
	calls atomic.Int32
}

func (f *fakeAgent) Kind() agent.Kind { return f.kind }

func (f *fakeAgent) Step(ctx context.Context, in agent.Input) (agent.Output, error) {
	f.calls.Add(1)
	return f.fn(ctx, in)
}

// spy counts calls to a real agent.
func spy(a agent.Agent) *fakeAgent {
	return &fakeAgent{kind: a.Kind(), fn: a.Step}
}

func testConfig() *config.Config {
	cfg := config.Default()
	return &cfg
}

// newTestOrchestrator builds the default offline roster with overrides swapped in.
func newTestOrchestrator(t *testing.T, store *patterns.Store, maxIterations int, overrides []agent.Agent, opts ...Option) *Orchestrator {
	t.Helper()
	agents, err := NewDefaultAgents(store, nil, testConfig())
	require.NoError(t, err)
	for _, a := range overrides {
		agents[a.Kind()] = a
	}
	o, err := New(agents, store, append([]Option{WithMaxIterations(maxIterations)}, opts...)...)
	require.NoError(t, err)
	return o
}
