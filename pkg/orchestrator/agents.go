package orchestrator

import (
	"promptsmith/pkg/agent"
	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/chartbuilder"
	"promptsmith/pkg/clarifier"
	"promptsmith/pkg/config"
	"promptsmith/pkg/heuristic"
	"promptsmith/pkg/modeleval"
	"promptsmith/pkg/patterns"
	"promptsmith/pkg/promptgen"
	"promptsmith/pkg/rewriter"
	"promptsmith/pkg/scorer"
)

// NewDefaultAgents builds the standard roster. gen may be nil or offline; every agent then
// uses its template or simulated path.
func NewDefaultAgents(store *patterns.Store, gen llm.Generator, cfg *config.Config) (agent.Set, error) {
	return agent.NewSet(
		clarifier.New(),
		promptgen.New(store, gen),
		chartbuilder.New(store, gen),
		heuristic.New(heuristic.WithClarifyThreshold(cfg.Loop.ClarifyThreshold)),
		modeleval.New(gen),
		scorer.FromConfig(cfg),
		rewriter.New(store, gen),
	)
}

// NewFromConfig wires the default agents and sizes the budget from cfg.
func NewFromConfig(cfg *config.Config, store *patterns.Store, gen llm.Generator, opts ...Option) (*Orchestrator, error) {
	agents, err := NewDefaultAgents(store, gen, cfg)
	if err != nil {
		return nil, err
	}
	return New(agents, store, append([]Option{WithMaxIterations(cfg.Loop.MaxIterations)}, opts...)...)
}
