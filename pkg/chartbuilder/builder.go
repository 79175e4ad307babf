// Package chartbuilder turns a prompt into a Vega-Lite spec: from the pattern store, from the
// generation capability, or from intent-driven template rules.
package chartbuilder

import (
	"context"
	"fmt"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/chart"
	"promptsmith/pkg/logx"
	"promptsmith/pkg/patterns"
	"promptsmith/pkg/proto"
)

// Generation methods.
const (
	MethodCache    = "cache"
	MethodLLM      = "llm"
	MethodTemplate = "template"
)

const systemPrompt = "You are a helpful assistant that generates valid Vega-Lite JSON chart specifications " +
	"from user prompts. Return only the Vega-Lite JSON, no extra text."

// Builder is safe for concurrent use.
type Builder struct {
	store  *patterns.Store
	gen    llm.Generator
	logger *logx.Logger
}

// New returns a builder. store and gen may be nil.
func New(store *patterns.Store, gen llm.Generator) *Builder {
	return &Builder{store: store, gen: gen, logger: logx.NewLogger("chart-builder")}
}

// Kind implements agent.Agent.
func (b *Builder) Kind() agent.Kind { return agent.KindChartBuilder }

// Step implements agent.Agent.
func (b *Builder) Step(ctx context.Context, in agent.Input) (agent.Output, error) {
	if err := agent.Require(agent.KindChartBuilder, in.Prompt != nil && in.Prompt.Text != "", "prompt"); err != nil {
		return agent.Output{}, err
	}
	build := b.Build(ctx, in.Query.Text, in.Prompt, in.Iteration)
	return agent.Output{Kind: agent.KindChartBuilder, Build: &build}, nil
}

// Build never fails. The cached spec is used only on the first iteration, so rewrites can
// still change the chart.
func (b *Builder) Build(ctx context.Context, query string, prompt *proto.Prompt, iteration int) proto.Build {
	if b.store != nil && query != "" && iteration <= 1 {
		if spec, match, ok := b.store.LookupSpec(query); ok && spec != nil {
			b.logger.Info("🎯 Using cached chart spec pattern for: %s", query)
			return finish(proto.Build{Spec: spec, FromCache: true, CacheHit: match.Signature, Method: MethodCache})
		}
	}

	if b.gen != nil {
		res := b.gen.Generate(ctx, fmt.Sprintf("Prompt: %s\nGenerate a valid Vega-Lite JSON chart specification.", prompt.Text), llm.Context{
			Agent:       agent.KindChartBuilder.String(),
			System:      systemPrompt,
			MaxTokens:   800,
			Temperature: 0.2,
		})
		advisory := res.Advisory()
		if res.OK() {
			spec, err := chart.Parse(res.Text)
			if err == nil {
				return finish(proto.Build{Spec: spec, Method: MethodLLM})
			}
			advisory = err.Error()
		}
		b.logger.Debug("chart generation fell back to template: %s", advisory)
		build := finish(proto.Build{Spec: Template(query, prompt.Text), Method: MethodTemplate})
		build.LLMFallback = true
		build.LLMError = advisory
		return build
	}

	return finish(proto.Build{Spec: Template(query, prompt.Text), Method: MethodTemplate})
}

func finish(build proto.Build) proto.Build {
	build.ChartType = chart.DetectType(build.Spec)
	build.Problems = chart.Problems(build.Spec)
	build.IsValid = len(build.Problems) == 0
	if build.Spec != nil && build.Spec.Schema == "" {
		build.Spec.Schema = chart.SchemaV5
	}
	return build
}
