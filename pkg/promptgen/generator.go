// Package promptgen turns a query into the structured prompt handed to the chart builder.
package promptgen

import (
	"context"
	"fmt"
	"strings"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/chart"
	"promptsmith/pkg/logx"
	"promptsmith/pkg/patterns"
	"promptsmith/pkg/proto"
	"promptsmith/pkg/utils"
)

// Generation methods.
const (
	MethodCache    = "cache"
	MethodRewrite  = "rewrite"
	MethodLLM      = "llm"
	MethodTemplate = "template"
)

const systemPrompt = "You are a helpful assistant that converts user requests into structured prompts " +
	"for chart specification generation. The prompt should be clear, concise, and designed to elicit " +
	"a high-quality Vega-Lite chart spec from an LLM."

// Generator resolves a prompt from, in order: the previous iteration's rewrite, the pattern
// store, the generation capability, and the template.
type Generator struct {
	store  *patterns.Store
	gen    llm.Generator
	logger *logx.Logger
}

// New returns a prompt generator. store and gen may be nil.
func New(store *patterns.Store, gen llm.Generator) *Generator {
	return &Generator{store: store, gen: gen, logger: logx.NewLogger("prompt-gen")}
}

// Kind implements agent.Agent.
func (g *Generator) Kind() agent.Kind { return agent.KindPromptGenerator }

// Step implements agent.Agent.
func (g *Generator) Step(ctx context.Context, in agent.Input) (agent.Output, error) {
	if err := agent.Require(agent.KindPromptGenerator, in.Query.Text != "", "query"); err != nil {
		return agent.Output{}, err
	}
	p := g.Generate(ctx, in.Query.Text, in.Previous)
	return agent.Output{Kind: agent.KindPromptGenerator, Prompt: &p}, nil
}

// Generate never fails; generation problems fall back to the template with LLMFallback set.
func (g *Generator) Generate(ctx context.Context, query string, prev *proto.IterationRecord) proto.Prompt {
	entities := Entities(query)

	if prev != nil && prev.Rewrite != nil && strings.TrimSpace(prev.Rewrite.Prompt) != "" {
		return g.finish(proto.Prompt{
			Text:             prev.Rewrite.Prompt,
			Provenance:       proto.ProvenanceGenerated,
			GenerationMethod: MethodRewrite,
			Entities:         entities,
		})
	}

	if g.store != nil {
		if cached, match, ok := g.store.LookupPrompt(query); ok {
			g.logger.Info("🎯 Using cached prompt pattern for: %s", truncate(query, 50))
			return g.finish(proto.Prompt{
				Text:             cached.Prompt,
				Provenance:       proto.ProvenanceCache,
				FromCache:        true,
				CacheHit:         match.Signature,
				GenerationMethod: MethodCache,
				Entities:         entities,
			})
		}
	}

	if g.gen != nil {
		res := g.gen.Generate(ctx, fmt.Sprintf("User query: %s\nGenerate a prompt that will instruct an LLM "+
			"to create a Vega-Lite chart specification for this request.", query), llm.Context{
			Agent:       agent.KindPromptGenerator.String(),
			System:      systemPrompt,
			MaxTokens:   300,
			Temperature: 0.2,
		})
		if res.OK() {
			return g.finish(proto.Prompt{
				Text:             strings.TrimSpace(res.Text),
				Provenance:       proto.ProvenanceGenerated,
				GenerationMethod: MethodLLM,
				Entities:         entities,
			})
		}
		g.logger.Debug("prompt generation fell back to template: %s", res.Advisory())
		p := g.template(query, entities)
		p.LLMFallback = true
		p.LLMError = res.Advisory()
		return g.finish(p)
	}

	return g.finish(g.template(query, entities))
}

func (g *Generator) template(query string, entities []string) proto.Prompt {
	return proto.Prompt{
		Text:             Template(query),
		Provenance:       proto.ProvenanceTemplate,
		GenerationMethod: MethodTemplate,
		Entities:         entities,
	}
}

func (g *Generator) finish(p proto.Prompt) proto.Prompt {
	p.Tokens = utils.CountTokensSimple(p.Text)
	return p
}

// Entities lists the detected intent followed by the implied data fields.
func Entities(query string) []string {
	out := []string{"intent:" + string(chart.DetectIntent(query))}
	return append(out, chart.ImpliedFields(query).All()...)
}

// Template renders the fallback prompt for query.
func Template(query string) string {
	intent := chart.DetectIntent(query)
	fields := chart.ImpliedFields(query).All()

	var b strings.Builder
	b.WriteString("Create a Vega-Lite chart specification based on the following user request:\n\n")
	fmt.Fprintf(&b, "User Request: %q\n\n", query)
	b.WriteString("Please generate a complete Vega-Lite JSON specification that:\n")
	b.WriteString("1. Uses appropriate chart type for the data and analysis\n")
	b.WriteString("2. Includes proper axis labels and titles\n")
	b.WriteString("3. Handles the data structure appropriately\n")
	b.WriteString("4. Uses meaningful colors and styling\n")
	b.WriteString("5. Is optimized for readability and insight\n\n")
	fmt.Fprintf(&b, "Detected intent: %s (suggested mark: %s)\n", strings.ReplaceAll(string(intent), "_", " "), chart.MarkFor(intent))
	if len(fields) > 0 {
		fmt.Fprintf(&b, "Implied data fields: %s\n", strings.Join(fields, ", "))
	}
	b.WriteString("\nReturn only the JSON specification without any additional text.")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
