// Package modeleval produces the qualitative chart evaluation. It asks the generation
// capability for five dimension scores and falls back to a deterministic simulation when the
// capability is unavailable, times out or answers with something unparseable.
package modeleval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/chart"
	"promptsmith/pkg/heuristic"
	"promptsmith/pkg/logx"
	"promptsmith/pkg/proto"
	"promptsmith/pkg/utils"
)

// Evaluation methods.
const (
	MethodLLM       = "llm"
	MethodSimulated = "simulated"
)

// Dimension names, in report order.
const (
	IntentAppropriateness = "intent_appropriateness"
	Clarity               = "clarity"
	InsightPotential      = "insight_potential"
	Aesthetics            = "aesthetics"
	DataAccuracy          = "data_accuracy"
)

// Dimensions lists every dimension.
func Dimensions() []string {
	return []string{IntentAppropriateness, Clarity, InsightPotential, Aesthetics, DataAccuracy}
}

// MaxJitter bounds the simulated score perturbation in either direction.
const MaxJitter = 0.5

// ErrUnparseable marks model output that is not a usable evaluation.
var ErrUnparseable = errors.New("unparseable model evaluation")

const systemPrompt = "You are an expert chart evaluator. Given a Vega-Lite chart specification and the " +
	"original user intent, rate the chart on five dimensions from 0 to 1: intent_appropriateness, " +
	"clarity, insight_potential, aesthetics and data_accuracy. Reward modern color schemes, tooltips " +
	"and responsive sizing. Respond with one JSON object holding those five numbers plus feedback " +
	"(string), strengths (array of strings) and weaknesses (array of strings)."

// Evaluator runs the model path or the simulation. It is safe for concurrent use.
type Evaluator struct {
	gen       llm.Generator
	heuristic *heuristic.Evaluator
	logger    *logx.Logger
}

// New returns an evaluator. A nil generator always simulates.
func New(gen llm.Generator) *Evaluator {
	return &Evaluator{
		gen:       gen,
		heuristic: heuristic.New(),
		logger:    logx.NewLogger("model-eval"),
	}
}

// Kind implements agent.Agent.
func (e *Evaluator) Kind() agent.Kind { return agent.KindModelEvaluator }

// Step implements agent.Agent.
func (e *Evaluator) Step(ctx context.Context, in agent.Input) (agent.Output, error) {
	if err := agent.Require(agent.KindModelEvaluator, in.Build != nil, "build"); err != nil {
		return agent.Output{}, err
	}
	eval := e.Evaluate(ctx, in.Query.Text, in.Build.Spec)
	return agent.Output{Kind: agent.KindModelEvaluator, Evaluation: &eval}, nil
}

// Evaluate scores spec against the query. It never fails: every model problem lands in the
// simulated path with LLMError set.
func (e *Evaluator) Evaluate(ctx context.Context, query string, spec *chart.Spec) proto.Evaluation {
	if spec == nil {
		spec = &chart.Spec{}
	}
	if e.gen == nil {
		return e.Simulate(query, spec)
	}

	body, err := spec.JSON()
	if err != nil {
		sim := e.Simulate(query, spec)
		sim.LLMError = err.Error()
		return sim
	}
	res := e.gen.Generate(ctx, fmt.Sprintf("User intent: %s\nVega-Lite spec:\n%s", query, body), llm.Context{
		Agent:       agent.KindModelEvaluator.String(),
		System:      systemPrompt,
		MaxTokens:   400,
		Temperature: 0.2,
	})
	if !res.OK() {
		e.logger.Debug("model evaluation unavailable, simulating: %s", res.Advisory())
		sim := e.Simulate(query, spec)
		sim.LLMError = res.Advisory()
		return sim
	}

	eval, err := Parse(res.Text)
	if err != nil {
		e.logger.Warn("⚠️  %v", err)
		sim := e.Simulate(query, spec)
		sim.LLMError = err.Error()
		return sim
	}
	eval.ChartValid = chart.IsValid(spec)
	return eval
}

// Parse reads a model reply. All five dimensions are required numbers; values above 1 are read
// on a 0-10 scale. Strengths and weaknesses that are not strings are skipped.
func Parse(text string) (proto.Evaluation, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return proto.Evaluation{}, fmt.Errorf("%w: no JSON object", ErrUnparseable)
	}
	var reply map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err != nil {
		return proto.Evaluation{}, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}

	dims := make(map[string]float64, len(Dimensions()))
	for _, name := range Dimensions() {
		if _, ok := reply[name]; !ok {
			return proto.Evaluation{}, fmt.Errorf("%w: missing %s", ErrUnparseable, name)
		}
		v, err := utils.GetMapField[float64](reply, name)
		if err != nil {
			return proto.Evaluation{}, fmt.Errorf("%w: %w", ErrUnparseable, err)
		}
		dims[name] = normalizeDimension(v)
	}
	return proto.Evaluation{
		Source:     proto.SourceModel,
		Method:     MethodLLM,
		Score:      round2(mean(dims) * 10),
		Dimensions: dims,
		Feedback:   utils.GetMapFieldOr(reply, "feedback", ""),
		Strengths:  utils.GetStringSlice(reply, "strengths"),
		Weaknesses: utils.GetStringSlice(reply, "weaknesses"),
	}, nil
}

func normalizeDimension(v float64) float64 {
	if v > 1 {
		v /= 10
	}
	return clamp(v, 0, 1)
}

func mean(dims map[string]float64) float64 {
	if len(dims) == 0 {
		return 0
	}
	var sum float64
	for _, v := range dims {
		sum += v
	}
	return sum / float64(len(dims))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Jitter returns a deterministic offset in [-MaxJitter, MaxJitter) derived from FNV-1a of the
// query and the chart JSON.
func Jitter(query string, spec *chart.Spec) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(query))
	if body, err := spec.JSON(); err == nil {
		_, _ = h.Write(body)
	}
	frac := float64(h.Sum64()>>11) / float64(1<<53)
	return (frac*2 - 1) * MaxJitter
}
