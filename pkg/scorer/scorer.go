// Package scorer combines the heuristic and model evaluations into the final score and decides
// whether the loop continues.
package scorer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/config"
	"promptsmith/pkg/proto"
)

// Status labels.
const (
	LabelOptimal       = "Optimal"
	LabelMaxIterations = "Max iterations reached"
	LabelGood          = "Good quality"
	LabelNeedsWork     = "Needs refinement"
	LabelPoor          = "Poor quality"
)

// Scorer is stateless after construction.
type Scorer struct {
	heuristicWeight  float64
	modelWeight      float64
	optimalThreshold float64
}

// New returns a scorer with the given weights, normalised to sum to 1. Non-positive totals fall
// back to 0.5/0.5.
func New(heuristicWeight, modelWeight, optimalThreshold float64) *Scorer {
	total := heuristicWeight + modelWeight
	if heuristicWeight < 0 || modelWeight < 0 || total <= 0 {
		heuristicWeight, modelWeight, total = config.DefaultHeuristicWeight, config.DefaultModelWeight, 1
	}
	return &Scorer{
		heuristicWeight:  heuristicWeight / total,
		modelWeight:      modelWeight / total,
		optimalThreshold: optimalThreshold,
	}
}

// Default returns the 0.5/0.5 scorer with the 8.5 optimal threshold.
func Default() *Scorer {
	return New(config.DefaultHeuristicWeight, config.DefaultModelWeight, config.DefaultOptimalThreshold)
}

// FromConfig builds a scorer from the scoring and loop sections.
func FromConfig(cfg *config.Config) *Scorer {
	return New(cfg.Scoring.HeuristicWeight, cfg.Scoring.ModelWeight, cfg.Loop.OptimalThreshold)
}

// Weights returns the normalised heuristic and model weights.
func (s *Scorer) Weights() (heuristic, model float64) {
	return s.heuristicWeight, s.modelWeight
}

// Threshold returns the optimal threshold.
func (s *Scorer) Threshold() float64 { return s.optimalThreshold }

// Combine returns the weighted final score rounded to two decimals.
func (s *Scorer) Combine(heuristic, model float64) float64 {
	return round2(heuristic*s.heuristicWeight + model*s.modelWeight)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Kind implements agent.Agent.
func (s *Scorer) Kind() agent.Kind { return agent.KindScorer }

// Step implements agent.Agent.
func (s *Scorer) Step(_ context.Context, in agent.Input) (agent.Output, error) {
	if err := agent.Require(agent.KindScorer, in.Heuristic != nil, "heuristic evaluation"); err != nil {
		return agent.Output{}, err
	}
	if err := agent.Require(agent.KindScorer, in.Model != nil, "model evaluation"); err != nil {
		return agent.Output{}, err
	}
	d := s.Decide(in.Iteration, in.Query.MaxIterations, in.Heuristic, in.Model)
	return agent.Output{Kind: agent.KindScorer, Decision: &d}, nil
}

// Decide is total and deterministic: optimal at or above the threshold, exhausted at the
// iteration budget, otherwise continue with the weakest criterion or dimension as the driver.
func (s *Scorer) Decide(iteration, maxIterations int, heuristic, model *proto.Evaluation) proto.Decision {
	d := proto.Decision{
		Heuristic: heuristic.Score,
		Model:     model.Score,
		Final:     s.Combine(heuristic.Score, model.Score),
	}
	d.Driver, _ = weakest(heuristic, model)

	switch {
	case d.Final >= s.optimalThreshold:
		d.Status = proto.StatusOptimal
		d.Reason = fmt.Sprintf("Target score (%.1f) achieved with %.2f", s.optimalThreshold, d.Final)
	case iteration >= maxIterations:
		d.Status = proto.StatusExhausted
		d.Reason = fmt.Sprintf("Maximum iterations (%d) reached", maxIterations)
	default:
		d.Continue = true
		d.Status = proto.StatusIterating
		d.Reason = fmt.Sprintf("Score %.2f below threshold %.1f", d.Final, s.optimalThreshold)
		if d.Driver != "" {
			d.Reason += "; weakest: " + d.Driver
		}
	}
	d.StatusLabel = s.label(d)
	d.Summary = s.summary(d, heuristic, model)
	return d
}

// weakest returns the lowest scoring criterion or dimension on the [0,1] scale. Ties prefer the
// heuristic rubric in its order, then dimensions by name. Nothing below full marks gives "".
func weakest(heuristic, model *proto.Evaluation) (string, float64) {
	name, low := "", 1.0
	for _, c := range heuristic.Criteria {
		if c.Score < low {
			name, low = c.Name, c.Score
		}
	}
	dims := make([]string, 0, len(model.Dimensions))
	for k := range model.Dimensions {
		dims = append(dims, k)
	}
	sort.Strings(dims)
	for _, k := range dims {
		if v := model.Dimensions[k]; v < low {
			name, low = k, v
		}
	}
	if name == "" {
		return "", 1
	}
	return fmt.Sprintf("%s (%.2f)", name, low), low
}

func (s *Scorer) label(d proto.Decision) string {
	switch {
	case d.Status == proto.StatusOptimal:
		return LabelOptimal
	case d.Status == proto.StatusExhausted:
		return LabelMaxIterations
	case d.Final >= 7:
		return LabelGood
	case d.Final >= 5:
		return LabelNeedsWork
	default:
		return LabelPoor
	}
}

func (s *Scorer) summary(d proto.Decision, heuristic, model *proto.Evaluation) string {
	var parts []string
	switch {
	case d.Final >= 9:
		parts = append(parts, "Excellent chart quality with high scores across all criteria.")
	case d.Final >= 7:
		parts = append(parts, "Good chart quality with room for minor improvements.")
	case d.Final >= 5:
		parts = append(parts, "Moderate chart quality requiring significant improvements.")
	default:
		parts = append(parts, "Poor chart quality requiring major revisions.")
	}
	parts = append(parts,
		fmt.Sprintf("Heuristic score: %.2f/10", d.Heuristic),
		fmt.Sprintf("Model score: %.2f/10", d.Model),
		fmt.Sprintf("Final weighted score: %.2f/10", d.Final),
	)
	if len(heuristic.Issues) > 0 {
		parts = append(parts, "Identified issues: "+strings.Join(heuristic.Issues, ", "))
	}
	if model.Feedback != "" {
		parts = append(parts, "Model feedback: "+model.Feedback)
	}
	return strings.Join(parts, " ")
}
