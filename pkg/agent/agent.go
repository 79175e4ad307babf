package agent

import (
	"context"
	"fmt"

	"promptsmith/pkg/proto"
)

// Kind is the closed set of pipeline agents.
type Kind int

const (
	KindPromptGenerator Kind = iota + 1
	KindChartBuilder
	KindHeuristicEvaluator
	KindModelEvaluator
	KindScorer
	KindRewriter
	KindClarifier
)

//nolint:gochecknoglobals // static name table
var kindNames = map[Kind]string{
	KindPromptGenerator:    "prompt_generator",
	KindChartBuilder:       "chart_builder",
	KindHeuristicEvaluator: "heuristic_evaluator",
	KindModelEvaluator:     "model_evaluator",
	KindScorer:             "scorer",
	KindRewriter:           "rewriter",
	KindClarifier:          "clarifier",
}

// String returns the snake_case agent name used in logs, metrics and progress snapshots.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// AllKinds returns every kind in pipeline order, clarifier last.
func AllKinds() []Kind {
	return []Kind{
		KindPromptGenerator, KindChartBuilder, KindHeuristicEvaluator,
		KindModelEvaluator, KindScorer, KindRewriter, KindClarifier,
	}
}

// ParseKind maps a name back to its Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Input carries everything an agent may read. Each agent documents which fields it requires.
type Input struct {
	Query     proto.Query
	Iteration int
	Previous  *proto.IterationRecord
	Prompt    *proto.Prompt
	Build     *proto.Build
	Heuristic *proto.Evaluation
	Model     *proto.Evaluation
	Decision  *proto.Decision
}

// Output holds the single payload produced by one Step.
type Output struct {
	Kind          Kind
	Prompt        *proto.Prompt
	Build         *proto.Build
	Evaluation    *proto.Evaluation
	Decision      *proto.Decision
	Rewrite       *proto.Rewrite
	Clarification *proto.Clarification
}

// Payload returns whichever output field is set, for progress snapshots.
func (o Output) Payload() any {
	switch {
	case o.Prompt != nil:
		return o.Prompt
	case o.Build != nil:
		return o.Build
	case o.Evaluation != nil:
		return o.Evaluation
	case o.Decision != nil:
		return o.Decision
	case o.Rewrite != nil:
		return o.Rewrite
	case o.Clarification != nil:
		return o.Clarification
	default:
		return nil
	}
}

// Agent is the uniform step capability every pipeline agent implements.
type Agent interface {
	Kind() Kind
	Step(ctx context.Context, in Input) (Output, error)
}

// Set is the fixed roster the orchestrator dispatches over, one agent per kind.
type Set map[Kind]Agent

// NewSet indexes agents by kind. Duplicate or unknown kinds are rejected.
func NewSet(agents ...Agent) (Set, error) {
	set := make(Set, len(agents))
	for _, a := range agents {
		k := a.Kind()
		if !k.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
		}
		if _, dup := set[k]; dup {
			return nil, fmt.Errorf("duplicate agent for %s", k)
		}
		set[k] = a
	}
	return set, nil
}

// Missing lists kinds with no registered agent.
func (s Set) Missing() []Kind {
	var missing []Kind
	for _, k := range AllKinds() {
		if _, ok := s[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// Require returns an ErrMissingInput error naming field when ok is false.
func Require(k Kind, ok bool, field string) error {
	if ok {
		return nil
	}
	return fmt.Errorf("%w: %s needs %s", ErrMissingInput, k, field)
}
