package orchestrator

import (
	"fmt"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/proto"
)

// Orchestrator states. optimal, exhausted, needs_clarification and error are terminal.
const (
	StateInit                agent.State = "init"
	StateClarifying          agent.State = "clarifying"
	StateNeedsClarification  agent.State = "needs_clarification"
	StateGeneratingPrompt    agent.State = "generating_prompt"
	StateBuildingChart       agent.State = "building_chart"
	StateHeuristicEvaluation agent.State = "heuristic_evaluation"
	StateModelEvaluation     agent.State = "model_evaluation"
	StateScoring             agent.State = "scoring"
	StateOptimal             agent.State = "optimal"
	StateExhausted           agent.State = "exhausted"
	StateRewritingPrompt     agent.State = "rewriting_prompt"
	StateError               agent.State = "error"
)

// Transitions is the canonical transition table. Every non-terminal state may also move to
// error.
//
//nolint:gochecknoglobals // single source of truth for the loop
var Transitions = agent.TransitionTable{
	StateInit:                {StateClarifying, StateError},
	StateClarifying:          {StateNeedsClarification, StateGeneratingPrompt, StateError},
	StateGeneratingPrompt:    {StateBuildingChart, StateError},
	StateBuildingChart:       {StateHeuristicEvaluation, StateError},
	StateHeuristicEvaluation: {StateModelEvaluation, StateError},
	StateModelEvaluation:     {StateScoring, StateError},
	StateScoring:             {StateOptimal, StateExhausted, StateRewritingPrompt, StateNeedsClarification, StateError},
	StateRewritingPrompt:     {StateGeneratingPrompt, StateError},
}

// stepIndex positions the per-iteration states for progress reporting.
//
//nolint:gochecknoglobals // static ordering
var stepIndex = map[agent.State]int{
	StateGeneratingPrompt:    1,
	StateBuildingChart:       2,
	StateHeuristicEvaluation: 3,
	StateModelEvaluation:     4,
	StateScoring:             5,
	StateRewritingPrompt:     6,
}

const stepsPerIteration = 6

// ValidStates lists every orchestrator state.
func ValidStates() []agent.State {
	return []agent.State{
		StateInit, StateClarifying, StateNeedsClarification, StateGeneratingPrompt, StateBuildingChart,
		StateHeuristicEvaluation, StateModelEvaluation, StateScoring, StateOptimal, StateExhausted,
		StateRewritingPrompt, StateError,
	}
}

// ValidateState checks that state belongs to the orchestrator.
func ValidateState(state agent.State) error {
	for _, s := range ValidStates() {
		if s == state {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", agent.ErrInvalidState, state)
}

// IsTerminal reports whether state has no outgoing transitions.
func IsTerminal(state agent.State) bool {
	return len(Transitions[state]) == 0
}

// StatusFor maps a state onto the session status it implies.
func StatusFor(state agent.State) proto.Status {
	switch state {
	case StateOptimal:
		return proto.StatusOptimal
	case StateExhausted:
		return proto.StatusExhausted
	case StateNeedsClarification:
		return proto.StatusNeedsClarification
	case StateError:
		return proto.StatusError
	default:
		return proto.StatusIterating
	}
}

// overallProgress is the share of the iteration budget completed at state, 0..100.
func overallProgress(state agent.State, iteration, maxIterations int) float64 {
	if IsTerminal(state) {
		return 100
	}
	idx, ok := stepIndex[state]
	if !ok || maxIterations <= 0 || iteration <= 0 {
		return 0
	}
	p := float64((iteration-1)*stepsPerIteration+idx) / float64(maxIterations*stepsPerIteration) * 100
	if p > 100 {
		return 100
	}
	return float64(int(p*100+0.5)) / 100
}
