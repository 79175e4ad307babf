// Package agent provides the foundational abstractions for the promptsmith pipeline agents.
//
// This package serves as the public API for agent functionality with the following structure:
//   - The closed Kind enumeration and the uniform Agent.Step contract
//   - A transition-table state machine used by the orchestrator
//   - The generator factory that wraps provider clients in the resilience middleware chain
//
// Provider implementations are kept private under internal/llmimpl.
package agent
