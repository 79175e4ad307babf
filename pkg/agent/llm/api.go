// Package llm defines the opaque generation capability used by the pipeline agents: a small
// provider-facing client interface, middleware composition, and the Generator boundary that
// turns every provider failure into an Unavailable or Timeout result.
package llm

import (
	"context"
	"fmt"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the AI assistant.
	RoleAssistant CompletionRole = "assistant"
)

const (
	// DefaultMaxTokens bounds completion size for prompt, chart and evaluation requests.
	DefaultMaxTokens = 2048

	// TemperatureDefault is used for evaluation and rewrite requests.
	TemperatureDefault = 0.3

	// TemperatureDeterministic is used when the output must be parseable JSON.
	TemperatureDeterministic = 0.2
)

// CompletionMessage represents a message in a completion request.
type CompletionMessage struct {
	Content string
	Role    CompletionRole
}

// CompletionRequest represents a request to generate a completion.
type CompletionRequest struct {
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float32
}

// Usage carries provider-reported token counts. Zero values mean the provider did not report them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	Content    string
	StopReason string
	Usage      Usage
}

// LLMClient is implemented by each provider and by every middleware layer.
type LLMClient interface { //nolint:revive // name kept for symmetry with provider packages
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// GetModelName returns the model name for this LLM client.
	GetModelName() string
}

// NewCompletionRequest creates a new completion request with default values.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// SplitSystem separates system messages (joined by blank lines) from the rest of the conversation.
// Providers that take the system prompt as a dedicated field use this.
func SplitSystem(messages []CompletionMessage) (string, []CompletionMessage) {
	var system string
	rest := make([]CompletionMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// LLMConfig represents configuration for an LLM client.
type LLMConfig struct { //nolint:revive // name kept for symmetry with provider packages
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	if c.ModelName == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}

type agentKey struct{}

// ContextWithAgent tags ctx with the calling agent for metrics and logs.
func ContextWithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, agentKey{}, agent)
}

// AgentFromContext returns the agent tag, or "unknown".
func AgentFromContext(ctx context.Context) string {
	if agent, ok := ctx.Value(agentKey{}).(string); ok && agent != "" {
		return agent
	}
	return "unknown"
}
