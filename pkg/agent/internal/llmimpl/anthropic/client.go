// Package anthropic implements llm.LLMClient on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/llmerrors"
)

// ClaudeClient wraps the Anthropic API client.
//
//nolint:govet // Simple client struct, logical grouping preferred
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a raw client; middleware is applied by the caller.
func NewClaudeClientWithModel(apiKey, model string) llm.LLMClient {
	return &ClaudeClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// toMessages extracts the system prompt and merges consecutive user turns so the
// sequence strictly alternates and ends with a user message.
func toMessages(messages []llm.CompletionMessage) (string, []anthropic.MessageParam, error) {
	system, rest := llm.SplitSystem(messages)
	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	var merged []llm.CompletionMessage
	for _, msg := range rest {
		role := msg.Role
		if role != llm.RoleAssistant {
			role = llm.RoleUser
		}
		if n := len(merged); n > 0 && merged[n-1].Role == role {
			merged[n-1].Content += "\n\n" + msg.Content
			continue
		}
		merged = append(merged, llm.CompletionMessage{Role: role, Content: msg.Content})
	}
	if merged[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", merged[0].Role)
	}
	if last := merged[len(merged)-1]; last.Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", last.Role)
	}

	out := make([]anthropic.MessageParam, 0, len(merged))
	for _, msg := range merged {
		out = append(out, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}
	return system, out, nil
}

// Complete implements llm.LLMClient.
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	system, messages, err := toMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	return llm.CompletionResponse{
		Content:    text.String(),
		StopReason: string(resp.StopReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// GetModelName returns the configured model.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// classifyError maps Anthropic SDK errors onto llmerrors, using the SDK's typed status when present.
func classifyError(err error) *llmerrors.Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return &llmerrors.Error{Type: llmerrors.ErrorTypeAuth, StatusCode: apiErr.StatusCode, Err: err, Message: "authentication failed - check API key"}
		case 429:
			return &llmerrors.Error{Type: llmerrors.ErrorTypeRateLimit, StatusCode: apiErr.StatusCode, Err: err, Message: "rate limit exceeded"}
		case 400, 413:
			return &llmerrors.Error{Type: llmerrors.ErrorTypeBadPrompt, StatusCode: apiErr.StatusCode, Err: err, Message: "request rejected"}
		case 500, 502, 503, 504, 529:
			return &llmerrors.Error{Type: llmerrors.ErrorTypeTransient, StatusCode: apiErr.StatusCode, Err: err, Message: "server error"}
		}
	}
	return llmerrors.Classify(err)
}
