// Package openai implements llm.LLMClient on the official OpenAI Go SDK (Responses API).
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/llmerrors"
	"promptsmith/pkg/config"
)

// OfficialClient wraps the official OpenAI Go client.
//
//nolint:govet // Simple struct, field alignment not critical
type OfficialClient struct {
	client openai.Client
	model  string
}

// NewOfficialClientWithModel creates a raw client; middleware is applied by the caller.
func NewOfficialClientWithModel(apiKey, model string) llm.LLMClient {
	return &OfficialClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// buildInput flattens the conversation into Responses API instructions plus a single input string.
func buildInput(messages []llm.CompletionMessage) (instructions, input string) {
	system, rest := llm.SplitSystem(messages)
	var b strings.Builder
	for i := range rest {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if rest[i].Role == llm.RoleAssistant {
			b.WriteString("Assistant: ")
		}
		b.WriteString(rest[i].Content)
	}
	return system, b.String()
}

// capMaxTokens limits the request to the model's known output ceiling.
func capMaxTokens(model string, requested int) int {
	if info, ok := config.KnownModels[model]; ok && info.MaxOutputTokens > 0 && requested > info.MaxOutputTokens {
		return info.MaxOutputTokens
	}
	return requested
}

// Complete implements llm.LLMClient.
func (o *OfficialClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	instructions, input := buildInput(in.Messages)
	if strings.TrimSpace(input) == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "empty input")
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(capMaxTokens(o.model, in.MaxTokens))),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
		Temperature:     openai.Float(float64(in.Temperature)),
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received nil response from OpenAI API")
	}

	content := resp.OutputText()
	if content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no text output in OpenAI response")
	}

	return llm.CompletionResponse{
		Content:    content,
		StopReason: string(resp.Status),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// GetModelName returns the configured model.
func (o *OfficialClient) GetModelName() string {
	return o.model
}

func classifyError(err error) *llmerrors.Error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return &llmerrors.Error{Type: llmerrors.ErrorTypeAuth, StatusCode: apiErr.StatusCode, Err: err, Message: "authentication failed - check API key"}
		case apiErr.StatusCode == 429:
			return &llmerrors.Error{Type: llmerrors.ErrorTypeRateLimit, StatusCode: apiErr.StatusCode, Err: err, Message: "rate limit exceeded"}
		case apiErr.StatusCode == 400:
			return &llmerrors.Error{Type: llmerrors.ErrorTypeBadPrompt, StatusCode: apiErr.StatusCode, Err: err, Message: "request rejected"}
		case apiErr.StatusCode >= 500:
			return &llmerrors.Error{Type: llmerrors.ErrorTypeTransient, StatusCode: apiErr.StatusCode, Err: err, Message: "server error"}
		}
	}
	return llmerrors.Classify(err)
}
