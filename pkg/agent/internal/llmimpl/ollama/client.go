// Package ollama implements llm.LLMClient against a local or remote Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/llmerrors"
)

// DefaultHost is used when the configured host cannot be parsed.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewOllamaClientWithModel creates a raw client for hostURL; middleware is applied by the caller.
func NewOllamaClientWithModel(hostURL, model string) llm.LLMClient {
	parsedURL, err := url.Parse(hostURL)
	if err != nil || parsedURL.Host == "" {
		parsedURL, _ = url.Parse(DefaultHost)
		hostURL = DefaultHost
	}
	return &Client{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		model:   strings.TrimPrefix(model, "ollama:"),
		hostURL: hostURL,
	}
}

// Complete implements llm.LLMClient.
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if strings.TrimSpace(response.Message.Content) == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "Ollama returned no content")
	}

	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: getStopReason(&response),
		Usage: llm.Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
		},
	}, nil
}

// GetModelName returns the configured model.
func (o *Client) GetModelName() string {
	return o.model
}

func convertMessages(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}
	result := make([]api.Message, 0, len(messages))
	for i := range messages {
		result = append(result, api.Message{
			Role:    string(messages[i].Role),
			Content: messages[i].Content,
		})
	}
	return result, nil
}

func getStopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

// classifyError converts Ollama errors to llmerrors types.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTimeout, err, "Ollama request timed out")
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, fmt.Sprintf("Ollama server not reachable: %v", err))
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, fmt.Sprintf("Ollama model not found: %v", err))
	default:
		return llmerrors.Classify(err)
	}
}
