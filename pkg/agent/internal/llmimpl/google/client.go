// Package google implements llm.LLMClient on the Gemini API via google.golang.org/genai.
package google

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/llmerrors"
)

// GeminiClient wraps the genai client, created lazily on first use.
type GeminiClient struct {
	mu     sync.Mutex
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClientWithModel creates a raw client; middleware is applied by the caller.
func NewGeminiClientWithModel(apiKey, model string) llm.LLMClient {
	return &GeminiClient{apiKey: apiKey, model: model}
}

func (g *GeminiClient) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, fmt.Sprintf("failed to create Gemini client: %v", err))
	}
	g.client = client
	return client, nil
}

// Complete implements llm.LLMClient.
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	contents, systemInstruction, err := convertMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	temperature := in.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens),
	}
	if systemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}}
	}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(fmt.Errorf("Gemini API call failed: %w", err))
	}
	if result == nil || strings.TrimSpace(result.Text()) == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	resp := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: getStopReason(result),
	}
	if result.UsageMetadata != nil {
		resp.Usage = llm.Usage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	return resp, nil
}

// GetModelName returns the configured model.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

func convertMessages(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}
	system, rest := llm.SplitSystem(messages)
	if len(rest) == 0 {
		return nil, "", fmt.Errorf("must have at least one non-system message")
	}

	contents := make([]*genai.Content, 0, len(rest))
	for i := range rest {
		switch rest[i].Role {
		case llm.RoleUser:
			contents = append(contents, genai.NewContentFromText(rest[i].Content, genai.RoleUser))
		case llm.RoleAssistant:
			// Gemini calls the assistant role "model".
			contents = append(contents, genai.NewContentFromText(rest[i].Content, genai.RoleModel))
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", rest[i].Role)
		}
	}
	return contents, system, nil
}

func getStopReason(result *genai.GenerateContentResponse) string {
	if len(result.Candidates) == 0 {
		return "unknown"
	}
	switch result.Candidates[0].FinishReason {
	case genai.FinishReasonStop:
		return "end_turn"
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	case genai.FinishReasonSafety:
		return "safety"
	default:
		return string(result.Candidates[0].FinishReason)
	}
}
