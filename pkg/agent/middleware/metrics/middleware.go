package metrics

import (
	"context"
	"errors"
	"time"

	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/llmerrors"
	"promptsmith/pkg/config"
	"promptsmith/pkg/logx"
	"promptsmith/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor returns token usage for a completed request.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor prefers provider-reported usage and falls back to tiktoken counts.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	var promptText string
	for i := range req.Messages {
		promptText += req.Messages[i].Content + "\n"
	}
	return utils.CountTokensSimple(promptText), utils.CountTokensSimple(resp.Content)
}

// Middleware records latency, token usage, cost and failures for every request.
// The agent label comes from llm.AgentFromContext.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}
	if recorder == nil {
		recorder = Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()
				agent := llm.AgentFromContext(ctx)

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				var cost float64
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
					cost = config.CalculateCost(model, promptTokens, completionTokens)
				}

				recorder.ObserveRequest(model, agent, promptTokens, completionTokens, cost, err == nil, getErrorType(err), duration)

				if logger != nil {
					status := statusSuccess
					if err != nil {
						status = statusError
					}
					logger.Info("🎯 LLM Request: model=%s agent=%s tokens=%d+%d=%d cost=$%.4f status=%s duration=%dms",
						model, agent, promptTokens, completionTokens, promptTokens+completionTokens, cost, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}

// getErrorType labels failures for metrics.
func getErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return llmerrors.Classify(err).Type.String()
	}
}
