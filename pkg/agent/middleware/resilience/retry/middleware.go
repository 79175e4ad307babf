package retry

import (
	"context"
	"fmt"
	"time"

	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/llmerrors"
	"promptsmith/pkg/logx"
)

// Middleware retries failed requests according to policy with exponential backoff.
// When every attempt fails on a retryable error the last error is wrapped as service_unavailable.
func Middleware(policy *Policy, logger *logx.Logger) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var lastErr error

				for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
					if attempt > 1 {
						delay := policy.CalculateDelay(attempt)
						if logger != nil {
							logger.Debug("🔁 Retrying %s (attempt %d/%d) in %s: %v",
								next.GetModelName(), attempt, policy.Config.MaxAttempts, delay, lastErr)
						}
						if delay > 0 {
							select {
							case <-ctx.Done():
								return llm.CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
							case <-time.After(delay):
							}
						}
					}

					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}
					lastErr = err

					if !policy.ShouldRetry(err) {
						return llm.CompletionResponse{}, err //nolint:wrapcheck // Middleware should pass through errors unchanged
					}
				}

				return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
			},
			next.GetModelName,
		)
	}
}
