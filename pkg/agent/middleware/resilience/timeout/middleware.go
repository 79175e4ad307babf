// Package timeout provides timeout middleware for LLM clients.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/llmerrors"
)

// Middleware bounds each request with its own deadline. A request that overruns it fails with a
// classified timeout error; a deadline inherited from the caller passes through unchanged.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if duration <= 0 {
					return next.Complete(ctx, req)
				}
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()

				resp, err := next.Complete(timeoutCtx, req)
				if err != nil && ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
					return resp, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTimeout, err,
						fmt.Sprintf("%s did not respond within %s", next.GetModelName(), duration))
				}
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}
