package circuit

import (
	"context"
	"errors"

	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/llmerrors"
)

// Middleware rejects requests while the circuit is open without calling the provider.
// Rejections are reported as service_unavailable so consumers take their fallback path at once.
// Caller cancellation is not counted as a provider failure.
func Middleware(breaker Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if !breaker.Allow() {
					return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(
						llmerrors.ErrorTypeServiceUnavailable, &Error{State: breaker.GetState()}, "circuit open")
				}

				resp, err := next.Complete(ctx, req)
				if err != nil && errors.Is(err, context.Canceled) {
					return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}
				breaker.Record(err == nil)
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}
