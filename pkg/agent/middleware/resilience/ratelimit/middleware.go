package ratelimit

import (
	"context"
	"time"

	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/middleware/metrics"
)

// Middleware acquires prompt tokens plus max output tokens before each request.
func Middleware(limiter *TokenBucketLimiter, estimator TokenEstimator, recorder metrics.Recorder) llm.Middleware {
	if estimator == nil {
		estimator = DefaultTokenEstimator{}
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				model := next.GetModelName()
				tokens := estimator.EstimatePrompt(req) + req.MaxTokens

				start := time.Now()
				release, waitedFor, err := limiter.Acquire(ctx, tokens)
				if waitedFor != "" {
					recorder.IncThrottle(model, waitedFor)
					recorder.ObserveQueueWait(model, time.Since(start))
				}
				if err != nil {
					return llm.CompletionResponse{}, err
				}
				defer release()

				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}
