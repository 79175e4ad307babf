package timeout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/llmerrors"
)

func blocking() llm.LLMClient {
	return llm.WrapClient(
		func(ctx context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			<-ctx.Done()
			return llm.CompletionResponse{}, ctx.Err()
		},
		func() string { return "slow-model" },
	)
}

func TestMiddlewareClassifiesOwnDeadline(t *testing.T) {
	client := llm.Chain(blocking(), Middleware(10*time.Millisecond))
	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeTimeout))
	assert.True(t, llmerrors.IsTimeout(err))
	assert.Contains(t, err.Error(), "slow-model")
}

func TestMiddlewarePassesCallerCancellation(t *testing.T) {
	client := llm.Chain(blocking(), Middleware(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Complete(ctx, llm.CompletionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, llmerrors.Is(err, llmerrors.ErrorTypeTimeout))
}

func TestMiddlewareZeroDurationIsPassThrough(t *testing.T) {
	client := llm.Chain(llm.WrapClient(
		func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: "fast"}, nil
		},
		func() string { return "m" },
	), Middleware(0))
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fast", resp.Content)
}
