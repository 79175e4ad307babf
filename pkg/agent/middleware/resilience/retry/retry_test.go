package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/llmerrors"
	"promptsmith/pkg/agent/middleware/resilience/circuit"
	"promptsmith/pkg/config"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", fmt.Errorf("op: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, false},
		{"circuit open", &circuit.Error{State: circuit.Open}, false},
		{"auth", llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key"), false},
		{"bad prompt", errors.New("400 prompt too long"), false},
		{"rate limit", errors.New("429 Too Many Requests"), true},
		{"server error", errors.New("502 Bad Gateway"), true},
		{"empty response", llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, ""), true},
		{"unknown", errors.New("weird"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.err))
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}, nil)
	assert.Zero(t, p.CalculateDelay(1))
	assert.Equal(t, 100*time.Millisecond, p.CalculateDelay(2))
	assert.Equal(t, 200*time.Millisecond, p.CalculateDelay(3))
	assert.Equal(t, 300*time.Millisecond, p.CalculateDelay(4), "capped at max delay")

	jittered := NewPolicy(Config{MaxAttempts: 2, InitialDelay: 100 * time.Millisecond, BackoffFactor: 2, Jitter: true}, nil)
	d := jittered.CalculateDelay(2)
	assert.GreaterOrEqual(t, d, 90*time.Millisecond)
	assert.LessOrEqual(t, d, 110*time.Millisecond)
}

func TestNewPolicyNormalises(t *testing.T) {
	p := NewPolicy(Config{}, nil)
	assert.Equal(t, 1, p.Config.MaxAttempts)
	assert.InDelta(t, 1.0, p.Config.BackoffFactor, 1e-9)

	fromCfg := FromConfig(config.RetryConfig{MaxAttempts: 4, InitialDelay: time.Second, BackoffFactor: 3})
	assert.Equal(t, 4, fromCfg.MaxAttempts)
	assert.Equal(t, time.Second, fromCfg.InitialDelay)
}

func scripted(errs ...error) (llm.LLMClient, *int) {
	calls := 0
	return llm.WrapClient(
		func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			i := calls
			calls++
			if i < len(errs) && errs[i] != nil {
				return llm.CompletionResponse{}, errs[i]
			}
			return llm.CompletionResponse{Content: "ok"}, nil
		},
		func() string { return "m" },
	), &calls
}

func fastPolicy(attempts int) *Policy {
	return NewPolicy(Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}, nil)
}

func TestMiddlewareRecoversAfterTransientFailure(t *testing.T) {
	base, calls := scripted(errors.New("503 unavailable"), nil)
	client := llm.Chain(base, Middleware(fastPolicy(3), nil))

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, *calls)
}

func TestMiddlewareStopsOnNonRetryable(t *testing.T) {
	base, calls := scripted(errors.New("401 unauthorized"))
	client := llm.Chain(base, Middleware(fastPolicy(3), nil))

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.False(t, llmerrors.IsServiceUnavailable(err))
	assert.Equal(t, 1, *calls)
}

func TestMiddlewareExhaustionIsServiceUnavailable(t *testing.T) {
	fail := errors.New("500 internal")
	base, calls := scripted(fail, fail, fail)
	client := llm.Chain(base, Middleware(fastPolicy(3), nil))

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.ErrorIs(t, err, fail)
	assert.Equal(t, 3, *calls)
}

func TestMiddlewareHonoursCancellationDuringBackoff(t *testing.T) {
	base, _ := scripted(errors.New("503"), errors.New("503"))
	policy := NewPolicy(Config{MaxAttempts: 2, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}, nil)
	client := llm.Chain(base, Middleware(policy, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Complete(ctx, llm.CompletionRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
