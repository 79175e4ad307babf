package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"promptsmith/pkg/agent/llmerrors"
)

// Capability failures. Every other provider error is folded into one of these two.
var (
	ErrUnavailable = errors.New("generation unavailable")
	ErrTimeout     = errors.New("generation timed out")
)

// Result is the outcome of a generation call: Ok(text) or Err(Unavailable|Timeout).
type Result struct {
	Text string
	Err  error
}

// Ok returns a successful result.
func Ok(text string) Result { return Result{Text: text} }

// Unavailable returns a failed result wrapping ErrUnavailable.
func Unavailable(cause error) Result {
	if cause == nil {
		return Result{Err: ErrUnavailable}
	}
	return Result{Err: fmt.Errorf("%w: %w", ErrUnavailable, cause)}
}

// Timeout returns a failed result wrapping ErrTimeout.
func Timeout(cause error) Result {
	if cause == nil {
		return Result{Err: ErrTimeout}
	}
	return Result{Err: fmt.Errorf("%w: %w", ErrTimeout, cause)}
}

// OK reports whether the call produced text.
func (r Result) OK() bool { return r.Err == nil }

// TimedOut reports whether the call failed on its deadline.
func (r Result) TimedOut() bool { return errors.Is(r.Err, ErrTimeout) }

// Advisory returns the error text consumers attach as an llm_error flag, or "".
func (r Result) Advisory() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Context is the structured side of a generate(prompt, context) call.
type Context struct {
	Agent       string
	System      string
	MaxTokens   int
	Temperature float32
}

// Generator is the opaque generation capability. Implementations never return a provider error
// directly; consumers branch on Result and run their own fallback.
type Generator interface {
	Generate(ctx context.Context, prompt string, gctx Context) Result
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, gctx Context) Result

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, gctx Context) Result {
	return f(ctx, prompt, gctx)
}

// unavailableGenerator always reports ErrUnavailable; used for offline runs.
type unavailableGenerator struct{ reason string }

func (g unavailableGenerator) Generate(_ context.Context, _ string, _ Context) Result {
	return Unavailable(errors.New(g.reason))
}

// Offline returns a Generator that is never available.
func Offline(reason string) Generator {
	if reason == "" {
		reason = "no generation capability configured"
	}
	return unavailableGenerator{reason: reason}
}

// ClientGenerator adapts an LLMClient (usually a middleware chain) to the Generator boundary.
type ClientGenerator struct {
	client  LLMClient
	timeout time.Duration
}

// NewClientGenerator wraps client. A positive timeout bounds every call on top of the caller's context.
func NewClientGenerator(client LLMClient, timeout time.Duration) *ClientGenerator {
	return &ClientGenerator{client: client, timeout: timeout}
}

// ModelName returns the wrapped client's model.
func (g *ClientGenerator) ModelName() string {
	return g.client.GetModelName()
}

// Generate implements Generator.
func (g *ClientGenerator) Generate(ctx context.Context, prompt string, gctx Context) Result {
	if err := ctx.Err(); err != nil {
		return classify(err)
	}
	if gctx.Agent != "" {
		ctx = ContextWithAgent(ctx, gctx.Agent)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	messages := make([]CompletionMessage, 0, 2)
	if gctx.System != "" {
		messages = append(messages, NewSystemMessage(gctx.System))
	}
	messages = append(messages, NewUserMessage(prompt))

	req := NewCompletionRequest(messages)
	if gctx.MaxTokens > 0 {
		req.MaxTokens = gctx.MaxTokens
	}
	if gctx.Temperature > 0 {
		req.Temperature = gctx.Temperature
	}

	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		return classify(err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return Unavailable(llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty completion"))
	}
	return Ok(resp.Content)
}

func classify(err error) Result {
	if llmerrors.IsTimeout(err) {
		return Timeout(err)
	}
	return Unavailable(err)
}
