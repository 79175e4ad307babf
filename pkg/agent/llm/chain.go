package llm

import "context"

// Middleware wraps an LLMClient with additional behavior. Compose with Chain.
type Middleware func(next LLMClient) LLMClient

// clientFunc adapts plain functions to the LLMClient interface.
type clientFunc struct {
	complete     func(context.Context, CompletionRequest) (CompletionResponse, error)
	getModelName func() string
}

func (f clientFunc) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return f.complete(ctx, req)
}

func (f clientFunc) GetModelName() string {
	return f.getModelName()
}

// WrapClient creates an LLMClient from function implementations.
func WrapClient(
	complete func(context.Context, CompletionRequest) (CompletionResponse, error),
	getModelName func() string,
) LLMClient {
	return clientFunc{complete: complete, getModelName: getModelName}
}

// Chain composes middlewares around a base client. Earlier middlewares are outermost:
//
//	Chain(client, mw1, mw2, mw3)  =>  mw1 -> mw2 -> mw3 -> client
func Chain(base LLMClient, middlewares ...Middleware) LLMClient {
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		client = middlewares[i](client)
	}
	return client
}
