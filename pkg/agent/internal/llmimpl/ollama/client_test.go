package ollama

import (
	"context"
	"errors"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/agent/llmerrors"
)

func TestNewClientNormalisesHostAndModel(t *testing.T) {
	c := NewOllamaClientWithModel("::not a url", "ollama:llama3.1").(*Client)
	assert.Equal(t, DefaultHost, c.hostURL)
	assert.Equal(t, "llama3.1", c.GetModelName())
}

func TestConvertMessages(t *testing.T) {
	msgs, err := convertMessages([]llm.CompletionMessage{llm.NewSystemMessage("s"), llm.NewUserMessage("u")})
	require.NoError(t, err)
	assert.Equal(t, []api.Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}}, msgs)

	_, err = convertMessages(nil)
	assert.Error(t, err)
}

func TestGetStopReason(t *testing.T) {
	assert.Equal(t, "incomplete", getStopReason(&api.ChatResponse{}))
	assert.Equal(t, "end_turn", getStopReason(&api.ChatResponse{Done: true}))
	assert.Equal(t, "max_tokens", getStopReason(&api.ChatResponse{Done: true, DoneReason: "length"}))
}

func TestClassifyError(t *testing.T) {
	assert.True(t, llmerrors.Is(classifyError(errors.New("dial tcp: connection refused")), llmerrors.ErrorTypeTransient))
	assert.True(t, llmerrors.Is(classifyError(errors.New(`model "x" not found`)), llmerrors.ErrorTypeBadPrompt))
	assert.True(t, llmerrors.IsTimeout(classifyError(context.DeadlineExceeded)))
}
