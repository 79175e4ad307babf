package google

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"promptsmith/pkg/agent/llm"
)

func TestConvertMessages(t *testing.T) {
	contents, system, err := convertMessages([]llm.CompletionMessage{
		llm.NewSystemMessage("Return JSON."),
		llm.NewUserMessage("Rate this chart"),
		{Role: llm.RoleAssistant, Content: "{}"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Return JSON.", system)
	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)

	_, _, err = convertMessages([]llm.CompletionMessage{llm.NewSystemMessage("only")})
	assert.Error(t, err)
}

func TestGetStopReason(t *testing.T) {
	assert.Equal(t, "unknown", getStopReason(&genai.GenerateContentResponse{}))
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonMaxTokens}}}
	assert.Equal(t, "max_tokens", getStopReason(resp))
}
