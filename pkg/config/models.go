package config

import (
	"fmt"
	"os"
	"strings"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Model name constants.
const (
	ModelClaudeSonnet4 = "claude-sonnet-4-5"
	ModelGPT4Turbo     = "gpt-4-turbo"
	ModelGPT4o         = "gpt-4o"
	ModelGemini25Flash = "gemini-2.5-flash"
	ModelLlama31       = "llama3.1"
)

// Environment variables holding provider credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// ModelInfo contains static information about a known LLM model.
type ModelInfo struct {
	Provider        string  // API provider
	InputCPM        float64 // Cost per million input tokens (USD)
	OutputCPM       float64 // Cost per million output tokens (USD)
	MaxOutputTokens int     // Maximum output tokens per request
}

// KnownModels holds pricing and provider information. Unknown models are inferred via ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	ModelClaudeSonnet4: {Provider: ProviderAnthropic, InputCPM: 3.0, OutputCPM: 15.0, MaxOutputTokens: 8192},
	ModelGPT4Turbo:     {Provider: ProviderOpenAI, InputCPM: 10.0, OutputCPM: 30.0, MaxOutputTokens: 4096},
	ModelGPT4o:         {Provider: ProviderOpenAI, InputCPM: 2.5, OutputCPM: 10.0, MaxOutputTokens: 16384},
	ModelGemini25Flash: {Provider: ProviderGoogle, InputCPM: 0.3, OutputCPM: 2.5, MaxOutputTokens: 8192},
	ModelLlama31:       {Provider: ProviderOllama, MaxOutputTokens: 4096},
}

// ProviderPattern maps a model-name prefix to a provider.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"phi", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the API provider for a model, from KnownModels then prefix patterns.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// CalculateCost returns the USD cost of a request. Unknown models cost 0.
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, ok := KnownModels[modelName]
	if !ok {
		return 0
	}
	return (float64(promptTokens)*info.InputCPM + float64(completionTokens)*info.OutputCPM) / 1_000_000
}

// GetAPIKey returns the credential for a provider from the environment.
// For Ollama it returns the host URL.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = "http://localhost:11434"
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("API key not found: %s is not set", envVar)
}
