// Package utils provides token counting, atomic file writes and type assertion helpers.
package utils

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens for prompt accounting and LLM usage metrics.
type TokenCounter struct {
	codec tokenizer.Codec
}

//nolint:gochecknoglobals // shared codec, loading the BPE tables is expensive
var (
	defaultCounter     *TokenCounter
	defaultCounterOnce sync.Once
)

// NewTokenCounter creates a token counter for the given model.
// Every supported provider is approximated with the GPT-4 encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountTokensSimple counts tokens with a shared GPT-4 counter.
func CountTokensSimple(text string) int {
	defaultCounterOnce.Do(func() {
		defaultCounter, _ = NewTokenCounter("gpt-4")
	})
	return defaultCounter.CountTokens(text)
}

// ValidateTokenLimit reports whether text fits within limit tokens.
func (tc *TokenCounter) ValidateTokenLimit(text string, limit int) bool {
	return tc.CountTokens(text) <= limit
}

// TruncateToTokenLimit truncates text to roughly fit within limit tokens.
// It cuts by characters, not token boundaries.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	currentTokens := tc.CountTokens(text)
	if currentTokens <= limit {
		return text
	}

	ratio := float64(limit) / float64(currentTokens)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}
	return text[:charLimit] + "..."
}
