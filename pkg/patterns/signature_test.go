package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Show me Revenue, by regions!", "show me revenue by region"},
		{"  total   SALES\tper quarter ", "total sales per quarter"},
		{"categories vs. classes", "category vs classes"},
		{"", ""},
		{"???", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestSignature(t *testing.T) {
	a := Signature("Show me revenue by region over time")
	b := Signature("show me  REVENUE by regions over time.")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32, "128-bit digest in hex")
	assert.NotEqual(t, a, Signature("show me profit by region over time"))
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("abc", "abc"), 1e-9)
	assert.InDelta(t, 1.0, Similarity("", ""), 1e-9)
	assert.InDelta(t, 0.0, Similarity("abc", ""), 1e-9)
	assert.InDelta(t, 0.75, Similarity("abcd", "abcx"), 1e-9)
	assert.Greater(t, Similarity("show me revenue by region over time", "show me revenue by region over tme"), 0.9)
}
