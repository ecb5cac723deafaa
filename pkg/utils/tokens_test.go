package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// newCounter skips the test when the tiktoken encodings cannot be loaded
// (they are fetched on first use).
func newCounter(t *testing.T, model string) *TokenCounter {
	t.Helper()
	tc, err := NewTokenCounter(model)
	if err != nil {
		t.Skipf("tiktoken encodings unavailable: %v", err)
	}
	return tc
}

func TestTokenCounter_Count(t *testing.T) {
	tc := newCounter(t, "gpt-4o")

	count := tc.Count("Hello, world!")
	assert.Greater(t, count, 0)
	assert.Less(t, count, 10)
}

func TestTokenCounter_UnknownModelFallsBack(t *testing.T) {
	tc := newCounter(t, "totally-unknown-model-xyz")
	assert.Greater(t, tc.Count("some text"), 0)
}

func TestTokenCounter_CountMessages(t *testing.T) {
	tc := newCounter(t, "gpt-4o")

	single := tc.CountMessages([]Message{{Role: "user", Content: "hello"}})
	double := tc.CountMessages([]Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	})
	assert.Greater(t, double, single)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 3, EstimateTokens("123456789012"))
}

func TestContainsCJK(t *testing.T) {
	assert.True(t, ContainsCJK("刘翔破纪录"))
	assert.True(t, ContainsCJK("mixed 中文 text"))
	assert.False(t, ContainsCJK("plain english"))
	assert.False(t, ContainsCJK(""))
}
