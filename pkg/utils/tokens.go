// Package utils provides shared helpers for the delver runtime.
package utils

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter handles accurate token counting per model.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

// Message represents a message for token counting.
type Message struct {
	Role    string
	Content string
}

var (
	// Cache encodings to avoid repeated initialization
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for a specific model.
// Unknown models fall back to the cl100k_base encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{
			encoding: cached,
			model:    model,
		}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{
		encoding: encoding,
		model:    model,
	}, nil
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	tokens := tc.encoding.Encode(text, nil, nil)
	return len(tokens)
}

// CountMessages counts tokens in a message list, including the per-message
// role overhead of the chat format.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	// <|start|>role|message<|end|>
	tokensPerMessage := 3

	totalTokens := 0
	for _, msg := range messages {
		totalTokens += tokensPerMessage
		totalTokens += len(tc.encoding.Encode(msg.Role, nil, nil))
		totalTokens += len(tc.encoding.Encode(msg.Content, nil, nil))
	}

	// Every reply is primed with <|start|>assistant<|message|>
	totalTokens += 3

	return totalTokens
}

// GetModel returns the model name this counter is configured for.
func (tc *TokenCounter) GetModel() string {
	return tc.model
}

// EstimateTokens provides a rough token estimation when no counter is
// available.
func EstimateTokens(text string) int {
	return len(text) / 4
}
