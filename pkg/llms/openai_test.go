package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/delver/pkg/config"
)

func testLLMConfig(baseURL string) *config.LLMProviderConfig {
	cfg := &config.LLMProviderConfig{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		Model:      "gpt-4o",
		MaxRetries: 1,
		RetryDelay: 1,
		Timeout:    5,
	}
	cfg.SetDefaults()
	return cfg
}

func chatHandler(t *testing.T, respond func(body map[string]any) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(respond(body)))
	}
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var gotStop []any
	server := httptest.NewServer(chatHandler(t, func(body map[string]any) any {
		gotStop, _ = body["stop"].([]any)
		return map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{
					"content":           "  <answer>Paris</answer>  ",
					"reasoning_content": "thinking about geography",
				}},
			},
		}
	}))
	defer server.Close()

	provider := NewOpenAIProvider(testLLMConfig(server.URL))
	completion, err := provider.Complete(context.Background(), []Message{
		System("sys"), User("capital of France?"),
	}, Options{Stop: []string{"<tool_response>"}})

	require.NoError(t, err)
	assert.Equal(t, "<answer>Paris</answer>", completion.Content)
	assert.Equal(t, "thinking about geography", completion.Reasoning)
	assert.Equal(t, []any{"<tool_response>"}, gotStop)
}

func TestOpenAIProvider_NativeToolCalls(t *testing.T) {
	server := httptest.NewServer(chatHandler(t, func(body map[string]any) any {
		tools, _ := body["tools"].([]any)
		require.Len(t, tools, 1)
		return map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{
					"content": "",
					"tool_calls": []map[string]any{
						{
							"id":   "call_1",
							"type": "function",
							"function": map[string]any{
								"name":      "search",
								"arguments": `{"query": ["x"],}`,
							},
						},
					},
				}},
			},
		}
	}))
	defer server.Close()

	provider := NewOpenAIProvider(testLLMConfig(server.URL))
	completion, err := provider.Complete(context.Background(), []Message{User("q")}, Options{
		Tools: []ToolDefinition{{Name: "search", Description: "d", Parameters: map[string]any{"type": "object"}}},
	})

	require.NoError(t, err)
	require.Len(t, completion.ToolCalls, 1)
	assert.Equal(t, "search", completion.ToolCalls[0].Name)
	// Permissive JSON arguments decode despite the trailing comma.
	assert.Equal(t, []any{"x"}, completion.ToolCalls[0].Arguments["query"])
}

func TestOpenAIProvider_ThinkingModeBody(t *testing.T) {
	var sawThinking bool
	server := httptest.NewServer(chatHandler(t, func(body map[string]any) any {
		if thinking, ok := body["thinking"].(map[string]any); ok {
			sawThinking = thinking["type"] == "enabled"
		}
		return map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}},
			},
		}
	}))
	defer server.Close()

	cfg := testLLMConfig(server.URL)
	cfg.ThinkingMode = "enabled"
	provider := NewOpenAIProvider(cfg)

	_, err := provider.Complete(context.Background(), []Message{User("q")}, Options{})
	require.NoError(t, err)
	assert.True(t, sawThinking)
}

func TestOpenAIProvider_AuthErrorSentinel(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(testLLMConfig(server.URL))
	completion, err := provider.Complete(context.Background(), []Message{User("q")}, Options{})

	// Terminal failures degrade to the sentinel so the loop can proceed.
	require.NoError(t, err)
	assert.Equal(t, ServerErrorSentinel, completion.Content)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestOpenAIProvider_TemperatureOverride(t *testing.T) {
	var gotTemp float64
	server := httptest.NewServer(chatHandler(t, func(body map[string]any) any {
		gotTemp, _ = body["temperature"].(float64)
		return map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}},
			},
		}
	}))
	defer server.Close()

	provider := NewOpenAIProvider(testLLMConfig(server.URL))
	override := 0.2
	_, err := provider.Complete(context.Background(), []Message{User("q")}, Options{Temperature: &override})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, gotTemp, 1e-9)
}

func TestOpenAIProvider_CloneWithTemperature(t *testing.T) {
	cfg := testLLMConfig("http://example.invalid")
	provider := NewOpenAIProvider(cfg)

	clone := provider.CloneWithTemperature(0.9)
	assert.InDelta(t, 0.9, clone.Temperature(), 1e-9)
	// The original is untouched.
	assert.InDelta(t, cfg.Temperature, provider.Temperature(), 1e-9)
}
