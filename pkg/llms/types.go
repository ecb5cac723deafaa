// Package llms provides the chat-completion client used by the agent
// loops. The wire protocol is the OpenAI-compatible chat completions API;
// any conforming endpoint (vLLM, litellm, gateway proxies) works.
package llms

import (
	"context"
	"encoding/json"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// Message represents a single message in a conversation.
// Messages are immutable after construction.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// System and User are shorthand constructors for the two message kinds the
// loops build every round.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolDefinition represents a tool/function that can be called.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ToolCall represents a native tool call requested by the LLM.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	RawArgs   string         `json:"raw_args"`
}

// Options carries per-call sampling and protocol parameters.
type Options struct {
	// Stop sequences. The textual protocol passes the observation opener
	// so the model cannot fabricate tool responses.
	Stop []string

	// Tools enables native function calling when non-empty.
	Tools []ToolDefinition

	// Temperature overrides the configured temperature when non-nil.
	Temperature *float64
}

// Completion is the result of one chat-completion call.
type Completion struct {
	// Content is the assistant text. Empty only when native ToolCalls
	// were returned: on unrecoverable failure it carries a sentinel error
	// string so callers can proceed to their own error branch.
	Content string

	// Reasoning carries the optional reasoning/thinking content some
	// models return alongside the answer.
	Reasoning string

	// ToolCalls holds native tool-call objects when the endpoint returned
	// any (native function-calling mode only).
	ToolCalls []ToolCall

	// Raw is the undecoded response body, for debugging.
	Raw json.RawMessage
}

// Provider is the chat-completion client contract.
type Provider interface {
	// Complete performs one chat-completion call. Transient failures are
	// retried internally; on exhaustion (or terminal auth failure) the
	// returned Completion carries ServerErrorSentinel as Content and the
	// error is nil, so agent loops never have to unwind.
	Complete(ctx context.Context, messages []Message, opts Options) (Completion, error)

	// ModelName returns the configured model identifier.
	ModelName() string
}

// ServerErrorSentinel is returned as completion content when all retry
// attempts are exhausted.
const ServerErrorSentinel = "LLM server error."
