package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/httpclient"
	"github.com/kadirpekel/delver/pkg/observability"
	"github.com/titanous/json5"
)

const (
	openAIDefaultHost = "https://api.openai.com/v1"

	// Empty or transport-failed completions are attempted at most this
	// many times in total, on top of the HTTP client's own retry loop.
	maxCompletionAttempts = 3

	// Backoff sleeps never exceed this, matching the runtime-wide cap.
	maxBackoffSleep = 30 * time.Second
)

// OpenAIProvider talks to an OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
}

// NewOpenAIProvider creates a provider from config.
func NewOpenAIProvider(cfg *config.LLMProviderConfig) *OpenAIProvider {
	return &OpenAIProvider{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithMaxDelay(maxBackoffSleep),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}
}

// CloneWithTemperature returns a provider sharing the endpoint but with a
// different base temperature. Used for sampling diversity across parallel
// agents.
func (p *OpenAIProvider) CloneWithTemperature(temperature float64) *OpenAIProvider {
	cfg := *p.config
	cfg.Temperature = temperature
	return NewOpenAIProvider(&cfg)
}

// ModelName returns the configured model identifier.
func (p *OpenAIProvider) ModelName() string {
	return p.config.Model
}

// Temperature returns the configured base temperature.
func (p *OpenAIProvider) Temperature() float64 {
	return p.config.Temperature
}

// chatRequest is the chat completions request body. Thinking is a body
// extension understood by thinking-mode gateways and ignored elsewhere.
type chatRequest struct {
	Model           string           `json:"model"`
	Messages        []chatMessage    `json:"messages"`
	Stop            []string         `json:"stop,omitempty"`
	Temperature     float64          `json:"temperature"`
	TopP            float64          `json:"top_p,omitempty"`
	PresencePenalty float64          `json:"presence_penalty,omitempty"`
	Tools           []chatTool       `json:"tools,omitempty"`
	Thinking        *thinkingPayload `json:"thinking,omitempty"`
}

type thinkingPayload struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string         `json:"content"`
			ReasoningContent string         `json:"reasoning_content"`
			ToolCalls        []chatToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete performs one chat-completion call with retry.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	tracer := observability.GetTracer("delver.llms")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(attribute.String(observability.AttrLLMModel, p.config.Model)),
	)
	defer span.End()

	start := time.Now()
	metrics := observability.GetGlobalMetrics()

	body, err := json.Marshal(p.buildRequest(messages, opts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return Completion{Content: ServerErrorSentinel}, fmt.Errorf("failed to marshal request: %w", err)
	}

	for attempt := 0; attempt < maxCompletionAttempts; attempt++ {
		if attempt > 0 {
			metrics.RecordLLMRetry(ctx, p.config.Model)
			sleepBackoff(ctx, attempt)
		}

		completion, err := p.attempt(ctx, body)
		if err == nil && strings.TrimSpace(completion.Content) == "" && len(completion.ToolCalls) == 0 {
			slog.Warn("Empty LLM response received", "attempt", attempt+1, "model", p.config.Model)
			continue
		}
		if err != nil {
			if httpclient.IsAuthError(err) {
				// Terminal: never retried, degrade to the sentinel.
				slog.Error("LLM authentication failed", "model", p.config.Model, "error", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, "auth failed")
				metrics.RecordLLMCall(ctx, p.config.Model, time.Since(start), err)
				return Completion{Content: ServerErrorSentinel}, nil
			}
			slog.Warn("LLM call failed",
				"attempt", attempt+1,
				"model", p.config.Model,
				"base_url", p.baseURL(),
				"error", err)
			continue
		}

		span.SetStatus(codes.Ok, "success")
		metrics.RecordLLMCall(ctx, p.config.Model, time.Since(start), nil)
		return completion, nil
	}

	slog.Error("All LLM retry attempts exhausted", "model", p.config.Model)
	span.SetStatus(codes.Error, "retries exhausted")
	metrics.RecordLLMCall(ctx, p.config.Model, time.Since(start), fmt.Errorf("retries exhausted"))
	return Completion{Content: ServerErrorSentinel}, nil
}

func (p *OpenAIProvider) buildRequest(messages []Message, opts Options) chatRequest {
	req := chatRequest{
		Model:           p.config.Model,
		Messages:        make([]chatMessage, 0, len(messages)),
		Stop:            opts.Stop,
		Temperature:     p.config.Temperature,
		TopP:            p.config.TopP,
		PresencePenalty: p.config.PresencePenalty,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if p.config.ThinkingMode != "" {
		req.Thinking = &thinkingPayload{Type: p.config.ThinkingMode}
	}

	for _, m := range messages {
		cm := chatMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			ctc := chatToolCall{ID: tc.ID, Type: "function"}
			ctc.Function.Name = tc.Name
			ctc.Function.Arguments = tc.RawArgs
			cm.ToolCalls = append(cm.ToolCalls, ctc)
		}
		req.Messages = append(req.Messages, cm)
	}

	for _, t := range opts.Tools {
		req.Tools = append(req.Tools, chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return req
}

func (p *OpenAIProvider) attempt(ctx context.Context, body []byte) (Completion, error) {
	url := strings.TrimRight(p.baseURL(), "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Completion{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return Completion{}, fmt.Errorf("API error: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, fmt.Errorf("response contained no choices")
	}

	msg := parsed.Choices[0].Message
	completion := Completion{
		Content:   strings.TrimSpace(msg.Content),
		Reasoning: msg.ReasoningContent,
		Raw:       raw,
	}
	for _, tc := range msg.ToolCalls {
		call := ToolCall{
			ID:      tc.ID,
			Name:    tc.Function.Name,
			RawArgs: tc.Function.Arguments,
		}
		// Arguments may be permissive JSON; decode best-effort and hand
		// the raw string downstream regardless.
		var args map[string]any
		if err := json5.Unmarshal([]byte(tc.Function.Arguments), &args); err == nil {
			call.Arguments = args
		}
		completion.ToolCalls = append(completion.ToolCalls, call)
	}

	return completion, nil
}

func (p *OpenAIProvider) baseURL() string {
	if p.config.BaseURL != "" {
		return p.config.BaseURL
	}
	return openAIDefaultHost
}

// sleepBackoff sleeps for an exponentially growing delay with jitter,
// respecting context cancellation.
func sleepBackoff(ctx context.Context, attempt int) {
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	delay += time.Duration(rand.Float64() * float64(time.Second))
	if delay > maxBackoffSleep {
		delay = maxBackoffSleep
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

var _ Provider = (*OpenAIProvider)(nil)
