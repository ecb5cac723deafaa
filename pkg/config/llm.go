package config

import "fmt"

// LLMProviderConfig configures the chat-completion endpoint.
// The endpoint is OpenAI-compatible; BaseURL may point at any conforming
// gateway (vLLM, litellm, OpenRouter, the OpenAI API itself).
type LLMProviderConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	Model   string `yaml:"model" json:"model"`

	Temperature     float64 `yaml:"temperature" json:"temperature"`
	TopP            float64 `yaml:"top_p" json:"top_p"`
	PresencePenalty float64 `yaml:"presence_penalty" json:"presence_penalty"`

	// ThinkingMode enables the provider's extended-thinking request body
	// extension ("enabled", "auto", ...). Empty disables it.
	ThinkingMode string `yaml:"thinking_mode" json:"thinking_mode"`

	// NativeToolCalls switches the agent from the textual tag protocol to
	// the endpoint's native function-calling mode.
	NativeToolCalls bool `yaml:"native_tool_calls" json:"native_tool_calls"`

	// Timeout is the per-call timeout in seconds.
	Timeout int `yaml:"timeout" json:"timeout"`

	// MaxRetries bounds retry attempts for transient API errors.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// RetryDelay is the backoff base delay in seconds.
	RetryDelay int `yaml:"retry_delay" json:"retry_delay"`
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.6
	}
	if c.TopP == 0 {
		c.TopP = 0.95
	}
	if c.PresencePenalty == 0 {
		c.PresencePenalty = 1.1
	}
	if c.Timeout == 0 {
		c.Timeout = 300
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1
	}
}

func (c *LLMProviderConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}
