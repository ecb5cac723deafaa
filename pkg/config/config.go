// Package config holds the delver configuration model.
//
// Configuration is assembled from three layers, later layers winning:
// built-in defaults, a YAML config file (optional), and environment
// variables. The research runtime receives one immutable *Config at
// construction; there are no configuration singletons.
package config

import (
	"fmt"
)

// Config is the root configuration for the delver runtime.
type Config struct {
	LLM    LLMProviderConfig `yaml:"llm" json:"llm"`
	Agent  AgentConfig       `yaml:"agent" json:"agent"`
	Tools  ToolsConfig       `yaml:"tools" json:"tools"`
	Server ServerConfig      `yaml:"server" json:"server"`
	Logger LoggerConfig      `yaml:"logger" json:"logger"`
}

// LoggerConfig controls slog setup.
type LoggerConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // simple, verbose
	File   string `yaml:"file" json:"file"`     // empty = stderr
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.LLM.SetDefaults()
	c.Agent.SetDefaults()
	c.Tools.SetDefaults()
	c.Server.SetDefaults()
	c.Logger.SetDefaults()
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Default returns a configuration built from defaults and environment
// variables alone, for running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.applyEnvOverrides()
	return cfg
}
