package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/config/provider"
	"github.com/kadirpekel/delver/pkg/llms"
	"github.com/kadirpekel/delver/pkg/logger"
	"github.com/kadirpekel/delver/pkg/session"
	"github.com/kadirpekel/delver/pkg/tools"
)

// applyLoggerConfig re-initializes the logger from the loaded config,
// honoring an optional log file.
func applyLoggerConfig(cfg *config.LoggerConfig) error {
	level, _ := logger.ParseLevel(cfg.Level)

	output := os.Stderr
	if cfg.File != "" {
		file, _, err := logger.OpenLogFile(cfg.File)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
	}

	logger.Init(level, output, cfg.Format)
	return nil
}

// loadConfig builds the effective configuration: the config file when one
// is given, environment-driven defaults otherwise.
func loadConfig(ctx context.Context, path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}

	p, err := provider.New(provider.TypeFile, path)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	return config.NewLoader(p).Load(ctx)
}

// buildRuntime wires the LLM provider, the tool registry (local tools plus
// configured MCP sources), and the session manager.
func buildRuntime(ctx context.Context, cfg *config.Config) (*session.Manager, error) {
	llmProvider := llms.NewOpenAIProvider(&cfg.LLM)

	registry := tools.NewToolRegistry()
	if err := registry.RegisterSource(tools.NewLocalToolSource(&cfg.Tools, llmProvider)); err != nil {
		return nil, fmt.Errorf("failed to register local tools: %w", err)
	}

	for _, mcpCfg := range cfg.Tools.MCP {
		source, err := tools.NewMCPToolSource(mcpCfg)
		if err != nil {
			slog.Warn("Skipping invalid MCP server", "name", mcpCfg.Name, "error", err)
			continue
		}
		if err := registry.RegisterSource(source); err != nil {
			slog.Warn("Failed to register MCP source", "name", mcpCfg.Name, "error", err)
		}
	}

	slog.Info("Tool registry ready", "tools", len(registry.ListTools()))
	return session.NewManager(cfg, llmProvider, registry), nil
}
