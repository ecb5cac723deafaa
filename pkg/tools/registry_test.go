package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/delver/pkg/config"
)

// staticTool is a minimal Tool for registry tests.
type staticTool struct {
	name    string
	content string
}

func (t *staticTool) GetName() string        { return t.name }
func (t *staticTool) GetDescription() string { return "static " + t.name }
func (t *staticTool) GetInfo() ToolInfo {
	return ToolInfo{Name: t.name, Description: t.GetDescription()}
}
func (t *staticTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	return ToolResult{Success: true, Content: t.content, ToolName: t.name, ExecutionTime: time.Millisecond}, nil
}

// staticSource serves a fixed tool set.
type staticSource struct {
	name  string
	tools map[string]Tool
}

func (s *staticSource) GetName() string                        { return s.name }
func (s *staticSource) GetType() string                        { return "static" }
func (s *staticSource) DiscoverTools(ctx context.Context) error { return nil }
func (s *staticSource) ListTools() []ToolInfo {
	var infos []ToolInfo
	for _, t := range s.tools {
		infos = append(infos, t.GetInfo())
	}
	return infos
}
func (s *staticSource) GetTool(name string) (Tool, bool) {
	t, ok := s.tools[name]
	return t, ok
}

func TestToolRegistry_RegisterSource(t *testing.T) {
	registry := NewToolRegistry()
	source := &staticSource{name: "static", tools: map[string]Tool{
		"alpha": &staticTool{name: "alpha", content: "a"},
		"beta":  &staticTool{name: "beta", content: "b"},
	}}

	require.NoError(t, registry.RegisterSource(source))
	assert.Equal(t, 2, registry.Count())

	tool, err := registry.GetTool("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", tool.GetName())

	infos := registry.ListTools()
	require.Len(t, infos, 2)
	// Sorted by name with source attribution.
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "static", infos[0].SourceName)
}

func TestToolRegistry_GetUnknownTool(t *testing.T) {
	registry := NewToolRegistry()
	_, err := registry.GetTool("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool ghost not found")
}

func TestToolRegistry_ExecuteTool(t *testing.T) {
	registry := NewToolRegistry()
	source := &staticSource{name: "static", tools: map[string]Tool{
		"alpha": &staticTool{name: "alpha", content: "hello"},
	}}
	require.NoError(t, registry.RegisterSource(source))

	result, err := registry.ExecuteTool(context.Background(), "alpha", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.Content)

	result, err = registry.ExecuteTool(context.Background(), "ghost", nil)
	assert.Error(t, err)
	assert.False(t, result.Success)
}

func TestLocalToolSource_AllTools(t *testing.T) {
	cfg := &config.ToolsConfig{}
	cfg.SetDefaults()

	source := NewLocalToolSource(cfg, nil)
	require.NoError(t, source.DiscoverTools(context.Background()))

	names := map[string]bool{}
	for _, info := range source.ListTools() {
		names[info.Name] = true
	}
	for _, expected := range []string{"search", "google_scholar", "visit", "python", "parse_file"} {
		assert.True(t, names[expected], "missing tool %s", expected)
	}
}

func TestLocalToolSource_EnabledFilter(t *testing.T) {
	cfg := &config.ToolsConfig{Enabled: []string{"search", "python"}}
	cfg.SetDefaults()

	source := NewLocalToolSource(cfg, nil)
	require.NoError(t, source.DiscoverTools(context.Background()))

	assert.Len(t, source.ListTools(), 2)
	_, ok := source.GetTool("visit")
	assert.False(t, ok)
}
