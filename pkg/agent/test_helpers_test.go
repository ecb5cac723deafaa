package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/llms"
	"github.com/kadirpekel/delver/pkg/tools"
)

// scriptedProvider replays canned responses in order. The last response
// repeats once the script is exhausted.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []llms.Completion
	calls     [][]llms.Message
}

func newScriptedProvider(contents ...string) *scriptedProvider {
	p := &scriptedProvider{}
	for _, content := range contents {
		p.responses = append(p.responses, llms.Completion{Content: content})
	}
	return p
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []llms.Message, opts llms.Options) (llms.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, messages)
	if len(p.responses) == 0 {
		return llms.Completion{Content: llms.ServerErrorSentinel}, nil
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func (p *scriptedProvider) ModelName() string {
	return "gpt-4o"
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *scriptedProvider) lastCall() []llms.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

// echoTool returns a canned string and counts executions.
type echoTool struct {
	name       string
	output     string
	listParams []string
	mu         sync.Mutex
	executions int
	lastArgs   map[string]any
}

func (t *echoTool) GetName() string        { return t.name }
func (t *echoTool) GetDescription() string { return "test tool " + t.name }

func (t *echoTool) GetInfo() tools.ToolInfo {
	info := tools.ToolInfo{Name: t.name, Description: t.GetDescription()}
	for _, p := range t.listParams {
		info.Parameters = append(info.Parameters, tools.ToolParameter{
			Name: p, Type: "array", Items: map[string]any{"type": "string"},
		})
	}
	return info
}

func (t *echoTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executions++
	t.lastArgs = args
	return tools.ToolResult{
		Success:       true,
		Content:       t.output,
		ToolName:      t.name,
		ExecutionTime: time.Millisecond,
	}, nil
}

// failingTool always errors.
type failingTool struct{ name string }

func (t *failingTool) GetName() string            { return t.name }
func (t *failingTool) GetDescription() string     { return "always fails" }
func (t *failingTool) GetInfo() tools.ToolInfo    { return tools.ToolInfo{Name: t.name} }
func (t *failingTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	return tools.ToolResult{Success: false, Error: "boom", ToolName: t.name}, fmt.Errorf("boom")
}

// mapToolProvider is a simple in-memory ToolProvider.
type mapToolProvider struct {
	tools map[string]tools.Tool
}

func newMapToolProvider(list ...tools.Tool) *mapToolProvider {
	m := &mapToolProvider{tools: make(map[string]tools.Tool)}
	for _, t := range list {
		m.tools[t.GetName()] = t
	}
	return m
}

func (m *mapToolProvider) GetTool(name string) (tools.Tool, error) {
	t, ok := m.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	return t, nil
}

func (m *mapToolProvider) ListTools() []tools.ToolInfo {
	var infos []tools.ToolInfo
	for _, t := range m.tools {
		infos = append(infos, t.GetInfo())
	}
	return infos
}

func (m *mapToolProvider) ExecuteTool(ctx context.Context, name string, args map[string]any) (tools.ToolResult, error) {
	t, err := m.GetTool(name)
	if err != nil {
		return tools.ToolResult{Success: false, Error: err.Error(), ToolName: name}, err
	}
	return t.Execute(ctx, args)
}

func testAgentConfig() config.AgentConfig {
	cfg := config.AgentConfig{}
	cfg.SetDefaults()
	cfg.MaxLLMCalls = 5
	return cfg
}
