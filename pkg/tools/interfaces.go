package tools

import (
	"context"
	"time"
)

type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
	SourceName  string          `json:"source_name,omitempty"`
}

type ToolParameter struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Required    bool           `json:"required"`
	Default     any            `json:"default,omitempty"`
	Enum        []string       `json:"enum,omitempty"`
	Items       map[string]any `json:"items,omitempty"`
}

// ParametersSchema renders the parameter list as a JSON-Schema object, the
// shape tool descriptors take in prompts and in native function-calling
// requests.
func (info ToolInfo) ParametersSchema() map[string]any {
	properties := make(map[string]any, len(info.Parameters))
	required := []string{}

	for _, p := range info.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = p.Items
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// ListParameters returns the names of list-valued parameters. The
// dispatcher promotes scalar arguments for these to single-element lists.
func (info ToolInfo) ListParameters() []string {
	var names []string
	for _, p := range info.Parameters {
		if p.Type == "array" {
			names = append(names, p.Name)
		}
	}
	return names
}

type ToolResult struct {
	Success       bool           `json:"success"`
	Content       string         `json:"content,omitempty"`
	Error         string         `json:"error,omitempty"`
	ToolName      string         `json:"tool_name"`
	ExecutionTime time.Duration  `json:"execution_time,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type Tool interface {
	GetInfo() ToolInfo

	Execute(ctx context.Context, args map[string]any) (ToolResult, error)

	GetName() string

	GetDescription() string
}

type ToolSource interface {
	GetName() string

	GetType() string

	DiscoverTools(ctx context.Context) error

	ListTools() []ToolInfo

	GetTool(name string) (Tool, bool)
}
