package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/delver/pkg/observability"
	"github.com/kadirpekel/delver/pkg/registry"
)

type ToolEntry struct {
	Tool       Tool
	Source     ToolSource
	SourceType string
	Name       string
}

type ToolRegistryError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *ToolRegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func NewToolRegistryError(component, action, message string, err error) *ToolRegistryError {
	return &ToolRegistryError{
		Component: component,
		Action:    action,
		Message:   message,
		Err:       err,
	}
}

type ToolRegistry struct {
	*registry.BaseRegistry[ToolEntry]
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		BaseRegistry: registry.NewBaseRegistry[ToolEntry](),
	}
}

// RegisterSource discovers a source's tools and registers each one.
func (r *ToolRegistry) RegisterSource(source ToolSource) error {
	name := source.GetName()
	if name == "" {
		return NewToolRegistryError("ToolRegistry", "RegisterSource", "source name cannot be empty", nil)
	}

	if err := source.DiscoverTools(context.Background()); err != nil {
		return NewToolRegistryError("ToolRegistry", "RegisterSource",
			fmt.Sprintf("failed to discover tools from source %s", name), err)
	}

	for _, toolInfo := range source.ListTools() {
		tool, exists := source.GetTool(toolInfo.Name)
		if !exists {
			slog.Warn("Tool listed but not available", "tool", toolInfo.Name, "source", name)
			continue
		}

		entry := ToolEntry{
			Tool:       tool,
			Source:     source,
			SourceType: source.GetType(),
			Name:       toolInfo.Name,
		}

		if err := r.Register(toolInfo.Name, entry); err != nil {
			return NewToolRegistryError("ToolRegistry", "RegisterSource",
				fmt.Sprintf("failed to register tool %s", toolInfo.Name), err)
		}
	}

	return nil
}

func (r *ToolRegistry) GetTool(name string) (Tool, error) {
	entry, exists := r.Get(name)
	if !exists {
		return nil, NewToolRegistryError("ToolRegistry", "GetTool",
			fmt.Sprintf("tool %s not found", name), nil)
	}
	return entry.Tool, nil
}

func (r *ToolRegistry) ListTools() []ToolInfo {
	var tools []ToolInfo
	for _, entry := range r.List() {
		info := entry.Tool.GetInfo()
		info.SourceName = entry.Source.GetName()
		tools = append(tools, info)
	}

	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})

	return tools
}

// ExecuteTool runs a tool by name with tracing and metrics.
func (r *ToolRegistry) ExecuteTool(ctx context.Context, toolName string, args map[string]any) (ToolResult, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("delver.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, toolName),
		),
	)
	defer span.End()

	metrics := observability.GetGlobalMetrics()

	tool, err := r.GetTool(toolName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool not found")
		metrics.RecordToolExecution(ctx, toolName, time.Since(startTime), err)

		return ToolResult{
			Success:  false,
			Error:    err.Error(),
			ToolName: toolName,
		}, err
	}

	result, execErr := tool.Execute(ctx, args)
	duration := time.Since(startTime)

	var recordErr error
	switch {
	case execErr != nil:
		recordErr = execErr
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
	case !result.Success:
		recordErr = fmt.Errorf("%s", result.Error)
		span.RecordError(recordErr)
		span.SetStatus(codes.Error, result.Error)
	default:
		span.SetStatus(codes.Ok, "success")
	}
	metrics.RecordToolExecution(ctx, toolName, duration, recordErr)

	span.SetAttributes(
		attribute.Bool("tool.success", result.Success),
		attribute.Int64("tool.duration_ms", duration.Milliseconds()),
	)

	return result, execErr
}
