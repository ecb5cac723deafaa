package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"github.com/titanous/json5"
	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/delver/pkg/observability"
	"github.com/kadirpekel/delver/pkg/tools"
)

// ToolProvider is the dispatcher's view of a tool set. The registry
// satisfies it directly; the planner substitutes memory-bank-wrapping
// tools through the same interface.
type ToolProvider interface {
	GetTool(name string) (tools.Tool, error)
	ListTools() []tools.ToolInfo
	ExecuteTool(ctx context.Context, name string, args map[string]any) (tools.ToolResult, error)
}

// cpuBoundTools are executed under the worker semaphore so document
// parsing cannot saturate the scheduler.
var cpuBoundTools = map[string]bool{
	"parse_file": true,
}

// Dispatcher resolves a <tool_call> payload to one tool execution (C1).
//
// It normalizes common LLM argument mistakes, caches idempotent calls for
// the lifetime of one agent-loop invocation, and converts every failure
// into an observation string: tool errors never abort the loop.
type Dispatcher struct {
	provider   ToolProvider
	idempotent map[string]bool
	cache      map[string]string
	workers    *semaphore.Weighted
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithIdempotentTools overrides the cached tool set. The default set is
// {retrieve}.
func WithIdempotentTools(names ...string) DispatcherOption {
	return func(d *Dispatcher) {
		d.idempotent = make(map[string]bool, len(names))
		for _, name := range names {
			d.idempotent[name] = true
		}
	}
}

// NewDispatcher creates a dispatcher over a tool provider. Each agent-loop
// invocation owns its own dispatcher; the cache is never shared across
// loops.
func NewDispatcher(provider ToolProvider, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		provider:   provider,
		idempotent: map[string]bool{"retrieve": true},
		cache:      make(map[string]string),
		workers:    semaphore.NewWeighted(int64(max(1, runtime.GOMAXPROCS(0)-1))),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ParsedCall is a decoded tool-call payload.
type ParsedCall struct {
	Name string
	Args map[string]any
}

// ParseToolCall decodes a <tool_call> payload. Payloads are permissive
// JSON; a fenced <code> tail turns the call into a python execution
// regardless of the JSON head.
func ParseToolCall(payload string) (ParsedCall, error) {
	if strings.Contains(payload, "<code>") && strings.Contains(payload, "</code>") {
		code := payload[strings.Index(payload, "<code>")+len("<code>"):]
		code = code[:strings.LastIndex(code, "</code>")]
		return ParsedCall{
			Name: "python",
			Args: map[string]any{"code": strings.TrimSpace(code)},
		}, nil
	}

	var decoded struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json5.Unmarshal([]byte(payload), &decoded); err != nil {
		return ParsedCall{}, fmt.Errorf("tool call is not valid JSON: %w", err)
	}
	if decoded.Arguments == nil {
		decoded.Arguments = map[string]any{}
	}
	return ParsedCall{Name: decoded.Name, Args: decoded.Arguments}, nil
}

// CanonicalKey builds the deterministic cache key of a call: the tool name
// plus the canonical JSON of its arguments (object keys sorted).
func CanonicalKey(name string, args map[string]any) string {
	return name + "::" + CanonicalArgs(args)
}

// CanonicalArgs renders arguments as deterministic JSON.
func CanonicalArgs(args map[string]any) string {
	raw, err := json.Marshal(sortedCopy(args))
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(raw)
}

// sortedCopy exists for documentation value: encoding/json already emits
// object keys in sorted order for maps, so a shallow copy suffices.
func sortedCopy(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = args[k]
	}
	return out
}

// Invoke parses and executes a textual tool-call payload, returning the
// observation string and whether it came from the idempotent cache.
func (d *Dispatcher) Invoke(ctx context.Context, payload string) (string, bool) {
	call, err := ParseToolCall(payload)
	if err != nil {
		return fmt.Sprintf("Error: Tool call failed. Input: %s. Error: %v", payload, err), false
	}
	return d.InvokeCall(ctx, call.Name, call.Args)
}

// InvokeCall executes one decoded tool call.
func (d *Dispatcher) InvokeCall(ctx context.Context, name string, args map[string]any) (string, bool) {
	tool, err := d.provider.GetTool(name)
	if err != nil || tool == nil {
		return fmt.Sprintf("Error: Tool %s not found", name), false
	}

	args = d.normalizeArgs(tool.GetInfo(), args)

	var cacheKey string
	if d.idempotent[name] {
		cacheKey = CanonicalKey(name, args)
		if cached, ok := d.cache[cacheKey]; ok {
			slog.Debug("Tool call cache hit", "tool", name)
			observability.GetGlobalMetrics().RecordToolCacheHit(ctx, name)
			return cached, true
		}
	}

	if cpuBoundTools[name] {
		if err := d.workers.Acquire(ctx, 1); err != nil {
			return fmt.Sprintf("Error: Tool execution failed. %v", err), false
		}
		defer d.workers.Release(1)
	}

	result, execErr := d.provider.ExecuteTool(ctx, name, args)

	var observation string
	switch {
	case execErr != nil:
		observation = fmt.Sprintf("Error: Tool execution failed. %v", execErr)
	case !result.Success:
		observation = fmt.Sprintf("Error: Tool execution failed. %s", result.Error)
	default:
		observation = result.Content
	}

	if cacheKey != "" && execErr == nil && result.Success {
		d.cache[cacheKey] = observation
	}

	return observation, false
}

// ListTools exposes the provider's descriptors for prompt construction.
func (d *Dispatcher) ListTools() []tools.ToolInfo {
	return d.provider.ListTools()
}

// ToolNames returns the visible tool names in listing order.
func (d *Dispatcher) ToolNames() []string {
	infos := d.provider.ListTools()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}

// normalizeArgs fixes common LLM argument mistakes: a scalar supplied for
// a list-valued field is promoted to a single-element list.
func (d *Dispatcher) normalizeArgs(info tools.ToolInfo, args map[string]any) map[string]any {
	for _, field := range info.ListParameters() {
		if val, ok := args[field]; ok {
			if s, isString := val.(string); isString {
				args[field] = []any{s}
			}
		}
	}
	return args
}
