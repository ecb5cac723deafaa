// Package tools: MCP tool source.
//
// MCP (Model Context Protocol) allows connecting to external tool servers
// that expose tools via a standardized protocol. Tools discovered from MCP
// servers join the registry next to the built-in set.
//
// Transport support:
//   - stdio: uses the mcp-go library for subprocess communication
//   - streamable-http: JSON-RPC over HTTP with retry/backoff
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/httpclient"
)

// MCPToolSource exposes one MCP server's tools.
type MCPToolSource struct {
	cfg config.MCPServerConfig

	mu         sync.Mutex
	client     *client.Client     // stdio transport
	httpClient *httpclient.Client // HTTP transport
	sessionID  string             // streamable-http session
	sessionMu  sync.RWMutex
	tools      map[string]Tool
	filterSet  map[string]bool
}

// NewMCPToolSource creates a source for one configured MCP server.
func NewMCPToolSource(cfg config.MCPServerConfig) (*MCPToolSource, error) {
	if cfg.ServerURL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("either server_url or command is required")
	}
	if cfg.Name == "" {
		cfg.Name = "mcp"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30
	}

	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}

	return &MCPToolSource{
		cfg:       cfg,
		tools:     make(map[string]Tool),
		filterSet: filterSet,
	}, nil
}

func (s *MCPToolSource) GetName() string {
	return s.cfg.Name
}

func (s *MCPToolSource) GetType() string {
	return "mcp"
}

// DiscoverTools connects to the server and lists its tools.
func (s *MCPToolSource) DiscoverTools(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Command != "" {
		return s.discoverStdio(ctx)
	}
	return s.discoverHTTP(ctx)
}

func (s *MCPToolSource) discoverStdio(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(s.cfg.Command, nil, s.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "delver",
		Version: "0.1.0",
	}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	s.client = mcpClient
	s.tools = make(map[string]Tool)
	for _, mcpTool := range listResp.Tools {
		if s.filterSet != nil && !s.filterSet[mcpTool.Name] {
			continue
		}
		s.tools[mcpTool.Name] = &mcpRemoteTool{
			source:   s,
			name:     mcpTool.Name,
			desc:     mcpTool.Description,
			useStdio: true,
		}
	}

	slog.Info("Connected to MCP server (stdio)",
		"name", s.cfg.Name,
		"command", s.cfg.Command,
		"tools", len(s.tools),
	)
	return nil
}

func (s *MCPToolSource) discoverHTTP(ctx context.Context) error {
	s.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(s.cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(3),
		httpclient.WithBaseDelay(2*time.Second),
	)

	initResp, err := s.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo": map[string]any{
			"name":    "delver",
			"version": "0.1.0",
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("MCP init error: %s", initResp.Error.Message)
	}

	listResp, err := s.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("MCP list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected result type from tools/list")
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("missing tools in tools/list response")
	}

	s.tools = make(map[string]Tool)
	for _, toolRaw := range toolsList {
		toolMap, ok := toolRaw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		desc, _ := toolMap["description"].(string)
		if name == "" {
			continue
		}
		if s.filterSet != nil && !s.filterSet[name] {
			continue
		}
		s.tools[name] = &mcpRemoteTool{
			source: s,
			name:   name,
			desc:   desc,
		}
	}

	slog.Info("Connected to MCP server (HTTP)",
		"name", s.cfg.Name,
		"url", s.cfg.ServerURL,
		"tools", len(s.tools),
	)
	return nil
}

func (s *MCPToolSource) ListTools() []ToolInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]ToolInfo, 0, len(s.tools))
	for _, tool := range s.tools {
		infos = append(infos, tool.GetInfo())
	}
	return infos
}

func (s *MCPToolSource) GetTool(name string) (Tool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tool, ok := s.tools[name]
	return tool, ok
}

// Close shuts down the MCP connection.
func (s *MCPToolSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	s.httpClient = nil
	return nil
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *MCPToolSource) rpc(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ServerURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	s.sessionMu.RLock()
	sessionID := s.sessionID
	s.sessionMu.RUnlock()
	if sessionID != "" {
		httpReq.Header.Set("mcp-session-id", sessionID)
	}

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if newSessionID := httpResp.Header.Get("mcp-session-id"); newSessionID != "" {
		s.sessionMu.Lock()
		s.sessionID = newSessionID
		s.sessionMu.Unlock()
	}

	responseBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(responseBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &resp, nil
}

// mcpRemoteTool wraps one remote tool as a registry Tool.
type mcpRemoteTool struct {
	source   *MCPToolSource
	name     string
	desc     string
	useStdio bool
}

func (t *mcpRemoteTool) GetName() string {
	return t.name
}

func (t *mcpRemoteTool) GetDescription() string {
	return t.desc
}

func (t *mcpRemoteTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.name,
		Description: t.desc,
		SourceName:  t.source.GetName(),
	}
}

func (t *mcpRemoteTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	var content string
	var err error
	if t.useStdio {
		content, err = t.callStdio(ctx, args)
	} else {
		content, err = t.callHTTP(ctx, args)
	}
	if err != nil {
		return errorResult(t.name, err.Error(), start), err
	}

	return successResult(t.name, content, start), nil
}

func (t *mcpRemoteTool) callStdio(ctx context.Context, args map[string]any) (string, error) {
	t.source.mu.Lock()
	mcpClient := t.source.client
	t.source.mu.Unlock()

	if mcpClient == nil {
		return "", fmt.Errorf("MCP client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("MCP call failed: %w", err)
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	joined := strings.Join(texts, "\n")
	if resp.IsError {
		return "", fmt.Errorf("%s", joined)
	}
	return joined, nil
}

func (t *mcpRemoteTool) callHTTP(ctx context.Context, args map[string]any) (string, error) {
	resp, err := t.source.rpc(ctx, "tools/call", map[string]any{
		"name":      t.name,
		"arguments": args,
	})
	if err != nil {
		return "", fmt.Errorf("MCP call failed: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%s", resp.Error.Message)
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		raw, _ := json.Marshal(resp.Result)
		return string(raw), nil
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			if cm, ok := c.(map[string]any); ok && cm["type"] == "text" {
				if text, ok := cm["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
	}
	joined := strings.Join(texts, "\n")
	if isError, _ := resultMap["isError"].(bool); isError {
		return "", fmt.Errorf("%s", joined)
	}
	return joined, nil
}

var (
	_ ToolSource = (*MCPToolSource)(nil)
	_ Tool       = (*mcpRemoteTool)(nil)
)
