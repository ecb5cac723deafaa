package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/httpclient"
)

var tripleBacktickRe = regexp.MustCompile("(?s)```[^\n]*\n(.+?)```")

// PythonTool executes Python code in a remote sandbox. Without a configured
// sandbox the tool reports that execution is unavailable rather than running
// untrusted code in-process.
type PythonTool struct {
	config     *config.PythonToolConfig
	httpClient *httpclient.Client
}

type sandboxRequest struct {
	Code       string `json:"code"`
	Language   string `json:"language"`
	RunTimeout int    `json:"run_timeout"`
}

type sandboxResponse struct {
	Status string `json:"status"`
	RunResult struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
	} `json:"run_result"`
	Message string `json:"message"`
}

func NewPythonTool(cfg *config.PythonToolConfig) *PythonTool {
	if cfg == nil {
		cfg = &config.PythonToolConfig{}
	}
	cfg.SetDefaults()

	return &PythonTool{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(2),
		),
	}
}

func (t *PythonTool) GetName() string {
	return "python"
}

func (t *PythonTool) GetDescription() string {
	return "Execute Python code in a sandboxed environment. Use this to run Python code and get the execution results.\n**Make sure to use print() for any output you want to see in the results.**"
}

func (t *PythonTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters: []ToolParameter{
			{
				Name:        "code",
				Type:        "string",
				Description: "The Python code to execute. Remember to use print() statements for any output you want to see.",
				Required:    true,
			},
		},
	}
}

func (t *PythonTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	code := getStringArg(args, "code", "")
	if code == "" {
		code = getStringArg(args, "raw", "")
	}
	if code == "" {
		return errorResult(t.GetName(), "'code' parameter is required", start),
			fmt.Errorf("code parameter is required")
	}

	// Strip a markdown fence if the model wrapped the code in one.
	if m := tripleBacktickRe.FindStringSubmatch(code); m != nil {
		code = m[1]
	}
	code = strings.TrimSpace(code)

	if t.config.SandboxURL == "" {
		return errorResult(t.GetName(), "Python sandbox is not configured (SANDBOX_FUSE_URL)", start), nil
	}

	output, err := t.runInSandbox(ctx, code)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("sandbox execution failed: %v", err), start), nil
	}

	return successResult(t.GetName(), output, start), nil
}

func (t *PythonTool) runInSandbox(ctx context.Context, code string) (string, error) {
	body, err := json.Marshal(sandboxRequest{
		Code:       code,
		Language:   "python",
		RunTimeout: t.config.Timeout,
	})
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(t.config.SandboxURL, "/") + "/run_code"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var result sandboxResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("failed to decode sandbox response: %w", err)
	}

	var b strings.Builder
	if stdout := strings.TrimSpace(result.RunResult.Stdout); stdout != "" {
		b.WriteString("stdout:\n" + stdout)
	}
	if stderr := strings.TrimSpace(result.RunResult.Stderr); stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("stderr:\n" + stderr)
	}
	if b.Len() == 0 {
		if result.Message != "" {
			return result.Message, nil
		}
		return "Finished execution.", nil
	}
	return b.String(), nil
}

var _ Tool = (*PythonTool)(nil)
