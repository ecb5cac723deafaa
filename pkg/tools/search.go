package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/httpclient"
	"github.com/kadirpekel/delver/pkg/utils"
)

// SearchTool performs batched web searches through a Serper-compatible
// provider. Each query yields a markdown-formatted result block; blocks for
// multiple queries are joined with a "=======" separator.
type SearchTool struct {
	config     *config.SearchToolConfig
	httpClient *httpclient.Client
}

type serperResult struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Date    string `json:"date"`
		Source  string `json:"source"`
	} `json:"organic"`
}

func NewSearchTool(cfg *config.SearchToolConfig) *SearchTool {
	if cfg == nil {
		cfg = &config.SearchToolConfig{}
	}
	cfg.SetDefaults()

	return &SearchTool{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(3),
		),
	}
}

func (t *SearchTool) GetName() string {
	return "search"
}

func (t *SearchTool) GetDescription() string {
	return "Performs batched web searches: supply an array 'query'; the tool retrieves the top results for each query in one call. max 5 queries."
}

func (t *SearchTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters: []ToolParameter{
			{
				Name:        "query",
				Type:        "array",
				Description: "Array of query strings. Include multiple complementary search queries in a single call. max 5 queries.",
				Required:    true,
				Items:       map[string]any{"type": "string"},
			},
		},
	}
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	queries := getStringListArg(args, "query")
	if len(queries) == 0 {
		return errorResult(t.GetName(), "'query' parameter is required and cannot be empty", start),
			fmt.Errorf("query parameter is required")
	}

	var blocks []string
	for _, query := range queries {
		block, err := t.searchOne(ctx, query)
		if err != nil {
			block = fmt.Sprintf("Search failed for '%s': %v", query, err)
		}
		blocks = append(blocks, block)
	}

	return successResult(t.GetName(), strings.Join(blocks, "\n=======\n"), start), nil
}

func (t *SearchTool) searchOne(ctx context.Context, query string) (string, error) {
	payload := map[string]any{
		"q":   query,
		"num": t.config.MaxResults,
	}
	// Localize result ranking for CJK queries.
	if utils.ContainsCJK(query) {
		payload["location"] = "China"
		payload["gl"] = "cn"
		payload["hl"] = "zh-cn"
	} else {
		payload["location"] = "United States"
		payload["gl"] = "us"
		payload["hl"] = "en"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("X-API-KEY", t.config.APIKey)
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

	var result serperResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(result.Organic) == 0 {
		return fmt.Sprintf("No results found for query: '%s'. Use a less specific query.", query), nil
	}

	var snippets []string
	for idx, page := range result.Organic {
		var b strings.Builder
		fmt.Fprintf(&b, "%d. [%s](%s)", idx+1, page.Title, page.Link)
		if page.Date != "" {
			b.WriteString("\nDate published: " + page.Date)
		}
		if page.Source != "" {
			b.WriteString("\nSource: " + page.Source)
		}
		if page.Snippet != "" {
			b.WriteString("\n\n" + page.Snippet)
		}
		snippets = append(snippets, b.String())
	}

	return fmt.Sprintf("A Google search for '%s' found %d results:\n\n## Web Results\n%s",
		query, len(snippets), strings.Join(snippets, "\n\n")), nil
}

var _ Tool = (*SearchTool)(nil)
