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
)

// ScholarTool retrieves academic publications through a Serper-compatible
// scholar endpoint.
type ScholarTool struct {
	config     *config.ScholarToolConfig
	httpClient *httpclient.Client
}

type scholarResult struct {
	Organic []struct {
		Title           string `json:"title"`
		Link            string `json:"link"`
		PDFURL          string `json:"pdfUrl"`
		Snippet         string `json:"snippet"`
		Year            int    `json:"year"`
		PublicationInfo string `json:"publicationInfo"`
		CitedBy         int    `json:"citedBy"`
	} `json:"organic"`
}

func NewScholarTool(cfg *config.ScholarToolConfig) *ScholarTool {
	if cfg == nil {
		cfg = &config.ScholarToolConfig{}
	}
	cfg.SetDefaults()

	return &ScholarTool{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(3),
		),
	}
}

func (t *ScholarTool) GetName() string {
	return "google_scholar"
}

func (t *ScholarTool) GetDescription() string {
	return "Leverage Google Scholar to retrieve relevant information from academic publications. Accepts multiple queries. max 5 queries."
}

func (t *ScholarTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters: []ToolParameter{
			{
				Name:        "query",
				Type:        "array",
				Description: "The list of search queries for Google Scholar. max 5 queries.",
				Required:    true,
				Items:       map[string]any{"type": "string"},
			},
		},
	}
}

func (t *ScholarTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
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
			block = fmt.Sprintf("Scholar search failed for '%s': %v", query, err)
		}
		blocks = append(blocks, block)
	}

	return successResult(t.GetName(), strings.Join(blocks, "\n=======\n"), start), nil
}

func (t *ScholarTool) searchOne(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(map[string]any{"q": query})
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

	var result scholarResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("failed to decode scholar response: %w", err)
	}

	if len(result.Organic) == 0 {
		return fmt.Sprintf("No scholar results found for query: '%s'.", query), nil
	}

	limit := t.config.MaxResults
	if limit > len(result.Organic) {
		limit = len(result.Organic)
	}

	var items []string
	for idx, page := range result.Organic[:limit] {
		var b strings.Builder
		if page.PDFURL != "" {
			fmt.Fprintf(&b, "%d. [%s](%s)", idx+1, page.Title, page.PDFURL)
		} else if page.Link != "" {
			fmt.Fprintf(&b, "%d. [%s](%s)", idx+1, page.Title, page.Link)
		} else {
			fmt.Fprintf(&b, "%d. [%s]", idx+1, page.Title)
		}
		if page.Year != 0 {
			fmt.Fprintf(&b, "\nYear: %d", page.Year)
		}
		if page.PublicationInfo != "" {
			b.WriteString("\nPublication: " + page.PublicationInfo)
		}
		if page.CitedBy != 0 {
			fmt.Fprintf(&b, "\nCited by: %d", page.CitedBy)
		}
		if page.Snippet != "" {
			b.WriteString("\n\n" + page.Snippet)
		}
		items = append(items, b.String())
	}

	return fmt.Sprintf("A Google Scholar search for '%s' found %d results:\n\n## Scholar Results\n%s",
		query, len(items), strings.Join(items, "\n\n")), nil
}

var _ Tool = (*ScholarTool)(nil)
