package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/httpclient"
	"github.com/kadirpekel/delver/pkg/llms"
)

const extractorPrompt = `Please process the following webpage content and user goal to extract relevant information:

## **Webpage Content**
%s

## **User Goal**
%s

## **Task Guidelines**
1. **Content Scanning for Rational**: Locate the **specific sections/data** directly related to the user's goal within the webpage content
2. **Key Extraction for Evidence**: Identify and extract the **most relevant information** from the content, you never miss any important information, output the **full original context** of the content as far as possible, it can be more than three paragraphs.
3. **Summary Output for Summary**: Organize into a concise paragraph with logical flow, prioritizing clarity and judge the contribution of the information to the goal.

**Final Output Format using JSON format has "rational", "evidence", "summary" fields**
`

// VisitTool fetches webpages through a reader endpoint and runs a
// goal-directed extraction call against the summarizer LLM. The result the
// agent observes is the extracted evidence plus summary, not the raw page.
type VisitTool struct {
	config     *config.VisitToolConfig
	summarizer llms.Provider
	httpClient *httpclient.Client
}

func NewVisitTool(cfg *config.VisitToolConfig, summarizer llms.Provider) *VisitTool {
	if cfg == nil {
		cfg = &config.VisitToolConfig{}
	}
	cfg.SetDefaults()

	return &VisitTool{
		config:     cfg,
		summarizer: summarizer,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(2),
		),
	}
}

func (t *VisitTool) GetName() string {
	return "visit"
}

func (t *VisitTool) GetDescription() string {
	return "Visit webpage(s) and return the summary of the content."
}

func (t *VisitTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters: []ToolParameter{
			{
				Name:        "url",
				Type:        "array",
				Description: "The URL(s) of the webpage(s) to visit. Can be a single URL or an array of URLs.",
				Required:    true,
				Items:       map[string]any{"type": "string"},
			},
			{
				Name:        "goal",
				Type:        "string",
				Description: "The goal of the visit for webpage(s).",
				Required:    true,
			},
		},
	}
}

func (t *VisitTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	urls := getStringListArg(args, "url")
	goal := getStringArg(args, "goal", "")
	if len(urls) == 0 || goal == "" {
		return errorResult(t.GetName(), "Input must contain 'url' and 'goal' fields", start),
			fmt.Errorf("url and goal parameters are required")
	}

	var blocks []string
	for _, url := range urls {
		blocks = append(blocks, t.readPage(ctx, url, goal))
	}

	return successResult(t.GetName(), strings.TrimSpace(strings.Join(blocks, "\n=======\n")), start), nil
}

func (t *VisitTool) readPage(ctx context.Context, url, goal string) string {
	content, err := t.fetch(ctx, url)
	if err != nil || strings.TrimSpace(content) == "" {
		return unreadablePage(url, goal)
	}

	if len(content) > t.config.MaxContentLength {
		content = content[:t.config.MaxContentLength]
	}

	extraction, ok := t.extract(ctx, content, goal)
	if !ok {
		// Retry once on a truncated page before giving up.
		truncated := content
		if len(truncated) > 25000 {
			truncated = truncated[:25000]
		}
		extraction, ok = t.extract(ctx, truncated, goal)
		if !ok {
			return unreadablePage(url, goal)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The useful information in %s for user goal %s as follows: \n\n", url, goal)
	b.WriteString("Evidence in page: \n" + extraction.Evidence + "\n\n")
	b.WriteString("Summary: \n" + extraction.Summary + "\n\n")
	return b.String()
}

func (t *VisitTool) fetch(ctx context.Context, url string) (string, error) {
	readerURL := strings.TrimRight(t.config.ReaderEndpoint, "/") + "/" + url
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, readerURL, nil)
	if err != nil {
		return "", err
	}
	if t.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

type pageExtraction struct {
	Rational string `json:"rational"`
	Evidence string `json:"evidence"`
	Summary  string `json:"summary"`
}

func (t *VisitTool) extract(ctx context.Context, content, goal string) (pageExtraction, bool) {
	prompt := fmt.Sprintf(extractorPrompt, content, goal)
	completion, err := t.summarizer.Complete(ctx, []llms.Message{llms.User(prompt)}, llms.Options{})
	if err != nil || completion.Content == llms.ServerErrorSentinel {
		return pageExtraction{}, false
	}

	raw := completion.Content
	raw = strings.ReplaceAll(raw, "```json", "")
	raw = strings.ReplaceAll(raw, "```", "")
	raw = strings.TrimSpace(raw)

	// Models sometimes wrap the JSON in prose; cut to the outermost braces.
	if left, right := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); left != -1 && right > left {
		raw = raw[left : right+1]
	}

	var extraction pageExtraction
	if err := json.Unmarshal([]byte(raw), &extraction); err != nil {
		return pageExtraction{}, false
	}
	if extraction.Evidence == "" && extraction.Summary == "" {
		return pageExtraction{}, false
	}
	return extraction, true
}

func unreadablePage(url, goal string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The useful information in %s for user goal %s as follows: \n\n", url, goal)
	b.WriteString("Evidence in page: \nThe provided webpage content could not be accessed. Please check the URL or file format.\n\n")
	b.WriteString("Summary: \nThe webpage content could not be processed, and therefore, no information is available.\n\n")
	return b.String()
}

var _ Tool = (*VisitTool)(nil)
