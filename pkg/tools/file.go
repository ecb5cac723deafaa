package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/kadirpekel/delver/pkg/config"
)

var xmlTagRe = regexp.MustCompile(`<[^>]+>`)

// FileTool parses local documents (pdf, docx, xlsx, plain text) under the
// configured file root and returns their textual content.
type FileTool struct {
	config *config.FileToolConfig
}

func NewFileTool(cfg *config.FileToolConfig) *FileTool {
	if cfg == nil {
		cfg = &config.FileToolConfig{}
	}
	cfg.SetDefaults()

	return &FileTool{config: cfg}
}

func (t *FileTool) GetName() string {
	return "parse_file"
}

func (t *FileTool) GetDescription() string {
	return "Parse local files (pdf, docx, xlsx, txt, md, csv) and return their textual content."
}

func (t *FileTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters: []ToolParameter{
			{
				Name:        "files",
				Type:        "array",
				Description: "File names to parse, relative to the configured file root.",
				Required:    true,
				Items:       map[string]any{"type": "string"},
			},
		},
	}
}

func (t *FileTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	files := getStringListArg(args, "files")
	if len(files) == 0 {
		return errorResult(t.GetName(), "'files' parameter is required and cannot be empty", start),
			fmt.Errorf("files parameter is required")
	}

	var blocks []string
	for _, name := range files {
		content, err := t.parseOne(name)
		if err != nil {
			content = fmt.Sprintf("Failed to parse %s: %v", name, err)
		}
		blocks = append(blocks, fmt.Sprintf("## File: %s\n\n%s", name, content))
	}

	return successResult(t.GetName(), strings.Join(blocks, "\n=======\n"), start), nil
}

func (t *FileTool) parseOne(name string) (string, error) {
	path, err := t.resolvePath(name)
	if err != nil {
		return "", err
	}

	var content string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		content, err = parsePDF(path)
	case ".docx":
		content, err = parseDocx(path)
	case ".xlsx", ".xlsm":
		content, err = parseXLSX(path)
	default:
		content, err = parsePlainText(path)
	}
	if err != nil {
		return "", err
	}

	if len(content) > t.config.MaxFileBytes {
		content = content[:t.config.MaxFileBytes] + "\n\n[truncated]"
	}
	return content, nil
}

// resolvePath joins the file root and rejects traversal outside of it.
func (t *FileTool) resolvePath(name string) (string, error) {
	root, err := filepath.Abs(t.config.FileRoot)
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, name)
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("file %s is outside the configured file root", name)
	}
	return path, nil
}

func parsePDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func parseDocx(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	raw := r.Editable().GetContent()
	// GetContent returns the document XML; keep paragraph breaks while
	// stripping markup.
	raw = strings.ReplaceAll(raw, "</w:p>", "\n")
	text := xmlTagRe.ReplaceAllString(raw, "")
	return strings.TrimSpace(text), nil
}

func parseXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "### Sheet: %s\n", sheet)
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

func parsePlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var _ Tool = (*FileTool)(nil)
