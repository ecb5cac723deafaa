package weaver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/delver/pkg/tools"
)

// EvidenceTool wraps a base tool so that its textual output is parsed into
// one or more evidence chunks, each appended to the Memory Bank. The
// planner observes citation IDs and summaries instead of raw tool output.
type EvidenceTool struct {
	base tools.Tool
	bank *MemoryBank
}

func NewEvidenceTool(base tools.Tool, bank *MemoryBank) *EvidenceTool {
	return &EvidenceTool{base: base, bank: bank}
}

func (t *EvidenceTool) GetName() string {
	return t.base.GetName()
}

func (t *EvidenceTool) GetDescription() string {
	return t.base.GetDescription() + " Evidence found is saved to the memory bank with citation IDs."
}

func (t *EvidenceTool) GetInfo() tools.ToolInfo {
	info := t.base.GetInfo()
	info.Description = t.GetDescription()
	return info
}

func (t *EvidenceTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	start := time.Now()

	result, err := t.base.Execute(ctx, args)
	if err != nil || !result.Success {
		return result, err
	}

	chunks := parseEvidenceChunks(result.Content)

	var acks []string
	for _, chunk := range chunks {
		acks = append(acks, t.bank.AddEvidence(chunk.content, chunk.summary))
	}

	result.Content = strings.Join(acks, "\n")
	result.ExecutionTime = time.Since(start)
	return result, nil
}

type evidenceChunk struct {
	content string
	summary string
}

// numberedResultRe matches the "N. [Title](URL)" lines of search-style
// output.
var numberedResultRe = regexp.MustCompile(`^\s*\d+\.\s+\[(.+?)\]\((\S+?)\)`)

// parseEvidenceChunks splits a tool's textual output into evidence chunks.
// Search-style output yields one chunk per result; anything unparseable
// becomes a single chunk covering the whole section. Parsing is
// best-effort by design.
func parseEvidenceChunks(output string) []evidenceChunk {
	var chunks []evidenceChunk

	sections := strings.Split(output, "\n=======\n")
	for _, section := range sections {
		lines := strings.Split(section, "\n")

		var sectionChunks []evidenceChunk
		for i, line := range lines {
			m := numberedResultRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			title, url := m[1], m[2]

			// Collect following lines as the snippet, stopping at the
			// next numbered result.
			var snippetLines []string
			for j := i + 1; j < len(lines) && j <= i+10; j++ {
				next := strings.TrimSpace(lines[j])
				if numberedResultRe.MatchString(next) {
					break
				}
				if next == "" || strings.HasPrefix(next, "Date published:") || strings.HasPrefix(next, "Source:") {
					continue
				}
				snippetLines = append(snippetLines, next)
			}
			snippet := strings.TrimSpace(strings.Join(snippetLines, " "))
			if snippet == "" {
				continue
			}

			content := fmt.Sprintf("Title: %s\nURL: %s\nSnippet: %s", title, url, snippet)
			summary := fmt.Sprintf("[%s] %s", title, snippet)
			if len(snippet) > 200 {
				summary = fmt.Sprintf("[%s] %s...", title, snippet[:200])
			}
			sectionChunks = append(sectionChunks, evidenceChunk{content: content, summary: summary})
		}

		if len(sectionChunks) == 0 {
			trimmed := strings.TrimSpace(section)
			if trimmed == "" {
				continue
			}
			summary := trimmed
			if len(summary) > 300 {
				summary = summary[:300] + "..."
			}
			sectionChunks = append(sectionChunks, evidenceChunk{content: trimmed, summary: summary})
		}

		chunks = append(chunks, sectionChunks...)
	}

	return chunks
}

// plannerToolMap is the planner's tool provider: the configured base tools
// wrapped as EvidenceTools.
type plannerToolMap struct {
	tools map[string]tools.Tool
}

func newPlannerToolMap(base []tools.Tool, bank *MemoryBank) *plannerToolMap {
	m := &plannerToolMap{tools: make(map[string]tools.Tool, len(base))}
	for _, t := range base {
		m.tools[t.GetName()] = NewEvidenceTool(t, bank)
	}
	return m
}

func (m *plannerToolMap) GetTool(name string) (tools.Tool, error) {
	tool, ok := m.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	return tool, nil
}

func (m *plannerToolMap) ListTools() []tools.ToolInfo {
	infos := make([]tools.ToolInfo, 0, len(m.tools))
	for _, t := range m.tools {
		infos = append(infos, t.GetInfo())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (m *plannerToolMap) ExecuteTool(ctx context.Context, name string, args map[string]any) (tools.ToolResult, error) {
	tool, err := m.GetTool(name)
	if err != nil {
		return tools.ToolResult{Success: false, Error: err.Error(), ToolName: name}, err
	}
	return tool.Execute(ctx, args)
}

// writerToolMap exposes only the retrieve tool.
type writerToolMap struct {
	retrieve *RetrieveTool
}

func newWriterToolMap(bank *MemoryBank) *writerToolMap {
	return &writerToolMap{retrieve: NewRetrieveTool(bank)}
}

func (m *writerToolMap) GetTool(name string) (tools.Tool, error) {
	if name != m.retrieve.GetName() {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	return m.retrieve, nil
}

func (m *writerToolMap) ListTools() []tools.ToolInfo {
	return []tools.ToolInfo{m.retrieve.GetInfo()}
}

func (m *writerToolMap) ExecuteTool(ctx context.Context, name string, args map[string]any) (tools.ToolResult, error) {
	tool, err := m.GetTool(name)
	if err != nil {
		return tools.ToolResult{Success: false, Error: err.Error(), ToolName: name}, err
	}
	return tool.Execute(ctx, args)
}
