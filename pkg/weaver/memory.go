// Package weaver implements the planner/writer dual-agent research loop
// with a shared citation-keyed Memory Bank.
package weaver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/delver/pkg/tools"
)

// Evidence is one Memory Bank entry.
type Evidence struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Summary string `json:"summary"`
}

// MemoryBank is the append-only, ID-addressed evidence store shared by the
// planner (writes) and the writer (reads). IDs are dense integers starting
// at 1, prefixed "id_". Entries are never rewritten or deleted during a
// run.
type MemoryBank struct {
	mu      sync.RWMutex
	entries []Evidence
	byID    map[string]int
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		byID: make(map[string]int),
	}
}

// AddEvidence appends a new entry and returns the display string the
// planner observes.
func (b *MemoryBank) AddEvidence(content, summary string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("id_%d", len(b.entries)+1)
	b.entries = append(b.entries, Evidence{ID: id, Content: content, Summary: summary})
	b.byID[id] = len(b.entries) - 1

	return fmt.Sprintf("Evidence added with id='%s'. Summary: %s", id, summary)
}

// Retrieve returns the full content of the given IDs, one block per ID.
// Unknown IDs produce a per-ID "not found" line; the call still succeeds.
func (b *MemoryBank) Retrieve(ids []string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var blocks []string
	for _, id := range ids {
		if idx, ok := b.byID[id]; ok {
			blocks = append(blocks, fmt.Sprintf("<%s: %s>", id, b.entries[idx].Content))
		} else {
			blocks = append(blocks, fmt.Sprintf("<%s: not found in memory bank>", id))
		}
	}
	return strings.Join(blocks, "\n")
}

// Size returns the number of stored entries.
func (b *MemoryBank) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// AllIDs returns every assigned ID in insertion order.
func (b *MemoryBank) AllIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, len(b.entries))
	for i, e := range b.entries {
		ids[i] = e.ID
	}
	return ids
}

// Clear resets the bank. Only meaningful between runs; a run never clears.
func (b *MemoryBank) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	b.byID = make(map[string]int)
}

// RetrieveTool is the writer's only tool: a thin wrapper over Memory Bank
// lookup.
type RetrieveTool struct {
	bank *MemoryBank
}

func NewRetrieveTool(bank *MemoryBank) *RetrieveTool {
	return &RetrieveTool{bank: bank}
}

func (t *RetrieveTool) GetName() string {
	return "retrieve"
}

func (t *RetrieveTool) GetDescription() string {
	return "Retrieve the full evidence content for the given citation IDs from the memory bank."
}

func (t *RetrieveTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters: []tools.ToolParameter{
			{
				Name:        "citation_ids",
				Type:        "array",
				Description: "Citation IDs to retrieve, e.g. [\"id_1\", \"id_2\"].",
				Required:    true,
				Items:       map[string]any{"type": "string"},
			},
		},
	}
}

func (t *RetrieveTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	start := time.Now()

	var ids []string
	switch v := args["citation_ids"].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
	case []string:
		ids = v
	case string:
		ids = []string{v}
	}

	if len(ids) == 0 {
		return tools.ToolResult{
			Success:       false,
			Error:         "'citation_ids' parameter is required and cannot be empty",
			ToolName:      t.GetName(),
			ExecutionTime: time.Since(start),
		}, fmt.Errorf("citation_ids parameter is required")
	}

	return tools.ToolResult{
		Success:       true,
		Content:       t.bank.Retrieve(ids),
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
	}, nil
}

var _ tools.Tool = (*RetrieveTool)(nil)
