package weaver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/delver/pkg/tools"
)

// stubTool returns a canned output.
type stubTool struct {
	name   string
	output string
}

func (t *stubTool) GetName() string        { return t.name }
func (t *stubTool) GetDescription() string { return "stub " + t.name }
func (t *stubTool) GetInfo() tools.ToolInfo {
	return tools.ToolInfo{Name: t.name, Description: t.GetDescription()}
}
func (t *stubTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	return tools.ToolResult{
		Success:       true,
		Content:       t.output,
		ToolName:      t.name,
		ExecutionTime: time.Millisecond,
	}, nil
}

const sampleSearchOutput = `A Google search for 'climate change' found 2 results:

## Web Results
1. [IPCC Report](https://ipcc.ch/report)
Date published: 2024-01-01
Source: IPCC

Global temperatures continue to rise according to the latest assessment.

2. [NASA Climate](https://climate.nasa.gov)

Carbon dioxide levels reached a new record high this year.`

func TestParseEvidenceChunks_SearchFormat(t *testing.T) {
	chunks := parseEvidenceChunks(sampleSearchOutput)
	require.Len(t, chunks, 2)

	assert.Contains(t, chunks[0].content, "Title: IPCC Report")
	assert.Contains(t, chunks[0].content, "URL: https://ipcc.ch/report")
	assert.Contains(t, chunks[0].content, "Global temperatures continue to rise")
	assert.Contains(t, chunks[0].summary, "[IPCC Report]")

	assert.Contains(t, chunks[1].content, "Title: NASA Climate")
}

func TestParseEvidenceChunks_FallbackWholeOutput(t *testing.T) {
	output := "The useful information in https://example.com as follows: unstructured prose."
	chunks := parseEvidenceChunks(output)
	require.Len(t, chunks, 1)
	assert.Equal(t, output, chunks[0].content)
}

func TestParseEvidenceChunks_MultipleSections(t *testing.T) {
	output := "plain section one\n=======\nplain section two"
	chunks := parseEvidenceChunks(output)
	require.Len(t, chunks, 2)
}

func TestEvidenceTool_StoresChunksAndAcks(t *testing.T) {
	bank := NewMemoryBank()
	tool := NewEvidenceTool(&stubTool{name: "search", output: sampleSearchOutput}, bank)

	result, err := tool.Execute(context.Background(), map[string]any{"query": []any{"climate change"}})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, 2, bank.Size())
	assert.Contains(t, result.Content, "Evidence added with id='id_1'.")
	assert.Contains(t, result.Content, "Evidence added with id='id_2'.")
}

func TestEvidenceTool_EmptyOutputStoresNothing(t *testing.T) {
	bank := NewMemoryBank()
	base := &stubTool{name: "search", output: ""}
	tool := NewEvidenceTool(base, bank)

	// Successful but empty output becomes zero chunks and an empty ack.
	result, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, bank.Size())
	assert.Empty(t, result.Content)
}
