package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/delver/pkg/config"
)

func TestFileTool_PlainText(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello notes"), 0644))

	tool := NewFileTool(&config.FileToolConfig{FileRoot: root})
	result, err := tool.Execute(context.Background(), map[string]any{
		"files": []any{"notes.txt"},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Contains(t, result.Content, "## File: notes.txt")
	assert.Contains(t, result.Content, "hello notes")
}

func TestFileTool_MultipleFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("alpha"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.csv"), []byte("x,y\n1,2"), 0644))

	tool := NewFileTool(&config.FileToolConfig{FileRoot: root})
	result, err := tool.Execute(context.Background(), map[string]any{
		"files": []any{"a.md", "b.csv"},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Content, "alpha")
	assert.Contains(t, result.Content, "x,y")
	assert.Contains(t, result.Content, "\n=======\n")
}

func TestFileTool_MissingFileReported(t *testing.T) {
	tool := NewFileTool(&config.FileToolConfig{FileRoot: t.TempDir()})
	result, err := tool.Execute(context.Background(), map[string]any{
		"files": []any{"absent.txt"},
	})
	// Per-file failures surface in the content; the call succeeds.
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Content, "Failed to parse absent.txt")
}

func TestFileTool_PathTraversalRejected(t *testing.T) {
	tool := NewFileTool(&config.FileToolConfig{FileRoot: t.TempDir()})
	result, err := tool.Execute(context.Background(), map[string]any{
		"files": []any{"../../etc/passwd"},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Content, "outside the configured file root")
}

func TestFileTool_Truncation(t *testing.T) {
	root := t.TempDir()
	big := make([]byte, 500)
	for i := range big {
		big[i] = 'a'
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), big, 0644))

	tool := NewFileTool(&config.FileToolConfig{FileRoot: root, MaxFileBytes: 100})
	result, err := tool.Execute(context.Background(), map[string]any{
		"files": []any{"big.txt"},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Content, "[truncated]")
}

func TestFileTool_MissingArgs(t *testing.T) {
	tool := NewFileTool(nil)
	result, err := tool.Execute(context.Background(), map[string]any{})
	assert.Error(t, err)
	assert.False(t, result.Success)
}
