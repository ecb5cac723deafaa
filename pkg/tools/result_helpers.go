package tools

import "time"

// successResult builds a successful ToolResult.
func successResult(toolName, content string, start time.Time) ToolResult {
	return ToolResult{
		Success:       true,
		Content:       content,
		ToolName:      toolName,
		ExecutionTime: time.Since(start),
	}
}

// errorResult builds a failed ToolResult.
func errorResult(toolName, message string, start time.Time) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         message,
		ToolName:      toolName,
		ExecutionTime: time.Since(start),
	}
}

// getStringArg extracts a string argument with a default.
func getStringArg(args map[string]any, key, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringListArg extracts a list-of-strings argument, tolerating both
// []any and a bare string.
func getStringListArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
