package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var envVarPatterns = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
	simple      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
	simple:      regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
}

func expandEnvString(s string) string {

	if !strings.Contains(s, "$") {
		return s
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if len(parts) == 3 {
			if val := os.Getenv(parts[1]); val != "" {
				return val
			}
			return parts[2]
		}
		return match
	})

	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	s = envVarPatterns.simple.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.simple.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	return s
}

// expandEnvVars recursively expands ${VAR}, ${VAR:-default} and $VAR in a
// parsed config map.
func expandEnvVars(input map[string]any) map[string]any {
	result := make(map[string]any, len(input))
	for k, v := range input {
		result[k] = expandValue(v)
	}
	return result
}

func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return expandEnvString(val)
	case map[string]any:
		return expandEnvVars(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = expandValue(item)
		}
		return result
	default:
		return v
	}
}

// LoadEnvFiles loads .env.local and .env if present.
func LoadEnvFiles() error {
	envFiles := []string{".env.local", ".env"}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	return nil
}

func envInt(key string, current int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return current
}

func envString(key, current string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return current
}

// applyEnvOverrides applies the well-known environment variables on top of
// whatever was loaded so far.
func (c *Config) applyEnvOverrides() {
	c.LLM.APIKey = envString("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = envString("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = envString("LLM_MODEL_NAME", c.LLM.Model)

	c.Agent.MaxLLMCalls = envInt("MAX_LLM_CALL_PER_RUN", c.Agent.MaxLLMCalls)
	c.Agent.AgentTimeout = envInt("AGENT_TIMEOUT", c.Agent.AgentTimeout)
	c.Agent.MaxInputTokens = envInt("MAX_INPUT_TOKENS", c.Agent.MaxInputTokens)

	c.Tools.Search.APIKey = envString("SERPER_API_KEY", c.Tools.Search.APIKey)
	c.Tools.Scholar.APIKey = envString("SERPER_API_KEY", c.Tools.Scholar.APIKey)
	c.Tools.Visit.APIKey = envString("JINA_API_KEY", c.Tools.Visit.APIKey)
	c.Tools.Python.SandboxURL = envString("SANDBOX_FUSE_URL", c.Tools.Python.SandboxURL)
	c.Tools.ParseFile.FileRoot = envString("FILE_DIR", c.Tools.ParseFile.FileRoot)

	c.Server.HistoryFile = envString("HISTORY_FILE", c.Server.HistoryFile)
}
