package tools

import (
	"context"
	"sync"

	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/llms"
)

// LocalToolSource builds the built-in tool set from configuration.
type LocalToolSource struct {
	config     *config.ToolsConfig
	summarizer llms.Provider

	mu    sync.RWMutex
	tools map[string]Tool
}

// NewLocalToolSource creates the source. summarizer is the LLM used by the
// visit tool's extraction call.
func NewLocalToolSource(cfg *config.ToolsConfig, summarizer llms.Provider) *LocalToolSource {
	if cfg == nil {
		cfg = &config.ToolsConfig{}
		cfg.SetDefaults()
	}
	return &LocalToolSource{
		config:     cfg,
		summarizer: summarizer,
		tools:      make(map[string]Tool),
	}
}

func (s *LocalToolSource) GetName() string {
	return "local"
}

func (s *LocalToolSource) GetType() string {
	return "local"
}

// DiscoverTools instantiates the built-in tools, honoring the enabled
// filter.
func (s *LocalToolSource) DiscoverTools(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := []Tool{
		NewSearchTool(&s.config.Search),
		NewScholarTool(&s.config.Scholar),
		NewVisitTool(&s.config.Visit, s.summarizer),
		NewPythonTool(&s.config.Python),
		NewFileTool(&s.config.ParseFile),
	}

	enabled := make(map[string]bool, len(s.config.Enabled))
	for _, name := range s.config.Enabled {
		enabled[name] = true
	}

	s.tools = make(map[string]Tool, len(all))
	for _, tool := range all {
		if len(enabled) > 0 && !enabled[tool.GetName()] {
			continue
		}
		s.tools[tool.GetName()] = tool
	}

	return nil
}

func (s *LocalToolSource) ListTools() []ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(s.tools))
	for _, tool := range s.tools {
		infos = append(infos, tool.GetInfo())
	}
	return infos
}

func (s *LocalToolSource) GetTool(name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tool, ok := s.tools[name]
	return tool, ok
}

var _ ToolSource = (*LocalToolSource)(nil)
