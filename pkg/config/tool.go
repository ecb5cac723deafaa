package config

// ToolsConfig configures the built-in tool set and optional MCP sources.
type ToolsConfig struct {
	Search    SearchToolConfig  `yaml:"search" json:"search"`
	Visit     VisitToolConfig   `yaml:"visit" json:"visit"`
	Scholar   ScholarToolConfig `yaml:"scholar" json:"scholar"`
	Python    PythonToolConfig  `yaml:"python" json:"python"`
	ParseFile FileToolConfig    `yaml:"parse_file" json:"parse_file"`

	// MCP lists optional MCP servers whose tools are added to the registry.
	MCP []MCPServerConfig `yaml:"mcp" json:"mcp"`

	// Enabled restricts the visible tool set by name. Empty = all.
	Enabled []string `yaml:"enabled" json:"enabled"`
}

// SearchToolConfig configures the web search provider (Serper-compatible).
type SearchToolConfig struct {
	APIKey     string `yaml:"api_key" json:"api_key"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	MaxResults int    `yaml:"max_results" json:"max_results"`
	Timeout    int    `yaml:"timeout" json:"timeout"`
}

func (c *SearchToolConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "https://google.serper.dev/search"
	}
	if c.MaxResults == 0 {
		c.MaxResults = 10
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

// VisitToolConfig configures the page fetch + goal-directed extraction tool.
type VisitToolConfig struct {
	// ReaderEndpoint is a Jina-Reader-compatible endpoint that converts a
	// page to markdown. The target URL is appended to it.
	ReaderEndpoint string `yaml:"reader_endpoint" json:"reader_endpoint"`
	APIKey         string `yaml:"api_key" json:"api_key"`
	Timeout        int    `yaml:"timeout" json:"timeout"`

	// MaxContentLength truncates fetched pages before summarization.
	MaxContentLength int `yaml:"max_content_length" json:"max_content_length"`
}

func (c *VisitToolConfig) SetDefaults() {
	if c.ReaderEndpoint == "" {
		c.ReaderEndpoint = "https://r.jina.ai/"
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxContentLength == 0 {
		c.MaxContentLength = 100000
	}
}

// ScholarToolConfig configures the scholarly search provider.
type ScholarToolConfig struct {
	APIKey     string `yaml:"api_key" json:"api_key"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	MaxResults int    `yaml:"max_results" json:"max_results"`
	Timeout    int    `yaml:"timeout" json:"timeout"`
}

func (c *ScholarToolConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "https://google.serper.dev/scholar"
	}
	if c.MaxResults == 0 {
		c.MaxResults = 10
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

// PythonToolConfig configures the remote code sandbox.
type PythonToolConfig struct {
	SandboxURL string `yaml:"sandbox_url" json:"sandbox_url"`
	Timeout    int    `yaml:"timeout" json:"timeout"`
}

func (c *PythonToolConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 60
	}
}

// FileToolConfig configures local document parsing.
type FileToolConfig struct {
	// FileRoot is the directory user files are resolved against.
	FileRoot string `yaml:"file_root" json:"file_root"`

	// MaxFileBytes bounds how much of a parsed document is returned.
	MaxFileBytes int `yaml:"max_file_bytes" json:"max_file_bytes"`
}

func (c *FileToolConfig) SetDefaults() {
	if c.FileRoot == "" {
		c.FileRoot = "./files"
	}
	if c.MaxFileBytes == 0 {
		c.MaxFileBytes = 200000
	}
}

// MCPServerConfig describes one MCP server whose tools become available to
// agents. HTTP transports use ServerURL; the stdio transport launches
// Command with Args.
type MCPServerConfig struct {
	Name      string   `yaml:"name" json:"name"`
	ServerURL string   `yaml:"server_url" json:"server_url"`
	Command   string   `yaml:"command" json:"command"`
	Args      []string `yaml:"args" json:"args"`
	Timeout   int      `yaml:"timeout" json:"timeout"`

	// Filter limits which of the server's tools are exposed. Empty = all.
	Filter []string `yaml:"filter" json:"filter"`
}

func (c *ToolsConfig) SetDefaults() {
	c.Search.SetDefaults()
	c.Visit.SetDefaults()
	c.Scholar.SetDefaults()
	c.Python.SetDefaults()
	c.ParseFile.SetDefaults()
}
