package config

import "fmt"

// ServerConfig configures the session HTTP server.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// HistoryFile is the append-only JSONL session history.
	HistoryFile string `yaml:"history_file" json:"history_file"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.HistoryFile == "" {
		c.HistoryFile = "data/history.jsonl"
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// Address returns the host:port listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
