// Command delver is the CLI for the delver deep-research runtime.
//
// Usage:
//
//	delver serve --config config.yaml
//	delver research "What is the capital of France?"
//	delver schema
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/logger"
)

var version = "0.1.0-dev"

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the session HTTP server."`
	Research ResearchCmd `cmd:"" help:"Run one research question from the command line."`
	Schema   SchemaCmd   `cmd:"" help:"Print the configuration JSON schema."`

	Config   string `short:"c" help:"Path to the YAML config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("delver %s\n", version)
	return nil
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("delver"),
		kong.Description("Deep-research agent runtime."),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	logger.Init(level, os.Stderr, "simple")

	if err := config.LoadEnvFiles(); err != nil {
		slog.Warn("Failed to load env files", "error", err)
	}

	if err := kctx.Run(cli); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
