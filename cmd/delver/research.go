package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kadirpekel/delver/pkg/session"
)

// ResearchCmd runs one question end-to-end without the HTTP server.
type ResearchCmd struct {
	Question    string   `arg:"" help:"The research question."`
	Agent       string   `help:"Agent type: web_researcher, webweaver, react, tts." default:"web_researcher"`
	Instruction string   `help:"Optional persona instruction."`
	Tools       []string `help:"Restrict the available tools by name."`
	JSON        bool     `help:"Print the full result bundle as JSON."`
	Verbose     bool     `short:"v" help:"Print progress events."`
}

func (c *ResearchCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}

	manager, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}

	sess := manager.CreateSession(session.Options{
		Agent:       c.Agent,
		Instruction: c.Instruction,
		Tools:       c.Tools,
	})

	turn, err := manager.StartResearch(sess, c.Question)
	if err != nil {
		return err
	}

	// Consume the event stream until the turn finishes.
	sent := 0
	for {
		update := sess.WaitStream(sent)
		if c.Verbose {
			for _, event := range update.Events {
				fmt.Fprintf(os.Stderr, "[%s] round=%d %s\n", event.Type, event.Round, firstNonEmpty(event.Plan, event.Observation, event.Answer, event.Status))
			}
		}
		sent += len(update.Events)
		if update.Finished {
			break
		}
	}

	if c.JSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(turn.ToRecord(true))
	}

	if turn.Error != "" {
		return fmt.Errorf("research failed: %s", turn.Error)
	}
	fmt.Println(turn.Answer)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
