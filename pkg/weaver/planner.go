package weaver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/delver/pkg/agent"
	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/llms"
)

const (
	initialOutline            = "Outline is empty. Start by searching for information."
	initialPlannerObservation = "No observation yet."
)

// Planner iteratively searches and refines a citation-grounded outline,
// filling the Memory Bank as a side effect of every tool call.
type Planner struct {
	provider    llms.Provider
	dispatcher  *agent.Dispatcher
	bank        *MemoryBank
	cfg         config.AgentConfig
	instruction string
}

func NewPlanner(provider llms.Provider, dispatcher *agent.Dispatcher, bank *MemoryBank, cfg config.AgentConfig, instruction string) *Planner {
	return &Planner{
		provider:    provider,
		dispatcher:  dispatcher,
		bank:        bank,
		cfg:         cfg,
		instruction: instruction,
	}
}

// Run executes the planner loop and returns the final outline: the last
// one written, or the initial sentinel if the model never wrote one.
func (p *Planner) Run(ctx context.Context, question string, progress agent.EventCallback) string {
	slog.Debug("Planner agent activated")

	em := plannerEmitter(progress)
	systemPrompt := agent.PlannerSystemPrompt(agent.TodayDate(), p.dispatcher.ToolNames(), p.instruction)

	currentOutline := initialOutline
	lastObservation := initialPlannerObservation

	for i := 0; i < p.cfg.MaxLLMCalls; i++ {
		if ctx.Err() != nil {
			slog.Warn("Planner cancelled", "step", i)
			return currentOutline
		}

		contextStr := fmt.Sprintf(
			"[Question]\n%s\n\n[Current Outline]\n%s\n\n[Last Observation]\n%s\n\n"+
				"**IMPORTANT: When you write the outline using <write_outline>, "+
				"you MUST use the SAME LANGUAGE as the [Question] above. Do NOT translate.**",
			question, currentOutline, lastObservation,
		)
		// The last allowed step must produce an outline, not another tool
		// call.
		if i == p.cfg.MaxLLMCalls-1 {
			contextStr += "\n[Final Instruction]\n" +
				"This is your last allowed step. You MUST output <write_outline> with the complete final outline. " +
				"Do NOT output <tool_call> or <terminate>."
		}

		messages := []llms.Message{
			llms.System(systemPrompt),
			llms.User(contextStr),
		}

		completion, err := p.provider.Complete(ctx, messages, llms.Options{Stop: []string{agent.ObsStart}})
		if err != nil {
			slog.Error("Planner LLM call failed", "step", i+1, "error", err)
			lastObservation = "Error: LLM call failed."
			continue
		}

		parsed := agent.ParsePlannerOutput(completion.Content)
		slog.Debug("Planner step", "step", i+1, "action", parsed.Kind)
		em(agent.Event{
			Type:   agent.EventRound,
			Round:  i + 1,
			Plan:   parsed.Plan,
			Action: string(parsed.Kind),
			Report: currentOutline,
		})

		switch parsed.Kind {
		case agent.ActionTerminate:
			slog.Debug("Planner finished, terminating")
			return currentOutline

		case agent.ActionWriteOutline:
			currentOutline = parsed.Payload
			lastObservation = "Outline successfully updated."

		case agent.ActionToolCall:
			observation, _ := p.dispatcher.Invoke(ctx, parsed.Payload)
			lastObservation = observation
			em(agent.Event{
				Type:        agent.EventTool,
				Round:       i + 1,
				ToolCall:    parsed.Payload,
				Observation: observation,
			})

		case agent.ActionError:
			lastObservation = parsed.Payload
			slog.Warn("Planner action parse error", "step", i+1)
		}
	}

	slog.Warn("Planner reached max iterations")
	return currentOutline
}

func plannerEmitter(progress agent.EventCallback) func(agent.Event) {
	if progress == nil {
		return func(agent.Event) {}
	}
	return func(e agent.Event) {
		progress(e)
	}
}
