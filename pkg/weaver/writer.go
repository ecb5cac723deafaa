package weaver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/delver/pkg/agent"
	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/llms"
)

const initialWriterObservation = "No observation yet. Start by retrieving evidence for the first section."

// maxIdleBeforeForceWriteHint is the number of consecutive non-write
// rounds tolerated before the observation is augmented with a hard "write
// now" directive. Necessary to break degenerate retrieve-forever loops.
const maxIdleBeforeForceWriteHint = 6

// Writer composes the report section by section from the planner's outline
// and the Memory Bank. Its only tool is retrieve.
type Writer struct {
	provider    llms.Provider
	dispatcher  *agent.Dispatcher
	bank        *MemoryBank
	cfg         config.AgentConfig
	instruction string
}

func NewWriter(provider llms.Provider, dispatcher *agent.Dispatcher, bank *MemoryBank, cfg config.AgentConfig, instruction string) *Writer {
	return &Writer{
		provider:    provider,
		dispatcher:  dispatcher,
		bank:        bank,
		cfg:         cfg,
		instruction: instruction,
	}
}

// Run executes the writer loop and returns the accumulated report.
func (w *Writer) Run(ctx context.Context, question, finalOutline string, progress agent.EventCallback) string {
	slog.Debug("Writer agent activated")

	em := plannerEmitter(progress)
	systemPrompt := agent.WriterSystemPrompt(agent.TodayDate(), w.instruction)

	reportSoFar := ""
	lastObservation := initialWriterObservation

	// Retrieve-loop guards: canonical argument keys already issued, their
	// repeat counts, and the cached evidence per key.
	seenRetrieveKeys := make(map[string]bool)
	retrieveRepeatCounts := make(map[string]int)
	retrieveResultsCache := make(map[string]string)
	stepsSinceLastWrite := 0

	for i := 0; i < w.cfg.MaxLLMCalls; i++ {
		if ctx.Err() != nil {
			slog.Warn("Writer cancelled", "step", i)
			return reportSoFar
		}

		contextStr := fmt.Sprintf(
			"[Question]\n%s\n\n[Final Outline]\n%s\n\n[Report Written So Far]\n%s\n\n[Last Observation]\n%s\n\n"+
				"**CRITICAL LANGUAGE REQUIREMENT: The report you write using <write> MUST be "+
				"in the SAME LANGUAGE as the [Question] and [Final Outline] above. "+
				"Check the language carefully and DO NOT translate or switch languages.**",
			question, finalOutline, reportSoFar, lastObservation,
		)
		// The last allowed step must produce prose.
		if i == w.cfg.MaxLLMCalls-1 {
			contextStr += "\n[Final Instruction]\n" +
				"This is your last allowed step. You MUST output <write> with a well-structured final section using the evidence you have. " +
				"Do NOT output <tool_call> or <terminate>."
		}

		messages := []llms.Message{
			llms.System(systemPrompt),
			llms.User(contextStr),
		}

		completion, err := w.provider.Complete(ctx, messages, llms.Options{Stop: []string{agent.ObsStart}})
		if err != nil {
			slog.Error("Writer LLM call failed", "step", i+1, "error", err)
			lastObservation = "Error: LLM call failed."
			continue
		}

		parsed := agent.ParseWriterOutput(completion.Content)
		slog.Debug("Writer step", "step", i+1, "action", parsed.Kind)
		em(agent.Event{
			Type:   agent.EventRound,
			Round:  i + 1,
			Plan:   parsed.Plan,
			Action: string(parsed.Kind),
			Report: reportSoFar,
		})

		switch parsed.Kind {
		case agent.ActionTerminate:
			slog.Debug("Writer finished, terminating")
			return reportSoFar

		case agent.ActionWrite:
			section := parsed.Payload
			reportSoFar += "\n\n" + section
			lastObservation = fmt.Sprintf("Section written successfully:\n%s\n", section)
			stepsSinceLastWrite = 0

		case agent.ActionToolCall:
			lastObservation = w.executeRetrieve(ctx, parsed.Payload, i+1,
				seenRetrieveKeys, retrieveRepeatCounts, retrieveResultsCache, em)
			stepsSinceLastWrite++

		case agent.ActionError:
			lastObservation = parsed.Payload
			slog.Warn("Writer action parse error", "step", i+1)
			stepsSinceLastWrite++
		}

		// Idling without writing: force progress.
		if stepsSinceLastWrite >= maxIdleBeforeForceWriteHint {
			lastObservation += "\nInstruction: You have gathered sufficient evidence. In the next step, " +
				"you MUST output <write> with a well-structured section. Do NOT call <tool_call> unless " +
				"retrieving different, additional evidence explicitly required by the outline."
		}
	}

	slog.Warn("Writer reached max iterations")
	return reportSoFar
}

// executeRetrieve runs one tool call with the duplicate-retrieve guard: an
// identical retrieve is answered from the cache, with an explicit
// directive to proceed to <write>, and is never re-executed.
func (w *Writer) executeRetrieve(ctx context.Context, payload string, step int,
	seen map[string]bool, repeats map[string]int, cache map[string]string, em func(agent.Event)) string {

	call, err := agent.ParseToolCall(payload)
	isRetrieve := err == nil && call.Name == "retrieve"

	var key string
	if isRetrieve {
		key = agent.CanonicalArgs(call.Args)
		if seen[key] {
			repeats[key]++
			slog.Debug("Returning cached evidence for duplicate retrieve",
				"step", step, "repeat", repeats[key])
			return "Evidence for these citation IDs has already been retrieved. " +
				"Here is the evidence again:\n\n" +
				cache[key] + "\n\n" +
				"You MUST now proceed to <write> the section using this evidence. " +
				"Do NOT call <tool_call> retrieve again for the same IDs."
		}
		seen[key] = true
		repeats[key] = 1
	}

	observation, _ := w.dispatcher.Invoke(ctx, payload)
	em(agent.Event{
		Type:        agent.EventTool,
		Round:       step,
		ToolCall:    payload,
		Observation: observation,
	})

	if isRetrieve {
		cache[key] = observation
	}
	return observation
}
