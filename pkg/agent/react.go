package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/llms"
	"github.com/kadirpekel/delver/pkg/observability"
)

// ReactAgent is the multi-turn ReAct variant: instead of the evolving
// report workspace it accumulates the whole message history and feeds it
// back every round.
type ReactAgent struct {
	provider    llms.Provider
	dispatcher  *Dispatcher
	cfg         config.AgentConfig
	instruction string
}

func NewReactAgent(provider llms.Provider, dispatcher *Dispatcher, cfg config.AgentConfig, instruction string) *ReactAgent {
	return &ReactAgent{
		provider:    provider,
		dispatcher:  dispatcher,
		cfg:         cfg,
		instruction: instruction,
	}
}

// stripAfterObservation removes anything the model emitted after the
// observation opener; the environment, not the model, produces
// observations.
func stripAfterObservation(content string) string {
	if idx := strings.Index(content, ObsStart); idx >= 0 {
		return strings.TrimSpace(content[:idx])
	}
	return content
}

// parseReactFinal extracts the terminal signal of a ReAct response.
// <answer> wins over <terminate> when both appear.
func parseReactFinal(content string) (answer string, terminate bool) {
	if a := lastNonEmpty(answerRe, content); a != "" {
		return a, true
	}
	if terminateTagRe.MatchString(content) {
		return lastNonEmpty(terminateRe, content), true
	}
	return "", false
}

// Run executes the ReAct loop for one question.
func (a *ReactAgent) Run(ctx context.Context, question string, progress EventCallback) *Result {
	metrics := observability.GetGlobalMetrics()
	metrics.RunStarted()
	defer metrics.RunFinished()

	em := emitter{callback: progress}
	startTime := time.Now()
	deadline := time.Duration(a.cfg.AgentTimeout) * time.Second

	systemPrompt := reactSystemPrompt(TodayDate(), a.dispatcher.ListTools(), a.instruction)
	messages := []llms.Message{
		llms.System(systemPrompt),
		llms.User(question),
	}

	remaining := a.cfg.MaxLLMCalls
	round := 0

	for remaining > 0 {
		if time.Since(startTime) > deadline {
			metrics.RecordRun(ctx, config.AgentReact, TerminationTimeout)
			return &Result{
				Question:    question,
				Prediction:  "Final answer generated by agent (timeout).",
				Termination: TerminationTimeout,
				Trajectory:  messages,
			}
		}

		round++
		remaining--
		metrics.RecordRound(ctx, config.AgentReact)

		completion, err := a.provider.Complete(ctx, messages, llms.Options{Stop: []string{ObsStart}})
		if err != nil {
			metrics.RecordRun(ctx, config.AgentReact, "unknown error")
			return &Result{
				Question:    question,
				Prediction:  "Error: " + err.Error(),
				Termination: "unknown error",
				Trajectory:  messages,
			}
		}
		content := stripAfterObservation(completion.Content)

		if completion.Reasoning != "" {
			em.emit(Event{Type: EventThinking, Round: round, Thinking: completion.Reasoning})
		}

		// Tool-call path: keep only the <tool_call> block of the
		// assistant turn and fold the observation into one user message,
		// avoiding consecutive assistant entries.
		if block := lastNonEmpty(toolCallRe, content); block != "" {
			observation, _ := a.dispatcher.Invoke(ctx, block)
			em.emit(Event{
				Type:        EventTool,
				Round:       round,
				ToolCall:    block,
				Observation: observation,
			})
			messages = append(messages, llms.User(
				"<tool_call>\n"+block+"\n</tool_call>\n"+ObsStart+"\n"+observation+"\n"+ObsEnd,
			))
			continue
		}

		messages = append(messages, llms.Message{Role: llms.RoleAssistant, Content: content})
		em.emit(Event{Type: EventRound, Round: round, Report: content})

		if answer, terminated := parseReactFinal(content); terminated {
			if answer != "" {
				em.emit(Event{Type: EventFinal, Round: round, Answer: answer, Termination: "terminated with answer"})
				metrics.RecordRun(ctx, config.AgentReact, "terminated with answer")
				return &Result{
					Question:    question,
					Prediction:  answer,
					Termination: "terminated with answer",
					Trajectory:  messages,
				}
			}
			bestEffort := strings.TrimSpace(content)
			if bestEffort == "" {
				bestEffort = "Final answer generated by agent."
			}
			em.emit(Event{Type: EventFinal, Round: round, Answer: bestEffort, Termination: "terminated without answer"})
			metrics.RecordRun(ctx, config.AgentReact, "terminated without answer")
			return &Result{
				Question:    question,
				Prediction:  bestEffort,
				Termination: "terminated without answer",
				Trajectory:  messages,
			}
		}

		// No termination: nudge the model toward an answer.
		messages = append(messages, llms.User(
			"Please continue your analysis or provide the final answer using <answer> tags.",
		))
	}

	slog.Warn("ReAct agent exhausted its round budget", "rounds", round)
	metrics.RecordRun(ctx, config.AgentReact, TerminationCallsExceeded)
	return &Result{
		Question:    question,
		Prediction:  "No answer found (exceeded available LLM calls).",
		Termination: TerminationCallsExceeded,
		Trajectory:  messages,
	}
}
