package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/llms"
	"github.com/kadirpekel/delver/pkg/observability"
	"github.com/kadirpekel/delver/pkg/utils"
)

// Termination statuses of the iterative research loop.
const (
	TerminationAnswerFound       = "answer found"
	TerminationTerminateAnswer   = "terminate with answer"
	TerminationTerminatedByLLM   = "terminated by llm"
	TerminationFinalizedFallback = "finalized without answer tag"
	TerminationAnswerForced      = "answer (forced)"
	TerminationFormatError       = "format error"
	TerminationTokenLimit        = "token limit reached"
	TerminationTimeout           = "timeout"
	TerminationReportFallback    = "report fallback"
	TerminationCallsExceeded     = "exceed available llm calls"
	TerminationAnswerNotFound    = "answer not found"
)

// Result is the bundle every loop exit path produces. Prediction is never
// empty: it falls back, in order, to the answer, the terminate reason, the
// current report, the last observation, or a fixed sentinel.
type Result struct {
	Question    string         `json:"question"`
	Prediction  string         `json:"prediction"`
	Report      string         `json:"report"`
	Termination string         `json:"termination"`
	Trajectory  []llms.Message `json:"trajectory"`
}

// Researcher drives the iterative single-report research loop (the
// workspace paradigm: one LLM call per round producing plan, report and
// action).
type Researcher struct {
	provider   llms.Provider
	dispatcher *Dispatcher
	cfg        config.AgentConfig
	instruction string
	nativeMode  bool

	counter *utils.TokenCounter
}

// NewResearcher builds a loop instance. Each instance owns its own
// dispatcher (and therefore its own tool-call cache).
func NewResearcher(provider llms.Provider, dispatcher *Dispatcher, cfg config.AgentConfig, instruction string, nativeMode bool) *Researcher {
	counter, err := utils.NewTokenCounter(provider.ModelName())
	if err != nil {
		slog.Warn("Failed to initialize token counter, using estimation", "error", err)
		counter = nil
	}

	return &Researcher{
		provider:    provider,
		dispatcher:  dispatcher,
		cfg:         cfg,
		instruction: instruction,
		nativeMode:  nativeMode,
		counter:     counter,
	}
}

func (r *Researcher) countTokens(messages []llms.Message) int {
	if r.counter == nil {
		total := 0
		for _, m := range messages {
			total += utils.EstimateTokens(m.Content)
		}
		return total
	}
	converted := make([]utils.Message, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, utils.Message{Role: m.Role, Content: m.Content})
	}
	return r.counter.CountMessages(converted)
}

// Run executes the research loop for one question. The returned Result is
// complete under every exit path; progress may be nil.
func (r *Researcher) Run(ctx context.Context, question string, progress EventCallback) *Result {
	tracer := observability.GetTracer("delver.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(attribute.String(observability.AttrAgentType, config.AgentWebResearcher)),
	)
	defer span.End()

	metrics := observability.GetGlobalMetrics()
	metrics.RunStarted()
	defer metrics.RunFinished()

	em := emitter{callback: progress}
	finalEmitted := false
	if progress != nil {
		em.callback = func(e Event) {
			if e.Type == EventFinal {
				finalEmitted = true
			}
			progress(e)
		}
	}
	startTime := time.Now()
	deadline := time.Duration(r.cfg.AgentTimeout) * time.Second

	workspace := NewWorkspace(question)
	systemPrompt := researchSystemPrompt(TodayDate(), r.dispatcher.ListTools(), r.instruction)

	var trajectory []llms.Message
	var prediction, termination string

	remaining := r.cfg.MaxLLMCalls
	round := 0

	for remaining > 0 {
		if time.Since(startTime) > deadline {
			slog.Warn("Agent timeout reached", "round", round)
			termination = TerminationTimeout
			prediction = strings.TrimSpace(workspace.CurrentReport)
			if prediction == "" {
				prediction = "No answer found (timeout)."
			}
			break
		}

		round++
		remaining--
		metrics.RecordRound(ctx, config.AgentWebResearcher)

		currentContext := workspace.Context(systemPrompt)
		if round == 1 {
			trajectory = append(trajectory, currentContext...)
		}

		// The last allowed call forbids further tool use up front.
		isLastCall := remaining == 0
		requestMsgs := currentContext
		if isLastCall {
			requestMsgs = append(append([]llms.Message{}, currentContext...), llms.User(finalizeLastCallPrompt))
		}

		slog.Debug("Calling LLM", "round", round, "remaining", remaining)
		completion, err := r.provider.Complete(ctx, requestMsgs, llms.Options{
			Stop:  []string{ObsStart},
			Tools: r.nativeTools(),
		})
		if err != nil {
			slog.Error("LLM call failed", "round", round, "error", err)
			prediction = "Error: " + err.Error()
			termination = "unknown error"
			break
		}

		if completion.Reasoning != "" {
			em.emit(Event{Type: EventThinking, Round: round, Thinking: completion.Reasoning})
		}

		trajectory = append(trajectory, llms.Message{Role: llms.RoleAssistant, Content: completion.Content})

		parsed := ParseResearchOutput(completion.Content)
		nativeCalls := completion.ToolCalls

		em.emit(Event{
			Type:      EventRound,
			Round:     round,
			Plan:      parsed.Plan,
			Report:    parsed.Report,
			Action:    parsed.ToolCall,
			Answer:    parsed.Answer,
			Terminate: parsed.Terminate,
		})

		// The new report (R_i) replaces the workspace copy regardless of
		// what action follows.
		if parsed.Report != "" {
			workspace.CurrentReport = parsed.Report
		} else {
			slog.Warn("No <report> found; report not updated for the next round", "round", round)
		}

		if parsed.Answer != "" {
			prediction = parsed.Answer
			termination = TerminationAnswerFound
			if parsed.Terminate {
				termination = TerminationTerminateAnswer
			}
			em.emit(r.finalEvent(round, prediction, workspace, termination))
			break
		}
		if parsed.Terminate {
			if parsed.TerminateReason != "" {
				prediction = parsed.TerminateReason
			} else {
				prediction = strings.TrimSpace(workspace.CurrentReport)
			}
			termination = TerminationTerminatedByLLM
			em.emit(r.finalEvent(round, prediction, workspace, termination))
			break
		}
		if isLastCall {
			fallback := strings.TrimSpace(workspace.CurrentReport)
			if fallback == "" {
				fallback = workspace.LastObservation
			}
			prediction = fallback
			termination = TerminationFinalizedFallback
			em.emit(r.finalEvent(round, prediction, workspace, termination))
			slog.Warn("Last LLM call did not return <answer> or <terminate>; promoting accumulated content")
			break
		}

		switch {
		case r.nativeMode && len(nativeCalls) > 0:
			call := nativeCalls[0]
			observation, _ := r.dispatcher.InvokeCall(ctx, call.Name, call.Arguments)
			workspace.LastObservation = observation
			r.emitToolEvent(em, round, call.Name+" "+call.RawArgs, observation)
			trajectory = append(trajectory, llms.User(ObsStart+"\n"+observation+"\n"+ObsEnd))

		case parsed.ToolCall != "":
			observation, _ := r.dispatcher.Invoke(ctx, parsed.ToolCall)
			workspace.LastObservation = observation
			r.emitToolEvent(em, round, parsed.ToolCall, observation)
			trajectory = append(trajectory, llms.User(ObsStart+"\n"+observation+"\n"+ObsEnd))

		default:
			// Neither action nor termination: one forced-finalization
			// retry, outside the round budget.
			slog.Warn("LLM produced no <answer> or <tool_call>; forcing answer generation")
			forcedMsgs := append(append([]llms.Message{}, currentContext...), llms.User(finalizeFormatErrorPrompt))
			forced, ferr := r.provider.Complete(ctx, forcedMsgs, llms.Options{Stop: []string{ObsStart}})
			if ferr == nil {
				forcedParsed := ParseResearchOutput(forced.Content)
				if forcedParsed.Answer != "" {
					prediction = forcedParsed.Answer
					termination = TerminationAnswerForced
					em.emit(r.finalEvent(round, prediction, workspace, termination))
					trajectory = append(trajectory, llms.Message{Role: llms.RoleAssistant, Content: forced.Content})
					break
				}
			}
			if prediction == "" {
				slog.Error("Failed to force answer generation")
				prediction = "No answer found (format error after retry)."
				termination = TerminationFormatError
			}
		}
		if termination != "" {
			break
		}

		// Token budget check on the prompt just sent.
		if tokenCount := r.countTokens(requestMsgs); tokenCount > r.cfg.MaxInputTokens {
			slog.Warn("Token count exceeds the input limit", "tokens", tokenCount, "limit", r.cfg.MaxInputTokens)
			forcedMsgs := append(append([]llms.Message{}, currentContext...), llms.User(finalizeTokenLimitPrompt))
			forced, ferr := r.provider.Complete(ctx, forcedMsgs, llms.Options{Stop: []string{ObsStart}})
			prediction = "No answer found (token limit)."
			if ferr == nil {
				if forcedParsed := ParseResearchOutput(forced.Content); forcedParsed.Answer != "" {
					prediction = forcedParsed.Answer
				}
				trajectory = append(trajectory, llms.Message{Role: llms.RoleAssistant, Content: forced.Content})
			}
			termination = TerminationTokenLimit
			em.emit(r.finalEvent(round, prediction, workspace, termination))
			break
		}
	}

	// The result is never empty: fall back to report, then to fixed
	// sentinels.
	if prediction == "" {
		if fallback := strings.TrimSpace(workspace.CurrentReport); fallback != "" {
			prediction = fallback
			if termination == "" {
				termination = TerminationReportFallback
			}
		} else if remaining == 0 {
			prediction = "No answer found (exceeded available LLM calls)."
			termination = TerminationCallsExceeded
		} else {
			prediction = "No answer found."
			termination = TerminationAnswerNotFound
		}
	}

	if !finalEmitted {
		em.emit(Event{
			Type:   EventStatus,
			Status: nonEmpty(termination, "completed"),
			Answer: prediction,
			Report: workspace.CurrentReport,
		})
	}

	metrics.RecordRun(ctx, config.AgentWebResearcher, termination)
	span.SetAttributes(attribute.Int(observability.AttrRound, round))

	return &Result{
		Question:    question,
		Prediction:  prediction,
		Report:      workspace.CurrentReport,
		Termination: termination,
		Trajectory:  trajectory,
	}
}

func (r *Researcher) nativeTools() []llms.ToolDefinition {
	if !r.nativeMode {
		return nil
	}
	var defs []llms.ToolDefinition
	for _, info := range r.dispatcher.ListTools() {
		defs = append(defs, llms.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  info.ParametersSchema(),
		})
	}
	return defs
}

func (r *Researcher) emitToolEvent(em emitter, round int, toolCall, observation string) {
	eventType := EventTool
	if strings.HasPrefix(observation, "Error:") {
		eventType = EventToolError
	}
	em.emit(Event{
		Type:        eventType,
		Round:       round,
		ToolCall:    toolCall,
		Observation: observation,
	})
}

func (r *Researcher) finalEvent(round int, answer string, workspace *Workspace, termination string) Event {
	return Event{
		Type:        EventFinal,
		Round:       round,
		Answer:      answer,
		Report:      workspace.CurrentReport,
		Termination: termination,
	}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
