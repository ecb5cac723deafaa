package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(events *[]Event) EventCallback {
	return func(e Event) {
		*events = append(*events, e)
	}
}

func eventTypes(events []Event) []string {
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func TestResearcher_SingleRoundAnswer(t *testing.T) {
	provider := newScriptedProvider(
		"<plan>easy question</plan><report>Paris is the capital.</report><answer>Paris</answer>",
	)
	r := NewResearcher(provider, NewDispatcher(newMapToolProvider()), testAgentConfig(), "", false)

	var events []Event
	result := r.Run(context.Background(), "capital of France?", collectEvents(&events))

	assert.Equal(t, "Paris", result.Prediction)
	assert.Equal(t, TerminationAnswerFound, result.Termination)
	assert.Equal(t, "Paris is the capital.", result.Report)
	assert.Equal(t, 1, provider.callCount())
	// Trajectory: system + user, then the assistant response.
	require.Len(t, result.Trajectory, 3)
	assert.Equal(t, "system", result.Trajectory[0].Role)
	assert.Equal(t, "user", result.Trajectory[1].Role)
	assert.Equal(t, "assistant", result.Trajectory[2].Role)

	types := eventTypes(events)
	assert.Equal(t, []string{EventRound, EventFinal}, types)
}

func TestResearcher_ToolThenAnswer(t *testing.T) {
	tool := &echoTool{name: "search", output: "Nobel Prize 2023 results...", listParams: []string{"query"}}
	provider := newScriptedProvider(
		`<plan>search first</plan><report>searching</report><tool_call>{"name":"search","arguments":{"query":["Nobel Physics 2023"]}}</tool_call>`,
		`<plan>found it</plan><report>winners found</report><answer>Pierre Agostini, Ferenc Krausz, Anne L'Huillier</answer>`,
	)
	r := NewResearcher(provider, NewDispatcher(newMapToolProvider(tool)), testAgentConfig(), "", false)

	var events []Event
	result := r.Run(context.Background(), "Nobel Physics 2023 winners?", collectEvents(&events))

	assert.Equal(t, TerminationAnswerFound, result.Termination)
	assert.Equal(t, 1, tool.executions)

	// Exactly one tool event between the two round events.
	types := eventTypes(events)
	assert.Equal(t, []string{EventRound, EventTool, EventRound, EventFinal}, types)

	// The observation reached the second round's workspace.
	secondCall := provider.lastCall()
	require.Len(t, secondCall, 2)
	assert.Contains(t, secondCall[1].Content, "Nobel Prize 2023 results...")
}

func TestResearcher_TerminateWithoutAnswer(t *testing.T) {
	provider := newScriptedProvider(
		"<plan>write essay</plan><report>full essay text here</report><terminate></terminate>",
	)
	r := NewResearcher(provider, NewDispatcher(newMapToolProvider()), testAgentConfig(), "", false)

	result := r.Run(context.Background(), "write an essay", nil)

	assert.Equal(t, TerminationTerminatedByLLM, result.Termination)
	assert.Equal(t, "full essay text here", result.Prediction)
}

func TestResearcher_TerminateReasonWins(t *testing.T) {
	provider := newScriptedProvider(
		"<report>some report</report><terminate>research exhausted</terminate>",
	)
	r := NewResearcher(provider, NewDispatcher(newMapToolProvider()), testAgentConfig(), "", false)

	result := r.Run(context.Background(), "q", nil)
	assert.Equal(t, "research exhausted", result.Prediction)
}

func TestResearcher_LastRoundForcesFinalization(t *testing.T) {
	// R_max = 1 and the model only wants to call a tool: the last-call
	// directive is injected and the report is promoted.
	cfg := testAgentConfig()
	cfg.MaxLLMCalls = 1

	provider := newScriptedProvider(
		`<plan>search</plan><report>partial findings</report><tool_call>{"name":"search","arguments":{"query":["x"]}}</tool_call>`,
	)
	r := NewResearcher(provider, NewDispatcher(newMapToolProvider()), cfg, "", false)

	result := r.Run(context.Background(), "q", nil)

	assert.Equal(t, TerminationFinalizedFallback, result.Termination)
	assert.Equal(t, "partial findings", result.Prediction)

	// The finalization directive was appended to the request.
	call := provider.lastCall()
	require.NotEmpty(t, call)
	assert.Contains(t, call[len(call)-1].Content, "maximum allowed LLM calls")
}

func TestResearcher_ForcedFinalizationOnFormatError(t *testing.T) {
	provider := newScriptedProvider(
		"free-form response with no tags at all",
		"<plan>recovered</plan><report>r</report><answer>forced answer</answer>",
	)
	r := NewResearcher(provider, NewDispatcher(newMapToolProvider()), testAgentConfig(), "", false)

	result := r.Run(context.Background(), "q", nil)

	assert.Equal(t, TerminationAnswerForced, result.Termination)
	assert.Equal(t, "forced answer", result.Prediction)
	// The retry is an extra call outside the round budget.
	assert.Equal(t, 2, provider.callCount())
}

func TestResearcher_FormatErrorAfterRetry(t *testing.T) {
	provider := newScriptedProvider(
		"no tags",
		"still no tags",
	)
	r := NewResearcher(provider, NewDispatcher(newMapToolProvider()), testAgentConfig(), "", false)

	result := r.Run(context.Background(), "q", nil)

	assert.Equal(t, TerminationFormatError, result.Termination)
	assert.NotEmpty(t, result.Prediction)
}

func TestResearcher_EmptyToolResult(t *testing.T) {
	tool := &echoTool{name: "search", output: "", listParams: []string{"query"}}
	provider := newScriptedProvider(
		`<report>r1</report><tool_call>{"name":"search","arguments":{"query":["x"]}}</tool_call>`,
		`<report>r2</report><answer>done</answer>`,
	)
	r := NewResearcher(provider, NewDispatcher(newMapToolProvider(tool)), testAgentConfig(), "", false)

	result := r.Run(context.Background(), "q", nil)

	// Empty tool output does not hang the loop.
	assert.Equal(t, "done", result.Prediction)
}

func TestResearcher_ToolErrorContinuesLoop(t *testing.T) {
	provider := newScriptedProvider(
		`<report>r1</report><tool_call>{"name":"bad","arguments":{}}</tool_call>`,
		`<report>r2</report><answer>recovered</answer>`,
	)
	r := NewResearcher(provider, NewDispatcher(newMapToolProvider(&failingTool{name: "bad"})), testAgentConfig(), "", false)

	var events []Event
	result := r.Run(context.Background(), "q", collectEvents(&events))

	assert.Equal(t, "recovered", result.Prediction)
	assert.Contains(t, eventTypes(events), EventToolError)
}

func TestResearcher_TokenLimitTrips(t *testing.T) {
	cfg := testAgentConfig()
	cfg.MaxInputTokens = 10

	tool := &echoTool{name: "search", output: strings.Repeat("lots of text ", 50), listParams: []string{"query"}}
	provider := newScriptedProvider(
		`<report>r1</report><tool_call>{"name":"search","arguments":{"query":["x"]}}</tool_call>`,
		`<report>r2</report><answer>token limit answer</answer>`,
	)
	r := NewResearcher(provider, NewDispatcher(newMapToolProvider(tool)), cfg, "", false)

	result := r.Run(context.Background(), "q", nil)

	assert.Equal(t, TerminationTokenLimit, result.Termination)
	assert.Equal(t, "token limit answer", result.Prediction)
}

func TestResearcher_ReportCarriedWhenMissing(t *testing.T) {
	tool := &echoTool{name: "search", output: "obs", listParams: []string{"query"}}
	provider := newScriptedProvider(
		`<report>round one report</report><tool_call>{"name":"search","arguments":{"query":["a"]}}</tool_call>`,
		`<tool_call>{"name":"search","arguments":{"query":["b"]}}</tool_call>`,
		`<answer>done</answer>`,
	)
	r := NewResearcher(provider, NewDispatcher(newMapToolProvider(tool)), testAgentConfig(), "", false)

	result := r.Run(context.Background(), "q", nil)

	// Round 2 had no <report>; round 1's report survives.
	assert.Equal(t, "round one report", result.Report)
	assert.Equal(t, "done", result.Prediction)
}

func TestResearcher_PredictionNeverEmpty(t *testing.T) {
	// Model keeps calling tools until the budget is gone; the report
	// fallback guarantees a non-empty prediction.
	cfg := testAgentConfig()
	cfg.MaxLLMCalls = 2

	tool := &echoTool{name: "search", output: "obs", listParams: []string{"query"}}
	provider := newScriptedProvider(
		`<report>accumulated</report><tool_call>{"name":"search","arguments":{"query":["x"]}}</tool_call>`,
	)
	r := NewResearcher(provider, NewDispatcher(newMapToolProvider(tool)), cfg, "", false)

	result := r.Run(context.Background(), "q", nil)
	assert.NotEmpty(t, result.Prediction)
}
