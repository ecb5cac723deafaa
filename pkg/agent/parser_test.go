package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResearchOutput_ThreePart(t *testing.T) {
	text := `<plan>check the capital</plan>
<report>Paris is the capital.</report>
<answer>Paris</answer>`

	out := ParseResearchOutput(text)
	assert.Equal(t, "check the capital", out.Plan)
	assert.Equal(t, "Paris is the capital.", out.Report)
	assert.Equal(t, "Paris", out.Answer)
	assert.Empty(t, out.ToolCall)
	assert.False(t, out.Terminate)
	assert.True(t, out.HasAction())
}

func TestParseResearchOutput_LastNonEmptyWins(t *testing.T) {
	text := `<report></report>
<report>first draft</report>
some rehearsal text
<report>final report</report>`

	out := ParseResearchOutput(text)
	assert.Equal(t, "final report", out.Report)
}

func TestParseResearchOutput_Idempotent(t *testing.T) {
	text := `<plan>p</plan><report>r</report><tool_call>{"name":"search"}</tool_call>`
	first := ParseResearchOutput(text)
	second := ParseResearchOutput(text)
	assert.Equal(t, first, second)
}

func TestParseResearchOutput_TerminateEmptyBody(t *testing.T) {
	out := ParseResearchOutput(`<report>done</report><terminate></terminate>`)
	assert.True(t, out.Terminate)
	assert.Empty(t, out.TerminateReason)
}

func TestParseResearchOutput_TerminateWithReason(t *testing.T) {
	out := ParseResearchOutput(`<terminate>nothing left to research</terminate>`)
	assert.True(t, out.Terminate)
	assert.Equal(t, "nothing left to research", out.TerminateReason)
}

func TestParseResearchOutput_UnclosedTerminate(t *testing.T) {
	out := ParseResearchOutput(`<plan>stop</plan>
<terminate>`)
	assert.True(t, out.Terminate)
	assert.Empty(t, out.TerminateReason)
}

func TestParseResearchOutput_NoAction(t *testing.T) {
	out := ParseResearchOutput(`just some prose without any tags`)
	assert.False(t, out.HasAction())
}

func TestParseResearchOutput_AnswerAndTerminate(t *testing.T) {
	out := ParseResearchOutput(`<answer>42</answer><terminate>done</terminate>`)
	// Both present: the loop gives answer precedence; the parser reports
	// both.
	assert.Equal(t, "42", out.Answer)
	assert.True(t, out.Terminate)
}

func TestParsePlannerOutput_Precedence(t *testing.T) {
	out := ParsePlannerOutput(`<plan>p</plan>
<tool_call>{"name":"search"}</tool_call>
<write_outline>1. Intro <citation>id_1</citation></write_outline>`)
	assert.Equal(t, ActionWriteOutline, out.Kind)
	assert.Contains(t, out.Payload, "id_1")
}

func TestParsePlannerOutput_ToolCall(t *testing.T) {
	out := ParsePlannerOutput(`<plan>search more</plan>
<tool_call>{"name": "search", "arguments": {"query": ["x"]}}</tool_call>`)
	require.Equal(t, ActionToolCall, out.Kind)
	assert.Contains(t, out.Payload, `"search"`)
	assert.Equal(t, "search more", out.Plan)
}

func TestParsePlannerOutput_Terminate(t *testing.T) {
	out := ParsePlannerOutput(`<plan>done</plan><terminate>`)
	assert.Equal(t, ActionTerminate, out.Kind)
}

func TestParsePlannerOutput_Error(t *testing.T) {
	out := ParsePlannerOutput(`nothing structured here`)
	assert.Equal(t, ActionError, out.Kind)
	assert.Contains(t, out.Payload, "No valid action tag")
}

func TestParseWriterOutput_Write(t *testing.T) {
	out := ParseWriterOutput(`<plan>write 1.1</plan>
<write>## 1.1 Background
Some prose [cite:id_1].</write>`)
	require.Equal(t, ActionWrite, out.Kind)
	assert.Contains(t, out.Payload, "[cite:id_1]")
}

func TestParseWriterOutput_Retrieve(t *testing.T) {
	out := ParseWriterOutput(`<plan>get evidence</plan>
<tool_call>{"name": "retrieve", "arguments": {"citation_ids": ["id_1"]}}</tool_call>`)
	assert.Equal(t, ActionToolCall, out.Kind)
}

func TestParseWriterOutput_Error(t *testing.T) {
	out := ParseWriterOutput(`free form text`)
	assert.Equal(t, ActionError, out.Kind)
	assert.Contains(t, out.Payload, "retrieve")
}
