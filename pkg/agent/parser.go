package agent

import (
	"regexp"
	"strings"
)

// Structured-output parsing for the textual tag protocol.
//
// Each label is matched as a delimited region in the assistant text; the
// last non-empty occurrence wins, which tolerates chain-of-thought
// rehearsal earlier in the response. No JSON validation happens here:
// tool-call payloads go to the dispatcher as-is.

var (
	planRe         = regexp.MustCompile(`(?s)<plan>(.*?)</plan>`)
	reportRe       = regexp.MustCompile(`(?s)<report>(.*?)</report>`)
	toolCallRe     = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)
	answerRe       = regexp.MustCompile(`(?s)<answer>(.*?)</answer>`)
	terminateRe    = regexp.MustCompile(`(?s)<terminate>(.*?)</terminate>`)
	terminateTagRe = regexp.MustCompile(`<terminate>`)
	writeRe        = regexp.MustCompile(`(?s)<write>(.*?)</write>`)
	writeOutlineRe = regexp.MustCompile(`(?s)<write_outline>(.*?)</write_outline>`)
)

// lastNonEmpty returns the last non-empty capture of re in text.
func lastNonEmpty(re *regexp.Regexp, text string) string {
	matches := re.FindAllStringSubmatch(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if body := strings.TrimSpace(matches[i][1]); body != "" {
			return body
		}
	}
	return ""
}

// ResearchOutput is the parsed three-part response of the iterative
// research loop.
type ResearchOutput struct {
	Plan            string
	Report          string
	ToolCall        string
	Answer          string
	Terminate       bool
	TerminateReason string
}

// ParseResearchOutput extracts <plan>, <report> and the action tag
// (<tool_call>, <answer> or <terminate>) from one assistant response.
// <terminate> is a presence signal: an empty body still terminates, with
// an empty reason.
func ParseResearchOutput(text string) ResearchOutput {
	out := ResearchOutput{
		Plan:     lastNonEmpty(planRe, text),
		Report:   lastNonEmpty(reportRe, text),
		ToolCall: lastNonEmpty(toolCallRe, text),
		Answer:   lastNonEmpty(answerRe, text),
	}

	if terminateTagRe.MatchString(text) {
		out.Terminate = true
		out.TerminateReason = lastNonEmpty(terminateRe, text)
	}

	return out
}

// HasAction reports whether the response contains any action or terminal
// tag. Absence is a parse error the loop recovers from with a forced
// finalization.
func (o ResearchOutput) HasAction() bool {
	return o.ToolCall != "" || o.Answer != "" || o.Terminate
}

// ActionKind enumerates the planner/writer action space.
type ActionKind string

const (
	ActionToolCall     ActionKind = "tool_call"
	ActionWriteOutline ActionKind = "write_outline"
	ActionWrite        ActionKind = "write"
	ActionTerminate    ActionKind = "terminate"
	ActionError        ActionKind = "error"
)

// ActionOutput is the parsed planner/writer response: a plan plus exactly
// one action.
type ActionOutput struct {
	Plan    string
	Kind    ActionKind
	Payload string
}

// ParsePlannerOutput parses <plan> and one of <tool_call>,
// <write_outline>, <terminate>. Terminate wins over write_outline wins
// over tool_call when several appear.
func ParsePlannerOutput(text string) ActionOutput {
	out := ActionOutput{Plan: lastNonEmpty(planRe, text)}

	switch {
	case terminateTagRe.MatchString(text):
		out.Kind = ActionTerminate
	case writeOutlineRe.MatchString(text):
		out.Kind = ActionWriteOutline
		out.Payload = lastNonEmpty(writeOutlineRe, text)
	case toolCallRe.MatchString(text):
		out.Kind = ActionToolCall
		out.Payload = lastNonEmpty(toolCallRe, text)
	default:
		out.Kind = ActionError
		out.Payload = "No valid action tag found. Must use <tool_call>, <write_outline>, or <terminate>."
	}

	return out
}

// ParseWriterOutput parses <plan> and one of <tool_call>, <write>,
// <terminate>.
func ParseWriterOutput(text string) ActionOutput {
	out := ActionOutput{Plan: lastNonEmpty(planRe, text)}

	switch {
	case terminateTagRe.MatchString(text):
		out.Kind = ActionTerminate
	case writeRe.MatchString(text):
		out.Kind = ActionWrite
		out.Payload = lastNonEmpty(writeRe, text)
	case toolCallRe.MatchString(text):
		out.Kind = ActionToolCall
		out.Payload = lastNonEmpty(toolCallRe, text)
	default:
		out.Kind = ActionError
		out.Payload = "No valid action tag found. Must use <tool_call> (retrieve), <write>, or <terminate>."
	}

	return out
}
