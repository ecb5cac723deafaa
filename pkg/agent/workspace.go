package agent

import (
	"fmt"

	"github.com/kadirpekel/delver/pkg/llms"
)

// Initial workspace fillers shown to the model before any round has run.
const (
	initialReport      = "This is the first round. The report is empty."
	initialObservation = "This is the first round. No tool has been called yet."
)

// Workspace is the minimal state carried between rounds of the iterative
// research loop: the question, the evolving report (R_{i-1}) and the last
// tool observation (O_{i-1}). It is mutated at most once per field per
// round.
type Workspace struct {
	Question        string
	CurrentReport   string
	LastObservation string
}

// NewWorkspace creates the round-zero workspace for a question.
func NewWorkspace(question string) *Workspace {
	return &Workspace{
		Question:        question,
		CurrentReport:   initialReport,
		LastObservation: initialObservation,
	}
}

// Context builds the two-message prompt of one round: the system prompt
// plus the user message rendering the workspace state.
func (w *Workspace) Context(systemPrompt string) []llms.Message {
	userContent := fmt.Sprintf(
		"**Question:** %s\n\n**Current Report (R_{i-1}):**\n%s\n\n**Last Observation (O_{i-1}):**\n%s",
		w.Question, w.CurrentReport, w.LastObservation,
	)

	return []llms.Message{
		llms.System(systemPrompt),
		llms.User(userContent),
	}
}
