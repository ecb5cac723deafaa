// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session provides the multi-turn session orchestrator: turns,
// per-turn event logs consumed by SSE subscribers, and the append-only
// JSONL history.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/delver/pkg/agent"
)

// Turn statuses. Transitions are monotone forward; a turn never re-enters
// an earlier state.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ProcessRound is one round of the structured research process summary.
type ProcessRound struct {
	Round     int    `json:"round"`
	Plan      string `json:"plan"`
	Report    string `json:"report"`
	Timestamp string `json:"timestamp"`
}

// ProcessTool is one tool call of the structured process summary.
type ProcessTool struct {
	Round       int    `json:"round"`
	Tool        string `json:"tool"`
	Observation string `json:"observation"`
	IsError     bool   `json:"is_error"`
	Timestamp   string `json:"timestamp"`
}

// Process bundles the structured research process of one turn.
type Process struct {
	Rounds []ProcessRound `json:"rounds"`
	Tools  []ProcessTool  `json:"tools"`
}

// Turn is one user question and its complete agent-loop execution.
type Turn struct {
	TaskID    string        `json:"task_id"`
	Question  string        `json:"question"`
	Answer    string        `json:"answer"`
	Status    string        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	Events    []agent.Event `json:"events"`
	Result    any           `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`

	ProcessRounds []ProcessRound `json:"-"`
	ProcessTools  []ProcessTool  `json:"-"`
}

func newTurn(question string) *Turn {
	return &Turn{
		TaskID:    strings.ReplaceAll(uuid.NewString(), "-", ""),
		Question:  question,
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
	}
}

// addProcessRound records (or updates) one round's plan/report.
func (t *Turn) addProcessRound(round int, plan, report, timestamp string) {
	for i := range t.ProcessRounds {
		if t.ProcessRounds[i].Round == round {
			if plan != "" {
				t.ProcessRounds[i].Plan = plan
			}
			if report != "" {
				t.ProcessRounds[i].Report = report
			}
			if timestamp != "" {
				t.ProcessRounds[i].Timestamp = timestamp
			}
			return
		}
	}
	t.ProcessRounds = append(t.ProcessRounds, ProcessRound{
		Round:     round,
		Plan:      plan,
		Report:    report,
		Timestamp: timestamp,
	})
}

func (t *Turn) addProcessTool(round int, tool, observation string, isError bool, timestamp string) {
	t.ProcessTools = append(t.ProcessTools, ProcessTool{
		Round:       round,
		Tool:        tool,
		Observation: observation,
		IsError:     isError,
		Timestamp:   timestamp,
	})
}

// ProcessData returns the structured process summary of the turn.
func (t *Turn) ProcessData() Process {
	rounds := t.ProcessRounds
	if rounds == nil {
		rounds = []ProcessRound{}
	}
	toolCalls := t.ProcessTools
	if toolCalls == nil {
		toolCalls = []ProcessTool{}
	}
	return Process{Rounds: rounds, Tools: toolCalls}
}

// ToRecord renders the turn as a JSON-able map.
func (t *Turn) ToRecord(includeProcess bool) map[string]any {
	events := t.Events
	if events == nil {
		events = []agent.Event{}
	}
	record := map[string]any{
		"task_id":    t.TaskID,
		"question":   t.Question,
		"answer":     t.Answer,
		"status":     t.Status,
		"created_at": t.CreatedAt.Format(time.RFC3339Nano),
		"events":     events,
		"result":     t.Result,
		"error":      t.Error,
	}
	if includeProcess {
		record["process"] = t.ProcessData()
	}
	return record
}

// Session is a sequence of turns under a shared instruction and tool
// policy. At most one turn is running at any time.
type Session struct {
	ID           string
	Agent        string
	Instruction  string
	Tools        []string
	TTSNumAgents int
	MaxTurns     int

	mu        sync.Mutex
	cond      *sync.Cond
	status    string
	createdAt time.Time
	updatedAt time.Time
	turns     []*Turn
	current   *Turn
}

// Options configure a new session.
type Options struct {
	Agent        string
	Instruction  string
	Tools        []string
	TTSNumAgents int
	MaxTurns     int
}

// New creates an active session.
func New(opts Options) *Session {
	s := &Session{
		ID:           strings.ReplaceAll(uuid.NewString(), "-", ""),
		Agent:        opts.Agent,
		Instruction:  opts.Instruction,
		Tools:        opts.Tools,
		TTSNumAgents: opts.TTSNumAgents,
		MaxTurns:     opts.MaxTurns,
		status:       "active",
		createdAt:    time.Now().UTC(),
	}
	s.updatedAt = s.createdAt
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Cond exposes the session's condition variable. The producer notifies
// after each append; SSE subscribers wait on it.
func (s *Session) Cond() *sync.Cond {
	return s.cond
}

// Status returns the session status.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus updates the session status (used when reconstructing from
// history).
func (s *Session) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// CurrentTurn returns the running turn, or nil.
func (s *Session) CurrentTurn() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// TurnCount returns the number of turns.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// TurnAt returns the i-th turn, or nil.
func (s *Session) TurnAt(i int) *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.turns) {
		return nil
	}
	return s.turns[i]
}

// TurnByTaskID returns a turn and its index by task ID.
func (s *Session) TurnByTaskID(taskID string) (*Turn, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.turns {
		if t.TaskID == taskID {
			return t, i
		}
	}
	return nil, -1
}

// AddTurn appends a new running turn. Fails while another turn is
// running.
func (s *Session) AddTurn(question string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.Status == StatusRunning {
		return nil, fmt.Errorf("session %s already has a running turn", s.ID)
	}

	turn := newTurn(question)
	s.turns = append(s.turns, turn)
	s.current = turn
	s.updatedAt = time.Now().UTC()
	s.cond.Broadcast()
	return turn, nil
}

// AddEvent appends an event to the current turn, derives the structured
// process summary, and wakes subscribers.
func (s *Session) AddEvent(event agent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}

	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	s.current.Events = append(s.current.Events, event)
	s.updatedAt = time.Now().UTC()

	switch event.Type {
	case agent.EventRound:
		round := event.Round
		if round == 0 {
			round = 1
		}
		s.current.addProcessRound(round, event.Plan, event.Report, event.Timestamp)

	case agent.EventTool, agent.EventToolError:
		round := event.Round
		if round == 0 {
			round = 1
		}
		toolName := event.ToolCall
		if toolName == "" {
			toolName = event.Action
		}
		if toolName == "" {
			toolName = "unknown"
		}
		s.current.addProcessTool(round, toolName, event.Observation, event.Type == agent.EventToolError, event.Timestamp)
	}

	s.cond.Broadcast()
}

// FinishTurn completes the current turn and wakes subscribers.
func (s *Session) FinishTurn(answer string, result any, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}

	s.current.Answer = answer
	s.current.Result = result
	s.current.Error = errMsg
	if errMsg != "" {
		s.current.Status = StatusFailed
	} else {
		s.current.Status = StatusCompleted
	}
	s.updatedAt = time.Now().UTC()
	s.cond.Broadcast()
}

// StreamUpdate is one batch of events handed to an SSE subscriber.
type StreamUpdate struct {
	Events    []agent.Event
	TurnIndex int
	Finished  bool
	Status    string
	Answer    string
	Report    string
	Error     string
}

// WaitStream returns events of the current turn beyond sent, blocking on
// the condition variable when nothing new is available. Subscribers read
// monotonically by index and call again until Finished. A wakeup with no
// news returns an empty update so callers can observe disconnects.
func (s *Session) WaitStream(sent int) StreamUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.current
	if current == nil {
		return StreamUpdate{Finished: true}
	}

	turnIndex := len(s.turns) - 1

	if sent >= len(current.Events) && current.Status == StatusRunning {
		s.cond.Wait()
	}

	update := StreamUpdate{TurnIndex: turnIndex}
	if sent < len(current.Events) {
		update.Events = append(update.Events, current.Events[sent:]...)
		return update
	}

	if current.Status == StatusCompleted || current.Status == StatusFailed {
		update.Finished = true
		update.Status = current.Status
		update.Answer = current.Answer
		update.Error = current.Error
		// Surface the last round's report alongside the terminal event.
		for i := len(current.Events) - 1; i >= 0; i-- {
			if current.Events[i].Type == agent.EventRound && current.Events[i].Report != "" {
				update.Report = current.Events[i].Report
				break
			}
		}
	}
	return update
}

// HistoryContext materializes the most recent completed turns into a
// human-readable conversation block, appended to the instruction of the
// next turn. History never contaminates the user question itself.
func (s *Session) HistoryContext(maxTurns int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.turns) <= 1 {
		return ""
	}

	var completed []*Turn
	for _, t := range s.turns[:len(s.turns)-1] {
		if t.Status == StatusCompleted && t.Answer != "" {
			completed = append(completed, t)
		}
	}
	if len(completed) == 0 {
		return ""
	}

	if maxTurns > 0 && len(completed) > maxTurns {
		completed = completed[len(completed)-maxTurns:]
	}

	parts := []string{
		"## Previous Conversation History",
		fmt.Sprintf("The following are the previous %d round(s) of conversation in this session.", len(completed)),
		"You should use this information to understand the context and provide better answers for the current question.",
		"DO NOT repeat information from previous answers unless specifically asked.",
		"",
	}
	for idx, turn := range completed {
		parts = append(parts,
			fmt.Sprintf("### Previous Round %d", idx+1),
			fmt.Sprintf("User Question: %s", turn.Question),
			fmt.Sprintf("Your Answer: %s", turn.Answer),
			"",
		)
	}

	return strings.Join(parts, "\n")
}

// ToRecord renders the whole session as a JSON-able map.
func (s *Session) ToRecord(includeEvents, includeProcess bool) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := make([]map[string]any, 0, len(s.turns))
	for _, turn := range s.turns {
		if includeEvents {
			turns = append(turns, turn.ToRecord(includeProcess))
		} else {
			turns = append(turns, map[string]any{
				"task_id":  turn.TaskID,
				"question": turn.Question,
				"answer":   turn.Answer,
				"status":   turn.Status,
			})
		}
	}

	return map[string]any{
		"session_id": s.ID,
		"status":     s.status,
		"created_at": s.createdAt.Format(time.RFC3339Nano),
		"updated_at": s.updatedAt.Format(time.RFC3339Nano),
		"turns":      turns,
	}
}

// Summary returns the short listing form of the session.
func (s *Session) Summary() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	firstQuestion := ""
	lastAnswer := ""
	if len(s.turns) > 0 {
		firstQuestion = s.turns[0].Question
		lastAnswer = s.turns[len(s.turns)-1].Answer
	}

	return map[string]any{
		"session_id":     s.ID,
		"status":         s.status,
		"created_at":     s.createdAt.Format(time.RFC3339Nano),
		"updated_at":     s.updatedAt.Format(time.RFC3339Nano),
		"turn_count":     len(s.turns),
		"first_question": firstQuestion,
		"last_answer":    lastAnswer,
	}
}

// HistoryRecord is the persisted snapshot format: the full session
// including per-turn events and process summaries.
func (s *Session) HistoryRecord() map[string]any {
	record := s.ToRecord(true, true)

	s.mu.Lock()
	defer s.mu.Unlock()
	firstQuestion := ""
	if len(s.turns) > 0 {
		firstQuestion = s.turns[0].Question
	}
	record["first_question"] = firstQuestion
	record["turn_count"] = len(s.turns)
	return record
}

// restoreTurn appends a reconstructed turn (history loading only).
func (s *Session) restoreTurn(turn *Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
}

// SetTimestamps overrides creation/update times (history loading only).
func (s *Session) SetTimestamps(createdAt, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createdAt = createdAt
	s.updatedAt = updatedAt
}

// UpdatedAt returns the last modification time.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}
