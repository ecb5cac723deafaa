package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/delver/pkg/agent"
	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/llms"
	"github.com/kadirpekel/delver/pkg/observability"
	"github.com/kadirpekel/delver/pkg/scaling"
	"github.com/kadirpekel/delver/pkg/tools"
	"github.com/kadirpekel/delver/pkg/weaver"
)

// Manager owns sessions: creation, lookup (in-memory first, history file
// second), turn scheduling, and JSONL persistence.
type Manager struct {
	cfg      *config.Config
	provider *llms.OpenAIProvider
	registry *tools.ToolRegistry

	historyPath string
	historyMu   sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(cfg *config.Config, provider *llms.OpenAIProvider, registry *tools.ToolRegistry) *Manager {
	return &Manager{
		cfg:         cfg,
		provider:    provider,
		registry:    registry,
		historyPath: cfg.Server.HistoryFile,
		sessions:    make(map[string]*Session),
	}
}

// CreateSession creates and tracks a new session.
func (m *Manager) CreateSession(opts Options) *Session {
	if opts.Agent == "" {
		opts.Agent = m.cfg.Agent.Default
	}
	if opts.TTSNumAgents == 0 {
		opts.TTSNumAgents = m.cfg.Agent.TTSNumAgents
	}
	if opts.MaxTurns == 0 {
		opts.MaxTurns = m.cfg.Agent.HistoryTurns
	}

	s := New(opts)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	observability.GetGlobalMetrics().RecordSessionCreated()
	return s
}

// GetSession returns a session by ID, reconstructing finished sessions
// from the history file on demand. In-memory sessions override persisted
// records of the same ID.
func (m *Manager) GetSession(sessionID string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return s
	}
	return m.loadSessionFromHistory(sessionID)
}

// StartResearch schedules one turn on the session. Only one turn per
// session may run at a time.
func (m *Manager) StartResearch(s *Session, question string) (*Turn, error) {
	turn, err := s.AddTurn(question)
	if err != nil {
		return nil, err
	}

	go m.runResearch(s, question, turn)
	return turn, nil
}

func (m *Manager) runResearch(s *Session, question string, turn *Turn) {
	defer m.persistSession(s)

	// History feeds the instruction, never the question.
	instruction := s.Instruction
	if historyContext := s.HistoryContext(s.MaxTurns); historyContext != "" {
		instruction = strings.TrimSpace(instruction + "\n\n" + historyContext)
	}

	slog.Info("Starting research",
		"session", s.ID,
		"turn", s.TurnCount(),
		"agent", s.Agent)

	progress := func(event agent.Event) {
		s.AddEvent(event)
		observability.GetGlobalMetrics().RecordSessionEvent()
	}

	answer, result, err := m.executeAgent(context.Background(), s, question, instruction, progress)
	if err != nil {
		slog.Error("Research failed", "session", s.ID, "error", err)
		s.AddEvent(agent.Event{Type: agent.EventError, Message: err.Error()})
		s.FinishTurn("", nil, err.Error())
		return
	}

	s.FinishTurn(answer, result, "")
	slog.Info("Research completed", "session", s.ID, "turn", s.TurnCount())
}

// executeAgent runs the session's configured loop variant.
func (m *Manager) executeAgent(ctx context.Context, s *Session, question, instruction string, progress agent.EventCallback) (string, any, error) {
	agentCfg := m.cfg.Agent
	if s.TTSNumAgents > 0 {
		agentCfg.TTSNumAgents = s.TTSNumAgents
	}

	switch s.Agent {
	case config.AgentWebWeaver:
		runner := weaver.New(m.provider, m.baseTools(s.Tools), agentCfg, instruction)
		result := runner.Run(ctx, question, progress)
		if result.Error != "" {
			return "", result, fmt.Errorf("%s", result.Error)
		}
		progress(agent.Event{
			Type:   agent.EventSummary,
			Answer: result.Answer(),
			Report: result.FinalReport,
		})
		return result.Answer(), result, nil

	case config.AgentTTS:
		runner := scaling.NewTTSAgent(m.provider, m.toolProvider(s.Tools), agentCfg, instruction)
		result := runner.Run(ctx, question, progress)
		return result.FinalSynthesizedAnswer, result, nil

	case config.AgentReact:
		dispatcher := agent.NewDispatcher(m.toolProvider(s.Tools))
		runner := agent.NewReactAgent(m.provider, dispatcher, agentCfg, instruction)
		result := runner.Run(ctx, question, progress)
		progress(agent.Event{
			Type:        agent.EventSummary,
			Answer:      result.Prediction,
			Report:      result.Report,
			Termination: result.Termination,
		})
		return result.Prediction, result, nil

	default: // config.AgentWebResearcher
		dispatcher := agent.NewDispatcher(m.toolProvider(s.Tools))
		runner := agent.NewResearcher(m.provider, dispatcher, agentCfg, instruction, m.cfg.LLM.NativeToolCalls)
		result := runner.Run(ctx, question, progress)
		progress(agent.Event{
			Type:        agent.EventSummary,
			Answer:      result.Prediction,
			Report:      result.Report,
			Termination: result.Termination,
		})
		return result.Prediction, result, nil
	}
}

// toolProvider returns the registry view restricted to the session's tool
// whitelist.
func (m *Manager) toolProvider(allowed []string) agent.ToolProvider {
	if len(allowed) == 0 {
		return m.registry
	}
	return &filteredToolProvider{registry: m.registry, allowed: toSet(allowed)}
}

// baseTools resolves the planner's general toolset honoring the
// whitelist.
func (m *Manager) baseTools(allowed []string) []tools.Tool {
	allowedSet := toSet(allowed)

	var base []tools.Tool
	for _, info := range m.registry.ListTools() {
		if len(allowedSet) > 0 && !allowedSet[info.Name] {
			continue
		}
		if tool, err := m.registry.GetTool(info.Name); err == nil {
			base = append(base, tool)
		}
	}
	return base
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// filteredToolProvider restricts a registry to a whitelist.
type filteredToolProvider struct {
	registry *tools.ToolRegistry
	allowed  map[string]bool
}

func (p *filteredToolProvider) GetTool(name string) (tools.Tool, error) {
	if !p.allowed[name] {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	return p.registry.GetTool(name)
}

func (p *filteredToolProvider) ListTools() []tools.ToolInfo {
	var infos []tools.ToolInfo
	for _, info := range p.registry.ListTools() {
		if p.allowed[info.Name] {
			infos = append(infos, info)
		}
	}
	return infos
}

func (p *filteredToolProvider) ExecuteTool(ctx context.Context, name string, args map[string]any) (tools.ToolResult, error) {
	if !p.allowed[name] {
		err := fmt.Errorf("tool %s not found", name)
		return tools.ToolResult{Success: false, Error: err.Error(), ToolName: name}, err
	}
	return p.registry.ExecuteTool(ctx, name, args)
}

// persistSession appends one complete session snapshot to the JSONL
// history. All appenders serialize on the manager's mutex.
func (m *Manager) persistSession(s *Session) {
	record := s.HistoryRecord()

	raw, err := json.Marshal(record)
	if err != nil {
		slog.Error("Failed to marshal session record", "session", s.ID, "error", err)
		return
	}

	m.historyMu.Lock()
	defer m.historyMu.Unlock()

	if dir := filepath.Dir(m.historyPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create history directory", "error", err)
			return
		}
	}

	f, err := os.OpenFile(m.historyPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Error("Failed to open history file", "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		slog.Error("Failed to append history record", "error", err)
	}
}

// ReadHistory returns the newest-first session list, merging in-memory and
// persisted sessions, deduplicated by session_id.
func (m *Manager) ReadHistory(limit int) []map[string]any {
	records := m.loadAllHistory()

	m.mu.RLock()
	for _, s := range m.sessions {
		records = append(records, s.HistoryRecord())
	}
	m.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		iu, _ := records[i]["updated_at"].(string)
		ju, _ := records[j]["updated_at"].(string)
		return iu > ju
	})

	seen := make(map[string]bool)
	var unique []map[string]any
	for _, record := range records {
		sid, _ := record["session_id"].(string)
		if sid == "" || seen[sid] {
			continue
		}
		seen[sid] = true
		unique = append(unique, record)
	}

	if limit > 0 && len(unique) > limit {
		unique = unique[:limit]
	}
	return unique
}

// loadAllHistory reads every record in the JSONL file, skipping malformed
// lines.
func (m *Manager) loadAllHistory() []map[string]any {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()

	f, err := os.Open(m.historyPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			slog.Warn("Skip malformed history line", "preview", truncate(line, 120))
			continue
		}
		records = append(records, record)
	}
	return records
}

// loadSessionFromHistory reconstructs a finished session from the JSONL
// file (read-only; no current turn).
func (m *Manager) loadSessionFromHistory(sessionID string) *Session {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()

	f, err := os.Open(m.historyPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	// Later lines are newer snapshots of the same session; keep scanning
	// so the last one wins.
	var found *historyRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record historyRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		if record.SessionID == sessionID {
			found = &record
		}
	}
	if found == nil {
		return nil
	}

	return found.toSession()
}

// historyRecord is the decoded persisted snapshot.
type historyRecord struct {
	SessionID string              `json:"session_id"`
	Status    string              `json:"status"`
	CreatedAt string              `json:"created_at"`
	UpdatedAt string              `json:"updated_at"`
	Turns     []historyTurnRecord `json:"turns"`
}

type historyTurnRecord struct {
	TaskID    string        `json:"task_id"`
	Question  string        `json:"question"`
	Answer    string        `json:"answer"`
	Status    string        `json:"status"`
	CreatedAt string        `json:"created_at"`
	Events    []agent.Event `json:"events"`
	Result    any           `json:"result"`
	Error     string        `json:"error"`
	Process   Process       `json:"process"`
}

func (r *historyRecord) toSession() *Session {
	s := New(Options{})
	s.ID = r.SessionID
	if r.Status != "" {
		s.SetStatus(r.Status)
	} else {
		s.SetStatus(StatusCompleted)
	}

	createdAt, updatedAt := time.Now().UTC(), time.Now().UTC()
	if t, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
		createdAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, r.UpdatedAt); err == nil {
		updatedAt = t
	}
	s.SetTimestamps(createdAt, updatedAt)

	for _, turnRecord := range r.Turns {
		turn := &Turn{
			TaskID:        turnRecord.TaskID,
			Question:      turnRecord.Question,
			Answer:        turnRecord.Answer,
			Status:        turnRecord.Status,
			Events:        turnRecord.Events,
			Result:        turnRecord.Result,
			Error:         turnRecord.Error,
			ProcessRounds: turnRecord.Process.Rounds,
			ProcessTools:  turnRecord.Process.Tools,
		}
		if turn.Status == "" {
			turn.Status = StatusCompleted
		}
		if t, err := time.Parse(time.RFC3339Nano, turnRecord.CreatedAt); err == nil {
			turn.CreatedAt = t
		}
		s.restoreTurn(turn)
	}

	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
