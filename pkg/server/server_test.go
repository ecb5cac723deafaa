package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/delver/pkg/agent"
	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/llms"
	"github.com/kadirpekel/delver/pkg/session"
	"github.com/kadirpekel/delver/pkg/tools"
)

func testServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.HistoryFile = filepath.Join(t.TempDir(), "history.jsonl")

	manager := session.NewManager(cfg, llms.NewOpenAIProvider(&cfg.LLM), tools.NewToolRegistry())
	return New(&cfg.Server, manager), manager
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, handler http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestServer_CreateSession(t *testing.T) {
	srv, _ := testServer(t)

	rec := postJSON(t, srv.Handler(), "/api/session", map[string]any{
		"instruction": "be concise",
		"tools":       []string{"search"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var summary map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.NotEmpty(t, summary["session_id"])
	assert.Equal(t, "active", summary["status"])
	assert.EqualValues(t, 0, summary["turn_count"])
}

func TestServer_CreateSessionValidation(t *testing.T) {
	srv, _ := testServer(t)

	rec := postJSON(t, srv.Handler(), "/api/session", map[string]any{"tts_num_agents": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, srv.Handler(), "/api/session", map[string]any{"max_turns": 21})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ResearchUnknownSession(t *testing.T) {
	srv, _ := testServer(t)

	rec := postJSON(t, srv.Handler(), "/api/research", map[string]any{
		"session_id": "missing",
		"question":   "anything",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_FetchSessionNotFound(t *testing.T) {
	srv, _ := testServer(t)
	rec := getJSON(t, srv.Handler(), "/api/session/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_TurnProcessEndpoints(t *testing.T) {
	srv, manager := testServer(t)

	s := manager.CreateSession(session.Options{})
	turn, err := s.AddTurn("q")
	require.NoError(t, err)
	s.AddEvent(agent.Event{Type: agent.EventRound, Round: 1, Plan: "p", Report: "r"})
	s.FinishTurn("a", nil, "")

	var byIndex map[string]any
	rec := getJSON(t, srv.Handler(), "/api/session/"+s.ID+"/turn/0/process", &byIndex)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, turn.TaskID, byIndex["task_id"])

	var byTask map[string]any
	rec = getJSON(t, srv.Handler(), "/api/session/"+s.ID+"/task/"+turn.TaskID+"/process", &byTask)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, byTask["turn_index"])

	process, ok := byTask["process"].(map[string]any)
	require.True(t, ok)
	rounds, ok := process["rounds"].([]any)
	require.True(t, ok)
	assert.Len(t, rounds, 1)

	rec = getJSON(t, srv.Handler(), "/api/session/"+s.ID+"/turn/9/process", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_History(t *testing.T) {
	srv, manager := testServer(t)

	s := manager.CreateSession(session.Options{})
	_, err := s.AddTurn("q")
	require.NoError(t, err)
	s.FinishTurn("a", nil, "")

	var payload struct {
		Items []map[string]any `json:"items"`
	}
	rec := getJSON(t, srv.Handler(), "/api/history?limit=5", &payload)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, s.ID, payload.Items[0]["session_id"])
}

func TestServer_StreamHistoricalSession(t *testing.T) {
	srv, manager := testServer(t)

	s := manager.CreateSession(session.Options{})
	// No running turn: historical behavior.
	rec := getJSON(t, srv.Handler(), "/api/session/"+s.ID+"/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Historical session")
}

func TestServer_StreamLiveTurn(t *testing.T) {
	srv, manager := testServer(t)

	s := manager.CreateSession(session.Options{})
	_, err := s.AddTurn("q")
	require.NoError(t, err)

	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		s.AddEvent(agent.Event{Type: agent.EventRound, Round: 1, Report: "live report"})
		s.AddEvent(agent.Event{Type: agent.EventFinal, Round: 1, Answer: "done"})
		s.FinishTurn("done", nil, "")
	}()

	resp, err := http.Get(httpSrv.URL + "/api/session/" + s.ID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var payloads []map[string]any
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload))
		payloads = append(payloads, payload)
		if payload["type"] == "turn_finished" {
			break
		}
	}

	require.NotEmpty(t, payloads)
	last := payloads[len(payloads)-1]
	assert.Equal(t, "turn_finished", last["type"])
	assert.Equal(t, "completed", last["status"])
	assert.Equal(t, "done", last["answer"])
	assert.Equal(t, "live report", last["report"])

	// Exactly one final event precedes turn_finished.
	finals := 0
	for _, payload := range payloads {
		if payload["type"] == "final" {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
}
