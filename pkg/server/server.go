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

// Package server exposes the session HTTP surface: session creation, turn
// submission, structured process queries, the SSE event stream, and the
// persisted history listing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/delver/pkg/config"
	"github.com/kadirpekel/delver/pkg/observability"
	"github.com/kadirpekel/delver/pkg/session"
)

// Server is the delver HTTP server.
type Server struct {
	cfg     *config.ServerConfig
	manager *session.Manager
	metrics *observability.Metrics
	server  *http.Server
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithMetrics mounts the Prometheus scrape endpoint.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates the HTTP server.
func New(cfg *config.ServerConfig, manager *session.Manager, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
	}
	for _, opt := range opts {
		opt(s)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Route("/api", func(r chi.Router) {
		r.Post("/session", s.createSession)
		r.Post("/research", s.submitQuestion)
		r.Get("/session/{sessionID}", s.fetchSession)
		r.Get("/session/{sessionID}/turn/{turnIndex}/process", s.fetchTurnProcess)
		r.Get("/session/{sessionID}/task/{taskID}/process", s.fetchTaskProcess)
		r.Get("/session/{sessionID}/stream", s.streamSession)
		r.Get("/history", s.listHistory)
	})

	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler())
	}

	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the router (used by tests and embedding servers).
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "address", s.cfg.Address())
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type createSessionRequest struct {
	Agent        string   `json:"agent"`
	TTSNumAgents int      `json:"tts_num_agents"`
	MaxTurns     int      `json:"max_turns"`
	Instruction  string   `json:"instruction"`
	Tools        []string `json:"tools"`
}

type researchRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Instruction) > 2000 {
		writeError(w, http.StatusBadRequest, "instruction too long")
		return
	}
	if req.TTSNumAgents != 0 && (req.TTSNumAgents < 2 || req.TTSNumAgents > 8) {
		writeError(w, http.StatusBadRequest, "tts_num_agents must be between 2 and 8")
		return
	}
	if req.MaxTurns != 0 && (req.MaxTurns < 1 || req.MaxTurns > 20) {
		writeError(w, http.StatusBadRequest, "max_turns must be between 1 and 20")
		return
	}

	sess := s.manager.CreateSession(session.Options{
		Agent:        req.Agent,
		Instruction:  req.Instruction,
		Tools:        req.Tools,
		TTSNumAgents: req.TTSNumAgents,
		MaxTurns:     req.MaxTurns,
	})

	writeJSON(w, http.StatusOK, sess.Summary())
}

func (s *Server) submitQuestion(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" || len(req.Question) > 4000 {
		writeError(w, http.StatusBadRequest, "question must be between 1 and 4000 characters")
		return
	}

	sess := s.manager.GetSession(req.SessionID)
	if sess == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	if _, err := s.manager.StartResearch(sess, req.Question); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"status":     "running",
	})
}

func (s *Server) fetchSession(w http.ResponseWriter, r *http.Request) {
	sess := s.manager.GetSession(chi.URLParam(r, "sessionID"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess.ToRecord(true, true))
}

func (s *Server) fetchTurnProcess(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess := s.manager.GetSession(sessionID)
	if sess == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	turnIndex, err := strconv.Atoi(chi.URLParam(r, "turnIndex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid turn index")
		return
	}
	turn := sess.TurnAt(turnIndex)
	if turn == nil {
		writeError(w, http.StatusNotFound, "Turn not found")
		return
	}

	writeJSON(w, http.StatusOK, turnProcessPayload(sessionID, turnIndex, turn))
}

func (s *Server) fetchTaskProcess(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess := s.manager.GetSession(sessionID)
	if sess == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	turn, turnIndex := sess.TurnByTaskID(chi.URLParam(r, "taskID"))
	if turn == nil {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}

	writeJSON(w, http.StatusOK, turnProcessPayload(sessionID, turnIndex, turn))
}

func turnProcessPayload(sessionID string, turnIndex int, turn *session.Turn) map[string]any {
	return map[string]any{
		"session_id": sessionID,
		"turn_index": turnIndex,
		"task_id":    turn.TaskID,
		"question":   turn.Question,
		"answer":     turn.Answer,
		"status":     turn.Status,
		"process":    turn.ProcessData(),
	}
}

// streamSession streams the current turn's events as server-sent events,
// terminated by a turn_finished event when the running turn ends.
func (s *Server) streamSession(w http.ResponseWriter, r *http.Request) {
	sess := s.manager.GetSession(chi.URLParam(r, "sessionID"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Historical sessions have no live turn and therefore no live events.
	if sess.CurrentTurn() == nil {
		writeSSE(w, map[string]any{"type": "info", "message": "Historical session, no live events"})
		flusher.Flush()
		return
	}

	// Wake the stream loop when the client goes away so it can observe
	// the cancelled context instead of waiting forever.
	ctx := r.Context()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sess.Cond().Broadcast()
		case <-done:
		}
	}()

	sent := 0
	for {
		if ctx.Err() != nil {
			return
		}

		update := sess.WaitStream(sent)

		for _, event := range update.Events {
			payload := eventPayload(event)
			payload["turn_index"] = update.TurnIndex
			writeSSE(w, payload)
		}
		sent += len(update.Events)
		if len(update.Events) > 0 {
			flusher.Flush()
		}

		if update.Finished {
			writeSSE(w, map[string]any{
				"type":       "turn_finished",
				"turn_index": update.TurnIndex,
				"status":     update.Status,
				"answer":     update.Answer,
				"report":     update.Report,
				"error":      update.Error,
			})
			flusher.Flush()
			return
		}
	}
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	records := s.manager.ReadHistory(limit)
	if records == nil {
		records = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

// eventPayload renders an event as a flat JSON object.
func eventPayload(event any) map[string]any {
	raw, err := json.Marshal(event)
	if err != nil {
		return map[string]any{"type": "error", "message": "unserializable event"}
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{"type": "error", "message": "unserializable event"}
	}
	return payload
}

func writeSSE(w http.ResponseWriter, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}
