package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mtzanidakis/vibe/internal/bus"
	"github.com/mtzanidakis/vibe/internal/dispatch"
	"github.com/mtzanidakis/vibe/internal/router"
	"github.com/mtzanidakis/vibe/internal/store"
	"github.com/mtzanidakis/vibe/internal/swarm"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents", s.listAgents)

	// Routing and execution
	mux.HandleFunc("POST /api/route", s.route)
	mux.HandleFunc("POST /api/runs", s.createRun)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)

	// Sessions and messages
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/stats", s.sessionStats)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.getSessionMessages)
	mux.HandleFunc("DELETE /api/messages", s.deleteMessages)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.deps.Agents.ListAgents())
}

func decodeRequest(r *http.Request) (dispatch.Request, error) {
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

// requestError maps dispatcher errors to a status code.
func requestError(w http.ResponseWriter, err error) {
	var cycle *swarm.CycleError
	switch {
	case errors.As(err, &cycle):
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, dispatch.ErrEmptyMessage):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, router.ErrNoAgents):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := s.deps.Dispatcher.Route(r.Context(), req)
	if err != nil {
		requestError(w, err)
		return
	}
	jsonResponse(w, result)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	runID, sessionID, err := s.deps.Dispatcher.Submit(r.Context(), req)
	if err != nil {
		requestError(w, err)
		return
	}
	w.Header().Set("Location", "/api/runs/"+runID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"run_id": runID, "session_id": sessionID})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		jsonResponse(w, []store.PlanRun{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.deps.Runs.ListPlanRuns(r.URL.Query().Get("session"), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.PlanRun{}
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		jsonError(w, "run history not available", http.StatusNotFound)
		return
	}
	id := r.PathValue("id")
	run, err := s.deps.Runs.GetPlanRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	tasks, err := s.deps.Runs.QueryTaskRecords(store.TaskFilter{RunID: id})
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []store.TaskRecord{}
	}
	jsonResponse(w, map[string]any{
		"run":   run,
		"tasks": tasks,
	})
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		jsonError(w, "run history not available", http.StatusNotFound)
		return
	}
	if err := s.deps.Runs.DeletePlanRun(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.deps.Dispatcher.Sessions().List())
}

// sessionStats reports persisted message counts per session.
func (s *Server) sessionStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		jsonResponse(w, []store.SessionStats{})
		return
	}
	stats, err := s.deps.Runs.GetSessionStats()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []store.SessionStats{}
	}
	jsonResponse(w, stats)
}

// getSessionMessages returns a session's messages, reloading them from the
// store when they are no longer in memory.
func (s *Server) getSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs := s.deps.Messages.BySession(id)
	if len(msgs) == 0 {
		if _, err := s.deps.Messages.LoadSession(id); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		msgs = s.deps.Messages.BySession(id)
	}
	if msgs == nil {
		msgs = []bus.Message{}
	}
	jsonResponse(w, msgs)
}

// deleteMessages prunes bus messages older than ?older_than=<duration>.
func (s *Server) deleteMessages(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("older_than")
	if raw == "" {
		jsonError(w, "older_than is required", http.StatusBadRequest)
		return
	}
	olderThan, err := time.ParseDuration(raw)
	if err != nil || olderThan < 0 {
		jsonError(w, fmt.Sprintf("invalid older_than %q", raw), http.StatusBadRequest)
		return
	}
	removed, err := s.deps.Messages.Cleanup(olderThan)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]int{"deleted": removed})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":            "ok",
		"uptime":            formatUptime(time.Since(s.startedAt)),
		"agents_count":      len(s.deps.Agents.ListAgents()),
		"sessions_count":    len(s.deps.Dispatcher.Sessions().List()),
		"websocket_clients": s.hub.Clients(),
		"timestamp":         time.Now().UTC(),
		"version":           s.version,
	}
	if s.deps.Jobs != nil {
		status["jobs"] = s.deps.Jobs.Jobs()
	}
	if s.deps.NATSClients != nil {
		status["nats_clients"] = s.deps.NATSClients()
	}
	jsonResponse(w, status)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
