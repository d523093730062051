// Package httpapi exposes the assistant's HTTP surface: turn execution,
// agent management, session history, and event streaming.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nazanin90/adk-data-agent/internal/datachat"
	"github.com/nazanin90/adk-data-agent/internal/db"
	"github.com/nazanin90/adk-data-agent/internal/formatting"
	"github.com/nazanin90/adk-data-agent/internal/orchestrator"
)

// TurnRunner is the slice of the orchestrator engine the API needs.
type TurnRunner interface {
	RunTurn(ctx context.Context, req orchestrator.TurnRequest) (*formatting.Output, error)
	UpdateAgent(ctx context.Context, agentName string, update datachat.AgentUpdate) error
}

// TurnHistory reads persisted turn records. Nil when the database is disabled.
type TurnHistory interface {
	SessionTurns(ctx context.Context, filter db.TurnFilter) ([]db.TurnExecution, error)
	SessionEvents(ctx context.Context, sessionID string, limit int) ([]db.TurnEvent, error)
}

// TurnHandler serves turn execution and history endpoints.
type TurnHandler struct {
	engine  TurnRunner
	history TurnHistory
	logger  *zap.Logger
}

func NewTurnHandler(engine TurnRunner, history TurnHistory, logger *zap.Logger) *TurnHandler {
	return &TurnHandler{engine: engine, history: history, logger: logger}
}

// RegisterRoutes registers turn routes on the provided mux.
func (h *TurnHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/turns", h.handleTurns)
	mux.HandleFunc("/v1/agents/", h.handleAgents)
	mux.HandleFunc("/v1/sessions/", h.handleSessions)
}

// handleTurns executes one assistant turn.
// POST /v1/turns
func (h *TurnHandler) handleTurns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req orchestrator.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	output, err := h.engine.RunTurn(r.Context(), req)
	if err != nil {
		h.logger.Error("Turn failed",
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "turn failed")
		return
	}

	writeJSON(w, http.StatusOK, output)
}

// handleAgents applies a partial update to a backend data agent.
// PATCH /v1/agents/{name}
func (h *TurnHandler) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/v1/agents/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusBadRequest, "agent name required")
		return
	}

	var update datachat.AgentUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.engine.UpdateAgent(r.Context(), name, update); err != nil {
		h.logger.Error("Agent update failed",
			zap.String("agent", name),
			zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleSessions serves persisted session history.
// GET /v1/sessions/{id}/turns
// GET /v1/sessions/{id}/events
func (h *TurnHandler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "history persistence disabled")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	sessionID, resource := parts[0], parts[1]

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			limit = n
		}
	}

	switch resource {
	case "turns":
		turns, err := h.history.SessionTurns(r.Context(), db.TurnFilter{
			SessionID: sessionID,
			Limit:     limit,
		})
		if err != nil {
			h.logger.Error("Failed to load session turns",
				zap.String("session_id", sessionID),
				zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load turns")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"turns": turns})
	case "events":
		events, err := h.history.SessionEvents(r.Context(), sessionID, limit)
		if err != nil {
			h.logger.Error("Failed to load session events",
				zap.String("session_id", sessionID),
				zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load events")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
