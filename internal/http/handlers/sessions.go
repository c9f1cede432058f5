package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/serviya/platform/internal/nlp"
	"github.com/serviya/platform/internal/sessions"
	"github.com/serviya/platform/pkg/logging"
)

// SessionsHandler exposes the conversation transcripts kept in Redis.
type SessionsHandler struct {
	log    *sessions.Log
	logger *logging.Logger
}

func NewSessionsHandler(log *sessions.Log, logger *logging.Logger) *SessionsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SessionsHandler{log: log, logger: logger}
}

type appendTurnRequest struct {
	Phone     string `json:"phone"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
	IsBot     bool   `json:"is_bot,omitempty"`
}

// Append records one turn, used by external adapters that deliver messages
// out of band.
func (h *SessionsHandler) Append(w http.ResponseWriter, r *http.Request) {
	var req appendTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	phone := nlp.NormalizePhone(req.Phone)
	if phone == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "phone and message are required")
		return
	}

	var metadata map[string]string
	if req.Timestamp != "" {
		metadata = map[string]string{"timestamp": req.Timestamp}
	}
	if err := h.log.Append(r.Context(), phone, req.Message, req.IsBot, metadata); err != nil {
		h.logger.Warn("session append failed", "phone", phone, "error", err)
		writeError(w, http.StatusInternalServerError, "append failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "phone": phone})
}

// List returns the transcript for a phone, newest last.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	phone := nlp.NormalizePhone(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	turns, err := h.log.List(r.Context(), phone, limit)
	if err != nil {
		h.logger.Warn("session list failed", "phone", phone, "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if turns == nil {
		turns = []sessions.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": turns})
}

// Delete wipes the transcript for a phone.
func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	phone := nlp.NormalizePhone(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}
	if err := h.log.Delete(r.Context(), phone); err != nil {
		h.logger.Warn("session delete failed", "phone", phone, "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "phone": phone})
}

// Stats summarizes active sessions across all phones.
func (h *SessionsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.log.CollectStats(r.Context())
	if err != nil {
		h.logger.Warn("session stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
