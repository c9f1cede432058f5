package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/serviya/platform/internal/conversation"
	"github.com/serviya/platform/internal/flow"
	"github.com/serviya/platform/internal/nlp"
	"github.com/serviya/platform/internal/outbound"
	"github.com/serviya/platform/pkg/logging"
)

// MessageProcessor is the conversation engine surface the webhook needs.
type MessageProcessor interface {
	Handle(ctx context.Context, msg conversation.Inbound) ([]outbound.Reply, error)
}

// ConversationHandler serves the WhatsApp adapter webhook and the legacy
// process-message endpoint.
type ConversationHandler struct {
	processor MessageProcessor
	flows     *flow.Store
	logger    *logging.Logger
}

func NewConversationHandler(processor MessageProcessor, flows *flow.Store, logger *logging.Logger) *ConversationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ConversationHandler{processor: processor, flows: flows, logger: logger}
}

// HandleWhatsAppMessage is the main inbound webhook. Malformed or
// uninterpretable payloads never 5xx: the adapter would retry and duplicate
// the turn, so we answer with a reprompt instead.
func (h *ConversationHandler) HandleWhatsAppMessage(w http.ResponseWriter, r *http.Request) {
	var msg conversation.Inbound
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.logger.Warn("whatsapp payload unparseable", "error", err)
		writeJSON(w, http.StatusOK, outbound.Text("😅 No pude leer tu mensaje. ¿Puedes escribirlo de nuevo?"))
		return
	}
	msg.Channel = "whatsapp"

	replies, err := h.processor.Handle(r.Context(), msg)
	if err != nil {
		h.logger.Error("message handling failed", "phone", msg.FromNumber, "error", err)
		writeJSON(w, http.StatusOK, outbound.Text("😅 Algo no salió bien de mi lado. Intenta de nuevo en un momento."))
		return
	}

	switch len(replies) {
	case 0:
		writeJSON(w, http.StatusOK, outbound.Text(""))
	case 1:
		writeJSON(w, http.StatusOK, replies[0])
	default:
		writeJSON(w, http.StatusOK, map[string]any{"messages": replies})
	}
}

type processMessageRequest struct {
	Message string `json:"message"`
	Context struct {
		Phone string `json:"phone"`
	} `json:"context"`
}

type processMessageResponse struct {
	Response   string            `json:"response"`
	Intent     string            `json:"intent"`
	Entities   map[string]string `json:"entities"`
	Confidence float64           `json:"confidence"`
}

// ProcessMessage is the flat request shape older integrations use. It runs
// the same engine and reports the resulting flow state as the intent.
func (h *ConversationHandler) ProcessMessage(w http.ResponseWriter, r *http.Request) {
	var req processMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if nlp.NormalizePhone(req.Context.Phone) == "" {
		writeError(w, http.StatusBadRequest, "context.phone is required")
		return
	}

	replies, err := h.processor.Handle(r.Context(), conversation.Inbound{
		FromNumber: req.Context.Phone,
		Content:    req.Message,
		Channel:    "api",
	})
	if err != nil {
		h.logger.Error("message handling failed", "phone", req.Context.Phone, "error", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	response := ""
	if len(replies) > 0 {
		response = replies[0].Response
	}

	f := h.flows.Get(r.Context(), nlp.NormalizePhone(req.Context.Phone))
	entities := map[string]string{}
	if f.Service != "" {
		entities["service"] = f.Service
	}
	if f.City != "" {
		entities["city"] = f.City
	}
	writeJSON(w, http.StatusOK, processMessageResponse{
		Response:   response,
		Intent:     string(f.State),
		Entities:   entities,
		Confidence: 1,
	})
}
