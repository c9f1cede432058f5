// Package simulator is a dev-only WhatsApp stand-in: a small web chat that
// feeds messages straight into the conversation engine and renders what the
// real adapter would deliver. Never enable it in production.
package simulator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/serviya/platform/internal/conversation"
	"github.com/serviya/platform/internal/nlp"
	"github.com/serviya/platform/internal/outbound"
	"github.com/serviya/platform/pkg/logging"
)

const handleTimeout = 15 * time.Second

// Processor is the conversation engine surface the simulator drives.
type Processor interface {
	Handle(ctx context.Context, msg conversation.Inbound) ([]outbound.Reply, error)
}

// InboundMessage is what the simulator page sends over the socket.
type InboundMessage struct {
	Type  string `json:"type"` // "message" or "ping"
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

// OutboundMessage is what the simulator page receives.
type OutboundMessage struct {
	Type      string   `json:"type"` // "message", "pong", "error"
	Role      string   `json:"role,omitempty"`
	Text      string   `json:"text,omitempty"`
	Buttons   []string `json:"buttons,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// Handler owns the simulator page and its websocket connections. It also
// implements whatsapp.Sender so background pipeline pushes land in the same
// chat window.
type Handler struct {
	processor Processor
	logger    *logging.Logger

	mu    sync.RWMutex
	conns map[string]*websocket.Conn // normalized phone -> active socket
}

func NewHandler(processor Processor, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		processor: processor,
		logger:    logger,
		conns:     make(map[string]*websocket.Conn),
	}
}

// Routes mounts the page and the websocket endpoint.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.servePage)
	r.Handle("/ws", websocket.Handler(h.serveWS))
	return r
}

// Send delivers a push message to the simulated phone, standing in for the
// WhatsApp adapter.
func (h *Handler) Send(ctx context.Context, phone, message string) error {
	h.mu.RLock()
	conn := h.conns[nlp.NormalizePhone(phone)]
	h.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("simulator: no active session for %s", phone)
	}
	return websocket.JSON.Send(conn, OutboundMessage{
		Type:      "message",
		Role:      "assistant",
		Text:      message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) servePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(pageHTML)
}

func (h *Handler) serveWS(conn *websocket.Conn) {
	registered := ""
	defer func() {
		if registered != "" {
			h.mu.Lock()
			if h.conns[registered] == conn {
				delete(h.conns, registered)
			}
			h.mu.Unlock()
		}
		conn.Close()
	}()

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			return
		}

		switch msg.Type {
		case "ping":
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})

		case "message":
			phone := nlp.NormalizePhone(msg.Phone)
			if phone == "" {
				_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "phone is required"})
				continue
			}
			if registered != phone {
				h.mu.Lock()
				h.conns[phone] = conn
				h.mu.Unlock()
				registered = phone
			}

			ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
			replies, err := h.processor.Handle(ctx, conversation.Inbound{
				FromNumber: msg.Phone,
				Content:    msg.Text,
				Channel:    "simulator",
			})
			cancel()
			if err != nil {
				h.logger.Warn("simulator message failed", "phone", phone, "error", err)
				_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: err.Error()})
				continue
			}
			for _, reply := range replies {
				out := OutboundMessage{
					Type:      "message",
					Role:      "assistant",
					Text:      reply.Response,
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				}
				if reply.UI != nil {
					out.Buttons = reply.UI.Buttons
				}
				_ = websocket.JSON.Send(conn, out)
			}
		}
	}
}
