// Package outbound is the single path for user-visible text: every send
// goes through the WhatsApp adapter and lands in the session log.
package outbound

import (
	"context"

	"github.com/serviya/platform/internal/observability/metrics"
	"github.com/serviya/platform/internal/sessions"
	"github.com/serviya/platform/internal/whatsapp"
	"github.com/serviya/platform/pkg/logging"
)

// UI is an advisory rendering hint attached to a reply. The adapter is free
// to render or ignore it.
type UI struct {
	Type      string   `json:"type"`
	Buttons   []string `json:"buttons,omitempty"`
	Providers any      `json:"providers,omitempty"`
}

// Reply is one outbound message on the synchronous reply path.
type Reply struct {
	Response string `json:"response"`
	UI       *UI    `json:"ui,omitempty"`
}

// Text builds a plain reply.
func Text(message string) Reply { return Reply{Response: message} }

// WithButtons builds a reply carrying numbered button hints.
func WithButtons(message string, buttons ...string) Reply {
	return Reply{Response: message, UI: &UI{Type: "buttons", Buttons: buttons}}
}

// Messenger is the push path used by background work after the inbound
// request has already returned. Sends are best-effort.
type Messenger struct {
	sender  whatsapp.Sender
	log     *sessions.Log
	logger  *logging.Logger
	metrics *metrics.BrokerMetrics
}

func NewMessenger(sender whatsapp.Sender, log *sessions.Log, logger *logging.Logger, m *metrics.BrokerMetrics) *Messenger {
	if logger == nil {
		logger = logging.Default()
	}
	return &Messenger{sender: sender, log: log, logger: logger, metrics: m}
}

// Push sends text to the phone and records the bot turn. A send failure is
// logged and swallowed; the transcript is still written so the conversation
// context stays coherent.
func (m *Messenger) Push(ctx context.Context, phone, text string) {
	if m == nil {
		return
	}
	if m.sender != nil {
		if err := m.sender.Send(ctx, phone, text); err != nil {
			m.metrics.ObserveOutbound("error")
			m.logger.Warn("outbound send failed", "phone", phone, "error", err)
		} else {
			m.metrics.ObserveOutbound("ok")
		}
	}
	m.RecordBotTurn(ctx, phone, text)
}

// RecordBotTurn appends a bot message to the session log without sending
// it, used by the reply path where the adapter does the delivery.
func (m *Messenger) RecordBotTurn(ctx context.Context, phone, text string) {
	if m == nil || m.log == nil {
		return
	}
	if err := m.log.Append(ctx, phone, text, true, nil); err != nil {
		m.logger.Debug("session log append failed", "phone", phone, "error", err)
	}
}
