// Package consent implements the GDPR-style consent gate that holds a
// conversation until the customer explicitly accepts the data-sharing
// terms. Decisions are append-only rows; the accepted flag mirrors onto the
// customer profile.
package consent

import (
	"context"
	"strings"

	"github.com/serviya/platform/internal/nlp"
	"github.com/serviya/platform/internal/outbound"
	"github.com/serviya/platform/internal/profiles"
	"github.com/serviya/platform/internal/storage"
	"github.com/serviya/platform/pkg/logging"
)

// Prompt texts. The two buttons mirror the numeric options.
const (
	PromptText = "👋 ¡Hola! Soy el asistente de ServiYa.\n\n" +
		"Para conectarte con proveedores necesito compartir tu número y tu pedido con ellos. " +
		"¿Aceptas el tratamiento de tus datos?\n\n1) ✅ Acepto\n2) ❌ No acepto"

	acceptedFollowup = "✅ ¡Gracias! "
	declinedText     = "Entiendo, sin tu autorización no puedo conectarte con proveedores. " +
		"Si cambias de opinión escríbeme de nuevo. 👋"
)

const (
	buttonAccept  = "acepto"
	buttonDecline = "no acepto"
)

// Message is the inbound payload slice the gate needs to interpret and
// audit a decision.
type Message struct {
	Text      string
	Selected  string
	MessageID string
	Timestamp string
	Channel   string
}

// Decision is the interpreted outcome of one consent turn.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionAccepted
	DecisionDeclined
)

// Service captures and persists consent decisions.
type Service struct {
	profiles *profiles.Cache
	consents storage.ConsentRepository
	logger   *logging.Logger
}

func NewService(cache *profiles.Cache, consents storage.ConsentRepository, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{profiles: cache, consents: consents, logger: logger}
}

// Gate interprets one inbound turn for a customer without consent and
// returns the replies to emit. handled is false when the customer already
// has consent and the orchestrator should proceed normally.
func (s *Service) Gate(ctx context.Context, customer *storage.Customer, msg Message, initialPrompt string) (replies []outbound.Reply, handled bool) {
	if customer == nil || customer.HasConsent {
		return nil, false
	}

	switch interpret(msg) {
	case DecisionAccepted:
		s.record(ctx, customer, storage.ConsentAccepted, msg)
		if err := s.profiles.UpdateConsent(ctx, customer, true); err != nil {
			s.logger.Warn("consent mirror failed", "customer_id", customer.ID, "error", err)
		}
		return []outbound.Reply{outbound.Text(acceptedFollowup + initialPrompt)}, true

	case DecisionDeclined:
		s.record(ctx, customer, storage.ConsentDeclined, msg)
		return []outbound.Reply{outbound.Text(declinedText)}, true

	default:
		return []outbound.Reply{outbound.WithButtons(PromptText, "1) ✅ Acepto", "2) ❌ No acepto")}, true
	}
}

// record appends the decision with the full message metadata. Append
// failures are logged, not surfaced: the conversation must keep moving.
func (s *Service) record(ctx context.Context, customer *storage.Customer, response string, msg Message) {
	_, err := s.consents.Append(ctx, &storage.ConsentRecord{
		UserID:   customer.ID,
		UserType: "customer",
		Response: response,
		Metadata: storage.ConsentMetadata{
			MessageID: msg.MessageID,
			Timestamp: msg.Timestamp,
			RawText:   firstNonEmpty(msg.Selected, msg.Text),
			Channel:   firstNonEmpty(msg.Channel, "whatsapp"),
		},
	})
	if err != nil {
		s.logger.Warn("consent append failed", "customer_id", customer.ID, "error", err)
	}
}

// interpret resolves the numeric options, the button labels, and free-text
// yes/no phrases, in that priority.
func interpret(msg Message) Decision {
	for _, raw := range []string{msg.Selected, msg.Text} {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		canon := nlp.Canonical(text)
		if strings.HasPrefix(canon, "1") || canon == buttonAccept {
			return DecisionAccepted
		}
		if strings.HasPrefix(canon, "2") || canon == buttonDecline {
			return DecisionDeclined
		}
		if yn := nlp.InterpretYesNo(text); yn != nil {
			if *yn {
				return DecisionAccepted
			}
			return DecisionDeclined
		}
	}
	return DecisionNone
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
