// Package moderation gates free text through an LLM policy check and tracks
// warnings and bans per phone in Redis.
package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/serviya/platform/internal/llm"
	"github.com/serviya/platform/internal/observability/metrics"
	"github.com/serviya/platform/pkg/logging"
)

const (
	warningKeyPrefix = "warnings:"
	banKeyPrefix     = "ban:"

	// MaxWarnings is the strike budget: the strike that exceeds it bans.
	MaxWarnings = 2
	// BanDuration is how long the third strike suspends a phone.
	BanDuration = 24 * time.Hour

	counterTTL = 7 * 24 * time.Hour
)

// User-facing policy texts.
const (
	nonsenseText = "No logré entender tu mensaje. Cuéntame qué servicio necesitas, por ejemplo: \"necesito un plomero en Quito\"."
	banText      = "🚫 Tu acceso fue suspendido por 24 horas por uso indebido del servicio."
	suspendedTxt = "🚫 Tu acceso está suspendido temporalmente. Intenta de nuevo más tarde."
)

// Verdict is the moderation outcome for one message.
type Verdict struct {
	OK      bool
	Warning string
	Ban     string
}

// Moderator classifies messages as valid, nonsense or illegal. LLM failures
// fail open: an unreachable model never blocks a legitimate user.
type Moderator struct {
	redis   *redis.Client
	llm     llm.Client
	logger  *logging.Logger
	metrics *metrics.BrokerMetrics
}

func New(client *redis.Client, llmClient llm.Client, logger *logging.Logger, m *metrics.BrokerMetrics) *Moderator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Moderator{
		redis:   client,
		llm:     llmClient,
		logger:  logger,
		metrics: m,
	}
}

// SuspendedText is the reply for a phone that is currently banned.
func SuspendedText() string { return suspendedTxt }

// IsBanned reports whether the phone is under an active ban.
func (m *Moderator) IsBanned(ctx context.Context, phone string) bool {
	if m == nil || m.redis == nil {
		return false
	}
	raw, err := m.redis.Get(ctx, banKey(phone)).Result()
	if err != nil {
		return false
	}
	until, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return time.Now().Before(until)
}

// Validate runs the policy check. nonsense replies with a friendly error and
// does not strike; illegal strikes, and the third strike issues a 24h ban.
func (m *Moderator) Validate(ctx context.Context, text, phone string) Verdict {
	if m == nil || m.llm == nil {
		return Verdict{OK: true}
	}

	label := m.classify(ctx, text)
	m.metrics.ObserveModeration(label)

	switch label {
	case "nonsense":
		return Verdict{Warning: nonsenseText}
	case "illegal":
		return m.strike(ctx, phone)
	default:
		return Verdict{OK: true}
	}
}

func (m *Moderator) classify(ctx context.Context, text string) string {
	prompt := fmt.Sprintf(
		"Mensaje de un cliente en un chat de servicios:\n%q\n\nClasifícalo con UNA palabra:\nvalid — pedido o conversación normal\nnonsense — texto sin sentido o aleatorio\nillegal — solicita algo ilegal, peligroso o abusivo",
		text,
	)
	resp, err := m.llm.Complete(ctx, llm.Request{
		Op:          "moderate",
		System:      "Eres un moderador de contenido. Respondes únicamente con valid, nonsense o illegal.",
		Messages:    []llm.Message{{Role: llm.ChatRoleUser, Content: prompt}},
		MaxTokens:   4,
		Temperature: 0,
	})
	if err != nil {
		// Fail open.
		m.logger.Debug("moderation classify failed", "error", err)
		return "valid"
	}

	label := strings.ToLower(strings.TrimSpace(resp.Text))
	switch {
	case strings.Contains(label, "illegal"):
		return "illegal"
	case strings.Contains(label, "nonsense"):
		return "nonsense"
	default:
		return "valid"
	}
}

func (m *Moderator) strike(ctx context.Context, phone string) Verdict {
	count := m.incrementWarnings(ctx, phone)
	if count <= MaxWarnings {
		return Verdict{Warning: fmt.Sprintf(
			"⚠️ Advertencia %d de %d: ese tipo de solicitudes no está permitido. Al llegar a %d tu acceso será suspendido.",
			count, MaxWarnings+1, MaxWarnings+1,
		)}
	}

	until := time.Now().Add(BanDuration)
	if m.redis != nil {
		if err := m.redis.Set(ctx, banKey(phone), until.Format(time.RFC3339), BanDuration).Err(); err != nil {
			m.logger.Warn("ban write failed", "phone", phone, "error", err)
		}
	}
	m.logger.Warn("phone banned", "phone", phone, "until", until.Format(time.RFC3339))
	return Verdict{Ban: banText}
}

func (m *Moderator) incrementWarnings(ctx context.Context, phone string) int {
	if m.redis == nil {
		return 1
	}
	count, err := m.redis.Incr(ctx, warningKey(phone)).Result()
	if err != nil {
		m.logger.Warn("warning counter failed", "phone", phone, "error", err)
		return 1
	}
	m.redis.Expire(ctx, warningKey(phone), counterTTL)
	return int(count)
}

// WarningCount reads the current strike counter, zero on any error.
func (m *Moderator) WarningCount(ctx context.Context, phone string) int {
	if m == nil || m.redis == nil {
		return 0
	}
	count, err := m.redis.Get(ctx, warningKey(phone)).Int()
	if err != nil {
		return 0
	}
	return count
}

func warningKey(phone string) string { return warningKeyPrefix + phone }
func banKey(phone string) string     { return banKeyPrefix + phone }
