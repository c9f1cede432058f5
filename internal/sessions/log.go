// Package sessions keeps the append-only per-phone transcript used for LLM
// context and the operator session endpoints. Turns live in a capped Redis
// list under session:{phone}.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/serviya/platform/pkg/logging"
)

const (
	// MaxTurns is the hard cap per phone; older turns drop on push.
	MaxTurns = 20

	keyPrefix = "session:"
)

// Turn is one transcript entry, bot or user.
type Turn struct {
	Phone     string            `json:"phone"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	CreatedAt time.Time         `json:"created_at"`
	IsBot     bool              `json:"is_bot"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Stats summarizes the transcript keyspace.
type Stats struct {
	Sessions int `json:"sessions"`
	Turns    int `json:"turns"`
}

// Log is the transcript store. All operations are best-effort: errors are
// returned for the HTTP session endpoints but callers on the conversation
// path ignore them.
type Log struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
	tracer trace.Tracer
}

// NewLog builds the store. ttl bounds each phone's list, matching the flow
// lifetime.
func NewLog(client *redis.Client, ttl time.Duration, logger *logging.Logger) *Log {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Log{
		redis:  client,
		ttl:    ttl,
		logger: logger,
		tracer: otel.Tracer("serviya.internal.sessions"),
	}
}

// Append pushes a turn onto the phone's list, trimming to MaxTurns and
// refreshing the TTL in one pipeline.
func (l *Log) Append(ctx context.Context, phone, message string, isBot bool, metadata map[string]string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	ctx, span := l.tracer.Start(ctx, "sessions.append")
	defer span.End()

	now := time.Now().UTC()
	turn := Turn{
		Phone:     phone,
		Message:   message,
		Timestamp: now,
		CreatedAt: now,
		IsBot:     isBot,
		Metadata:  metadata,
	}
	data, err := json.Marshal(turn)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: marshal turn: %w", err)
	}

	pipe := l.redis.TxPipeline()
	pipe.RPush(ctx, key(phone), data)
	pipe.LTrim(ctx, key(phone), -MaxTurns, -1)
	pipe.Expire(ctx, key(phone), l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: append turn: %w", err)
	}
	return nil
}

// List returns the most recent turns, oldest first, up to limit (0 means
// everything retained).
func (l *Log) List(ctx context.Context, phone string, limit int) ([]Turn, error) {
	if l == nil || l.redis == nil {
		return nil, nil
	}
	ctx, span := l.tracer.Start(ctx, "sessions.list")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := l.redis.LRange(ctx, key(phone), start, -1).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sessions: list turns: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			// Skip unreadable entries instead of failing the whole read.
			l.logger.Warn("session turn corrupt, skipping", "phone", phone, "error", err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Delete removes the phone's transcript.
func (l *Log) Delete(ctx context.Context, phone string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	ctx, span := l.tracer.Start(ctx, "sessions.delete")
	defer span.End()
	if err := l.redis.Del(ctx, key(phone)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: delete transcript: %w", err)
	}
	return nil
}

// CollectStats scans session:* and counts sessions and retained turns.
func (l *Log) CollectStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if l == nil || l.redis == nil {
		return stats, nil
	}
	ctx, span := l.tracer.Start(ctx, "sessions.stats")
	defer span.End()

	iter := l.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		stats.Sessions++
		if n, err := l.redis.LLen(ctx, iter.Val()).Result(); err == nil {
			stats.Turns += int(n)
		}
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return stats, fmt.Errorf("sessions: scan keys: %w", err)
	}
	return stats, nil
}

// Context renders the last n turns as prompt-ready lines ("Cliente: ..." /
// "Bot: ..."), newline-joined and oldest first. Errors yield an empty
// context; the LLM paths degrade rather than fail.
func (l *Log) Context(ctx context.Context, phone string, n int) string {
	turns, err := l.List(ctx, phone, n)
	if err != nil || len(turns) == 0 {
		return ""
	}

	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		speaker := "Cliente"
		if turn.IsBot {
			speaker = "Bot"
		}
		lines = append(lines, speaker+": "+turn.Message)
	}
	return strings.Join(lines, "\n")
}

func key(phone string) string {
	return keyPrefix + phone
}
