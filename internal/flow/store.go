package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/serviya/platform/pkg/logging"
)

// DefaultTTL bounds how long an untouched conversation survives.
const DefaultTTL = time.Hour

// Store persists Flow records in Redis under flow:{phone} with a TTL. Reads
// and writes never fail the caller: backend errors are logged, reads fall
// back to a process-local map and return an empty Flow at worst.
type Store struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	fallback map[string]fallbackEntry
}

type fallbackEntry struct {
	data    []byte
	expires time.Time
}

// NewStore builds a Store. client may be nil (tests, degraded boot): the
// store then runs entirely on the in-memory fallback.
func NewStore(client *redis.Client, ttl time.Duration, logger *logging.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		redis:    client,
		ttl:      ttl,
		logger:   logger,
		tracer:   otel.Tracer("serviya.internal.flow"),
		fallback: make(map[string]fallbackEntry),
	}
}

// TTL exposes the configured flow lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Get returns the flow for phone. Absence and backend errors both yield an
// empty Flow; the caller cannot distinguish them and must not need to.
func (s *Store) Get(ctx context.Context, phone string) *Flow {
	ctx, span := s.tracer.Start(ctx, "flow.get")
	defer span.End()

	if s.redis != nil {
		data, err := s.redis.Get(ctx, Key(phone)).Bytes()
		switch {
		case err == nil:
			var f Flow
			if jsonErr := json.Unmarshal(data, &f); jsonErr != nil {
				span.RecordError(jsonErr)
				s.logger.Warn("flow record corrupt, starting fresh", "phone", phone, "error", jsonErr)
				return &Flow{}
			}
			return &f
		case err == redis.Nil:
			return &Flow{}
		default:
			span.RecordError(err)
			s.logger.Warn("flow read failed, using fallback", "phone", phone, "error", err)
		}
	}
	return s.fallbackGet(phone)
}

// Set writes the flow with the configured TTL. Errors are swallowed after
// logging; the fallback map always receives the write so the current process
// keeps a consistent view.
func (s *Store) Set(ctx context.Context, phone string, f *Flow) {
	ctx, span := s.tracer.Start(ctx, "flow.set")
	defer span.End()

	if f == nil {
		f = &Flow{}
	}
	data, err := json.Marshal(f)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("flow marshal failed", "phone", phone, "error", err)
		return
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, Key(phone), data, s.ttl).Err(); err == nil {
			s.fallbackDelete(phone)
			return
		} else {
			span.RecordError(err)
			s.logger.Warn("flow write failed, keeping in-memory copy", "phone", phone, "error", err)
		}
	}
	s.fallbackSet(phone, data)
}

// Delete removes the flow from both backends.
func (s *Store) Delete(ctx context.Context, phone string) {
	ctx, span := s.tracer.Start(ctx, "flow.delete")
	defer span.End()

	if s.redis != nil {
		if err := s.redis.Del(ctx, Key(phone)).Err(); err != nil {
			span.RecordError(err)
			s.logger.Warn("flow delete failed", "phone", phone, "error", err)
		}
	}
	s.fallbackDelete(phone)
}

// Mutate applies fn to the current flow and writes it back. Best-effort
// read-modify-write: concurrent writers race and the last one wins.
func (s *Store) Mutate(ctx context.Context, phone string, fn func(*Flow)) *Flow {
	f := s.Get(ctx, phone)
	fn(f)
	s.Set(ctx, phone, f)
	return f
}

func (s *Store) fallbackGet(phone string) *Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.fallback[phone]
	if !ok || time.Now().After(entry.expires) {
		delete(s.fallback, phone)
		return &Flow{}
	}
	var f Flow
	if err := json.Unmarshal(entry.data, &f); err != nil {
		delete(s.fallback, phone)
		return &Flow{}
	}
	return &f
}

func (s *Store) fallbackSet(phone string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback[phone] = fallbackEntry{data: data, expires: time.Now().Add(s.ttl)}
}

func (s *Store) fallbackDelete(phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fallback, phone)
}

// Key renders the Redis key for a phone's flow.
func Key(phone string) string {
	return fmt.Sprintf("flow:%s", phone)
}
