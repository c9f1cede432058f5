// Package availability implements the scatter/gather protocol that probes a
// pool of providers over MQTT for real-time availability before results are
// presented to the client.
package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/serviya/platform/pkg/logging"
)

// DefaultStateTTL bounds how long a gather record stays queryable after the
// request was published. Late replies keep landing in it until expiry.
const DefaultStateTTL = 5 * time.Minute

// Candidate is one provider included in a request, as sent on the wire.
type Candidate struct {
	ID    string `json:"id,omitempty"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Reply is one provider response, appended to the state record.
type Reply struct {
	ProviderID    string    `json:"provider_id,omitempty"`
	ProviderPhone string    `json:"provider_phone,omitempty"`
	Status        string    `json:"status"`
	ReceivedAt    time.Time `json:"received_at"`
}

// State is the full scatter/gather record, keyed availability:{req_id}.
type State struct {
	ReqID     string      `json:"req_id"`
	Phone     string      `json:"phone"`
	Service   string      `json:"service"`
	City      string      `json:"city"`
	CreatedAt time.Time   `json:"created_at"`
	Deadline  time.Time   `json:"deadline"`
	Providers []Candidate `json:"providers"`
	Accepted  []Reply     `json:"accepted"`
	Declined  []Reply     `json:"declined"`
}

// HasReply reports whether a reply from this provider identity was already
// recorded, in either list.
func (s *State) HasReply(providerID, providerPhone string) bool {
	for _, lists := range [][]Reply{s.Accepted, s.Declined} {
		for _, r := range lists {
			if r.ProviderID == providerID && r.ProviderPhone == providerPhone {
				return true
			}
		}
	}
	return false
}

// StateStore persists gather records in Redis.
type StateStore struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
	tracer trace.Tracer
}

func NewStateStore(client *redis.Client, ttl time.Duration, logger *logging.Logger) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StateStore{
		redis:  client,
		ttl:    ttl,
		logger: logger,
		tracer: otel.Tracer("serviya.internal.availability"),
	}
}

// TTL exposes the configured record lifetime.
func (s *StateStore) TTL() time.Duration { return s.ttl }

// Put writes a fresh gather record with the full TTL.
func (s *StateStore) Put(ctx context.Context, state *State) error {
	ctx, span := s.tracer.Start(ctx, "availability.state_put")
	defer span.End()

	data, err := json.Marshal(state)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("availability: marshal state: %w", err)
	}
	if err := s.redis.Set(ctx, stateKey(state.ReqID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("availability: write state: %w", err)
	}
	return nil
}

// Get loads the record for req_id; nil when unknown or expired.
func (s *StateStore) Get(ctx context.Context, reqID string) (*State, error) {
	ctx, span := s.tracer.Start(ctx, "availability.state_get")
	defer span.End()

	data, err := s.redis.Get(ctx, stateKey(reqID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("availability: read state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("availability: decode state: %w", err)
	}
	return &state, nil
}

// AppendReply records one provider response, idempotent by
// (provider_id, provider_phone). Replies for unknown requests are dropped.
// The record keeps its original expiry.
func (s *StateStore) AppendReply(ctx context.Context, reqID string, reply Reply, accepted bool) (bool, error) {
	state, err := s.Get(ctx, reqID)
	if err != nil || state == nil {
		return false, err
	}
	if state.HasReply(reply.ProviderID, reply.ProviderPhone) {
		return false, nil
	}

	if accepted {
		state.Accepted = append(state.Accepted, reply)
	} else {
		state.Declined = append(state.Declined, reply)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("availability: marshal state: %w", err)
	}
	if err := s.redis.Set(ctx, stateKey(reqID), data, redis.KeepTTL).Err(); err != nil {
		return false, fmt.Errorf("availability: update state: %w", err)
	}
	return true, nil
}

func stateKey(reqID string) string {
	return fmt.Sprintf("availability:%s", reqID)
}
