package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviya/platform/internal/storage"
)

type fakeTransport struct {
	mu         sync.Mutex
	published  [][]byte
	handlers   map[string]func([]byte)
	publishErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func([]byte))}
}

func (f *fakeTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeTransport) Subscribe(topic string, handler func(payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

// deliver waits for the subscription to exist, then invokes its handler.
func (f *fakeTransport) deliver(topic string, payload []byte) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		handler := f.handlers[topic]
		f.mu.Unlock()
		if handler != nil {
			handler(payload)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fakeTransport) lastPublished(t *testing.T) wireRequest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		n := len(f.published)
		var raw []byte
		if n > 0 {
			raw = f.published[n-1]
		}
		f.mu.Unlock()
		if raw != nil {
			var req wireRequest
			require.NoError(t, json.Unmarshal(raw, &req))
			return req
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no request published")
	return wireRequest{}
}

func replyJSON(reqID, providerID, phone, estado string) []byte {
	data, _ := json.Marshal(map[string]string{
		"req_id":         reqID,
		"provider_id":    providerID,
		"provider_phone": phone,
		"estado":         estado,
	})
	return data
}

func newTestCoordinator(t *testing.T, transport Transport) (*Coordinator, *StateStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	states := NewStateStore(client, 5*time.Minute, nil)
	coord := NewCoordinator(Config{
		Timeout:      10 * time.Second, // the floor; tests close early via grace or ctx
		AcceptGrace:  50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, transport, states, nil, nil)
	t.Cleanup(coord.Shutdown)
	return coord, states
}

var gatherProviders = []storage.Provider{
	{ID: "p1", Phone: "+593 97 700 0111", Name: "Juan"},
	{ID: "p2", Phone: "593977000222", Name: "Ana"},
	{ID: "p3", Phone: "593977000333@c.us", Name: "Luis"},
}

func TestRequestAndWaitClosesOnFirstAcceptGrace(t *testing.T) {
	transport := newFakeTransport()
	coord, states := newTestCoordinator(t, transport)

	type outcome struct {
		result *GatherResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := coord.RequestAndWait(context.Background(), Request{
			Phone:     "593999111222",
			Service:   "plomero",
			City:      "Quito",
			Providers: gatherProviders,
		})
		done <- outcome{result, err}
	}()

	req := transport.lastPublished(t)
	assert.Equal(t, "plomero", req.Servicio)
	assert.Equal(t, "Quito", req.Ciudad)
	require.Len(t, req.Candidatos, 3)
	assert.Equal(t, 10, req.TiempoEsperaSegundos)

	// P3 accepts first (by phone only), then P1 within the same window.
	transport.deliver(coord.cfg.ResponseTopic, replyJSON(req.ReqID, "", "593977000333", "disponible"))
	transport.deliver(coord.cfg.ResponseTopic, replyJSON(req.ReqID, "p1", "593977000111", "si"))

	var got outcome
	select {
	case got = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("gather did not close after grace window")
	}
	require.NoError(t, got.err)

	// Accepted providers come back in original candidate order.
	require.Len(t, got.result.Accepted, 2)
	assert.Equal(t, "p1", got.result.Accepted[0].ID)
	assert.Equal(t, "p3", got.result.Accepted[1].ID)

	// A reply arriving after close is stored but was not returned.
	transport.deliver(coord.cfg.ResponseTopic, replyJSON(req.ReqID, "p2", "593977000222", "accepted"))
	state, err := states.Get(context.Background(), got.result.ReqID)
	require.NoError(t, err)
	assert.Len(t, state.Accepted, 3)
	assert.Len(t, got.result.Accepted, 2)
}

func TestRequestAndWaitHonorsCancellation(t *testing.T) {
	transport := newFakeTransport()
	coord, states := newTestCoordinator(t, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result, err := coord.RequestAndWait(ctx, Request{
		Phone:     "593999111222",
		Service:   "plomero",
		City:      "Quito",
		Providers: gatherProviders,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)

	// The request itself was not cancelled: the state record survives and
	// keeps accepting replies until TTL.
	transport.deliver(coord.cfg.ResponseTopic, replyJSON(result.ReqID, "p1", "593977000111", "yes"))
	state, err := states.Get(context.Background(), result.ReqID)
	require.NoError(t, err)
	assert.Len(t, state.Accepted, 1)
}

func TestDuplicateRepliesAreIdempotent(t *testing.T) {
	transport := newFakeTransport()
	coord, states := newTestCoordinator(t, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	result, err := coord.RequestAndWait(ctx, Request{
		Phone: "p", Service: "plomero", City: "Quito", Providers: gatherProviders,
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		transport.deliver(coord.cfg.ResponseTopic, replyJSON(result.ReqID, "p1", "593977000111", "accepted"))
		transport.deliver(coord.cfg.ResponseTopic, replyJSON(result.ReqID, "p2", "593977000222", "no"))
	}

	state, err := states.Get(context.Background(), result.ReqID)
	require.NoError(t, err)
	assert.Len(t, state.Accepted, 1)
	assert.Len(t, state.Declined, 1)
}

func TestUnknownStatusIgnored(t *testing.T) {
	transport := newFakeTransport()
	coord, states := newTestCoordinator(t, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	result, err := coord.RequestAndWait(ctx, Request{
		Phone: "p", Service: "plomero", City: "Quito", Providers: gatherProviders,
	})
	require.NoError(t, err)

	transport.deliver(coord.cfg.ResponseTopic, replyJSON(result.ReqID, "p1", "593977000111", "quizas"))
	transport.deliver(coord.cfg.ResponseTopic, []byte("{not json"))

	state, err := states.Get(context.Background(), result.ReqID)
	require.NoError(t, err)
	assert.Empty(t, state.Accepted)
	assert.Empty(t, state.Declined)
}

func TestNormalizeCandidates(t *testing.T) {
	candidates, originals := normalizeCandidates([]storage.Provider{
		{ID: "p1", Phone: "+593 97 700 0111"},
		{ID: "p1", Phone: "593977000999"},         // duplicate id
		{ID: "", Phone: "593977000111@c.us"},      // duplicate normalized phone
		{ID: "", Phone: ""},                       // no identity
		{ID: "p2", Phone: "593977000222"},
	})
	require.Len(t, candidates, 2)
	assert.Equal(t, "p1", candidates[0].ID)
	assert.Equal(t, "p2", candidates[1].ID)
	require.Len(t, originals, 2)
}

func TestFilterProvidersByReplies(t *testing.T) {
	// No accepts: empty result, never nil providers leaking through.
	assert.Empty(t, FilterProvidersByReplies(gatherProviders, nil))

	// Every candidate accepted: original order preserved regardless of
	// reply order.
	replies := []Reply{
		{ProviderID: "p3", ProviderPhone: "593977000333"},
		{ProviderID: "p1", ProviderPhone: "593977000111"},
		{ProviderID: "p2", ProviderPhone: "593977000222"},
	}
	got := FilterProvidersByReplies(gatherProviders, replies)
	require.Len(t, got, 3)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "p2", got[1].ID)
	assert.Equal(t, "p3", got[2].ID)
}

func TestPublishRetriesUntilDeadline(t *testing.T) {
	transport := newFakeTransport()
	transport.publishErr = fmt.Errorf("broker down")
	coord, _ := newTestCoordinator(t, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := coord.RequestAndWait(ctx, Request{
		Phone: "p", Service: "plomero", City: "Quito", Providers: gatherProviders,
	})
	require.NoError(t, err)

	// Broker recovers: the queued retry eventually publishes.
	transport.mu.Lock()
	transport.publishErr = nil
	transport.mu.Unlock()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		transport.mu.Lock()
		n := len(transport.published)
		transport.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("publish never succeeded after broker recovery")
}

func TestStateStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	states := NewStateStore(client, 5*time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, states.Put(ctx, &State{ReqID: "req-abc12345"}))
	ttl := mr.TTL("availability:req-abc12345")
	assert.InDelta(t, (5 * time.Minute).Seconds(), ttl.Seconds(), 2)

	// Appends keep the original expiry.
	_, err := states.AppendReply(ctx, "req-abc12345", Reply{ProviderID: "p1", Status: "accepted"}, true)
	require.NoError(t, err)
	assert.Greater(t, mr.TTL("availability:req-abc12345"), time.Duration(0))

	mr.FastForward(6 * time.Minute)
	state, err := states.Get(ctx, "req-abc12345")
	require.NoError(t, err)
	assert.Nil(t, state)
}
