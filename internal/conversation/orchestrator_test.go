package conversation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviya/platform/internal/availability"
	"github.com/serviya/platform/internal/consent"
	"github.com/serviya/platform/internal/flow"
	"github.com/serviya/platform/internal/llm"
	"github.com/serviya/platform/internal/moderation"
	"github.com/serviya/platform/internal/nlp"
	"github.com/serviya/platform/internal/outbound"
	"github.com/serviya/platform/internal/profiles"
	"github.com/serviya/platform/internal/search"
	"github.com/serviya/platform/internal/sessions"
	"github.com/serviya/platform/internal/storage"
)

const testPhone = "593999000111"

type captureSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *captureSender) Send(ctx context.Context, phone, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, message)
	return nil
}

func (s *captureSender) joined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.sent, "\n---\n")
}

type fakeSearcher struct {
	result    *search.Result
	err       error
	lastQuery string
	lastCity  string
}

func (s *fakeSearcher) Search(ctx context.Context, query, city string, limit int, useAIEnhancement bool) (*search.Result, error) {
	s.lastQuery, s.lastCity = query, city
	if s.err != nil {
		return nil, s.err
	}
	if s.result == nil {
		return &search.Result{OK: true}, nil
	}
	return s.result, nil
}

type passFilter struct{}

func (passFilter) Filter(ctx context.Context, need string, providers []storage.Provider) []storage.Provider {
	return providers
}

type fakeCoordinator struct {
	accepted []storage.Provider
	startErr error
	lastReq  *availability.Request
}

func (c *fakeCoordinator) Start(ctx context.Context, req availability.Request) (*availability.Pending, error) {
	c.lastReq = &req
	if c.startErr != nil {
		return nil, c.startErr
	}
	return &availability.Pending{
		ReqID:     "req-test0001",
		Deadline:  time.Now().Add(time.Minute),
		Originals: req.Providers,
	}, nil
}

func (c *fakeCoordinator) Await(ctx context.Context, pending *availability.Pending) (*availability.GatherResult, error) {
	return &availability.GatherResult{Accepted: c.accepted, ReqID: pending.ReqID}, nil
}

type recordingLauncher struct {
	phones []string
}

func (l *recordingLauncher) Launch(phone string) { l.phones = append(l.phones, phone) }

type staticLLM struct{ text string }

func (s staticLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{Text: s.text}, nil
}

type fixture struct {
	orch        *Orchestrator
	pipe        *Pipeline
	flows       *flow.Store
	states      *availability.StateStore
	launcher    *recordingLauncher
	sender      *captureSender
	searcher    *fakeSearcher
	coordinator *fakeCoordinator
	customers   *storage.MemoryCustomerRepository
	leads       *storage.MemoryLeadRepository
}

func newFixture(t *testing.T, moderatorLLM llm.Client) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	flows := flow.NewStore(client, time.Hour, nil)
	sessionLog := sessions.NewLog(client, time.Hour, nil)
	states := availability.NewStateStore(client, 5*time.Minute, nil)

	customers := storage.NewMemoryCustomerRepository()
	providers := storage.NewMemoryProviderRepository()
	consents := storage.NewMemoryConsentRepository()
	leads := storage.NewMemoryLeadRepository()
	cache := profiles.NewCache(client, customers, providers, 5*time.Minute, nil)

	sender := &captureSender{}
	messenger := outbound.NewMessenger(sender, sessionLog, nil, nil)
	searcher := &fakeSearcher{}
	coordinator := &fakeCoordinator{}
	pipe := NewPipeline(flows, searcher, passFilter{}, coordinator, messenger, nil, nil)

	launcher := &recordingLauncher{}
	orch := NewOrchestrator(Options{
		Flows:      flows,
		SessionLog: sessionLog,
		Profiles:   cache,
		Consent:    consent.NewService(cache, consents, nil),
		Moderator:  moderation.New(client, moderatorLLM, nil, nil),
		Extractor:  nlp.NewExtractor(nil, nil),
		Pipeline:   launcher,
		States:     states,
		Leads:      leads,
	})

	return &fixture{
		orch:        orch,
		pipe:        pipe,
		flows:       flows,
		states:      states,
		launcher:    launcher,
		sender:      sender,
		searcher:    searcher,
		coordinator: coordinator,
		customers:   customers,
		leads:       leads,
	}
}

func (fx *fixture) consented(t *testing.T, phone string) *storage.Customer {
	t.Helper()
	customer, err := fx.customers.Create(context.Background(), &storage.Customer{Phone: phone, HasConsent: true})
	require.NoError(t, err)
	return customer
}

func (fx *fixture) handle(t *testing.T, text string) []outbound.Reply {
	t.Helper()
	replies, err := fx.orch.Handle(context.Background(), Inbound{FromNumber: testPhone, Content: text})
	require.NoError(t, err)
	return replies
}

func twoProviders() []storage.Provider {
	return []storage.Provider{
		{ID: "p1", Phone: "593111111111", Name: "Juan Pérez", Profession: "Plomero", Rating: 4.8},
		{ID: "p2", Phone: "593222222222", Name: "Mario López", Profession: "Plomero", Rating: 4.5},
	}
}

func TestHappyPathNeedWithCity(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)
	ctx := context.Background()

	replies := fx.handle(t, "necesito un plomero en quito")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "confirmando disponibilidad")
	assert.Equal(t, []string{testPhone}, fx.launcher.phones)

	f := fx.flows.Get(ctx, testPhone)
	assert.Equal(t, flow.StateSearching, f.State)
	assert.Equal(t, "plomero", f.Service)
	assert.Equal(t, "Quito", f.City)
	assert.True(t, f.SearchingDispatched)

	fx.searcher.result = &search.Result{OK: true, Providers: twoProviders(), Total: 2}
	fx.coordinator.accepted = twoProviders()[:1]
	fx.pipe.Run(ctx, testPhone)

	f = fx.flows.Get(ctx, testPhone)
	assert.Equal(t, flow.StatePresentingResults, f.State)
	require.Len(t, f.Providers, 1)
	assert.Equal(t, "p1", f.Providers[0].ID)
	assert.Contains(t, fx.sender.joined(), "Buenas noticias")
	assert.Equal(t, "Quito", fx.searcher.lastCity)
	require.NotNil(t, fx.coordinator.lastReq)
	assert.Equal(t, "necesito un plomero en quito", fx.coordinator.lastReq.NeedSummary)

	replies = fx.handle(t, "1")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "Juan Pérez")
	assert.Equal(t, flow.StateViewingProviderDetail, fx.flows.Get(ctx, testPhone).State)

	replies = fx.handle(t, "1")
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0].Response, "Le avisé")

	recorded := fx.leads.All()
	require.Len(t, recorded, 1)
	assert.Equal(t, "p1", recorded[0].ProviderID)
	assert.Equal(t, "plomero", recorded[0].Service)
	assert.Equal(t, flow.StateConfirmNewSearch, fx.flows.Get(ctx, testPhone).State)
}

func TestGreetingGetsPrompt(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)

	replies := fx.handle(t, "hola")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "Qué servicio necesitas")
	assert.Empty(t, fx.launcher.phones)
}

func TestInactivityResetsConversation(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)
	ctx := context.Background()

	fx.flows.Set(ctx, testPhone, &flow.Flow{
		State:      flow.StatePresentingResults,
		Providers:  twoProviders(),
		LastSeenAt: time.Now().UTC().Add(-10 * time.Minute),
	})

	replies := fx.handle(t, "2")
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0].Response, "expiró")

	f := fx.flows.Get(ctx, testPhone)
	assert.Equal(t, flow.StateAwaitingService, f.State)
	assert.Empty(t, f.Providers)
}

func TestCitySynonymResolves(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)
	ctx := context.Background()

	replies := fx.handle(t, "necesito un electricista")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "ciudad")
	assert.Equal(t, flow.StateAwaitingCity, fx.flows.Get(ctx, testPhone).State)

	replies = fx.handle(t, "estoy en cueca")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "confirmando disponibilidad")

	f := fx.flows.Get(ctx, testPhone)
	assert.Equal(t, flow.StateSearching, f.State)
	assert.Equal(t, "Cuenca", f.City)

	stored, err := fx.customers.GetByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "Cuenca", stored.City)
}

func TestUnknownCityReprompts(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)
	ctx := context.Background()

	fx.handle(t, "necesito un plomero")
	replies := fx.handle(t, "narnia")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "No reconozco esa ciudad")
	assert.Equal(t, flow.StateAwaitingCity, fx.flows.Get(ctx, testPhone).State)
}

func TestIllegalContentEscalatesToBan(t *testing.T) {
	fx := newFixture(t, staticLLM{text: "illegal"})
	fx.consented(t, testPhone)

	r1 := fx.handle(t, "quiero comprar un arma sin papeles")
	require.Len(t, r1, 1)
	assert.Contains(t, r1[0].Response, "Advertencia 1")

	r2 := fx.handle(t, "en serio, consígueme una")
	assert.Contains(t, r2[0].Response, "Advertencia 2")

	r3 := fx.handle(t, "dale pues")
	assert.Contains(t, r3[0].Response, "suspendido por 24 horas")

	f := fx.flows.Get(context.Background(), testPhone)
	assert.False(t, f.Empty(), "ban must not drop the flow")
	assert.Equal(t, flow.StateAwaitingService, f.State)

	r4 := fx.handle(t, "hola")
	require.Len(t, r4, 1)
	assert.Contains(t, r4[0].Response, "suspendido")
	assert.Empty(t, fx.launcher.phones)
}

func TestNonsenseWarnsWithoutStrike(t *testing.T) {
	fx := newFixture(t, staticLLM{text: "nonsense"})
	fx.consented(t, testPhone)

	for i := 0; i < 4; i++ {
		replies := fx.handle(t, "asdf qwer zxcv")
		require.Len(t, replies, 1)
		assert.Contains(t, replies[0].Response, "No logré entender")
	}
}

func TestNoProvidersThenChangeCity(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)
	ctx := context.Background()

	fx.handle(t, "necesito un plomero en quito")
	fx.pipe.Run(ctx, testPhone)

	f := fx.flows.Get(ctx, testPhone)
	require.Equal(t, flow.StateConfirmNewSearch, f.State)
	assert.True(t, f.ConfirmIncludeCityOption)
	assert.Contains(t, fx.sender.joined(), "ningún proveedor")

	replies := fx.handle(t, "2")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "plomero")

	f = fx.flows.Get(ctx, testPhone)
	assert.Equal(t, flow.StateAwaitingCity, f.State)
	assert.Equal(t, "plomero", f.Service)
	assert.Empty(t, f.City)

	replies = fx.handle(t, "manta")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "confirmando disponibilidad")
	assert.Equal(t, "Manta", fx.flows.Get(ctx, testPhone).City)
}

func TestConfirmAttemptsCapRestartsConversation(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)
	ctx := context.Background()

	fx.flows.Set(ctx, testPhone, &flow.Flow{
		State:        flow.StateConfirmNewSearch,
		Service:      "plomero",
		City:         "Quito",
		ConfirmTitle: "¿Quieres que intente otra búsqueda?",
		LastSeenAt:   time.Now().UTC(),
	})

	r1 := fx.handle(t, "mmm tal vez quien sabe")
	require.Len(t, r1, 1)
	require.NotNil(t, r1[0].UI)
	assert.Equal(t, "buttons", r1[0].UI.Type)

	fx.handle(t, "ni idea sinceramente")

	r3 := fx.handle(t, "pues quien sabe realmente")
	require.Len(t, r3, 1)
	assert.Contains(t, r3[0].Response, "Qué servicio necesitas")

	f := fx.flows.Get(ctx, testPhone)
	assert.Equal(t, flow.StateAwaitingService, f.State)
	assert.Empty(t, f.Service)
	assert.Equal(t, "Quito", f.City, "confirmed city survives the restart")
	assert.Zero(t, f.ConfirmAttempts)
}

func TestCityMentionMidFlowUpdatesCityEverywhere(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)
	ctx := context.Background()

	fx.flows.Set(ctx, testPhone, &flow.Flow{
		State:                    flow.StateConfirmNewSearch,
		Service:                  "plomero",
		City:                     "Quito",
		ConfirmTitle:             "¿Quieres que intente otra búsqueda?",
		ConfirmIncludeCityOption: true,
		LastSeenAt:               time.Now().UTC(),
	})

	replies := fx.handle(t, "mejor busca en guayaquil por favor")
	require.Len(t, replies, 1)

	f := fx.flows.Get(ctx, testPhone)
	assert.Equal(t, flow.StateConfirmNewSearch, f.State, "a city mention alone does not change state")
	assert.Equal(t, "Guayaquil", f.City)
	assert.True(t, f.CityConfirmed)

	stored, err := fx.customers.GetByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "Guayaquil", stored.City)
}

func TestFlowInheritsProfileCity(t *testing.T) {
	fx := newFixture(t, nil)
	customer := fx.consented(t, testPhone)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, fx.customers.UpdateCity(ctx, customer.ID, "Loja", now))

	fx.flows.Set(ctx, testPhone, &flow.Flow{
		State:      flow.StateAwaitingService,
		CustomerID: customer.ID,
		LastSeenAt: now,
	})

	fx.handle(t, "necesito un electricista")

	f := fx.flows.Get(ctx, testPhone)
	assert.Equal(t, flow.StateSearching, f.State, "known profile city skips the city question")
	assert.Equal(t, "Loja", f.City)
}

func TestAwaitingCityAcceptsServiceRestatement(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)
	ctx := context.Background()

	fx.flows.Set(ctx, testPhone, &flow.Flow{
		State:      flow.StateAwaitingCity,
		LastSeenAt: time.Now().UTC(),
	})

	replies := fx.handle(t, "es que necesito un cerrajero urgente")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "ciudad")

	f := fx.flows.Get(ctx, testPhone)
	assert.Equal(t, flow.StateAwaitingCity, f.State)
	assert.Equal(t, "cerrajero", f.Service)

	replies = fx.handle(t, "quito")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "confirmando disponibilidad")
	assert.Equal(t, flow.StateSearching, fx.flows.Get(ctx, testPhone).State)
}

func TestConfirmNewSearchKeepsCity(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)
	ctx := context.Background()

	fx.flows.Set(ctx, testPhone, &flow.Flow{
		State:      flow.StateConfirmNewSearch,
		Service:    "plomero",
		City:       "Quito",
		LastSeenAt: time.Now().UTC(),
	})

	replies := fx.handle(t, "1")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "Qué servicio necesitas")

	f := fx.flows.Get(ctx, testPhone)
	assert.Equal(t, flow.StateAwaitingService, f.State)
	assert.Empty(t, f.Service)
	assert.Equal(t, "Quito", f.City)

	replies = fx.handle(t, "necesito un cerrajero")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "confirmando disponibilidad")
}

func TestResetClearsCityAndConsent(t *testing.T) {
	fx := newFixture(t, nil)
	customer := fx.consented(t, testPhone)
	ctx := context.Background()

	require.NoError(t, fx.customers.UpdateCity(ctx, customer.ID, "Quito", time.Now().UTC()))
	fx.flows.Set(ctx, testPhone, &flow.Flow{State: flow.StateAwaitingCity, Service: "plomero", LastSeenAt: time.Now().UTC()})

	replies := fx.handle(t, "reset")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "reiniciada")

	stored, err := fx.customers.GetByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.False(t, stored.HasConsent)
	assert.Empty(t, stored.City)
	assert.True(t, fx.flows.Get(ctx, testPhone).Empty())

	// Next contact goes back through the consent gate.
	replies = fx.handle(t, "hola")
	require.Len(t, replies, 1)
	require.NotNil(t, replies[0].UI)
	assert.Contains(t, replies[0].Response, "Aceptas el tratamiento")
}

func TestAwaitingResponsesPeeksGatherState(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)
	ctx := context.Background()

	fx.flows.Set(ctx, testPhone, &flow.Flow{
		State:      flow.StateAwaitingResponses,
		MQTTReqID:  "req-peek0001",
		Service:    "plomero",
		City:       "Quito",
		LastSeenAt: time.Now().UTC(),
	})

	replies := fx.handle(t, "sigues ahí?")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "Sigo consultando")

	require.NoError(t, fx.states.Put(ctx, &availability.State{
		ReqID:    "req-peek0001",
		Accepted: []availability.Reply{{ProviderID: "p1", Status: "accepted"}},
	}))

	replies = fx.handle(t, "y ahora?")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "Ya hay proveedores")
}

func TestSelectionOutOfRange(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)
	ctx := context.Background()

	fx.flows.Set(ctx, testPhone, &flow.Flow{
		State:      flow.StatePresentingResults,
		Providers:  twoProviders(),
		LastSeenAt: time.Now().UTC(),
	})

	replies := fx.handle(t, "7")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "número del proveedor")

	replies = fx.handle(t, "2")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "Mario López")
}

func TestDetailBackAndExit(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)
	ctx := context.Background()

	idx := 0
	fx.flows.Set(ctx, testPhone, &flow.Flow{
		State:             flow.StateViewingProviderDetail,
		Providers:         twoProviders(),
		ProviderDetailIdx: &idx,
		LastSeenAt:        time.Now().UTC(),
	})

	replies := fx.handle(t, "2")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "Buenas noticias")
	assert.Equal(t, flow.StatePresentingResults, fx.flows.Get(ctx, testPhone).State)

	fx.handle(t, "1")
	replies = fx.handle(t, "3")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "Gracias por usar ServiYa")
	assert.Equal(t, flow.StateCompleted, fx.flows.Get(ctx, testPhone).State)
}

func TestSearchFailureFallsBackToConfirm(t *testing.T) {
	fx := newFixture(t, nil)
	fx.consented(t, testPhone)
	ctx := context.Background()

	fx.handle(t, "necesito un plomero en quito")
	fx.searcher.err = context.DeadlineExceeded
	fx.pipe.Run(ctx, testPhone)

	f := fx.flows.Get(ctx, testPhone)
	assert.Equal(t, flow.StateConfirmNewSearch, f.State)
	assert.Contains(t, fx.sender.joined(), "No encontré proveedores")
}

func TestCompletedFlowStartsFresh(t *testing.T) {
	fx := newFixture(t, nil)
	customer := fx.consented(t, testPhone)
	ctx := context.Background()
	require.NoError(t, fx.customers.UpdateCity(ctx, customer.ID, "Quito", time.Now().UTC()))

	fx.flows.Set(ctx, testPhone, &flow.Flow{
		State:      flow.StateCompleted,
		City:       "Quito",
		LastSeenAt: time.Now().UTC(),
	})

	replies := fx.handle(t, "necesito un jardinero")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Response, "confirmando disponibilidad")

	f := fx.flows.Get(ctx, testPhone)
	assert.Equal(t, flow.StateSearching, f.State)
	assert.Equal(t, "jardinero", f.Service)
}
