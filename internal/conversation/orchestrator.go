package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/serviya/platform/internal/availability"
	"github.com/serviya/platform/internal/consent"
	"github.com/serviya/platform/internal/flow"
	"github.com/serviya/platform/internal/moderation"
	"github.com/serviya/platform/internal/nlp"
	"github.com/serviya/platform/internal/observability/metrics"
	"github.com/serviya/platform/internal/outbound"
	"github.com/serviya/platform/internal/profiles"
	"github.com/serviya/platform/internal/sessions"
	"github.com/serviya/platform/internal/storage"
	"github.com/serviya/platform/pkg/logging"
)

const (
	// DefaultIdleTimeout is the silence gap after which a conversation is
	// restarted instead of resumed.
	DefaultIdleTimeout = 180 * time.Second

	// MaxConfirmAttempts caps uninterpretable answers on the confirm prompt
	// before the conversation is closed politely.
	MaxConfirmAttempts = 2

	// historyTurns is how much transcript the extractor sees.
	historyTurns = 6
)

// SearchLauncher starts the background search pipeline for a phone whose
// flow was just persisted in the searching state.
type SearchLauncher interface {
	Launch(phone string)
}

// Orchestrator is the synchronous half of the conversation engine: it owns
// the per-phone state machine and delegates long work to the Pipeline.
type Orchestrator struct {
	flows     *flow.Store
	log       *sessions.Log
	profiles  *profiles.Cache
	consent   *consent.Service
	moderator *moderation.Moderator
	extractor *nlp.Extractor
	pipeline  SearchLauncher
	states    *availability.StateStore
	leads     storage.LeadRepository

	idleTimeout time.Duration
	logger      *logging.Logger
	metrics     *metrics.BrokerMetrics
}

// Options bundles the orchestrator dependencies.
type Options struct {
	Flows       *flow.Store
	SessionLog  *sessions.Log
	Profiles    *profiles.Cache
	Consent     *consent.Service
	Moderator   *moderation.Moderator
	Extractor   *nlp.Extractor
	Pipeline    SearchLauncher
	States      *availability.StateStore
	Leads       storage.LeadRepository
	IdleTimeout time.Duration
	Logger      *logging.Logger
	Metrics     *metrics.BrokerMetrics
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Orchestrator{
		flows:       opts.Flows,
		log:         opts.SessionLog,
		profiles:    opts.Profiles,
		consent:     opts.Consent,
		moderator:   opts.Moderator,
		extractor:   opts.Extractor,
		pipeline:    opts.Pipeline,
		states:      opts.States,
		leads:       opts.Leads,
		idleTimeout: opts.IdleTimeout,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// turn is what a state handler hands back to the dispatch loop.
type turn struct {
	replies      []outbound.Reply
	launchSearch bool
}

func say(messages ...string) turn {
	t := turn{}
	for _, m := range messages {
		t.replies = append(t.replies, outbound.Text(m))
	}
	return t
}

// Handle processes one inbound message end to end and returns the replies
// the adapter should deliver. It never blocks on search or availability;
// those run in the background pipeline.
func (o *Orchestrator) Handle(ctx context.Context, msg Inbound) ([]outbound.Reply, error) {
	phone := nlp.NormalizePhone(msg.FromNumber)
	if phone == "" {
		return nil, fmt.Errorf("conversation: empty sender phone")
	}
	text := msg.Text()

	if o.moderator.IsBanned(ctx, phone) {
		return []outbound.Reply{outbound.Text(moderation.SuspendedText())}, nil
	}

	customer := o.resolveCustomer(ctx, phone)

	if replies, handled := o.consent.Gate(ctx, customer, consent.Message{
		Text:      msg.Content,
		Selected:  msg.SelectedOption,
		MessageID: msg.ID,
		Timestamp: msg.Timestamp,
		Channel:   msg.Channel,
	}, msgInitialPrompt); handled {
		o.recordTurns(ctx, phone, text, replies)
		return replies, nil
	}

	f := o.flows.Get(ctx, phone)
	now := time.Now().UTC()
	wasIdle := !f.Empty() && f.State != flow.StateCompleted && now.Sub(f.LastSeenAt) > o.idleTimeout
	f.Touch(now)

	if wasIdle {
		o.flows.Delete(ctx, phone)
		f = o.seedFlow(customer, now)
		o.flows.Set(ctx, phone, f)
		replies := []outbound.Reply{outbound.Text(msgInactivityNotice), outbound.Text(msgInitialPrompt)}
		o.recordTurns(ctx, phone, text, replies)
		return replies, nil
	}

	if nlp.IsResetKeyword(text) {
		o.flows.Delete(ctx, phone)
		o.profiles.ClearCityAndConsent(ctx, customer)
		replies := []outbound.Reply{outbound.Text(msgResetDone)}
		o.recordTurns(ctx, phone, text, replies)
		return replies, nil
	}

	if f.Empty() || f.State == flow.StateCompleted || f.State == flow.StateAwaitingConsent {
		f = o.seedFlow(customer, now)
	}
	o.syncCity(ctx, customer, f, text)
	o.metrics.ObserveInbound(firstNonEmpty(msg.Channel, "whatsapp"), string(f.State))

	if err := o.log.Append(ctx, phone, text, false, nil); err != nil {
		o.logger.Debug("user turn append failed", "phone", phone, "error", err)
	}

	result := o.dispatch(ctx, phone, customer, f, text)

	o.flows.Set(ctx, phone, f)
	if result.launchSearch {
		o.pipeline.Launch(phone)
	}

	for _, r := range result.replies {
		o.recordBotReply(ctx, phone, r)
	}
	return result.replies, nil
}

// dispatch routes one turn to its state handler. The flow is mutated in
// place; persistence happens in Handle after the handler returns.
func (o *Orchestrator) dispatch(ctx context.Context, phone string, customer *storage.Customer, f *flow.Flow, text string) turn {
	switch f.State {
	case flow.StateAwaitingService:
		return o.handleAwaitingService(ctx, phone, customer, f, text)
	case flow.StateAwaitingCity:
		return o.handleAwaitingCity(ctx, customer, f, text)
	case flow.StateSearching:
		return o.handleSearching(f)
	case flow.StateAwaitingResponses:
		return o.handleAwaitingResponses(ctx, f)
	case flow.StatePresentingResults:
		return o.handlePresentingResults(f, text)
	case flow.StateViewingProviderDetail:
		return o.handleViewingProviderDetail(ctx, customer, f, text)
	case flow.StateConfirmNewSearch:
		return o.handleConfirmNewSearch(f, text)
	default:
		o.logger.Warn("unknown flow state, restarting", "phone", phone, "state", string(f.State))
		*f = *o.seedFlow(customer, time.Now().UTC())
		return say(msgInitialPrompt)
	}
}

// seedFlow starts a fresh conversation for a consented customer, carrying
// over the profile city so returning clients skip the city question.
func (o *Orchestrator) seedFlow(customer *storage.Customer, now time.Time) *flow.Flow {
	f := &flow.Flow{
		State:      flow.StateAwaitingService,
		HasConsent: true,
	}
	if customer != nil {
		f.CustomerID = customer.ID
		f.City = customer.City
		f.CityConfirmed = customer.City != "" && customer.CityConfirmedAt != nil
	}
	f.Touch(now)
	return f
}

// syncCity keeps the flow and the profile aligned on every turn: a flow
// without a city inherits the profile's, and a city mentioned anywhere in
// the message wins over both. The inherit step skips awaiting_city so an
// explicit change-city request is not silently refilled.
func (o *Orchestrator) syncCity(ctx context.Context, customer *storage.Customer, f *flow.Flow, text string) {
	if f.City == "" && f.State != flow.StateAwaitingCity && customer != nil && customer.City != "" {
		f.City = customer.City
		f.CityConfirmed = customer.CityConfirmedAt != nil
	}
	if city, ok := nlp.NormalizeCityInput(text); ok && city != f.City {
		f.City = city
		f.CityConfirmed = true
		o.confirmCity(ctx, customer, city)
	}
}

// resolveCustomer loads or creates the profile. A profile-store outage
// fails open past the consent gate rather than blocking every message.
func (o *Orchestrator) resolveCustomer(ctx context.Context, phone string) *storage.Customer {
	customer, err := o.profiles.EnsureCustomer(ctx, phone)
	if err != nil {
		o.logger.Warn("customer resolve failed, continuing without profile", "phone", phone, "error", err)
		return &storage.Customer{Phone: phone, HasConsent: true}
	}
	return customer
}

// confirmCity persists a freshly confirmed city on the profile when it
// differs from what is stored.
func (o *Orchestrator) confirmCity(ctx context.Context, customer *storage.Customer, city string) {
	if customer == nil || customer.ID == "" || customer.City == city {
		return
	}
	if err := o.profiles.UpdateCity(ctx, customer, city); err != nil {
		o.logger.Warn("city update failed", "customer_id", customer.ID, "error", err)
	}
}

func (o *Orchestrator) recordTurns(ctx context.Context, phone, userText string, replies []outbound.Reply) {
	if err := o.log.Append(ctx, phone, userText, false, nil); err != nil {
		o.logger.Debug("user turn append failed", "phone", phone, "error", err)
	}
	for _, r := range replies {
		o.recordBotReply(ctx, phone, r)
	}
}

func (o *Orchestrator) recordBotReply(ctx context.Context, phone string, r outbound.Reply) {
	if err := o.log.Append(ctx, phone, r.Response, true, nil); err != nil {
		o.logger.Debug("bot turn append failed", "phone", phone, "error", err)
	}
}
