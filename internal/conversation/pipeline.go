package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/serviya/platform/internal/availability"
	"github.com/serviya/platform/internal/flow"
	"github.com/serviya/platform/internal/observability/metrics"
	"github.com/serviya/platform/internal/outbound"
	"github.com/serviya/platform/internal/search"
	"github.com/serviya/platform/internal/storage"
	"github.com/serviya/platform/pkg/logging"
)

const searchLimit = 10

// Searcher is the provider search backend surface.
type Searcher interface {
	Search(ctx context.Context, query, city string, limit int, useAIEnhancement bool) (*search.Result, error)
}

// RelevanceFilter is the post-search AI validation step.
type RelevanceFilter interface {
	Filter(ctx context.Context, need string, providers []storage.Provider) []storage.Provider
}

// Coordinator is the availability scatter/gather surface.
type Coordinator interface {
	Start(ctx context.Context, req availability.Request) (*availability.Pending, error)
	Await(ctx context.Context, pending *availability.Pending) (*availability.GatherResult, error)
}

// Pipeline is the background task launched when a flow enters `searching`:
// search, AI-validate, coordinate availability, present. It runs detached;
// nothing it does can fail the inbound request that triggered it.
type Pipeline struct {
	flows       *flow.Store
	searcher    Searcher
	filter      RelevanceFilter
	coordinator Coordinator
	messenger   *outbound.Messenger
	logger      *logging.Logger
	metrics     *metrics.BrokerMetrics
}

func NewPipeline(flows *flow.Store, searcher Searcher, filter RelevanceFilter, coordinator Coordinator, messenger *outbound.Messenger, logger *logging.Logger, m *metrics.BrokerMetrics) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		flows:       flows,
		searcher:    searcher,
		filter:      filter,
		coordinator: coordinator,
		messenger:   messenger,
		logger:      logger,
		metrics:     m,
	}
}

// Launch runs the pipeline in a fresh goroutine, detached from the inbound
// request. Panics are recovered and logged with the phone as key.
func (p *Pipeline) Launch(phone string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("search pipeline panicked", "phone", phone, "panic", r)
				p.metrics.ObservePipeline("panic")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), pipelineWaitBudget)
		defer cancel()
		p.Run(ctx, phone)
	}()
}

// Run executes the pipeline synchronously. Exposed for tests; production
// callers go through Launch.
func (p *Pipeline) Run(ctx context.Context, phone string) {
	f := p.flows.Get(ctx, phone)
	if f.Service == "" || f.City == "" {
		// Should not happen: the orchestrator only dispatches with both
		// present. Recover the conversation instead of leaving it stuck.
		p.logger.Error("pipeline launched without need", "phone", phone, "service", f.Service, "city", f.City)
		p.metrics.ObservePipeline("missing_need")
		p.flows.Mutate(ctx, phone, func(f *flow.Flow) {
			f.State = flow.StateAwaitingService
			f.SearchingDispatched = false
		})
		p.messenger.Push(ctx, phone, msgGenericRetry)
		return
	}

	p.messenger.Push(ctx, phone, msgSearchingProgress(f.Service, f.City))

	providers := p.search(ctx, f)
	p.messenger.Push(ctx, phone, msgFoundCount(len(providers)))

	if len(providers) > 0 {
		providers = p.filter.Filter(ctx, needSummary(f), providers)
	}

	accepted := p.coordinate(ctx, phone, f, providers)
	if len(accepted) > flow.MaxPresentedProviders {
		accepted = accepted[:flow.MaxPresentedProviders]
	}

	if len(accepted) > 0 {
		p.present(ctx, phone, accepted)
		p.metrics.ObservePipeline("presented")
		return
	}

	p.noResults(ctx, phone)
	p.metrics.ObservePipeline("no_results")
}

func (p *Pipeline) search(ctx context.Context, f *flow.Flow) []storage.Provider {
	query := f.Service
	if len(f.ExpandedTerms) > 0 {
		query = strings.Join(f.ExpandedTerms, " ")
	}
	result, err := p.searcher.Search(ctx, query, f.City, searchLimit, true)
	if err != nil {
		// Degrade to "nothing found"; the confirm prompt lets the client
		// retry.
		p.logger.Warn("provider search failed", "city", f.City, "service", f.Service, "error", err)
		return nil
	}
	return result.Providers
}

// coordinate scatters the availability request and waits for accepts. The
// flow moves to awaiting_responses while the gather runs so inbound
// messages get a meaningful answer.
func (p *Pipeline) coordinate(ctx context.Context, phone string, f *flow.Flow, providers []storage.Provider) []storage.Provider {
	if len(providers) == 0 {
		return nil
	}

	pending, err := p.coordinator.Start(ctx, availability.Request{
		Phone:       phone,
		Service:     f.Service,
		City:        f.City,
		NeedSummary: needSummary(f),
		Providers:   providers,
	})
	if err != nil {
		p.logger.Warn("availability start failed", "phone", phone, "error", err)
		return nil
	}

	p.flows.Mutate(ctx, phone, func(f *flow.Flow) {
		f.State = flow.StateAwaitingResponses
		f.MQTTReqID = pending.ReqID
		f.SearchingDispatched = false
	})

	result, err := p.coordinator.Await(ctx, pending)
	if err != nil || result == nil {
		return nil
	}
	return result.Accepted
}

func (p *Pipeline) present(ctx context.Context, phone string, accepted []storage.Provider) {
	p.flows.Mutate(ctx, phone, func(f *flow.Flow) {
		f.State = flow.StatePresentingResults
		f.Providers = accepted
		f.ProviderDetailIdx = nil
		f.ChosenProvider = nil
		f.MQTTReqID = ""
		f.SearchingDispatched = false
	})
	p.messenger.Push(ctx, phone, msgProviderList(accepted))
}

func (p *Pipeline) noResults(ctx context.Context, phone string) {
	p.flows.Mutate(ctx, phone, func(f *flow.Flow) {
		f.State = flow.StateConfirmNewSearch
		f.Providers = nil
		f.ProviderDetailIdx = nil
		f.MQTTReqID = ""
		f.SearchingDispatched = false
		f.ConfirmAttempts = 0
		f.ConfirmTitle = "¿Quieres que intente otra búsqueda?"
		f.ConfirmIncludeCityOption = true
	})
	p.messenger.Push(ctx, phone, msgNoneAvailable())
	p.messenger.Push(ctx, phone, msgConfirmPrompt("¿Quieres que intente otra búsqueda?", true, false))
}

func needSummary(f *flow.Flow) string {
	if strings.TrimSpace(f.ServiceFull) != "" {
		return f.ServiceFull
	}
	return f.Service
}

// pipelineWaitBudget bounds a detached run so an unresponsive backend can
// never leak goroutines past the availability window.
const pipelineWaitBudget = 3 * time.Minute
