package conversation

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/serviya/platform/internal/flow"
	"github.com/serviya/platform/internal/nlp"
	"github.com/serviya/platform/internal/outbound"
	"github.com/serviya/platform/internal/storage"
)

const msgDetailOptions = "Responde *1* para contactar, *2* para ver la lista o *3* para salir."

// handleAwaitingService interprets a free-text need: moderation first, then
// service and city extraction. A recognized need with a known city goes
// straight to the search dispatch; without a city we ask for one.
func (o *Orchestrator) handleAwaitingService(ctx context.Context, phone string, customer *storage.Customer, f *flow.Flow, text string) turn {
	if text == "" || nlp.IsGreeting(text) {
		return say(msgInitialPrompt)
	}

	verdict := o.moderator.Validate(ctx, text, phone)
	if verdict.Ban != "" {
		// The flow stays put: the ban gate in Handle short-circuits every
		// turn until the suspension expires.
		return say(verdict.Ban)
	}
	if verdict.Warning != "" {
		return say(verdict.Warning)
	}

	history := o.log.Context(ctx, phone, historyTurns)
	service, city, expanded := o.extractor.ExtractWithExpansion(ctx, history, text)
	if service == "" {
		return say(msgServiceNotRecognized)
	}

	f.Service = service
	f.ServiceFull = text
	f.ExpandedTerms = expanded

	if city != "" {
		f.City = city
		f.CityConfirmed = true
		o.confirmCity(ctx, customer, city)
	}
	if f.City == "" {
		f.State = flow.StateAwaitingCity
		return say(msgAskCity(service))
	}
	return o.dispatchSearch(f)
}

// handleAwaitingCity resolves the city answer, accepting synonyms and
// misspellings from the static table.
func (o *Orchestrator) handleAwaitingCity(ctx context.Context, customer *storage.Customer, f *flow.Flow, text string) turn {
	city, ok := nlp.NormalizeCityInput(text)
	if !ok {
		// The answer may be a need restatement instead of a city. When no
		// service is on file yet, take it and keep asking where.
		if service, found := nlp.DetectService(text); found && f.Service == "" {
			f.Service = service
			f.ServiceFull = text
			f.ExpandedTerms = nil
			return say(msgAskCity(service))
		}
		return say(msgUnknownCity)
	}

	f.City = city
	f.CityConfirmed = true
	o.confirmCity(ctx, customer, city)

	if f.Service == "" {
		f.State = flow.StateAwaitingService
		return say(msgInitialPrompt)
	}
	return o.dispatchSearch(f)
}

// dispatchSearch moves the flow to searching and asks Handle to launch the
// pipeline once the flow is persisted.
func (o *Orchestrator) dispatchSearch(f *flow.Flow) turn {
	f.State = flow.StateSearching
	f.SearchingDispatched = true
	f.Providers = nil
	f.ChosenProvider = nil
	f.ProviderDetailIdx = nil
	f.MQTTReqID = ""
	return turn{replies: []outbound.Reply{outbound.Text(msgSearchingAck)}, launchSearch: true}
}

// handleSearching answers messages that arrive while the pipeline is still
// between dispatch and the availability wait.
func (o *Orchestrator) handleSearching(f *flow.Flow) turn {
	return say(msgStillSearching)
}

// handleAwaitingResponses peeks at the gather record so the client hears
// whether providers are already confirming.
func (o *Orchestrator) handleAwaitingResponses(ctx context.Context, f *flow.Flow) turn {
	if f.MQTTReqID != "" {
		state, err := o.states.Get(ctx, f.MQTTReqID)
		if err == nil && state != nil && len(state.Accepted) > 0 {
			return say(msgAlmostReady)
		}
	}
	return say(msgStillSearching)
}

// handlePresentingResults resolves a numeric pick from the result list.
func (o *Orchestrator) handlePresentingResults(f *flow.Flow, text string) turn {
	n, ok := parseOption(text)
	if !ok || n < 1 || n > len(f.Providers) {
		return say(msgSelectionInvalid)
	}

	idx := n - 1
	p, _ := f.ProviderAt(idx)
	f.ProviderDetailIdx = &idx
	f.State = flow.StateViewingProviderDetail
	return say(msgProviderDetail(p))
}

// handleViewingProviderDetail runs the provider card menu: contact, back to
// the list, or leave.
func (o *Orchestrator) handleViewingProviderDetail(ctx context.Context, customer *storage.Customer, f *flow.Flow, text string) turn {
	n, _ := parseOption(text)
	idx := 0
	if f.ProviderDetailIdx != nil {
		idx = *f.ProviderDetailIdx
	}
	p, exists := f.ProviderAt(idx)
	if !exists {
		f.State = flow.StateAwaitingService
		return say(msgGenericRetry)
	}

	switch n {
	case 1:
		o.recordLead(ctx, customer, f, p)
		f.ChosenProvider = &p
		return o.toConfirm(f, "¿Te ayudo con algo más?", false, say(msgConnection(p)))
	case 2:
		f.State = flow.StatePresentingResults
		f.ProviderDetailIdx = nil
		return say(msgProviderList(f.Providers))
	case 3:
		f.State = flow.StateCompleted
		return say(msgFarewell)
	default:
		return say(msgDetailOptions)
	}
}

// handleConfirmNewSearch resolves the closing menu. Option 2 changes meaning
// with the flow's confirm flags; the prompt and this switch share that
// numbering.
func (o *Orchestrator) handleConfirmNewSearch(f *flow.Flow, text string) turn {
	n, numeric := parseOption(text)
	hasProviders := len(f.Providers) > 1

	if !numeric {
		if yn := nlp.InterpretYesNo(text); yn != nil {
			if *yn {
				n = 1
			} else {
				f.State = flow.StateCompleted
				return say(msgFarewell)
			}
			numeric = true
		}
	}

	switch {
	case numeric && n == 1:
		return o.restartSearch(f)

	case numeric && n == 2 && f.ConfirmIncludeCityOption:
		f.City = ""
		f.CityConfirmed = false
		if f.Service == "" {
			f.State = flow.StateAwaitingService
			return say(msgInitialPrompt)
		}
		f.State = flow.StateAwaitingCity
		return say(msgAskCity(f.Service))

	case numeric && n == 2 && hasProviders:
		f.State = flow.StatePresentingResults
		f.ProviderDetailIdx = nil
		return say(msgProviderList(f.Providers))

	case numeric && n == 2:
		f.State = flow.StateCompleted
		return say(msgFarewell)

	case numeric && n == 3 && (f.ConfirmIncludeCityOption || hasProviders):
		f.State = flow.StateCompleted
		return say(msgFarewell)
	}

	f.ConfirmAttempts++
	if f.ConfirmAttempts > MaxConfirmAttempts {
		// Out of attempts: start over from the service question instead of
		// ending on a prompt the client never understood.
		return o.restartSearch(f)
	}
	prompt := msgConfirmPrompt(f.ConfirmTitle, f.ConfirmIncludeCityOption, hasProviders)
	return turn{replies: []outbound.Reply{
		outbound.WithButtons(prompt, confirmButtons(f.ConfirmIncludeCityOption, hasProviders)...),
	}}
}

// restartSearch clears the need but keeps the confirmed city so the next
// search only has to ask what, not where.
func (o *Orchestrator) restartSearch(f *flow.Flow) turn {
	f.State = flow.StateAwaitingService
	f.Service = ""
	f.ServiceFull = ""
	f.ExpandedTerms = nil
	f.Providers = nil
	f.ChosenProvider = nil
	f.ProviderDetailIdx = nil
	f.MQTTReqID = ""
	f.ConfirmAttempts = 0
	f.ConfirmTitle = ""
	f.ConfirmIncludeCityOption = false
	return say(msgInitialPrompt)
}

// toConfirm transitions into the closing menu, appending its prompt to any
// replies already queued.
func (o *Orchestrator) toConfirm(f *flow.Flow, title string, includeCityOption bool, t turn) turn {
	hasProviders := len(f.Providers) > 1
	f.State = flow.StateConfirmNewSearch
	f.ConfirmAttempts = 0
	f.ConfirmTitle = title
	f.ConfirmIncludeCityOption = includeCityOption
	prompt := msgConfirmPrompt(title, includeCityOption, hasProviders)
	t.replies = append(t.replies, outbound.WithButtons(prompt, confirmButtons(includeCityOption, hasProviders)...))
	return t
}

func (o *Orchestrator) recordLead(ctx context.Context, customer *storage.Customer, f *flow.Flow, p storage.Provider) {
	if o.leads == nil {
		return
	}
	customerID := f.CustomerID
	if customerID == "" && customer != nil {
		customerID = customer.ID
	}
	_, err := o.leads.Create(ctx, &storage.Lead{
		CustomerID: customerID,
		ProviderID: p.ID,
		Service:    f.Service,
		City:       f.City,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		o.logger.Warn("lead record failed", "provider_id", p.ID, "error", err)
	}
}

// parseOption extracts a leading menu number from input like "2", "2)",
// "2) 📍 Cambiar de ciudad".
func parseOption(text string) (int, bool) {
	canon := nlp.Canonical(text)
	if canon == "" {
		return 0, false
	}
	field := canon
	if i := strings.IndexByte(canon, ' '); i >= 0 {
		field = canon[:i]
	}
	n, err := strconv.Atoi(field)
	if err != nil {
		return 0, false
	}
	return n, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
