// Package flow owns the per-phone conversation state: the Flow record, the
// state enum and the TTL-bound Redis store with an in-memory fallback.
package flow

import (
	"time"

	"github.com/serviya/platform/internal/storage"
)

// State enumerates the conversational states. The orchestrator switches
// exhaustively over these.
type State string

const (
	StateAwaitingConsent       State = "awaiting_consent"
	StateAwaitingService       State = "awaiting_service"
	StateAwaitingCity          State = "awaiting_city"
	StateSearching             State = "searching"
	StateAwaitingResponses     State = "awaiting_responses"
	StatePresentingResults     State = "presenting_results"
	StateViewingProviderDetail State = "viewing_provider_detail"
	StateConfirmNewSearch      State = "confirm_new_search"
	StateCompleted             State = "completed"
)

// MaxPresentedProviders caps how many providers a flow carries into the
// presentation states.
const MaxPresentedProviders = 5

// Flow is the mutable per-phone conversation record. A zero Flow (empty
// State) means "no conversation yet".
type Flow struct {
	State State `json:"state,omitempty"`

	Service     string `json:"service,omitempty"`
	ServiceFull string `json:"service_full,omitempty"`

	City          string `json:"city,omitempty"`
	CityConfirmed bool   `json:"city_confirmed,omitempty"`

	// Providers is populated only after a successful search, in the
	// presentation states, and never exceeds MaxPresentedProviders.
	Providers         []storage.Provider `json:"providers,omitempty"`
	ChosenProvider    *storage.Provider  `json:"chosen_provider,omitempty"`
	ProviderDetailIdx *int               `json:"provider_detail_idx,omitempty"`

	SearchingDispatched bool     `json:"searching_dispatched,omitempty"`
	MQTTReqID           string   `json:"mqtt_req_id,omitempty"`
	ExpandedTerms       []string `json:"expanded_terms,omitempty"`

	ConfirmAttempts          int    `json:"confirm_attempts,omitempty"`
	ConfirmTitle             string `json:"confirm_title,omitempty"`
	ConfirmIncludeCityOption bool   `json:"confirm_include_city_option,omitempty"`

	HasConsent bool `json:"has_consent,omitempty"`

	LastSeenAt     time.Time `json:"last_seen_at,omitempty"`
	LastSeenAtPrev time.Time `json:"last_seen_at_prev,omitempty"`

	CustomerID string `json:"customer_id,omitempty"`
}

// Empty reports whether no conversation has been recorded yet.
func (f *Flow) Empty() bool {
	return f == nil || f.State == ""
}

// ProviderAt returns the provider at idx, guarding bounds.
func (f *Flow) ProviderAt(idx int) (storage.Provider, bool) {
	if f == nil || idx < 0 || idx >= len(f.Providers) {
		return storage.Provider{}, false
	}
	return f.Providers[idx], true
}

// Touch advances the idle-reset timestamps: the previous last-seen value is
// kept so the orchestrator can measure the gap that ended with this message.
func (f *Flow) Touch(now time.Time) {
	if f.LastSeenAt.IsZero() {
		f.LastSeenAtPrev = now
	} else {
		f.LastSeenAtPrev = f.LastSeenAt
	}
	f.LastSeenAt = now
}

// IdleFor reports how long the conversation had been silent before the
// current message arrived.
func (f *Flow) IdleFor(now time.Time) time.Duration {
	if f.Empty() || f.LastSeenAtPrev.IsZero() {
		return 0
	}
	return now.Sub(f.LastSeenAtPrev)
}
