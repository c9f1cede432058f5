// Package storage defines the marketplace entities (customers, providers,
// consents, leads) and the repositories that persist them. Two backends are
// supported: direct Postgres over pgx and the Supabase PostgREST API.
package storage

import (
	"strings"
	"time"
)

// Customer is a client-side profile keyed by phone.
type Customer struct {
	ID              string     `json:"id"`
	Phone           string     `json:"phone"`
	FullName        string     `json:"full_name,omitempty"`
	City            string     `json:"city,omitempty"`
	CityConfirmedAt *time.Time `json:"city_confirmed_at,omitempty"`
	HasConsent      bool       `json:"has_consent"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
}

// Provider is a marketplace provider profile. Records come from the search
// backend or the relational store and are treated as opaque once validated.
type Provider struct {
	ID         string   `json:"id"`
	Phone      string   `json:"phone"`
	Name       string   `json:"name"`
	City       string   `json:"city,omitempty"`
	Rating     float64  `json:"rating,omitempty"`
	Services   []string `json:"services,omitempty"`
	Profession string   `json:"profession,omitempty"`
	Experience string   `json:"experience,omitempty"`
}

// DisplayName prefers the profile name, falling back to the profession.
func (p Provider) DisplayName() string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	if strings.TrimSpace(p.Profession) != "" {
		return p.Profession
	}
	return "Proveedor"
}

// Consent responses.
const (
	ConsentAccepted = "accepted"
	ConsentDeclined = "declined"
)

// ConsentMetadata carries the inbound message that produced the consent
// decision, for auditability.
type ConsentMetadata struct {
	MessageID string `json:"message_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	RawText   string `json:"raw_text,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

// ConsentRecord is append-only: every consent decision is a new row.
type ConsentRecord struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	UserType  string          `json:"user_type"`
	Response  string          `json:"response"`
	Metadata  ConsentMetadata `json:"metadata"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// Lead records a brokered handoff: the customer asked to be connected with
// a provider for a concrete need.
type Lead struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	ProviderID string    `json:"provider_id"`
	Service    string    `json:"service"`
	City       string    `json:"city,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}
