package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CustomerRepository persists customer profiles.
type CustomerRepository interface {
	GetByPhone(ctx context.Context, phone string) (*Customer, error)
	Create(ctx context.Context, customer *Customer) (*Customer, error)
	UpdateCity(ctx context.Context, id, city string, confirmedAt time.Time) error
	UpdateConsent(ctx context.Context, id string, hasConsent bool) error
	ClearCityAndConsent(ctx context.Context, id string) error
}

// ProviderRepository reads provider profiles.
type ProviderRepository interface {
	GetByPhone(ctx context.Context, phone string) (*Provider, error)
}

// ConsentRepository appends consent decisions.
type ConsentRepository interface {
	Append(ctx context.Context, record *ConsentRecord) (*ConsentRecord, error)
}

// LeadRepository records brokered handoffs.
type LeadRepository interface {
	Create(ctx context.Context, lead *Lead) (*Lead, error)
}

// Repositories bundles the four stores a running broker needs.
type Repositories struct {
	Customers CustomerRepository
	Providers ProviderRepository
	Consents  ConsentRepository
	Leads     LeadRepository
}

// NewMemoryRepositories wires the in-memory implementations, used for
// development mode and tests.
func NewMemoryRepositories() Repositories {
	return Repositories{
		Customers: NewMemoryCustomerRepository(),
		Providers: NewMemoryProviderRepository(),
		Consents:  NewMemoryConsentRepository(),
		Leads:     NewMemoryLeadRepository(),
	}
}

// MemoryCustomerRepository keeps customers in a process-local map.
type MemoryCustomerRepository struct {
	mu        sync.RWMutex
	customers map[string]*Customer // keyed by phone
}

func NewMemoryCustomerRepository() *MemoryCustomerRepository {
	return &MemoryCustomerRepository{customers: make(map[string]*Customer)}
}

func (r *MemoryCustomerRepository) GetByPhone(ctx context.Context, phone string) (*Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	customer, ok := r.customers[phone]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	copied := *customer
	return &copied, nil
}

func (r *MemoryCustomerRepository) Create(ctx context.Context, customer *Customer) (*Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := *customer
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	created.CreatedAt = time.Now().UTC()
	r.customers[created.Phone] = &created
	copied := created
	return &copied, nil
}

func (r *MemoryCustomerRepository) UpdateCity(ctx context.Context, id, city string, confirmedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, customer := range r.customers {
		if customer.ID == id {
			customer.City = city
			at := confirmedAt
			customer.CityConfirmedAt = &at
			return nil
		}
	}
	return ErrCustomerNotFound
}

func (r *MemoryCustomerRepository) UpdateConsent(ctx context.Context, id string, hasConsent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, customer := range r.customers {
		if customer.ID == id {
			customer.HasConsent = hasConsent
			return nil
		}
	}
	return ErrCustomerNotFound
}

func (r *MemoryCustomerRepository) ClearCityAndConsent(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, customer := range r.customers {
		if customer.ID == id {
			customer.City = ""
			customer.CityConfirmedAt = nil
			customer.HasConsent = false
			return nil
		}
	}
	return ErrCustomerNotFound
}

// MemoryProviderRepository keeps provider profiles in a process-local map.
type MemoryProviderRepository struct {
	mu        sync.RWMutex
	providers map[string]*Provider // keyed by phone
}

func NewMemoryProviderRepository() *MemoryProviderRepository {
	return &MemoryProviderRepository{providers: make(map[string]*Provider)}
}

// Seed registers a provider profile for lookups.
func (r *MemoryProviderRepository) Seed(provider *Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *provider
	r.providers[copied.Phone] = &copied
}

func (r *MemoryProviderRepository) GetByPhone(ctx context.Context, phone string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[phone]
	if !ok {
		return nil, ErrProviderNotFound
	}
	copied := *provider
	return &copied, nil
}

// MemoryConsentRepository appends consent records to a slice.
type MemoryConsentRepository struct {
	mu       sync.RWMutex
	consents []*ConsentRecord
}

func NewMemoryConsentRepository() *MemoryConsentRepository {
	return &MemoryConsentRepository{}
}

func (r *MemoryConsentRepository) Append(ctx context.Context, record *ConsentRecord) (*ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appended := *record
	if appended.ID == "" {
		appended.ID = uuid.NewString()
	}
	appended.CreatedAt = time.Now().UTC()
	r.consents = append(r.consents, &appended)
	copied := appended
	return &copied, nil
}

// History returns the appended records, oldest first.
func (r *MemoryConsentRepository) History() []*ConsentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ConsentRecord, len(r.consents))
	copy(out, r.consents)
	return out
}

// MemoryLeadRepository appends leads to a slice.
type MemoryLeadRepository struct {
	mu    sync.RWMutex
	leads []*Lead
}

func NewMemoryLeadRepository() *MemoryLeadRepository {
	return &MemoryLeadRepository{}
}

func (r *MemoryLeadRepository) Create(ctx context.Context, lead *Lead) (*Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := *lead
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	created.CreatedAt = time.Now().UTC()
	r.leads = append(r.leads, &created)
	copied := created
	return &copied, nil
}

// All returns recorded handoffs, oldest first.
func (r *MemoryLeadRepository) All() []*Lead {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Lead, len(r.leads))
	copy(out, r.leads)
	return out
}
