// Package profiles is the read-through Redis cache in front of the
// relational customer and provider profiles. Hits trigger a background
// refresh; mutations write through with the fresh value.
package profiles

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/serviya/platform/internal/storage"
	"github.com/serviya/platform/pkg/logging"
)

const (
	customerKeyPrefix = "customer_profile:"
	providerKeyPrefix = "prov_profile_cache:"

	refreshTimeout = 5 * time.Second
)

// Cache fronts the customer and provider repositories. All cache failures
// are silent: the source of truth answers instead.
type Cache struct {
	redis     *redis.Client
	customers storage.CustomerRepository
	providers storage.ProviderRepository
	ttl       time.Duration
	logger    *logging.Logger
}

func NewCache(client *redis.Client, customers storage.CustomerRepository, providers storage.ProviderRepository, ttl time.Duration, logger *logging.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Cache{
		redis:     client,
		customers: customers,
		providers: providers,
		ttl:       ttl,
		logger:    logger,
	}
}

// Customer resolves a customer profile by phone. Cache hit returns the
// cached copy and refreshes in the background; miss reads through and
// populates.
func (c *Cache) Customer(ctx context.Context, phone string) (*storage.Customer, error) {
	if cached, ok := cacheGet[storage.Customer](ctx, c, customerKey(phone)); ok {
		go c.refreshCustomer(phone)
		return cached, nil
	}

	customer, err := c.customers.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	c.putCustomer(ctx, customer)
	return customer, nil
}

// EnsureCustomer resolves the customer, creating a fresh profile on first
// contact.
func (c *Cache) EnsureCustomer(ctx context.Context, phone string) (*storage.Customer, error) {
	customer, err := c.Customer(ctx, phone)
	if err == nil {
		return customer, nil
	}
	if err != storage.ErrCustomerNotFound {
		return nil, err
	}

	created, err := c.customers.Create(ctx, &storage.Customer{Phone: phone})
	if err != nil {
		return nil, fmt.Errorf("profiles: create customer: %w", err)
	}
	c.putCustomer(ctx, created)
	return created, nil
}

// Provider resolves a provider profile by phone, same policy as Customer.
func (c *Cache) Provider(ctx context.Context, phone string) (*storage.Provider, error) {
	if cached, ok := cacheGet[storage.Provider](ctx, c, providerKey(phone)); ok {
		go c.refreshProvider(phone)
		return cached, nil
	}

	provider, err := c.providers.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	c.cacheSet(ctx, providerKey(phone), provider)
	return provider, nil
}

// UpdateCity persists a confirmed city on the customer and writes the fresh
// profile through the cache.
func (c *Cache) UpdateCity(ctx context.Context, customer *storage.Customer, city string) error {
	now := time.Now().UTC()
	if err := c.customers.UpdateCity(ctx, customer.ID, city, now); err != nil {
		return fmt.Errorf("profiles: update city: %w", err)
	}
	customer.City = city
	customer.CityConfirmedAt = &now
	c.putCustomer(ctx, customer)
	return nil
}

// UpdateConsent persists the consent flag and writes through.
func (c *Cache) UpdateConsent(ctx context.Context, customer *storage.Customer, hasConsent bool) error {
	if err := c.customers.UpdateConsent(ctx, customer.ID, hasConsent); err != nil {
		return fmt.Errorf("profiles: update consent: %w", err)
	}
	customer.HasConsent = hasConsent
	c.putCustomer(ctx, customer)
	return nil
}

// ClearCityAndConsent wipes both fields, used by the reset command. Best
// effort on the relational side, always reflected in the cache.
func (c *Cache) ClearCityAndConsent(ctx context.Context, customer *storage.Customer) {
	if err := c.customers.ClearCityAndConsent(ctx, customer.ID); err != nil {
		c.logger.Warn("clear city/consent failed", "customer_id", customer.ID, "error", err)
	}
	customer.City = ""
	customer.CityConfirmedAt = nil
	customer.HasConsent = false
	c.putCustomer(ctx, customer)
}

func (c *Cache) refreshCustomer(phone string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("customer refresh panicked", "phone", phone, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	customer, err := c.customers.GetByPhone(ctx, phone)
	if err != nil {
		c.logger.Debug("customer refresh skipped", "phone", phone, "error", err)
		return
	}
	c.putCustomer(ctx, customer)
}

func (c *Cache) refreshProvider(phone string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("provider refresh panicked", "phone", phone, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	provider, err := c.providers.GetByPhone(ctx, phone)
	if err != nil {
		c.logger.Debug("provider refresh skipped", "phone", phone, "error", err)
		return
	}
	c.cacheSet(ctx, providerKey(phone), provider)
}

func (c *Cache) putCustomer(ctx context.Context, customer *storage.Customer) {
	if customer == nil {
		return
	}
	c.cacheSet(ctx, customerKey(customer.Phone), customer)
}

func (c *Cache) cacheSet(ctx context.Context, key string, value any) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Debug("profile cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Debug("profile cache write failed", "key", key, "error", err)
	}
}

func cacheGet[T any](ctx context.Context, c *Cache, key string) (*T, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("profile cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		c.logger.Debug("profile cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return &value, true
}

func customerKey(phone string) string { return customerKeyPrefix + phone }
func providerKey(phone string) string { return providerKeyPrefix + phone }
