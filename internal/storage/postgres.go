package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/serviya/platform/pkg/logging"
)

const (
	queryTimeout       = 10 * time.Second
	slowQueryThreshold = 2 * time.Second
)

// Querier is the subset of pgxpool.Pool the repositories need. pgxmock
// satisfies it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgRunner wraps a Querier with the shared timeout and slow-query logging.
type pgRunner struct {
	db     Querier
	logger *logging.Logger
}

func newPGRunner(db Querier, logger *logging.Logger) pgRunner {
	if logger == nil {
		logger = logging.Default()
	}
	return pgRunner{db: db, logger: logger}
}

func (r pgRunner) observe(name string, start time.Time) {
	if elapsed := time.Since(start); elapsed > slowQueryThreshold {
		r.logger.Warn("slow query", "query", name, "elapsed", elapsed.String())
	}
}

func (r pgRunner) queryRow(ctx context.Context, name, sql string, args ...any) pgx.Row {
	start := time.Now()
	defer r.observe(name, start)
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return r.db.QueryRow(ctx, sql, args...)
}

func (r pgRunner) exec(ctx context.Context, name, sql string, args ...any) error {
	start := time.Now()
	defer r.observe(name, start)
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := r.db.Exec(ctx, sql, args...)
	return err
}

// PostgresCustomerRepository stores customers in the relational database.
type PostgresCustomerRepository struct {
	run pgRunner
}

func NewPostgresCustomerRepository(db Querier, logger *logging.Logger) *PostgresCustomerRepository {
	if db == nil {
		panic("storage: pgx querier required")
	}
	return &PostgresCustomerRepository{run: newPGRunner(db, logger)}
}

func (r *PostgresCustomerRepository) GetByPhone(ctx context.Context, phone string) (*Customer, error) {
	query := `
		SELECT id, phone, COALESCE(full_name, ''), COALESCE(city, ''), city_confirmed_at, has_consent, created_at
		FROM customers
		WHERE phone = $1
	`
	row := r.run.queryRow(ctx, "customers.get_by_phone", query, phone)
	var customer Customer
	if err := row.Scan(
		&customer.ID,
		&customer.Phone,
		&customer.FullName,
		&customer.City,
		&customer.CityConfirmedAt,
		&customer.HasConsent,
		&customer.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("storage: select customer: %w", err)
	}
	return &customer, nil
}

func (r *PostgresCustomerRepository) Create(ctx context.Context, customer *Customer) (*Customer, error) {
	id := customer.ID
	if id == "" {
		id = uuid.NewString()
	}
	query := `
		INSERT INTO customers (id, phone, full_name, city, has_consent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.run.queryRow(ctx, "customers.create", query,
		id,
		customer.Phone,
		customer.FullName,
		customer.City,
		customer.HasConsent,
	).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("storage: insert customer: %w", err)
	}
	created := *customer
	created.ID = id
	created.CreatedAt = createdAt
	return &created, nil
}

func (r *PostgresCustomerRepository) UpdateCity(ctx context.Context, id, city string, confirmedAt time.Time) error {
	query := `UPDATE customers SET city = $2, city_confirmed_at = $3 WHERE id = $1`
	if err := r.run.exec(ctx, "customers.update_city", query, id, city, confirmedAt); err != nil {
		return fmt.Errorf("storage: update customer city: %w", err)
	}
	return nil
}

func (r *PostgresCustomerRepository) UpdateConsent(ctx context.Context, id string, hasConsent bool) error {
	query := `UPDATE customers SET has_consent = $2 WHERE id = $1`
	if err := r.run.exec(ctx, "customers.update_consent", query, id, hasConsent); err != nil {
		return fmt.Errorf("storage: update customer consent: %w", err)
	}
	return nil
}

func (r *PostgresCustomerRepository) ClearCityAndConsent(ctx context.Context, id string) error {
	query := `UPDATE customers SET city = NULL, city_confirmed_at = NULL, has_consent = FALSE WHERE id = $1`
	if err := r.run.exec(ctx, "customers.clear", query, id); err != nil {
		return fmt.Errorf("storage: clear customer: %w", err)
	}
	return nil
}

// PostgresProviderRepository reads provider profiles from the relational
// database.
type PostgresProviderRepository struct {
	run pgRunner
}

func NewPostgresProviderRepository(db Querier, logger *logging.Logger) *PostgresProviderRepository {
	if db == nil {
		panic("storage: pgx querier required")
	}
	return &PostgresProviderRepository{run: newPGRunner(db, logger)}
}

func (r *PostgresProviderRepository) GetByPhone(ctx context.Context, phone string) (*Provider, error) {
	query := `
		SELECT id, phone, COALESCE(name, ''), COALESCE(city, ''), COALESCE(rating, 0),
		       COALESCE(services, '{}'), COALESCE(profession, ''), COALESCE(experience, '')
		FROM providers
		WHERE phone = $1
	`
	row := r.run.queryRow(ctx, "providers.get_by_phone", query, phone)
	var provider Provider
	if err := row.Scan(
		&provider.ID,
		&provider.Phone,
		&provider.Name,
		&provider.City,
		&provider.Rating,
		&provider.Services,
		&provider.Profession,
		&provider.Experience,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("storage: select provider: %w", err)
	}
	return &provider, nil
}

// PostgresConsentRepository appends consent decisions.
type PostgresConsentRepository struct {
	run pgRunner
}

func NewPostgresConsentRepository(db Querier, logger *logging.Logger) *PostgresConsentRepository {
	if db == nil {
		panic("storage: pgx querier required")
	}
	return &PostgresConsentRepository{run: newPGRunner(db, logger)}
}

func (r *PostgresConsentRepository) Append(ctx context.Context, record *ConsentRecord) (*ConsentRecord, error) {
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal consent metadata: %w", err)
	}
	query := `
		INSERT INTO consent_records (id, user_id, user_type, response, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.run.queryRow(ctx, "consents.append", query,
		id,
		record.UserID,
		record.UserType,
		record.Response,
		metadata,
	).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("storage: insert consent: %w", err)
	}
	appended := *record
	appended.ID = id
	appended.CreatedAt = createdAt
	return &appended, nil
}

// PostgresLeadRepository records handoffs.
type PostgresLeadRepository struct {
	run pgRunner
}

func NewPostgresLeadRepository(db Querier, logger *logging.Logger) *PostgresLeadRepository {
	if db == nil {
		panic("storage: pgx querier required")
	}
	return &PostgresLeadRepository{run: newPGRunner(db, logger)}
}

func (r *PostgresLeadRepository) Create(ctx context.Context, lead *Lead) (*Lead, error) {
	id := lead.ID
	if id == "" {
		id = uuid.NewString()
	}
	query := `
		INSERT INTO leads (id, customer_id, provider_id, service, city)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.run.queryRow(ctx, "leads.create", query,
		id,
		lead.CustomerID,
		lead.ProviderID,
		lead.Service,
		lead.City,
	).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("storage: insert lead: %w", err)
	}
	created := *lead
	created.ID = id
	created.CreatedAt = createdAt
	return &created, nil
}
