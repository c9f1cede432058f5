package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/serviya/platform/pkg/logging"
)

const supabaseTimeout = 15 * time.Second

// SupabaseClient talks to the Supabase PostgREST API. It is the storage
// backend used when no direct database connection is configured.
type SupabaseClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewSupabaseClient(baseURL, serviceKey string, logger *logging.Logger) *SupabaseClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &SupabaseClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: supabaseTimeout},
		logger:     logger,
	}
}

// Repositories exposes the client through the repository interfaces.
func (c *SupabaseClient) Repositories() Repositories {
	return Repositories{
		Customers: &supabaseCustomers{client: c},
		Providers: &supabaseProviders{client: c},
		Consents:  &supabaseConsents{client: c},
		Leads:     &supabaseLeads{client: c},
	}
}

func (c *SupabaseClient) do(ctx context.Context, method, table, filter string, body any, out any) error {
	if strings.TrimSpace(c.baseURL) == "" {
		return fmt.Errorf("storage: supabase url not configured")
	}
	if strings.TrimSpace(c.serviceKey) == "" {
		return fmt.Errorf("storage: supabase service key not configured")
	}

	endpoint := c.baseURL + "/rest/v1/" + table
	if filter != "" {
		endpoint += "?" + filter
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("storage: marshal %s request: %w", table, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("storage: create %s request: %w", table, err)
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost || method == http.MethodPatch {
		req.Header.Set("Prefer", "return=representation")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if elapsed := time.Since(start); elapsed > slowQueryThreshold {
		c.logger.Warn("slow supabase call", "table", table, "elapsed", elapsed.String())
	}
	if err != nil {
		return fmt.Errorf("storage: %s request: %w", table, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("storage: read %s response: %w", table, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return fmt.Errorf("storage: %s status %d: %s", table, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("storage: unmarshal %s response: %w", table, err)
		}
	}
	return nil
}

func eqFilter(column, value string) string {
	return column + "=eq." + url.QueryEscape(value)
}

type supabaseCustomers struct {
	client *SupabaseClient
}

func (r *supabaseCustomers) GetByPhone(ctx context.Context, phone string) (*Customer, error) {
	var rows []Customer
	if err := r.client.do(ctx, http.MethodGet, "customers", eqFilter("phone", phone)+"&select=*&limit=1", nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrCustomerNotFound
	}
	return &rows[0], nil
}

func (r *supabaseCustomers) Create(ctx context.Context, customer *Customer) (*Customer, error) {
	payload := map[string]any{
		"phone":       customer.Phone,
		"has_consent": customer.HasConsent,
	}
	if customer.FullName != "" {
		payload["full_name"] = customer.FullName
	}
	if customer.City != "" {
		payload["city"] = customer.City
	}
	var rows []Customer
	if err := r.client.do(ctx, http.MethodPost, "customers", "", payload, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("storage: supabase returned no created customer")
	}
	return &rows[0], nil
}

func (r *supabaseCustomers) UpdateCity(ctx context.Context, id, city string, confirmedAt time.Time) error {
	payload := map[string]any{
		"city":              city,
		"city_confirmed_at": confirmedAt.UTC().Format(time.RFC3339),
	}
	return r.client.do(ctx, http.MethodPatch, "customers", eqFilter("id", id), payload, nil)
}

func (r *supabaseCustomers) UpdateConsent(ctx context.Context, id string, hasConsent bool) error {
	return r.client.do(ctx, http.MethodPatch, "customers", eqFilter("id", id), map[string]any{
		"has_consent": hasConsent,
	}, nil)
}

func (r *supabaseCustomers) ClearCityAndConsent(ctx context.Context, id string) error {
	return r.client.do(ctx, http.MethodPatch, "customers", eqFilter("id", id), map[string]any{
		"city":              nil,
		"city_confirmed_at": nil,
		"has_consent":       false,
	}, nil)
}

type supabaseProviders struct {
	client *SupabaseClient
}

func (r *supabaseProviders) GetByPhone(ctx context.Context, phone string) (*Provider, error) {
	var rows []Provider
	if err := r.client.do(ctx, http.MethodGet, "providers", eqFilter("phone", phone)+"&select=*&limit=1", nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrProviderNotFound
	}
	return &rows[0], nil
}

type supabaseConsents struct {
	client *SupabaseClient
}

func (r *supabaseConsents) Append(ctx context.Context, record *ConsentRecord) (*ConsentRecord, error) {
	payload := map[string]any{
		"user_id":   record.UserID,
		"user_type": record.UserType,
		"response":  record.Response,
		"metadata":  record.Metadata,
	}
	var rows []ConsentRecord
	if err := r.client.do(ctx, http.MethodPost, "consent_records", "", payload, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("storage: supabase returned no created consent")
	}
	return &rows[0], nil
}

type supabaseLeads struct {
	client *SupabaseClient
}

func (r *supabaseLeads) Create(ctx context.Context, lead *Lead) (*Lead, error) {
	payload := map[string]any{
		"customer_id": lead.CustomerID,
		"provider_id": lead.ProviderID,
		"service":     lead.Service,
		"city":        lead.City,
	}
	var rows []Lead
	if err := r.client.do(ctx, http.MethodPost, "leads", "", payload, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("storage: supabase returned no created lead")
	}
	return &rows[0], nil
}
