// Package search wraps the geo/search backend with a typed client and the
// post-search AI relevance filter.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/serviya/platform/internal/storage"
	"github.com/serviya/platform/pkg/logging"
)

const defaultTimeout = 10 * time.Second

// Result is the typed response from the search backend. Providers pass
// through untouched to the AI validator.
type Result struct {
	OK        bool               `json:"ok"`
	Providers []storage.Provider `json:"providers"`
	Total     int                `json:"total"`
	Metadata  map[string]any     `json:"search_metadata,omitempty"`
}

// Client is the token-search HTTP client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Search queries providers for a service term in a city. query may carry
// expanded synonyms space-joined; the backend tokenizes it. Token mode is
// always requested; useAIEnhancement asks the backend for its own semantic
// widening on top.
func (c *Client) Search(ctx context.Context, query, city string, limit int, useAIEnhancement bool) (*Result, error) {
	if strings.TrimSpace(c.baseURL) == "" {
		return nil, fmt.Errorf("search: backend url not configured")
	}
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("city", city)
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("mode", "token")
	if useAIEnhancement {
		params.Set("ai", "1")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("search: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: backend returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}
	if result.Total == 0 {
		result.Total = len(result.Providers)
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
