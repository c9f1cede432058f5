// Package whatsapp is the typed client for the WhatsApp wire adapter's
// push endpoint. The adapter owns the actual WhatsApp session; this client
// only posts text to it.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/serviya/platform/pkg/logging"
)

const defaultTimeout = 10 * time.Second

// Sender is the outbound surface the rest of the system depends on.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// Client posts to {WHATSAPP_CLIENTES_URL}/send.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewClient(baseURL string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

type sendPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// Send pushes a text message to the phone through the adapter.
func (c *Client) Send(ctx context.Context, phone, message string) error {
	if strings.TrimSpace(c.baseURL) == "" {
		return fmt.Errorf("whatsapp: adapter url not configured")
	}

	body, err := json.Marshal(sendPayload{To: phone, Message: message})
	if err != nil {
		return fmt.Errorf("whatsapp: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whatsapp: adapter returned %d", resp.StatusCode)
	}
	return nil
}
