// Package conversation is the client-side conversation engine: the per-phone
// state machine, its per-state handlers, and the background search pipeline
// that runs off the request path.
package conversation

import "strings"

// Location is an optional geo attachment on an inbound message.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Inbound is one message delivered by the WhatsApp adapter.
type Inbound struct {
	FromNumber     string    `json:"from_number"`
	Content        string    `json:"content"`
	SelectedOption string    `json:"selected_option,omitempty"`
	MessageType    string    `json:"message_type,omitempty"`
	Location       *Location `json:"location,omitempty"`
	ID             string    `json:"id,omitempty"`
	Timestamp      string    `json:"timestamp,omitempty"`

	// Channel is set by the transport layer, not the wire payload.
	Channel string `json:"-"`
}

// Text returns the effective user input: an explicit button selection wins
// over typed content.
func (m Inbound) Text() string {
	if s := strings.TrimSpace(m.SelectedOption); s != "" {
		return s
	}
	return strings.TrimSpace(m.Content)
}
