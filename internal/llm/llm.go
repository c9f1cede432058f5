package llm

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// Message is a single chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Request describes one completion. Op is a short label for metrics and
// logs ("extract_service", "moderate", ...) and never reaches the provider.
type Request struct {
	Op          string
	System      string
	Messages    []Message
	MaxTokens   int32
	Temperature float32
}

type Response struct {
	Text  string
	Model string
	Usage TokenUsage
}

// Client is the minimal completion surface the conversation engine needs.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
