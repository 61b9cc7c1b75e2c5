package provider

import (
	"context"
	"net/http"
	"time"
)

type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// Metadata for logging and tracing
	UserID    string
	RequestID string
}

type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

type Response struct {
	ID               string
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int // 0 when the upstream did not report it
	Model            string
	Provider         string
	LatencyMs        int64
}

type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	OwnedBy  string `json:"owned_by,omitempty"`
	Provider string `json:"provider"`
}

type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	ListModels(ctx context.Context) ([]Model, error)
	Name() string
	SupportedModels() []string
}

// HTTPClient returns the client adapters use when none is injected.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
