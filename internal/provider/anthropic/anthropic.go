// Package anthropic adapts the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vnmchuo/llm-meter/internal/provider"
)

const (
	DefaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
	// the Messages API requires max_tokens
	defaultMaxTokens = 1024
)

type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID      string         `json:"id"`
	Content []contentBlock `json:"content"`
	Model   string         `json:"model"`
	Usage   usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type modelList struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"data"`
}

func New(apiKey, baseURL string, timeout time.Duration) provider.Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Provider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  provider.HTTPClient(timeout),
	}
}

func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	body, err := json.Marshal(p.mapRequest(req))
	if err != nil {
		return nil, err
	}

	httpReq, err := p.newRequest(ctx, "POST", "/messages", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var msgResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&msgResp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("anthropic api returned no text content")
	}

	return &provider.Response{
		ID:               msgResp.ID,
		Content:          text.String(),
		PromptTokens:     msgResp.Usage.InputTokens,
		CompletionTokens: msgResp.Usage.OutputTokens,
		Model:            msgResp.Model,
		Provider:         p.Name(),
		LatencyMs:        time.Since(start).Milliseconds(),
	}, nil
}

func (p *Provider) ListModels(ctx context.Context) ([]provider.Model, error) {
	httpReq, err := p.newRequest(ctx, "GET", "/models", nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}

	models := make([]provider.Model, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, provider.Model{ID: m.ID, Name: m.DisplayName, OwnedBy: "anthropic", Provider: p.Name()})
	}
	return models, nil
}

func (p *Provider) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	return httpReq, nil
}

// mapRequest lifts system messages into the top-level system prompt.
func (p *Provider) mapRequest(req *provider.Request) messagesRequest {
	var system []string
	var messages []message

	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		messages = append(messages, message{Role: role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return messagesRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		System:      strings.Join(system, "\n\n"),
		Messages:    messages,
		Temperature: req.Temperature,
	}
}

func (p *Provider) Name() string {
	return "anthropic"
}

func (p *Provider) SupportedModels() []string {
	return []string{
		"claude-3-5-sonnet-latest",
		"claude-3-5-haiku-latest",
		"claude-3-opus-latest",
	}
}
