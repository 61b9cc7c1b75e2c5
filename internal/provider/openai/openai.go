// Package openai talks to any OpenAI-compatible chat completion API. The
// default base URL points at DeepSeek.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vnmchuo/llm-meter/internal/provider"
)

const DefaultBaseURL = "https://api.deepseek.com/v1"

type Config struct {
	Name    string // defaults to "openai"
	APIKey  string
	BaseURL string
	Models  []string
	Timeout time.Duration
}

type OpenAIProvider struct {
	name    string
	apiKey  string
	baseURL string
	models  []string
	client  *http.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Model   string         `json:"model"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIModelList struct {
	Data []struct {
		ID      string `json:"id"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func New(cfg Config) provider.Provider {
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	models := cfg.Models
	if len(models) == 0 {
		models = []string{"deepseek-chat", "deepseek-reasoner"}
	}
	return &OpenAIProvider{
		name:    name,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		models:  models,
		client:  provider.HTTPClient(cfg.Timeout),
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	body, err := json.Marshal(p.mapRequest(req))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.apiError(resp)
	}

	var openAIResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&openAIResp); err != nil {
		return nil, err
	}

	if len(openAIResp.Choices) == 0 {
		return nil, fmt.Errorf("%s api returned no choices", p.name)
	}

	return &provider.Response{
		ID:               openAIResp.ID,
		Content:          openAIResp.Choices[0].Message.Content,
		PromptTokens:     openAIResp.Usage.PromptTokens,
		CompletionTokens: openAIResp.Usage.CompletionTokens,
		TotalTokens:      openAIResp.Usage.TotalTokens,
		Model:            openAIResp.Model,
		Provider:         p.Name(),
		LatencyMs:        time.Since(start).Milliseconds(),
	}, nil
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]provider.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/models", p.baseURL), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.apiError(resp)
	}

	var list openAIModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}

	models := make([]provider.Model, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, provider.Model{ID: m.ID, OwnedBy: m.OwnedBy, Provider: p.Name()})
	}
	return models, nil
}

func (p *OpenAIProvider) mapRequest(req *provider.Request) openAIRequest {
	messages := make([]openAIMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openAIMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	return openAIRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

// apiError prefers the upstream's own error message over the raw body.
func (p *OpenAIProvider) apiError(resp *http.Response) error {
	respBody, _ := io.ReadAll(resp.Body)
	var apiErr openAIError
	if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("%s api error (status %d): %s", p.name, resp.StatusCode, apiErr.Error.Message)
	}
	return fmt.Errorf("%s api error (status %d): %s", p.name, resp.StatusCode, string(respBody))
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) SupportedModels() []string {
	return p.models
}
