package proxy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vnmchuo/llm-meter/internal/provider"
)

type MockProvider struct {
	name            string
	supportedModels []string
	completeErr     error
	listErr         error
	calls           int
	lastReq         *provider.Request
}

func (m *MockProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	m.calls++
	m.lastReq = req
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	return &provider.Response{
		Content:          "mock",
		Provider:         m.name,
		Model:            req.Model,
		PromptTokens:     10,
		CompletionTokens: 20,
	}, nil
}

func (m *MockProvider) ListModels(ctx context.Context) ([]provider.Model, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]provider.Model, 0, len(m.supportedModels))
	for _, id := range m.supportedModels {
		out = append(out, provider.Model{ID: id, Name: id + " (listed)", Provider: m.name})
	}
	return out, nil
}

func (m *MockProvider) Name() string              { return m.name }
func (m *MockProvider) SupportedModels() []string { return m.supportedModels }

func tripBreaker(r *Router, p provider.Provider) {
	for i := 0; i < 3; i++ {
		r.Execute(context.Background(), &provider.Request{}, p)
	}
}

func TestRoute_ModelSpecific(t *testing.T) {
	p1 := &MockProvider{name: "deepseek", supportedModels: []string{"deepseek-chat"}}
	p2 := &MockProvider{name: "anthropic", supportedModels: []string{"claude-3"}}

	router := NewRouter([]provider.Provider{p1, p2})

	p, err := router.Route(context.Background(), &provider.Request{Model: "claude-3"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}

func TestRoute_UnknownModelFallsBackToFirst(t *testing.T) {
	p1 := &MockProvider{name: "deepseek", supportedModels: []string{"deepseek-chat"}}
	p2 := &MockProvider{name: "anthropic", supportedModels: []string{"claude-3"}}

	router := NewRouter([]provider.Provider{p1, p2})

	p, err := router.Route(context.Background(), &provider.Request{Model: "custom-model"})
	require.NoError(t, err)
	assert.Equal(t, "deepseek", p.Name())
}

func TestRoute_CircuitBreakerOpen(t *testing.T) {
	p1 := &MockProvider{name: "bad-provider", completeErr: errors.New("fail")}
	p2 := &MockProvider{name: "good-provider"}

	router := NewRouter([]provider.Provider{p1, p2})
	tripBreaker(router, p1)

	p, err := router.Route(context.Background(), &provider.Request{})
	require.NoError(t, err)
	assert.Equal(t, "good-provider", p.Name(), "bad-provider should be tripped")
}

func TestRoute_AllProvidersDown(t *testing.T) {
	p1 := &MockProvider{name: "p1", completeErr: errors.New("fail")}

	router := NewRouter([]provider.Provider{p1})
	tripBreaker(router, p1)

	_, err := router.Route(context.Background(), &provider.Request{})
	assert.ErrorIs(t, err, ErrAllProvidersUnavailable)

	_, err = router.Complete(context.Background(), &provider.Request{})
	assert.ErrorIs(t, err, ErrAllProvidersUnavailable)
	assert.Equal(t, 3, p1.calls, "open breaker must not reach the provider")
}

func TestComplete_RoutesAndExecutes(t *testing.T) {
	p1 := &MockProvider{name: "deepseek", supportedModels: []string{"deepseek-chat"}}
	router := NewRouter([]provider.Provider{p1})

	resp, err := router.Complete(context.Background(), &provider.Request{Model: "deepseek-chat"})
	require.NoError(t, err)
	assert.Equal(t, "deepseek", resp.Provider)
	assert.Equal(t, 10, resp.PromptTokens)
}

func TestListModels_MergesAndFallsBack(t *testing.T) {
	p1 := &MockProvider{name: "deepseek", supportedModels: []string{"deepseek-chat"}}
	p2 := &MockProvider{name: "gemini", supportedModels: []string{"gemini-1.5-pro"}, listErr: errors.New("boom")}

	router := NewRouter([]provider.Provider{p1, p2})

	models, err := router.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "deepseek-chat (listed)", models[0].Name)
	assert.Equal(t, "gemini-1.5-pro", models[1].ID)
	assert.Empty(t, models[1].Name)
}
