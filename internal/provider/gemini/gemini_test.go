package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vnmchuo/llm-meter/internal/provider"
)

func TestComplete_Mock(t *testing.T) {
	var got geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1beta/models/gemini-1.5-flash:generateContent") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("Expected api key in query")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Write([]byte(`{
			"candidates":[{"content":{"role":"model","parts":[{"text":"Hello from Gemini mock!"}]}}],
			"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":9,"totalTokenCount":16}
		}`))
	}))
	defer server.Close()

	p := New("test-key", server.URL, 0)
	resp, err := p.Complete(context.Background(), &provider.Request{
		Model:       "gemini-1.5-flash",
		MaxTokens:   200,
		Temperature: 0,
		Messages: []provider.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "again"},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Content != "Hello from Gemini mock!" {
		t.Errorf("Unexpected content %q", resp.Content)
	}
	if resp.PromptTokens != 7 || resp.CompletionTokens != 9 || resp.TotalTokens != 16 {
		t.Errorf("Unexpected usage %+v", resp)
	}
	if resp.Model != "gemini-1.5-flash" {
		t.Errorf("Expected request model as fallback, got %s", resp.Model)
	}
	if len(got.Contents) != 3 || got.Contents[1].Role != "model" {
		t.Errorf("Unexpected contents %+v", got.Contents)
	}
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "be brief" {
		t.Errorf("System instruction not set: %+v", got.SystemInstruction)
	}
	if got.GenerationConfig.MaxOutputTokens != 200 {
		t.Errorf("Unexpected generation config %+v", got.GenerationConfig)
	}
}

func TestComplete_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	p := New("test-key", server.URL, 0)
	if _, err := p.Complete(context.Background(), &provider.Request{Model: "gemini-1.5-flash"}); err == nil {
		t.Fatal("Expected error")
	}
}

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[{"name":"models/gemini-1.5-pro","displayName":"Gemini 1.5 Pro"}]}`))
	}))
	defer server.Close()

	p := New("test-key", server.URL, 0)
	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 1 || models[0].ID != "gemini-1.5-pro" || models[0].Provider != "gemini" {
		t.Errorf("Unexpected models %+v", models)
	}
}

func TestName(t *testing.T) {
	p := New("key", "", 0)
	if p.Name() != "gemini" {
		t.Errorf("Expected 'gemini', got %s", p.Name())
	}
}
