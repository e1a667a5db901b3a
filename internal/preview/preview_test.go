package preview

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/persona"
)

type capturedRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newChatServer(t *testing.T, captured *capturedRequest, authHeader *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path=%q, want /v1/chat/completions", r.URL.Path)
		}
		*authHeader = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"chatcmpl-1",
			"object":"chat.completion",
			"created":1700000000,
			"model":"llama-3.3-70b-versatile",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  Namaste! This is Krish.  "},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":1000,"completion_tokens":500,"total_tokens":1500}
		}`))
	}))
}

func TestPreviewSendsPersonaAndPricesUsage(t *testing.T) {
	t.Parallel()

	var captured capturedRequest
	var authHeader string
	server := newChatServer(t, &captured, &authHeader)
	defer server.Close()

	client, err := New(Options{
		BaseURL:   server.URL + "/v1/",
		APIKey:    "gsk-test",
		Model:     "llama-3.3-70b-versatile",
		MaxTokens: 128,
		Prices:    cost.DefaultPriceTable(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	result, err := client.Preview(context.Background(), persona.Persona{SystemPrompt: "You are Krish."}, " Hello? ")
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}

	if authHeader != "Bearer gsk-test" {
		t.Fatalf("authorization=%q, want bearer key", authHeader)
	}
	if captured.Model != "llama-3.3-70b-versatile" || captured.MaxTokens != 128 {
		t.Fatalf("request=%+v", captured)
	}
	if len(captured.Messages) != 2 ||
		captured.Messages[0].Role != "system" || captured.Messages[0].Content != "You are Krish." ||
		captured.Messages[1].Role != "user" || captured.Messages[1].Content != "Hello?" {
		t.Fatalf("messages=%+v", captured.Messages)
	}

	if result.Reply != "Namaste! This is Krish." {
		t.Fatalf("reply=%q", result.Reply)
	}
	if result.InputTokens != 1000 || result.OutputTokens != 500 {
		t.Fatalf("tokens=%d/%d, want 1000/500", result.InputTokens, result.OutputTokens)
	}
	// 1000*0.00000059 + 500*0.00000079
	if result.CostUSD != 0.000985 {
		t.Fatalf("cost=%v, want 0.000985", result.CostUSD)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{APIKey: "  "}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("New() error=%v, want ErrNotConfigured", err)
	}
}

func TestPreviewRejectsBadInput(t *testing.T) {
	t.Parallel()

	client, err := New(Options{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := client.Preview(context.Background(), persona.Persona{SystemPrompt: "x"}, " "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("Preview() error=%v, want ErrEmptyMessage", err)
	}
	if _, err := client.Preview(context.Background(), persona.Persona{}, "hi"); !errors.Is(err, persona.ErrInvalid) {
		t.Fatalf("Preview() error=%v, want persona.ErrInvalid", err)
	}
}

func TestPreviewSurfacesUpstreamErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	client, err := New(Options{APIKey: "bad", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := client.Preview(context.Background(), persona.Persona{SystemPrompt: "x"}, "hi"); err == nil {
		t.Fatal("expected upstream error")
	}
}
