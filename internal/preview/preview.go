// Package preview lets an operator try the current persona against the
// configured OpenAI-compatible LLM before putting it on a live call.
package preview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
	"github.com/Hunter28-lucky/ai-calling-agent/internal/persona"
	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrNotConfigured = errors.New("llm api key is not configured")
	ErrEmptyMessage  = errors.New("message is required")
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 256
)

type Options struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	// Transport wraps outbound calls, typically with tracing.
	Transport http.RoundTripper
	Prices    cost.PriceTable
}

type Client struct {
	api       *openai.Client
	model     string
	maxTokens int
	prices    cost.PriceTable
}

type Result struct {
	Reply        string  `json:"reply"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func New(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout, Transport: opts.Transport}

	return &Client{
		api:       openai.NewClientWithConfig(cfg),
		model:     strings.TrimSpace(opts.Model),
		maxTokens: maxTokens,
		prices:    opts.Prices,
	}, nil
}

// Preview sends message as the caller's first utterance with p as the system
// prompt and prices the measured token usage.
func (c *Client) Preview(ctx context.Context, p persona.Persona, message string) (Result, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Result{}, ErrEmptyMessage
	}
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("llm chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("llm returned no choices")
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return Result{
		Reply:        strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		CostUSD:      cost.LLMCost(c.prices, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}
