// Package llm holds chat-completion clients used to phrase interviewer
// lines conversationally.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

const defaultMaxTokens = 256

// Message is one chat turn. Role is RoleSystem, RoleUser or RoleAssistant.
type Message struct {
	Role    string
	Content string
}

type Client interface {
	Name() string
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL   string
	maxTokens int
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithMaxTokens caps the completion length. Interviewer lines are short.
func WithMaxTokens(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

// DefaultModel is used when a provider entry names no model.
func DefaultModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o-mini"
	case "anthropic":
		return "claude-3-5-haiku-latest"
	case "gemini":
		return "gemini-2.0-flash"
	default:
		return ""
	}
}

// Gateway routes completions across LLM providers with the same failover
// and rate windows as the speech gateways.
type Gateway struct {
	gw *gateway.Gateway[Client, []Message, string]
}

func NewGateway(opts gateway.Options, providers []gateway.Provider[Client]) (*Gateway, error) {
	if opts.Name == "" {
		opts.Name = "llm"
	}
	gw, err := gateway.New(opts, providers, func(ctx context.Context, c Client, messages []Message) (string, error) {
		return c.Complete(ctx, messages)
	})
	if err != nil {
		return nil, err
	}
	return &Gateway{gw: gw}, nil
}

func (g *Gateway) Complete(ctx context.Context, messages []Message) (string, string, error) {
	res, err := g.gw.Execute(ctx, messages, "")
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(res.Value), res.Provider, nil
}

func (g *Gateway) Snapshot(ctx context.Context) []gateway.ProviderState {
	return g.gw.Snapshot(ctx)
}
