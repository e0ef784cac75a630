package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

type openaiClient struct {
	api       *openai.Client
	model     string
	maxTokens int
}

func newOpenAIClient(apiKey, model string, opts *clientOptions) (*openaiClient, error) {
	cfg := openai.DefaultConfig(apiKey)
	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
	}
	return &openaiClient{api: openai.NewClientWithConfig(cfg), model: model, maxTokens: opts.maxTokens}, nil
}

func (c *openaiClient) Name() string { return "openai" }

func (c *openaiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	p, err := buildPrompt(messages)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  make([]openai.ChatCompletionMessage, 0, len(p.turns)+1),
	}
	if p.system != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.system})
	}
	for _, t := range p.turns {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", gateway.StatusError("openai", apiErr.HTTPStatusCode, apiErr.Message)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return "", gateway.StatusError("openai", reqErr.HTTPStatusCode, reqErr.Error())
		}
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: %w", ErrEmptyCompletion)
	}

	choice := resp.Choices[0]
	return spokenLine("openai", choice.Message.Content, choice.FinishReason == openai.FinishReasonLength)
}
