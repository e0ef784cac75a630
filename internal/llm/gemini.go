package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

type geminiClient struct {
	api       *genai.Client
	model     string
	maxTokens int32
}

func newGeminiClient(apiKey, model string, opts *clientOptions) (*geminiClient, error) {
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if opts.baseURL != "" {
		cfg.HTTPOptions.BaseURL = opts.baseURL
	}
	api, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &geminiClient{api: api, model: model, maxTokens: int32(opts.maxTokens)}, nil
}

func (c *geminiClient) Name() string { return "gemini" }

func (c *geminiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	p, err := buildPrompt(messages)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

	contents := make([]*genai.Content, 0, len(p.turns))
	for _, t := range p.turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: c.maxTokens}
	if p.system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.system, genai.RoleUser)
	}

	resp, err := c.api.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", gateway.StatusError("gemini", apiErr.Code, apiErr.Message)
		}
		return "", fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini: %w", ErrEmptyCompletion)
	}
	return spokenLine("gemini", resp.Text(), resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens)
}
