package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

// openaiPCMRate is the fixed rate of the speech endpoint's pcm format.
const openaiPCMRate = 24000

type OpenAI struct {
	client *openai.Client
	model  string
	voice  string
}

func NewOpenAI(apiKey, model, voice, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model, voice: voice}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Synthesize(ctx context.Context, text string) (Audio, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          text,
		Voice:          openai.SpeechVoice(o.voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return Audio{}, gateway.StatusError("openai speech", apiErr.HTTPStatusCode, apiErr.Message)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return Audio{}, gateway.StatusError("openai speech", reqErr.HTTPStatusCode, reqErr.Error())
		}
		return Audio{}, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return Audio{}, gateway.Transient(fmt.Errorf("read openai speech: %w", err))
	}
	return Audio{PCM: pcm, SampleRate: openaiPCMRate}, nil
}
