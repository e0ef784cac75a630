package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/sjawhar/ghost-interviewer/internal/audio"
	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

// Whisper transcribes with the OpenAI audio transcription endpoint.
type Whisper struct {
	client *openai.Client
	model  string
}

func NewWhisper(apiKey, model, baseURL string) *Whisper {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{client: openai.NewClientWithConfig(cfg), model: model}
}

func (w *Whisper) Name() string { return "openai" }

func (w *Whisper) Transcribe(ctx context.Context, u Utterance) (Transcript, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(audio.EncodeWAV(u.PCM, u.SampleRate)),
		Language: baseLanguage(u.Language),
	})
	if err != nil {
		return Transcript{}, classifyOpenAI("openai transcription", err)
	}
	return Transcript{Text: resp.Text, Language: resp.Language}, nil
}

// classifyOpenAI marks rate limits and server errors as transient.
func classifyOpenAI(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return gateway.StatusError(op, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return gateway.StatusError(op, reqErr.HTTPStatusCode, reqErr.Error())
	}
	return fmt.Errorf("%s: %w", op, err)
}

// baseLanguage turns "en-US" into "en" for providers that take ISO-639-1.
func baseLanguage(lang string) string {
	for i, r := range lang {
		if r == '-' || r == '_' {
			return lang[:i]
		}
	}
	return lang
}
