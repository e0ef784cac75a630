// Package stt transcribes candidate utterances through a chain of speech
// recognition providers.
package stt

import (
	"context"
	"errors"
	"strings"

	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

// ErrTranscriptionEmpty means the provider heard nothing worth answering.
var ErrTranscriptionEmpty = errors.New("transcription empty")

// Utterance is one VAD segment as PCM16 LE mono.
type Utterance struct {
	PCM        []byte
	SampleRate int
	Language   string
}

type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
	Provider   string  `json:"provider,omitempty"`
}

type Provider interface {
	Name() string
	Transcribe(ctx context.Context, u Utterance) (Transcript, error)
}

// Gateway is the transcription specialization of the provider gateway.
type Gateway struct {
	gw *gateway.Gateway[Provider, Utterance, Transcript]
}

func NewGateway(opts gateway.Options, providers []gateway.Provider[Provider]) (*Gateway, error) {
	if opts.Name == "" {
		opts.Name = "stt"
	}
	gw, err := gateway.New(opts, providers, func(ctx context.Context, p Provider, u Utterance) (Transcript, error) {
		return p.Transcribe(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	return &Gateway{gw: gw}, nil
}

// Transcribe returns ErrTranscriptionEmpty when the chosen provider returned
// only whitespace. That is a successful call, not a provider failure.
func (g *Gateway) Transcribe(ctx context.Context, u Utterance, preferred string) (Transcript, error) {
	res, err := g.gw.Execute(ctx, u, preferred)
	if err != nil {
		return Transcript{}, err
	}
	t := res.Value
	t.Provider = res.Provider
	t.Text = strings.TrimSpace(t.Text)
	if t.Text == "" {
		return t, ErrTranscriptionEmpty
	}
	return t, nil
}

func (g *Gateway) Snapshot(ctx context.Context) []gateway.ProviderState {
	return g.gw.Snapshot(ctx)
}
