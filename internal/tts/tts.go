// Package tts synthesizes interviewer speech through a chain of voice
// providers, ending in pre-rendered stock phrases.
package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/sjawhar/ghost-interviewer/internal/audio"
	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

// ErrSynthesisFailed means no provider produced audio for the text.
var ErrSynthesisFailed = errors.New("synthesis failed")

var errNoAudio = errors.New("provider returned no audio")

// Audio is PCM16 LE mono at SampleRate.
type Audio struct {
	PCM        []byte
	SampleRate int
}

type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Gateway is the synthesis specialization of the provider gateway. It
// delivers audio at the room sample rate.
type Gateway struct {
	gw       *gateway.Gateway[Provider, string, Audio]
	roomRate int
}

func NewGateway(opts gateway.Options, providers []gateway.Provider[Provider], roomRate int) (*Gateway, error) {
	if opts.Name == "" {
		opts.Name = "tts"
	}
	if roomRate <= 0 {
		roomRate = audio.DefaultSampleRate
	}
	gw, err := gateway.New(opts, providers, func(ctx context.Context, p Provider, text string) (Audio, error) {
		a, err := p.Synthesize(ctx, text)
		if err != nil {
			return Audio{}, err
		}
		if len(a.PCM) == 0 {
			return Audio{}, fmt.Errorf("%s: %w", p.Name(), errNoAudio)
		}
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return &Gateway{gw: gw, roomRate: roomRate}, nil
}

// Synthesize returns room-rate audio and the provider that produced it.
func (g *Gateway) Synthesize(ctx context.Context, text, preferred string) (Audio, string, error) {
	res, err := g.gw.Execute(ctx, text, preferred)
	if err != nil {
		if ctx.Err() != nil {
			return Audio{}, "", err
		}
		return Audio{}, "", fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	a := res.Value
	if a.SampleRate != g.roomRate {
		a = Audio{PCM: audio.ResampleBytes(a.PCM, a.SampleRate, g.roomRate), SampleRate: g.roomRate}
	}
	return a, res.Provider, nil
}

func (g *Gateway) Snapshot(ctx context.Context) []gateway.ProviderState {
	return g.gw.Snapshot(ctx)
}
