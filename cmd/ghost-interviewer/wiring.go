package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sjawhar/ghost-interviewer/internal/config"
	"github.com/sjawhar/ghost-interviewer/internal/dialogue"
	"github.com/sjawhar/ghost-interviewer/internal/gateway"
	"github.com/sjawhar/ghost-interviewer/internal/llm"
	"github.com/sjawhar/ghost-interviewer/internal/session"
	"github.com/sjawhar/ghost-interviewer/internal/stt"
	"github.com/sjawhar/ghost-interviewer/internal/tts"
	"github.com/sjawhar/ghost-interviewer/internal/vad"
)

const phraseTimeout = 4 * time.Second

type gateways struct {
	stt *stt.Gateway
	tts *tts.Gateway
	llm *llm.Gateway

	closers []io.Closer
}

func (g *gateways) Snapshot(ctx context.Context) []gateway.ProviderState {
	out := append(g.stt.Snapshot(ctx), g.tts.Snapshot(ctx)...)
	if g.llm != nil {
		out = append(out, g.llm.Snapshot(ctx)...)
	}
	return out
}

func (g *gateways) Close() error {
	var errs []error
	for _, c := range g.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func buildLimiter(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (gateway.Limiter, io.Closer, error) {
	if cfg.Gateway.Limiter != "redis" {
		return gateway.NewMemoryLimiter(), nil, nil
	}
	limiter, client, err := gateway.NewRedisLimiterFromURL(ctx, cfg.Gateway.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis limiter: %w", err)
	}
	log.Info("using redis rate limiter")
	return limiter, client, nil
}

func gatewayOptions(cfg config.Config, name string, limiter gateway.Limiter, log logrus.FieldLogger) gateway.Options {
	return gateway.Options{
		Name:           name,
		Attempts:       cfg.Gateway.Attempts,
		BaseBackoff:    cfg.ParsedBaseBackoff(),
		AttemptTimeout: cfg.ParsedAttemptTimeout(),
		Limiter:        limiter,
		Logger:         log,
	}
}

func buildGateways(ctx context.Context, cfg config.Config, limiter gateway.Limiter, log logrus.FieldLogger) (*gateways, error) {
	g := &gateways{}

	var sttProviders []gateway.Provider[stt.Provider]
	for _, p := range cfg.EnabledSTT() {
		client, err := newSTTProvider(ctx, cfg, p)
		if err != nil {
			log.WithError(err).WithField("provider", p.Name).Warn("stt provider skipped")
			continue
		}
		if c, ok := client.(io.Closer); ok {
			g.closers = append(g.closers, c)
		}
		sttProviders = append(sttProviders, gatewayProvider(p, client))
	}
	sttGW, err := stt.NewGateway(gatewayOptions(cfg, "stt", limiter, log), sttProviders)
	if err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("stt gateway: %w", err)
	}
	g.stt = sttGW

	var (
		ttsProviders []gateway.Provider[tts.Provider]
		stock        *gateway.Provider[tts.Provider]
	)
	for _, p := range cfg.EnabledTTS() {
		client, err := newTTSProvider(cfg, p)
		if err != nil {
			log.WithError(err).WithField("provider", p.Name).Warn("tts provider skipped")
			continue
		}
		gp := gatewayProvider(p, client)
		if p.Name == "stock" {
			stock = &gp
			continue
		}
		ttsProviders = append(ttsProviders, gp)
	}
	if stock == nil && cfg.Session.StockPhrases != "" {
		clips, err := tts.LoadStock(cfg.Session.StockPhrases)
		if err != nil {
			log.WithError(err).Warn("stock phrases unavailable")
		} else {
			log.WithField("phrases", clips.Len()).Info("loaded stock phrases")
			stock = &gateway.Provider[tts.Provider]{Name: clips.Name(), Client: clips}
		}
	}
	if stock != nil {
		ttsProviders = append(ttsProviders, lastResort(ttsProviders, *stock))
	}
	ttsGW, err := tts.NewGateway(gatewayOptions(cfg, "tts", limiter, log), ttsProviders, cfg.VAD.SampleRate)
	if err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("tts gateway: %w", err)
	}
	g.tts = ttsGW

	var llmProviders []gateway.Provider[llm.Client]
	for _, p := range cfg.EnabledLLM() {
		model := p.Model
		if model == "" {
			model = llm.DefaultModel(p.Name)
		}
		var opts []llm.Option
		if p.BaseURL != "" {
			opts = append(opts, llm.WithBaseURL(p.BaseURL))
		}
		client, err := llm.NewClient(p.Name, p.APIKey, model, opts...)
		if err != nil {
			log.WithError(err).WithField("provider", p.Name).Warn("llm provider skipped")
			continue
		}
		llmProviders = append(llmProviders, gatewayProvider(p, client))
	}
	if len(llmProviders) > 0 {
		llmGW, err := llm.NewGateway(gatewayOptions(cfg, "llm", limiter, log), llmProviders)
		if err != nil {
			_ = g.Close()
			return nil, fmt.Errorf("llm gateway: %w", err)
		}
		g.llm = llmGW
	}

	return g, nil
}

// lastResort reprioritizes p to run after every provider in chain.
func lastResort[C any](chain []gateway.Provider[C], p gateway.Provider[C]) gateway.Provider[C] {
	if len(chain) == 0 {
		return p
	}
	p.Priority = chain[0].Priority
	for _, c := range chain[1:] {
		p.Priority = max(p.Priority, c.Priority)
	}
	p.Priority++
	return p
}

func gatewayProvider[C any](p config.Provider, client C) gateway.Provider[C] {
	return gateway.Provider[C]{
		Name:         p.Name,
		Priority:     p.Priority,
		MaxPerWindow: p.MaxPerWindow,
		Window:       p.WindowDuration(),
		Client:       client,
	}
}

func newSTTProvider(ctx context.Context, cfg config.Config, p config.Provider) (stt.Provider, error) {
	switch p.Name {
	case "deepgram":
		return stt.NewDeepgram(p.APIKey, p.Model, p.BaseURL), nil
	case "openai", "whisper":
		return stt.NewWhisper(p.APIKey, p.Model, p.BaseURL), nil
	case "cartesia":
		return stt.NewCartesia(p.APIKey, p.Model, p.BaseURL), nil
	case "google":
		return stt.NewGoogleSpeech(ctx, cfg.GoogleCredentialsFile)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", p.Name)
	}
}

func newTTSProvider(cfg config.Config, p config.Provider) (tts.Provider, error) {
	rate := cfg.VAD.SampleRate
	switch p.Name {
	case "elevenlabs":
		return tts.NewElevenLabs(p.APIKey, p.Model, p.Voice, p.BaseURL, rate), nil
	case "openai":
		return tts.NewOpenAI(p.APIKey, p.Model, p.Voice, p.BaseURL), nil
	case "cartesia":
		return tts.NewCartesia(p.APIKey, p.Model, p.Voice, p.BaseURL, rate), nil
	case "stock":
		if cfg.Session.StockPhrases == "" {
			return nil, errors.New("session.stock_phrases_dir is not set")
		}
		return tts.LoadStock(cfg.Session.StockPhrases)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", p.Name)
	}
}

func newVADModel(cfg config.Config) func() vad.Model {
	frameSamples := cfg.FrameSamples()
	if cfg.VAD.Model == "energy" {
		return func() vad.Model { return vad.EnergyModel{} }
	}
	return func() vad.Model { return vad.NewLogisticModel(frameSamples) }
}

func sessionConfig(cfg config.Config) session.Config {
	return session.Config{
		SampleRate: cfg.VAD.SampleRate,
		VAD: vad.Config{
			Threshold:     cfg.VAD.Threshold,
			SpeechFrames:  cfg.VAD.SpeechFrames,
			SilenceFrames: cfg.VAD.SilenceFrames,
		},
		NewModel:     newVADModel(cfg),
		MaxUtterance: cfg.ParsedMaxUtterance(),
		MinUtterance: time.Duration(cfg.VAD.MinUtteranceMs) * time.Millisecond,
		IdleTimeout:  cfg.ParsedIdleTimeout(),
		PacePlayback: cfg.Session.PacePlayback,
		Language:     cfg.Session.Language,
		Dialogue: dialogue.Config{
			MinWords:      cfg.Dialogue.MinWords,
			Keywords:      cfg.Dialogue.Keywords,
			MaxFollowUps:  cfg.Dialogue.MaxFollowUps,
			PhraseTimeout: phraseTimeout,
		},
	}
}
