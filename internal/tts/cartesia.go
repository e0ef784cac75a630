package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"
	defaultVoiceID  = "a0e99841-438c-4a64-b679-ae501e7d6091"
)

type Cartesia struct {
	apiKey     string
	model      string
	voice      string
	baseURL    string
	sampleRate int
	httpClient *http.Client
}

func NewCartesia(apiKey, model, voice, baseURL string, sampleRate int) *Cartesia {
	if model == "" {
		model = "sonic-2"
	}
	if voice == "" {
		voice = defaultVoiceID
	}
	if baseURL == "" {
		baseURL = cartesiaBaseURL
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Cartesia{
		apiKey:     apiKey,
		model:      model,
		voice:      voice,
		baseURL:    baseURL,
		sampleRate: sampleRate,
		httpClient: &http.Client{},
	}
}

func (c *Cartesia) Name() string { return "cartesia" }

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
}

func (c *Cartesia) Synthesize(ctx context.Context, text string) (Audio, error) {
	payload, err := json.Marshal(cartesiaRequest{
		ModelID:      c.model,
		Transcript:   text,
		Voice:        cartesiaVoice{Mode: "id", ID: c.voice},
		OutputFormat: cartesiaOutputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: c.sampleRate},
	})
	if err != nil {
		return Audio{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(payload))
	if err != nil {
		return Audio{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Audio{}, gateway.Transient(fmt.Errorf("cartesia request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Audio{}, gateway.StatusError("cartesia", resp.StatusCode, string(errBody))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, gateway.Transient(fmt.Errorf("read cartesia audio: %w", err))
	}
	return Audio{PCM: pcm, SampleRate: c.sampleRate}, nil
}
