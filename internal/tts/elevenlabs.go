package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

const elevenLabsWSBase = "wss://api.elevenlabs.io"

// ElevenLabs synthesizes over the stream-input websocket, requesting raw PCM
// at the room rate so no resampling is needed.
type ElevenLabs struct {
	apiKey     string
	model      string
	voice      string
	wsBase     string
	sampleRate int
}

func NewElevenLabs(apiKey, model, voice, wsBase string, sampleRate int) *ElevenLabs {
	if model == "" {
		model = "eleven_flash_v2_5"
	}
	if wsBase == "" {
		wsBase = elevenLabsWSBase
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &ElevenLabs{
		apiKey:     strings.TrimSpace(apiKey),
		model:      model,
		voice:      voice,
		wsBase:     strings.TrimRight(wsBase, "/"),
		sampleRate: sampleRate,
	}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) url() string {
	q := url.Values{}
	q.Set("model_id", e.model)
	q.Set("output_format", "pcm_"+strconv.Itoa(e.sampleRate))
	return e.wsBase + "/v1/text-to-speech/" + url.PathEscape(e.voice) + "/stream-input?" + q.Encode()
}

type elevenLabsChunk struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (Audio, error) {
	if e.voice == "" {
		return Audio{}, fmt.Errorf("elevenlabs: voice id is required")
	}

	header := http.Header{}
	header.Set("xi-api-key", e.apiKey)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, e.url(), header)
	if err != nil {
		if resp != nil {
			return Audio{}, gateway.StatusError("elevenlabs", resp.StatusCode, err.Error())
		}
		return Audio{}, gateway.Transient(fmt.Errorf("elevenlabs dial: %w", err))
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	for _, msg := range []map[string]any{
		{"text": " "},
		{"text": strings.TrimSpace(text) + " ", "flush": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			return Audio{}, gateway.Transient(fmt.Errorf("elevenlabs write: %w", err))
		}
	}

	var pcm []byte
	for {
		var chunk elevenLabsChunk
		if err := conn.ReadJSON(&chunk); err != nil {
			if ctx.Err() != nil {
				return Audio{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(pcm) > 0 {
				break
			}
			return Audio{}, gateway.Transient(fmt.Errorf("elevenlabs read: %w", err))
		}
		if chunk.Audio != "" {
			data, err := base64.StdEncoding.DecodeString(chunk.Audio)
			if err != nil {
				return Audio{}, fmt.Errorf("elevenlabs audio: %w", err)
			}
			pcm = append(pcm, data...)
		}
		if chunk.IsFinal {
			break
		}
	}

	return Audio{PCM: pcm, SampleRate: e.sampleRate}, nil
}
