package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"
)

// Cartesia transcribes with the batch /stt endpoint.
type Cartesia struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewCartesia(apiKey, model, baseURL string) *Cartesia {
	if model == "" {
		model = "ink-whisper"
	}
	if baseURL == "" {
		baseURL = cartesiaBaseURL
	}
	return &Cartesia{apiKey: apiKey, model: model, baseURL: baseURL, httpClient: &http.Client{}}
}

func (c *Cartesia) Name() string { return "cartesia" }

func (c *Cartesia) Transcribe(ctx context.Context, u Utterance) (Transcript, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "utterance.raw")
	if err != nil {
		return Transcript{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(u.PCM); err != nil {
		return Transcript{}, fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model", c.model); err != nil {
		return Transcript{}, fmt.Errorf("write model field: %w", err)
	}
	if lang := baseLanguage(u.Language); lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return Transcript{}, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, fmt.Errorf("close multipart writer: %w", err)
	}

	url := c.baseURL + "/stt?encoding=pcm_s16le&sample_rate=" + strconv.Itoa(u.SampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return Transcript{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transcript{}, gateway.Transient(fmt.Errorf("cartesia request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Transcript{}, gateway.StatusError("cartesia", resp.StatusCode, string(body))
	}

	var out struct {
		Text     string  `json:"text"`
		Language *string `json:"language,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Transcript{}, fmt.Errorf("parse cartesia response: %w", err)
	}

	t := Transcript{Text: out.Text}
	if out.Language != nil {
		t.Language = *out.Language
	}
	return t, nil
}
