package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

var deepgramInit sync.Once

const deepgramChunkBytes = 3200

type liveConn struct {
	write    func([]byte) (int, error)
	finalize func() error
	stop     func()
}

type liveDialer func(ctx context.Context, cb api.LiveMessageCallback, u Utterance) (liveConn, error)

// Deepgram streams each utterance over a short-lived live transcription
// socket, followed by trailing silence so endpointing emits speech_final.
type Deepgram struct {
	apiKey          string
	model           string
	host            string
	trailingSilence time.Duration

	dial liveDialer
}

func NewDeepgram(apiKey, model, host string) *Deepgram {
	if model == "" {
		model = "nova-2"
	}
	d := &Deepgram{apiKey: apiKey, model: model, host: host, trailingSilence: 600 * time.Millisecond}
	d.dial = d.dialLive
	return d
}

func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) dialLive(ctx context.Context, cb api.LiveMessageCallback, u Utterance) (liveConn, error) {
	deepgramInit.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})

	language := u.Language
	if language == "" {
		language = "en-US"
	}
	cOptions := &interfaces.ClientOptions{Host: d.host}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:       d.model,
		Language:    language,
		Punctuate:   true,
		SmartFormat: true,
		Encoding:    "linear16",
		SampleRate:  u.SampleRate,
		Channels:    1,
	}

	c, err := client.NewWSUsingCallback(ctx, d.apiKey, cOptions, tOptions, cb)
	if err != nil {
		return liveConn{}, fmt.Errorf("deepgram client: %w", err)
	}
	if ok := c.Connect(); !ok {
		return liveConn{}, errors.New("deepgram connect failed")
	}
	return liveConn{write: c.Write, finalize: c.Finalize, stop: func() { c.Stop() }}, nil
}

func (d *Deepgram) Transcribe(ctx context.Context, u Utterance) (Transcript, error) {
	col := newCollector()
	conn, err := d.dial(ctx, col, u)
	if err != nil {
		return Transcript{}, gateway.Transient(err)
	}
	defer conn.stop()

	pcm := u.PCM
	for len(pcm) > 0 {
		n := min(deepgramChunkBytes, len(pcm))
		if _, err := conn.write(pcm[:n]); err != nil {
			return Transcript{}, gateway.Transient(fmt.Errorf("deepgram write: %w", err))
		}
		pcm = pcm[n:]
	}
	if silence := int(d.trailingSilence*time.Duration(u.SampleRate)/time.Second) * 2; silence > 0 {
		if _, err := conn.write(make([]byte, silence)); err != nil {
			return Transcript{}, gateway.Transient(fmt.Errorf("deepgram write: %w", err))
		}
	}
	col.markFlushed()
	if conn.finalize != nil {
		if err := conn.finalize(); err != nil {
			return Transcript{}, gateway.Transient(fmt.Errorf("deepgram finalize: %w", err))
		}
	}

	select {
	case <-col.done:
	case <-ctx.Done():
		if text := col.text(); text != "" {
			return Transcript{Text: text, Language: u.Language}, nil
		}
		return Transcript{}, ctx.Err()
	}

	if err := col.failure(); err != nil {
		return Transcript{}, err
	}
	return Transcript{Text: col.text(), Language: u.Language}, nil
}

// collector implements the live callback for one utterance. It gathers
// is_final fragments and completes on the first speech_final or
// UtteranceEnd received after the end of the audio, or when the socket
// closes or errors. Endpoints from pauses inside the answer do not count.
type collector struct {
	mu      sync.Mutex
	parts   []string
	flushed bool
	err     error

	once sync.Once
	done chan struct{}
}

func newCollector() *collector {
	return &collector{done: make(chan struct{})}
}

func (c *collector) finish() {
	c.once.Do(func() { close(c.done) })
}

func (c *collector) markFlushed() {
	c.mu.Lock()
	c.flushed = true
	c.mu.Unlock()
}

func (c *collector) text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.parts, " ")
}

func (c *collector) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *collector) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 || !mr.IsFinal {
		return nil
	}

	c.mu.Lock()
	if sentence := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript); sentence != "" {
		c.parts = append(c.parts, sentence)
	}
	done := c.flushed && mr.SpeechFinal
	c.mu.Unlock()

	if done {
		c.finish()
	}
	return nil
}

func (c *collector) Open(*api.OpenResponse) error { return nil }

func (c *collector) Metadata(*api.MetadataResponse) error { return nil }

func (c *collector) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c *collector) UtteranceEnd(*api.UtteranceEndResponse) error {
	c.mu.Lock()
	flushed := c.flushed
	c.mu.Unlock()
	if flushed {
		c.finish()
	}
	return nil
}

func (c *collector) Close(*api.CloseResponse) error {
	c.finish()
	return nil
}

func (c *collector) Error(er *api.ErrorResponse) error {
	c.mu.Lock()
	c.err = gateway.Transient(fmt.Errorf("deepgram error %s: %s", er.ErrCode, er.Description))
	c.mu.Unlock()
	c.finish()
	return nil
}

func (c *collector) UnhandledEvent([]byte) error { return nil }
