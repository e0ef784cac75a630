// Package feedback hands finished interviews to the feedback service.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/sjawhar/ghost-interviewer/internal/session"
)

const (
	EventSessionCompleted = "session.completed"
	PayloadVersion        = 1
)

var defaultDelays = []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

type Payload struct {
	Event      string             `json:"event"`
	Version    int                `json:"version"`
	Completion session.Completion `json:"completion"`
}

// Webhook POSTs each completion to a URL in the background, retrying
// failed deliveries.
type Webhook struct {
	url    string
	client *http.Client
	log    logrus.FieldLogger
	delays []time.Duration

	wg sync.WaitGroup
}

func NewWebhook(url string, log logrus.FieldLogger) *Webhook {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.WithField("component", "feedback"),
		delays: defaultDelays,
	}
}

// SessionCompleted queues delivery and returns immediately.
func (w *Webhook) SessionCompleted(_ context.Context, c session.Completion) error {
	body, err := json.Marshal(Payload{Event: EventSessionCompleted, Version: PayloadVersion, Completion: c})
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if err := w.Send(ctx, body); err != nil {
			w.log.WithError(err).WithField("session", c.SessionID).Error("feedback delivery failed")
			return
		}
		w.log.WithField("session", c.SessionID).Info("feedback delivered")
	}()
	return nil
}

// Send delivers body, retrying network errors, 429 and 5xx.
func (w *Webhook) Send(ctx context.Context, body []byte) error {
	return retry.Do(ctx, w.backoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Ghost-Interviewer-Event", EventSessionCompleted)

		resp, err := w.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer func() { _ = resp.Body.Close() }()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			w.log.WithField("status", resp.StatusCode).Warn("feedback endpoint unavailable, retrying")
			return retry.RetryableError(fmt.Errorf("feedback webhook: status %d: %s", resp.StatusCode, msg))
		default:
			return fmt.Errorf("feedback webhook: status %d: %s", resp.StatusCode, msg)
		}
	})
}

func (w *Webhook) backoff() retry.Backoff {
	i := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if i >= len(w.delays) {
			return 0, true
		}
		d := w.delays[i]
		i++
		return d, false
	})
}

// Wait blocks until queued deliveries finish.
func (w *Webhook) Wait() {
	w.wg.Wait()
}
