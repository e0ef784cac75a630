package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimited means a provider was skipped because its window is full.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrProviderUnavailable means every provider in the chain failed.
	ErrProviderUnavailable = errors.New("all providers unavailable")
	// ErrNoProviders is returned when a gateway is built with an empty chain.
	ErrNoProviders = errors.New("no providers configured")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable against the same provider.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried with backoff: an explicit
// Transient mark or a per-attempt timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t *transientError
	if errors.As(err, &t) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// StatusError builds the error for a failed HTTP call. 429 and 5xx are transient.
func StatusError(provider string, status int, body string) error {
	err := fmt.Errorf("%s: status %d: %s", provider, status, body)
	if status == http.StatusTooManyRequests || status >= 500 {
		return Transient(err)
	}
	return err
}
