// Package gateway routes a request across an ordered chain of interchangeable
// providers, honoring per-provider rate windows shared by every session.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sjawhar/ghost-interviewer/internal/logger"
)

type Provider[C any] struct {
	Name         string
	Priority     int
	MaxPerWindow int
	Window       time.Duration
	Client       C
}

func (p Provider[C]) limit() Limit {
	return Limit{Max: p.MaxPerWindow, Window: p.Window}
}

// Invoker performs one call against one provider client.
type Invoker[C, P, R any] func(ctx context.Context, client C, payload P) (R, error)

type OutcomeKind string

const (
	OutcomeOK          OutcomeKind = "ok"
	OutcomeRateLimited OutcomeKind = "rate_limited"
	OutcomeTransient   OutcomeKind = "transient"
	OutcomeFailed      OutcomeKind = "failed"
)

type Outcome struct {
	Provider string
	Attempt  int
	Kind     OutcomeKind
	Err      error
}

type Result[R any] struct {
	Value    R
	Provider string
	Outcomes []Outcome
}

type Options struct {
	// Name namespaces limiter keys, e.g. "stt" or "tts".
	Name           string
	Attempts       int
	BaseBackoff    time.Duration
	AttemptTimeout time.Duration
	Limiter        Limiter
	Logger         logrus.FieldLogger
}

type Gateway[C, P, R any] struct {
	name           string
	providers      []Provider[C]
	invoke         Invoker[C, P, R]
	limiter        Limiter
	attempts       int
	baseBackoff    time.Duration
	attemptTimeout time.Duration
	log            logrus.FieldLogger

	sleep func(ctx context.Context, d time.Duration) error
}

func New[C, P, R any](opts Options, providers []Provider[C], invoke func(ctx context.Context, client C, payload P) (R, error)) (*Gateway[C, P, R], error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%s gateway: %w", opts.Name, ErrNoProviders)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 250 * time.Millisecond
	}
	if opts.Limiter == nil {
		opts.Limiter = NewMemoryLimiter()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	sorted := append([]Provider[C](nil), providers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	return &Gateway[C, P, R]{
		name:           opts.Name,
		providers:      sorted,
		invoke:         invoke,
		limiter:        opts.Limiter,
		attempts:       opts.Attempts,
		baseBackoff:    opts.BaseBackoff,
		attemptTimeout: opts.AttemptTimeout,
		log:            opts.Logger.WithField("gateway", opts.Name),
		sleep:          sleepContext,
	}, nil
}

func (g *Gateway[C, P, R]) Name() string { return g.name }

// Providers returns the chain in priority order.
func (g *Gateway[C, P, R]) Providers() []Provider[C] {
	return append([]Provider[C](nil), g.providers...)
}

// Execute runs payload through the chain. The preferred provider, when named
// and present, is tried first; the rest follow in priority order. Capped
// providers are skipped, transient errors back off and retry the same
// provider, other errors move on immediately. When nothing succeeds the
// error wraps ErrProviderUnavailable.
func (g *Gateway[C, P, R]) Execute(ctx context.Context, payload P, preferred string) (Result[R], error) {
	var (
		res     Result[R]
		lastErr error
	)

	for _, p := range g.order(preferred) {
		log := g.log.WithField("provider", p.Name)

		for attempt := 1; attempt <= g.attempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			ok, err := g.limiter.Acquire(ctx, g.key(p.Name), p.limit())
			if err != nil {
				log.WithError(err).Warn("rate limiter unavailable; allowing request")
				ok = true
			}
			if !ok {
				res.Outcomes = append(res.Outcomes, Outcome{Provider: p.Name, Attempt: attempt, Kind: OutcomeRateLimited, Err: ErrRateLimited})
				lastErr = fmt.Errorf("%s: %w", p.Name, ErrRateLimited)
				log.Debug("provider at window cap; skipping")
				break
			}

			value, err := g.call(ctx, p, payload)
			if err == nil {
				res.Value = value
				res.Provider = p.Name
				res.Outcomes = append(res.Outcomes, Outcome{Provider: p.Name, Attempt: attempt, Kind: OutcomeOK})
				return res, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}

			lastErr = err
			if !IsTransient(err) {
				res.Outcomes = append(res.Outcomes, Outcome{Provider: p.Name, Attempt: attempt, Kind: OutcomeFailed, Err: err})
				log.WithError(err).Warn("provider failed; trying next")
				break
			}

			res.Outcomes = append(res.Outcomes, Outcome{Provider: p.Name, Attempt: attempt, Kind: OutcomeTransient, Err: err})
			if attempt == g.attempts {
				log.WithError(err).Warn("provider retries exhausted; trying next")
				break
			}

			delay := g.baseBackoff << (attempt - 1)
			log.WithError(err).WithField("attempt", attempt).Infof("transient provider error; retrying in %s", delay)
			if err := g.sleep(ctx, delay); err != nil {
				return res, err
			}
		}
	}

	return res, fmt.Errorf("%s gateway: %w: %w", g.name, ErrProviderUnavailable, lastErr)
}

func (g *Gateway[C, P, R]) call(ctx context.Context, p Provider[C], payload P) (R, error) {
	if g.attemptTimeout <= 0 {
		return g.invoke(ctx, p.Client, payload)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	defer cancel()
	return g.invoke(attemptCtx, p.Client, payload)
}

func (g *Gateway[C, P, R]) order(preferred string) []Provider[C] {
	if preferred == "" {
		return g.providers
	}
	out := make([]Provider[C], 0, len(g.providers))
	for _, p := range g.providers {
		if p.Name == preferred {
			out = append(out, p)
		}
	}
	for _, p := range g.providers {
		if p.Name != preferred {
			out = append(out, p)
		}
	}
	return out
}

func (g *Gateway[C, P, R]) key(provider string) string {
	return g.name + ":" + provider
}

type ProviderState struct {
	Gateway      string    `json:"gateway"`
	Name         string    `json:"name"`
	Priority     int       `json:"priority"`
	MaxPerWindow int       `json:"max_per_window"`
	Window       string    `json:"window"`
	Count        int       `json:"count"`
	ResetAt      time.Time `json:"reset_at"`
}

// Snapshot reports the current window of every provider.
func (g *Gateway[C, P, R]) Snapshot(ctx context.Context) []ProviderState {
	out := make([]ProviderState, 0, len(g.providers))
	for _, p := range g.providers {
		st, err := g.limiter.State(ctx, g.key(p.Name), p.limit())
		if err != nil {
			g.log.WithError(err).WithField("provider", p.Name).Warn("read limiter state")
		}
		out = append(out, ProviderState{
			Gateway:      g.name,
			Name:         p.Name,
			Priority:     p.Priority,
			MaxPerWindow: p.MaxPerWindow,
			Window:       windowOrDefault(p.Window).String(),
			Count:        st.Count,
			ResetAt:      st.ResetAt,
		})
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
