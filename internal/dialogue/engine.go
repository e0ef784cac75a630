// Package dialogue decides what the interviewer says next.
package dialogue

import (
	"context"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State string

const (
	StateAwaitingAnswer State = "awaiting_answer"
	StateComplete       State = "complete"
)

type Config struct {
	MinWords     int
	Keywords     []string
	MaxFollowUps int
	// PhraseTimeout bounds a single phraser call.
	PhraseTimeout time.Duration
}

// Utterance is the engine's output for one turn.
type Utterance struct {
	Text     string
	Kind     Kind
	Advanced bool
	Complete bool
	Phrased  bool
}

type Option func(*Engine)

func WithPhraser(p Phraser) Option {
	return func(e *Engine) { e.phraser = p }
}

// WithSeed fixes the cosmetic phrase choice.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.rand = rand.New(rand.NewSource(seed)) }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// SeedFor derives a stable seed from a session id.
func SeedFor(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64() & (1<<63 - 1))
}

// Engine walks an ordered script. The decision to follow up, advance or
// finish depends only on the history and the answer heuristic.
type Engine struct {
	script  []string
	mode    Mode
	cfg     Config
	quality *Quality
	phraser Phraser
	log     logrus.FieldLogger

	mu        sync.Mutex
	rand      *rand.Rand
	index     int
	followUps int
}

func NewEngine(script []string, mode Mode, cfg Config, opts ...Option) *Engine {
	if cfg.MinWords <= 0 {
		cfg.MinWords = 8
	}
	if cfg.MaxFollowUps < 0 {
		cfg.MaxFollowUps = 0
	}
	if cfg.PhraseTimeout <= 0 {
		cfg.PhraseTimeout = 4 * time.Second
	}
	if mode == "" {
		mode = ModeMixed
	}

	cleaned := make([]string, 0, len(script))
	for _, q := range script {
		if q = strings.TrimSpace(q); q != "" {
			cleaned = append(cleaned, q)
		}
	}

	e := &Engine{
		script:  cleaned,
		mode:    mode,
		cfg:     cfg,
		quality: NewQuality(mode, cfg.MinWords, cfg.Keywords),
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Script() []string {
	return append([]string(nil), e.script...)
}

func (e *Engine) Mode() Mode { return e.mode }

// Index is the number of script questions already answered.
func (e *Engine) Index() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index >= len(e.script) {
		return StateComplete
	}
	return StateAwaitingAnswer
}

// NextUtterance computes the interviewer's next line from the history.
func (e *Engine) NextUtterance(ctx context.Context, history []Message) Utterance {
	e.mu.Lock()
	if e.index >= len(e.script) {
		e.mu.Unlock()
		return Utterance{Text: closingLine, Kind: KindClosing, Complete: true}
	}

	answer, answered := lastCandidate(history)
	if !answered {
		question := e.script[e.index]
		e.mu.Unlock()
		if hasInterviewer(history) {
			return Utterance{Text: question, Kind: KindRepeat}
		}
		return Utterance{Text: greetings[e.mode] + " " + question, Kind: KindOpening}
	}

	question := e.script[e.index]
	assessment := e.quality.Assess(answer.Text)
	if !assessment.Enough && e.followUps < e.cfg.MaxFollowUps {
		e.followUps++
		draft := pick(e.rand, followUps)
		e.mu.Unlock()

		e.log.WithFields(logrus.Fields{
			"words":    assessment.Words,
			"specific": assessment.Specific,
		}).Debug("answer too thin, following up")

		text, phrased := e.phrase(ctx, PhraseRequest{
			Kind: KindFollowUp, Mode: e.mode, Question: question, Answer: answer.Text, Draft: draft,
		})
		return Utterance{Text: text, Kind: KindFollowUp, Phrased: phrased}
	}

	e.index++
	e.followUps = 0
	ack := pick(e.rand, acknowledgments)
	if e.index >= len(e.script) {
		e.mu.Unlock()
		return Utterance{Text: ack + " " + closingLine, Kind: KindClosing, Advanced: true, Complete: true}
	}
	next := e.script[e.index]
	e.mu.Unlock()

	ack, phrased := e.phrase(ctx, PhraseRequest{
		Kind: KindAdvance, Mode: e.mode, Question: question, Answer: answer.Text, Draft: ack,
	})
	return Utterance{Text: ack + " " + next, Kind: KindAdvance, Advanced: true, Phrased: phrased}
}

func (e *Engine) phrase(ctx context.Context, req PhraseRequest) (string, bool) {
	if e.phraser == nil {
		return req.Draft, false
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.PhraseTimeout)
	defer cancel()

	text, err := e.phraser.Phrase(ctx, req)
	if err != nil {
		e.log.WithError(err).WithField("kind", req.Kind).Warn("phraser failed, using canned line")
		return req.Draft, false
	}
	return text, true
}
