package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sjawhar/ghost-interviewer/internal/dialogue"
	"github.com/sjawhar/ghost-interviewer/internal/room"
)

// Manager owns every live session. Sessions share nothing but the gateways
// passed in through Deps.
type Manager struct {
	cfg           Config
	deps          Deps
	log           logrus.FieldLogger
	maxConcurrent int
	newID         func() string

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config, deps Deps, maxConcurrent int) *Manager {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	return &Manager{
		cfg:           cfg,
		deps:          deps,
		log:           deps.Log,
		maxConcurrent: maxConcurrent,
		newID:         uuid.NewString,
		sessions:      map[string]*Session{},
	}
}

// Create registers a session that starts once a room is attached and the
// candidate joins.
func (m *Manager) Create(_ context.Context, p Params) (*Session, error) {
	script := make([]string, 0, len(p.Script))
	for _, q := range p.Script {
		if q = strings.TrimSpace(q); q != "" {
			script = append(script, q)
		}
	}
	if len(script) == 0 {
		return nil, ErrEmptyScript
	}
	mode, err := dialogue.ParseMode(string(p.Mode))
	if err != nil {
		return nil, err
	}
	p.Script = script
	p.Mode = mode

	m.mu.Lock()
	if m.maxConcurrent > 0 && len(m.sessions) >= m.maxConcurrent {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}
	id := m.newID()
	s := newSession(id, p, m.cfg, m.deps)
	s.onEnd = m.remove
	m.sessions[id] = s
	m.mu.Unlock()

	if m.deps.Store != nil {
		rec := Record{
			ID:          id,
			CandidateID: p.CandidateID,
			Mode:        mode,
			Script:      script,
			Status:      StatusIdle,
			StartedAt:   time.Now().UTC(),
		}
		if err := m.deps.Store.CreateSession(rec); err != nil {
			m.remove(s)
			s.cancel()
			return nil, fmt.Errorf("create session: %w", err)
		}
	}

	m.log.WithFields(logrus.Fields{
		"session":   id,
		"mode":      mode,
		"questions": len(script),
	}).Info("session created")
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Attach(id string, r room.Room) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Attach(r)
}

func (m *Manager) SubmitAnswer(id, text string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	return s.SubmitAnswer(text)
}

func (m *Manager) Stop(ctx context.Context, id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Stop(ctx)
}

// List returns live sessions, newest first, without their transcripts.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		info := s.Info()
		info.Messages = nil
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", s.ID(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
}
