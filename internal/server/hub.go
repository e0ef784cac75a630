package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sjawhar/ghost-interviewer/internal/dialogue"
	"github.com/sjawhar/ghost-interviewer/internal/session"
)

// Hub fans session events out to every /ws/events subscriber. Slow
// subscribers miss events rather than block a session.
type Hub struct {
	log logrus.FieldLogger

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{log: log, clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastSessionStarted(info session.Info) {
	info.Messages = nil
	h.broadcastEvent(SessionStartedEvent{
		Event:   newEvent("session_started", time.Now().UTC()),
		Session: info,
	})
}

func (h *Hub) BroadcastStateChanged(sessionID string, state session.State) {
	h.broadcastEvent(StateChangedEvent{
		Event:     newEvent("state_changed", time.Now().UTC()),
		SessionID: sessionID,
		State:     state,
	})
}

func (h *Hub) BroadcastMessage(sessionID string, m dialogue.Message) {
	h.broadcastEvent(MessageEvent{
		Event:     newEvent("message", m.Timestamp),
		SessionID: sessionID,
		Message:   m,
	})
}

func (h *Hub) BroadcastSessionEnded(c session.Completion) {
	var duration time.Duration
	if !c.StartedAt.IsZero() {
		duration = c.EndedAt.Sub(c.StartedAt)
	}
	h.broadcastEvent(SessionEndedEvent{
		Event:       newEvent("session_ended", c.EndedAt),
		SessionID:   c.SessionID,
		Reason:      c.Reason,
		ScriptIndex: c.ScriptIndex,
		Questions:   len(c.Script),
		Duration:    duration.Seconds(),
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Error("event marshal failed")
		return
	}
	h.Broadcast(payload)
}
