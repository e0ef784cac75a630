package server

import (
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/dialogue"
	"github.com/sjawhar/ghost-interviewer/internal/session"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type SessionStartedEvent struct {
	Event
	Session session.Info `json:"session"`
}

type StateChangedEvent struct {
	Event
	SessionID string        `json:"session_id"`
	State     session.State `json:"state"`
}

type MessageEvent struct {
	Event
	SessionID string           `json:"session_id"`
	Message   dialogue.Message `json:"message"`
}

type SessionEndedEvent struct {
	Event
	SessionID   string            `json:"session_id"`
	Reason      session.EndReason `json:"reason"`
	ScriptIndex int               `json:"script_index"`
	Questions   int               `json:"questions"`
	Duration    float64           `json:"duration"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
