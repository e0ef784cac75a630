package session

import (
	"context"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/dialogue"
	"github.com/sjawhar/ghost-interviewer/internal/stt"
	"github.com/sjawhar/ghost-interviewer/internal/tts"
)

type Transcriber interface {
	Transcribe(ctx context.Context, u stt.Utterance, preferred string) (stt.Transcript, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, preferred string) (tts.Audio, string, error)
}

// Store persists sessions while they run. The final record is written by a
// CompletionSink.
type Store interface {
	CreateSession(rec Record) error
	AppendMessage(sessionID string, seq int, m dialogue.Message) error
	UpdateProgress(sessionID string, status Status, scriptIndex int) error
}

type Recorder interface {
	SaveUtterance(sessionID string, pcm []byte) (string, error)
	EndSession(sessionID string)
}

type EventBroadcaster interface {
	BroadcastSessionStarted(info Info)
	BroadcastStateChanged(sessionID string, state State)
	BroadcastMessage(sessionID string, m dialogue.Message)
	BroadcastSessionEnded(c Completion)
}

// CompletionSink receives every finished session exactly once.
type CompletionSink interface {
	SessionCompleted(ctx context.Context, c Completion) error
}

type EndReason string

const (
	ReasonCompleted    EndReason = "completed"
	ReasonStopped      EndReason = "stopped"
	ReasonDisconnected EndReason = "disconnected"
	ReasonIdle         EndReason = "idle"
)

// Record is the persisted identity of a session.
type Record struct {
	ID          string        `json:"id"`
	CandidateID string        `json:"candidate_id"`
	Mode        dialogue.Mode `json:"mode"`
	Script      []string      `json:"script"`
	Status      Status        `json:"status"`
	ScriptIndex int           `json:"script_index"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	EndReason   EndReason     `json:"end_reason,omitempty"`
}

// Completion is handed to the feedback side once a session has ended.
type Completion struct {
	SessionID   string             `json:"session_id"`
	CandidateID string             `json:"candidate_id"`
	Mode        dialogue.Mode      `json:"mode"`
	Script      []string           `json:"script"`
	ScriptIndex int                `json:"script_index"`
	Messages    []dialogue.Message `json:"messages"`
	StartedAt   time.Time          `json:"started_at"`
	EndedAt     time.Time          `json:"ended_at"`
	Reason      EndReason          `json:"reason"`
}

// Info is a point-in-time view of a live session.
type Info struct {
	ID          string             `json:"id"`
	CandidateID string             `json:"candidate_id"`
	Mode        dialogue.Mode      `json:"mode"`
	Script      []string           `json:"script"`
	ScriptIndex int                `json:"script_index"`
	State       State              `json:"state"`
	Status      Status             `json:"status"`
	StartedAt   time.Time          `json:"started_at"`
	Dropped     int64              `json:"dropped_frames"`
	Messages    []dialogue.Message `json:"messages,omitempty"`
}
