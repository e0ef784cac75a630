package session

import (
	"sync"

	"github.com/sjawhar/ghost-interviewer/internal/dialogue"
)

// history is the append-only conversation log of one session.
type history struct {
	mu       sync.Mutex
	messages []dialogue.Message
}

// Append stores m and returns its sequence number.
func (h *history) Append(m dialogue.Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
	return len(h.messages) - 1
}

// Snapshot returns a copy safe to hand to other goroutines.
func (h *history) Snapshot() []dialogue.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]dialogue.Message(nil), h.messages...)
}
