package dialogue

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleCandidate   Role = "candidate"
	RoleInterviewer Role = "interviewer"
	RoleSystem      Role = "system"
)

// Message is one line of the conversation. Messages are appended and never
// edited.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

var ErrUnknownMode = errors.New("unknown interview mode")

type Mode string

const (
	ModeTechnical  Mode = "technical"
	ModeBehavioral Mode = "behavioral"
	ModeMixed      Mode = "mixed"
)

// ParseMode accepts the three interview modes; blank means mixed.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeMixed:
		return ModeMixed, nil
	case ModeTechnical:
		return ModeTechnical, nil
	case ModeBehavioral:
		return ModeBehavioral, nil
	default:
		return "", fmt.Errorf("%w %q: supported modes are technical, behavioral, mixed", ErrUnknownMode, s)
	}
}

func lastCandidate(history []Message) (Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		switch history[i].Role {
		case RoleCandidate:
			return history[i], true
		case RoleInterviewer:
			return Message{}, false
		}
	}
	return Message{}, false
}

func hasInterviewer(history []Message) bool {
	for _, m := range history {
		if m.Role == RoleInterviewer {
			return true
		}
	}
	return false
}
