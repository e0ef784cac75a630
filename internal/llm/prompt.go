package llm

import (
	"errors"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrNoUserTurn      = errors.New("conversation must end with a user turn")
	ErrEmptyCompletion = errors.New("empty completion")
	// ErrTruncated means the model hit the token cap. A line cut mid-sentence
	// is never spoken.
	ErrTruncated = errors.New("completion truncated at token cap")
)

// prompt is a conversation in the shape every chat API wants: one system
// instruction and strictly alternating user/assistant turns.
type prompt struct {
	system string
	turns  []Message
}

// buildPrompt folds system messages into one instruction and merges
// consecutive turns from the same speaker. Blank messages are dropped.
func buildPrompt(messages []Message) (prompt, error) {
	var (
		p      prompt
		system []string
	)
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch m.Role {
		case RoleSystem:
			system = append(system, text)
		case RoleUser, RoleAssistant:
			if n := len(p.turns); n > 0 && p.turns[n-1].Role == m.Role {
				p.turns[n-1].Content += "\n\n" + text
				continue
			}
			p.turns = append(p.turns, Message{Role: m.Role, Content: text})
		default:
			return prompt{}, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	p.system = strings.Join(system, "\n\n")

	if len(p.turns) == 0 || p.turns[len(p.turns)-1].Role != RoleUser {
		return prompt{}, ErrNoUserTurn
	}
	return p, nil
}

// spokenLine validates a raw completion before it reaches text-to-speech.
func spokenLine(provider, text string, truncated bool) (string, error) {
	if truncated {
		return "", fmt.Errorf("%s: %w", provider, ErrTruncated)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", provider, ErrEmptyCompletion)
	}
	return text, nil
}
