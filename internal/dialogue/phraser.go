package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sjawhar/ghost-interviewer/internal/llm"
)

type Kind string

const (
	KindOpening  Kind = "opening"
	KindFollowUp Kind = "follow_up"
	KindAdvance  Kind = "advance"
	KindRepeat   Kind = "repeat"
	KindClosing  Kind = "closing"
)

// PhraseRequest carries what a phraser needs to reword a canned line.
type PhraseRequest struct {
	Kind     Kind
	Mode     Mode
	Question string
	Answer   string
	Draft    string
}

// Phraser rewrites acknowledgments and follow-ups. It never decides whether
// the interview advances.
type Phraser interface {
	Phrase(ctx context.Context, req PhraseRequest) (string, error)
}

type completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, string, error)
}

var errEmptyPhrase = errors.New("phraser returned empty text")

// LLMPhraser asks a chat model for a one-sentence rewording.
type LLMPhraser struct {
	llm      completer
	maxWords int
}

func NewLLMPhraser(c completer) *LLMPhraser {
	return &LLMPhraser{llm: c, maxWords: 40}
}

func (p *LLMPhraser) Phrase(ctx context.Context, req PhraseRequest) (string, error) {
	var task string
	switch req.Kind {
	case KindFollowUp:
		task = "The answer was vague. Ask one short follow-up question that pushes for a concrete example, numbers, or the candidate's own actions."
	case KindAdvance:
		task = "Acknowledge the answer in one short, neutral sentence. Do not ask a question and do not evaluate the answer."
	default:
		return "", fmt.Errorf("phrase kind %q is not supported", req.Kind)
	}

	prompt := fmt.Sprintf(`You are a calm, professional interviewer running a %s mock interview out loud.

Current question:
%s

Candidate's answer:
%s

%s
Reply with the sentence only. A suitable default would be: %q`, req.Mode, req.Question, req.Answer, task, req.Draft)

	text, _, err := p.llm.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You write lines that will be spoken by a text-to-speech voice. No markdown, no lists, no emoji."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", err
	}
	text = cleanPhrase(text)
	if text == "" {
		return "", errEmptyPhrase
	}
	if words := strings.Fields(text); len(words) > p.maxWords {
		return "", fmt.Errorf("phraser returned %d words", len(words))
	}
	return text, nil
}

func cleanPhrase(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return strings.Trim(s, "\"'`* ")
}
