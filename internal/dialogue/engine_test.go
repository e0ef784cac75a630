package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sjawhar/ghost-interviewer/internal/llm"
	"github.com/sjawhar/ghost-interviewer/internal/logger"
)

const strongAnswer = "I led a migration project, redesigned the pipeline, and cut latency by 40%."

type phraserMock struct {
	mu    sync.Mutex
	calls []PhraseRequest
	text  string
	err   error
}

func (p *phraserMock) Phrase(_ context.Context, req PhraseRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	return p.text, p.err
}

func (p *phraserMock) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func newTestEngine(script []string, opts ...Option) *Engine {
	opts = append([]Option{WithSeed(1), WithLogger(logger.Discard())}, opts...)
	return NewEngine(script, ModeMixed, Config{MinWords: 8, MaxFollowUps: 2}, opts...)
}

func candidate(text string) Message {
	return Message{Role: RoleCandidate, Text: text}
}

func interviewer(text string) Message {
	return Message{Role: RoleInterviewer, Text: text}
}

func TestOpeningAsksFirstQuestion(t *testing.T) {
	e := newTestEngine([]string{"Tell me about a project you led.", "Second?"})

	u := e.NextUtterance(context.Background(), nil)
	if u.Kind != KindOpening || u.Advanced || u.Complete {
		t.Fatalf("unexpected opening: %+v", u)
	}
	if !strings.HasSuffix(u.Text, "Tell me about a project you led.") {
		t.Fatalf("expected first question in opening, got %q", u.Text)
	}
	if e.Index() != 0 {
		t.Fatalf("expected index 0, got %d", e.Index())
	}
}

func TestOneWordAnswerDoesNotAdvance(t *testing.T) {
	e := newTestEngine([]string{"Tell me about a project you led.", "Second?"})
	history := []Message{interviewer("Tell me about a project you led."), candidate("Yes.")}

	u := e.NextUtterance(context.Background(), history)
	if u.Advanced || u.Complete || u.Kind != KindFollowUp {
		t.Fatalf("expected follow-up, got %+v", u)
	}
	if e.Index() != 0 {
		t.Fatalf("expected index to stay 0, got %d", e.Index())
	}
	found := false
	for _, f := range followUps {
		if u.Text == f {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected follow-up from the fixed pool, got %q", u.Text)
	}
}

func TestLongVagueAnswerDoesNotAdvance(t *testing.T) {
	e := newTestEngine([]string{"Q1", "Q2"})
	history := []Message{interviewer("Q1"), candidate("it was a pretty good thing overall and everyone seemed happy with it")}

	if u := e.NextUtterance(context.Background(), history); u.Advanced {
		t.Fatalf("expected vague answer to trigger follow-up, got %+v", u)
	}
}

func TestSpecificAnswerAdvances(t *testing.T) {
	e := newTestEngine([]string{"Q1", "Q2"})
	history := []Message{interviewer("Q1"), candidate(strongAnswer)}

	u := e.NextUtterance(context.Background(), history)
	if !u.Advanced || u.Complete || u.Kind != KindAdvance {
		t.Fatalf("expected advance, got %+v", u)
	}
	if !strings.HasSuffix(u.Text, "Q2") {
		t.Fatalf("expected next question, got %q", u.Text)
	}
	if e.Index() != 1 {
		t.Fatalf("expected index 1, got %d", e.Index())
	}
}

func TestLastAnswerCompletesWithoutPhraser(t *testing.T) {
	p := &phraserMock{text: "Nice."}
	e := newTestEngine([]string{"Tell me about a project you led."}, WithPhraser(p))
	history := []Message{interviewer("Tell me about a project you led."), candidate(strongAnswer)}

	u := e.NextUtterance(context.Background(), history)
	if !u.Advanced || !u.Complete || u.Kind != KindClosing {
		t.Fatalf("expected closing, got %+v", u)
	}
	if !strings.HasSuffix(u.Text, closingLine) {
		t.Fatalf("expected closing line, got %q", u.Text)
	}
	if e.Index() != 1 || e.State() != StateComplete {
		t.Fatalf("expected complete at index 1, got %d %s", e.Index(), e.State())
	}
	if p.Calls() != 0 {
		t.Fatalf("expected no phraser calls for closing, got %d", p.Calls())
	}

	again := e.NextUtterance(context.Background(), append(history, interviewer(u.Text), candidate("thanks")))
	if !again.Complete || again.Advanced || e.Index() != 1 {
		t.Fatalf("expected index to stay bounded, got %+v index=%d", again, e.Index())
	}
}

func TestFollowUpsAreBounded(t *testing.T) {
	e := newTestEngine([]string{"Q1", "Q2"})
	history := []Message{interviewer("Q1")}

	for i := 0; i < 2; i++ {
		history = append(history, candidate("dunno"))
		u := e.NextUtterance(context.Background(), history)
		if u.Advanced {
			t.Fatalf("follow-up %d: expected no advance", i)
		}
		history = append(history, interviewer(u.Text))
	}

	history = append(history, candidate("dunno"))
	u := e.NextUtterance(context.Background(), history)
	if !u.Advanced || e.Index() != 1 {
		t.Fatalf("expected advance after max follow-ups, got %+v", u)
	}
}

func TestRepeatWhenNoNewAnswer(t *testing.T) {
	e := newTestEngine([]string{"Q1"})
	u := e.NextUtterance(context.Background(), []Message{interviewer("Hi. Q1")})
	if u.Kind != KindRepeat || u.Text != "Q1" {
		t.Fatalf("expected repeat of current question, got %+v", u)
	}
}

func TestPhraserRewordsAcknowledgment(t *testing.T) {
	p := &phraserMock{text: "Thanks for the detail."}
	e := newTestEngine([]string{"Q1", "Q2"}, WithPhraser(p))

	u := e.NextUtterance(context.Background(), []Message{interviewer("Q1"), candidate(strongAnswer)})
	if u.Text != "Thanks for the detail. Q2" || !u.Phrased {
		t.Fatalf("expected phrased acknowledgment, got %+v", u)
	}
	if p.calls[0].Kind != KindAdvance || p.calls[0].Question != "Q1" {
		t.Fatalf("unexpected phrase request: %+v", p.calls[0])
	}
}

func TestPhraserErrorFallsBackToCanned(t *testing.T) {
	p := &phraserMock{err: errors.New("boom")}
	e := newTestEngine([]string{"Q1", "Q2"}, WithPhraser(p))

	u := e.NextUtterance(context.Background(), []Message{interviewer("Q1"), candidate("no")})
	if u.Phrased || u.Kind != KindFollowUp || u.Text == "" {
		t.Fatalf("expected canned follow-up, got %+v", u)
	}
}

func TestDecisionIgnoresSeed(t *testing.T) {
	history := []Message{interviewer("Q1"), candidate(strongAnswer)}
	for seed := int64(0); seed < 5; seed++ {
		e := NewEngine([]string{"Q1", "Q2"}, ModeMixed, Config{}, WithSeed(seed), WithLogger(logger.Discard()))
		if u := e.NextUtterance(context.Background(), history); !u.Advanced {
			t.Fatalf("seed %d: expected advance", seed)
		}
	}
}

func TestQualityModes(t *testing.T) {
	answer := "our team lead mentored me and I learned a great deal over that time"

	if a := NewQuality(ModeTechnical, 8, nil).Assess(answer); a.Specific {
		t.Fatalf("expected no technical markers, got %v", a.Markers)
	}
	if a := NewQuality(ModeBehavioral, 8, nil).Assess(answer); !a.Enough {
		t.Fatalf("expected behavioral answer to pass, got %+v", a)
	}
	if a := NewQuality(ModeTechnical, 8, []string{"mentored"}).Assess(answer); !a.Specific {
		t.Fatal("expected configured keyword to count")
	}
}

func TestQualityCountsDigits(t *testing.T) {
	a := NewQuality(ModeTechnical, 3, nil).Assess("we cut it by 3x")
	if !a.Specific || a.Markers[0] != "3x" {
		t.Fatalf("expected digit marker, got %+v", a)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeMixed, "Technical": ModeTechnical, " behavioral ": ModeBehavioral} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("trivia"); !errors.Is(err, ErrUnknownMode) {
		t.Fatal("expected error for unknown mode")
	}
}

type completerMock struct {
	text     string
	err      error
	messages []llm.Message
}

func (c *completerMock) Complete(_ context.Context, messages []llm.Message) (string, string, error) {
	c.messages = messages
	return c.text, "openai", c.err
}

func TestLLMPhraserCleansOutput(t *testing.T) {
	c := &completerMock{text: "\"Could you give me a number for that?\"\nExtra line"}
	p := NewLLMPhraser(c)

	got, err := p.Phrase(context.Background(), PhraseRequest{Kind: KindFollowUp, Mode: ModeTechnical, Question: "Q", Answer: "A", Draft: "D"})
	if err != nil {
		t.Fatalf("Phrase: %v", err)
	}
	if got != "Could you give me a number for that?" {
		t.Fatalf("unexpected phrase %q", got)
	}
	if len(c.messages) != 2 || !strings.Contains(c.messages[1].Content, "technical") {
		t.Fatalf("unexpected prompt: %+v", c.messages)
	}
}

func TestLLMPhraserRejectsEmptyAndUnsupported(t *testing.T) {
	p := NewLLMPhraser(&completerMock{text: "  "})
	if _, err := p.Phrase(context.Background(), PhraseRequest{Kind: KindAdvance}); !errors.Is(err, errEmptyPhrase) {
		t.Fatalf("expected errEmptyPhrase, got %v", err)
	}
	if _, err := p.Phrase(context.Background(), PhraseRequest{Kind: KindClosing}); err == nil {
		t.Fatal("expected closing to be unsupported")
	}
}
