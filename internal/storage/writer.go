package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/dialogue"
	"github.com/sjawhar/ghost-interviewer/internal/session"
)

// Writer keeps a markdown transcript per finished session on disk.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

func (w *Writer) SessionCompleted(_ context.Context, c session.Completion) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.Path(c.SessionID)
	if err := os.WriteFile(path, []byte(Markdown(c)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (w *Writer) Path(sessionID string) string {
	return filepath.Join(w.dir, sessionID+".md")
}

// Markdown renders a finished interview as a readable transcript.
func Markdown(c session.Completion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Interview %s\n\n", c.SessionID)
	if c.CandidateID != "" {
		fmt.Fprintf(&b, "- Candidate: %s\n", c.CandidateID)
	}
	fmt.Fprintf(&b, "- Mode: %s\n", c.Mode)
	fmt.Fprintf(&b, "- Started: %s\n", c.StartedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Duration: %s\n", c.EndedAt.Sub(c.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "- Questions answered: %d of %d\n", c.ScriptIndex, len(c.Script))
	fmt.Fprintf(&b, "- Ended: %s\n\n## Transcript\n\n", c.Reason)

	for _, m := range c.Messages {
		b.WriteString(FormatMessage(m))
		b.WriteString("\n\n")
	}
	return b.String()
}

func FormatMessage(m dialogue.Message) string {
	ts := m.Timestamp.Format("15:04:05")
	speaker := "Interviewer"
	switch m.Role {
	case dialogue.RoleCandidate:
		speaker = "Candidate"
	case dialogue.RoleSystem:
		speaker = "System"
	}
	return fmt.Sprintf("**[%s] %s:** %s", ts, speaker, strings.TrimSpace(m.Text))
}
