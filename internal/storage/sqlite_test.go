package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/dialogue"
	"github.com/sjawhar/ghost-interviewer/internal/session"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func createRecord(t *testing.T, store *SQLiteStore, id string, startedAt time.Time) {
	t.Helper()
	err := store.CreateSession(session.Record{
		ID:          id,
		CandidateID: "cand",
		Mode:        dialogue.ModeTechnical,
		Script:      []string{"Q1", "Q2"},
		StartedAt:   startedAt,
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
}

func TestSQLitePragmas(t *testing.T) {
	store := newTestSQLiteStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestSQLiteLifecycle(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	createRecord(t, store, "s1", startedAt)

	opening := dialogue.Message{Role: dialogue.RoleInterviewer, Text: "Hi. Q1", Timestamp: startedAt}
	if err := store.AppendMessage("s1", 0, opening); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := store.UpdateProgress("s1", session.StatusActive, 0); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	rec, err := store.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec.Status != session.StatusActive || rec.Mode != dialogue.ModeTechnical || len(rec.Script) != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.EndedAt != nil {
		t.Fatal("expected no ended_at while active")
	}

	answer := dialogue.Message{Role: dialogue.RoleCandidate, Text: "I shipped it.", Timestamp: startedAt.Add(5 * time.Second)}
	err = store.SessionCompleted(context.Background(), session.Completion{
		SessionID:   "s1",
		CandidateID: "cand",
		ScriptIndex: 1,
		Messages:    []dialogue.Message{opening, answer},
		StartedAt:   startedAt,
		EndedAt:     startedAt.Add(time.Minute),
		Reason:      session.ReasonStopped,
	})
	if err != nil {
		t.Fatalf("SessionCompleted failed: %v", err)
	}

	rec, err = store.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec.Status != session.StatusEnded || rec.ScriptIndex != 1 || rec.EndReason != session.ReasonStopped {
		t.Fatalf("unexpected ended record: %+v", rec)
	}
	if rec.EndedAt == nil || !rec.EndedAt.Equal(startedAt.Add(time.Minute)) {
		t.Fatalf("unexpected ended_at: %v", rec.EndedAt)
	}

	messages, err := store.GetMessages("s1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 2 || messages[1].Role != dialogue.RoleCandidate || messages[1].Text != "I shipped it." {
		t.Fatalf("expected backfilled answer, got %+v", messages)
	}

	if err := store.UpdateProgress("s1", session.StatusActive, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected progress on ended session to be refused, got %v", err)
	}
}

func TestSQLiteMissingSession(t *testing.T) {
	store := newTestSQLiteStore(t)

	if _, err := store.GetSession("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	err := store.SessionCompleted(context.Background(), session.Completion{SessionID: "nope", EndedAt: time.Now()})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on completion, got %v", err)
	}
	if err := store.CreateSession(session.Record{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestSQLiteListNewestFirst(t *testing.T) {
	store := newTestSQLiteStore(t)
	base := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	createRecord(t, store, "old", base)
	createRecord(t, store, "new", base.Add(time.Hour))
	createRecord(t, store, "mid", base.Add(time.Minute))

	all, err := store.ListSessions(0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "new" || all[2].ID != "old" {
		t.Fatalf("unexpected order: %+v", all)
	}

	limited, err := store.ListSessions(1)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "new" {
		t.Fatalf("unexpected limited list: %+v", limited)
	}
}

func TestSQLiteConcurrentAccess(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Now().UTC()
	createRecord(t, store, "s1", startedAt)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = store.AppendMessage("s1", idx, dialogue.Message{
				Role:      dialogue.RoleCandidate,
				Text:      fmt.Sprintf("message-%d", idx),
				Timestamp: startedAt.Add(time.Duration(idx) * time.Second),
			})
			_, _ = store.GetSession("s1")
		}(i)
	}
	wg.Wait()

	messages, err := store.GetMessages("s1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 20 || messages[19].Text != "message-19" {
		t.Fatalf("expected 20 ordered messages, got %d", len(messages))
	}

	if err := store.AppendMessage("s1", 0, dialogue.Message{Role: dialogue.RoleSystem, Text: "dup", Timestamp: startedAt}); err != nil {
		t.Fatalf("duplicate append should be ignored, got %v", err)
	}
	messages, _ = store.GetMessages("s1")
	if messages[0].Text != "message-0" {
		t.Fatalf("messages must never be rewritten, got %q", messages[0].Text)
	}
}
