package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/ghost-interviewer/internal/dialogue"
	"github.com/sjawhar/ghost-interviewer/internal/session"
)

var ErrNotFound = errors.New("session not found")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "ghost-interviewer.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			candidate_id TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			script TEXT NOT NULL,
			script_index INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			end_reason TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			UNIQUE(session_id, seq),
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)"); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateSession(rec session.Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("session id is required")
	}
	script, err := json.Marshal(rec.Script)
	if err != nil {
		return fmt.Errorf("encode script: %w", err)
	}
	status := rec.Status
	if status == "" {
		status = session.StatusIdle
	}

	_, err = s.db.Exec(
		`INSERT INTO sessions(id, candidate_id, mode, status, script, script_index, started_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.CandidateID,
		string(rec.Mode),
		string(status),
		string(script),
		rec.ScriptIndex,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", rec.ID, err)
	}
	return nil
}

// AppendMessage stores one message. Re-inserting an existing seq is a no-op.
func (s *SQLiteStore) AppendMessage(sessionID string, seq int, m dialogue.Message) error {
	return appendMessage(context.Background(), s.db, sessionID, seq, m)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendMessage(ctx context.Context, db execer, sessionID string, seq int, m dialogue.Message) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages(session_id, seq, role, text, timestamp) VALUES(?, ?, ?, ?, ?)`,
		sessionID,
		seq,
		string(m.Role),
		strings.TrimSpace(m.Text),
		m.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append message for session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateProgress(sessionID string, status session.Status, scriptIndex int) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, script_index = ? WHERE id = ? AND ended_at IS NULL`,
		string(status),
		scriptIndex,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("update progress for session %s: %w", sessionID, err)
	}
	return expectRow(res, sessionID)
}

// SessionCompleted writes the final state and backfills any message a live
// append missed.
func (s *SQLiteStore) SessionCompleted(ctx context.Context, c session.Completion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin completion tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = ?, script_index = ?, ended_at = ?, end_reason = ?, candidate_id = ? WHERE id = ?`,
		string(session.StatusEnded),
		c.ScriptIndex,
		c.EndedAt.UTC().Format(time.RFC3339Nano),
		string(c.Reason),
		c.CandidateID,
		c.SessionID,
	)
	if err != nil {
		return fmt.Errorf("end session %s: %w", c.SessionID, err)
	}
	if err := expectRow(res, c.SessionID); err != nil {
		return err
	}

	for i, m := range c.Messages {
		if err := appendMessage(ctx, tx, c.SessionID, i, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit completion for session %s: %w", c.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(id string) (session.Record, error) {
	row := s.db.QueryRow(
		`SELECT id, candidate_id, mode, status, script, script_index, started_at, ended_at, end_reason FROM sessions WHERE id = ?`,
		id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return session.Record{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return rec, nil
}

// ListSessions returns stored sessions, newest first. limit <= 0 means all.
func (s *SQLiteStore) ListSessions(limit int) ([]session.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, candidate_id, mode, status, script, script_index, started_at, ended_at, end_reason
		 FROM sessions
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]session.Record, 0, 16)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions rows: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) GetMessages(sessionID string) ([]dialogue.Message, error) {
	rows, err := s.db.Query(
		`SELECT role, text, timestamp
		 FROM messages
		 WHERE session_id = ?
		 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]dialogue.Message, 0, 32)
	for rows.Next() {
		var m dialogue.Message
		var role, ts string
		if err := rows.Scan(&role, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan message for session %s: %w", sessionID, err)
		}
		m.Role = dialogue.Role(role)

		parsedTS, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse message timestamp for session %s: %w", sessionID, err)
		}
		m.Timestamp = parsedTS

		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows for session %s: %w", sessionID, err)
	}

	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (session.Record, error) {
	var (
		rec       session.Record
		mode      string
		status    string
		script    string
		startedAt string
		endedAt   sql.NullString
		reason    string
	)
	if err := row.Scan(&rec.ID, &rec.CandidateID, &mode, &status, &script, &rec.ScriptIndex, &startedAt, &endedAt, &reason); err != nil {
		return session.Record{}, err
	}
	rec.Mode = dialogue.Mode(mode)
	rec.Status = session.Status(status)
	rec.EndReason = session.EndReason(reason)

	if err := json.Unmarshal([]byte(script), &rec.Script); err != nil {
		return session.Record{}, fmt.Errorf("decode script for %s: %w", rec.ID, err)
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return session.Record{}, fmt.Errorf("parse started_at: %w", err)
	}
	rec.StartedAt = parsedStart

	if endedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return session.Record{}, fmt.Errorf("parse ended_at: %w", err)
		}
		rec.EndedAt = &parsedEnd
	}
	return rec, nil
}

func expectRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
