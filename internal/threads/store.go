package threads

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store persists threads and their messages in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the thread database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			favorite INTEGER NOT NULL DEFAULT 0,
			model_id TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			assistant_id TEXT NOT NULL DEFAULT '',
			display_order INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'text',
			text TEXT NOT NULL DEFAULT '',
			image_path TEXT NOT NULL DEFAULT '',
			tool_calls TEXT NOT NULL DEFAULT '',
			token_speed TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			FOREIGN KEY(thread_id) REFERENCES threads(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_threads_updated_at ON threads(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateThread inserts a new thread. A missing ID or timestamp is filled in.
func (s *Store) CreateThread(t *Thread) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO threads(id, title, favorite, model_id, provider, assistant_id, display_order, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, boolToInt(t.Favorite), t.ModelID, t.ProviderName, t.AssistantID, t.Order, t.UpdatedAt.Unix(),
	)
	return err
}

// GetThread returns the thread with the given ID.
func (s *Store) GetThread(id string) (*Thread, error) {
	row := s.db.QueryRow(
		`SELECT id, title, favorite, model_id, provider, assistant_id, display_order, updated_at
		 FROM threads WHERE id = ?`, id,
	)
	return scanThread(row)
}

// ListThreads returns all threads, most recently updated first.
func (s *Store) ListThreads() ([]*Thread, error) {
	rows, err := s.db.Query(
		`SELECT id, title, favorite, model_id, provider, assistant_id, display_order, updated_at
		 FROM threads ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateThreadTimestamp touches the thread's updated-at timestamp.
func (s *Store) UpdateThreadTimestamp(id string, at time.Time) error {
	return s.exec("UPDATE threads SET updated_at = ? WHERE id = ?", at.Unix(), id)
}

// RenameThread sets the thread title.
func (s *Store) RenameThread(id, title string) error {
	return s.exec("UPDATE threads SET title = ? WHERE id = ?", title, id)
}

// SetFavorite toggles the favorite flag.
func (s *Store) SetFavorite(id string, favorite bool) error {
	return s.exec("UPDATE threads SET favorite = ? WHERE id = ?", boolToInt(favorite), id)
}

// DeleteThread removes a thread and, via cascade, its messages.
func (s *Store) DeleteThread(id string) error {
	return s.exec("DELETE FROM threads WHERE id = ?", id)
}

// AddMessage appends a message to its thread. A missing ID or timestamp is
// filled in.
func (s *Store) AddMessage(m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Type == "" {
		m.Type = ContentText
	}

	toolCalls := ""
	if len(m.ToolCalls) > 0 {
		data, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("failed to encode tool calls: %w", err)
		}
		toolCalls = string(data)
	}

	tokenSpeed := ""
	if m.TokenSpeed != nil {
		data, err := json.Marshal(m.TokenSpeed)
		if err != nil {
			return fmt.Errorf("failed to encode token speed: %w", err)
		}
		tokenSpeed = string(data)
	}

	_, err := s.db.Exec(
		`INSERT INTO messages(id, thread_id, role, content_type, text, image_path, tool_calls, token_speed, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, string(m.Role), string(m.Type), m.Text, m.ImagePath, toolCalls, tokenSpeed, m.CreatedAt.Unix(),
	)
	return err
}

// GetMessages returns a thread's messages in insertion order.
func (s *Store) GetMessages(threadID string) ([]*Message, error) {
	rows, err := s.db.Query(
		`SELECT id, thread_id, role, content_type, text, image_path, tool_calls, token_speed, created_at
		 FROM messages WHERE thread_id = ? ORDER BY rowid ASC`, threadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var toolCalls, tokenSpeed string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Type, &m.Text, &m.ImagePath, &toolCalls, &tokenSpeed, &createdAt); err != nil {
			return nil, err
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls for message %s: %w", m.ID, err)
			}
		}
		if tokenSpeed != "" {
			var ts TokenSpeed
			if err := json.Unmarshal([]byte(tokenSpeed), &ts); err != nil {
				return nil, fmt.Errorf("failed to decode token speed for message %s: %w", m.ID, err)
			}
			m.TokenSpeed = &ts
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// AttachTokenSpeed records trailing throughput telemetry on an existing
// message. This is the only permitted post-finalization mutation.
func (s *Store) AttachTokenSpeed(messageID string, speed TokenSpeed) error {
	data, err := json.Marshal(speed)
	if err != nil {
		return fmt.Errorf("failed to encode token speed: %w", err)
	}
	return s.exec("UPDATE messages SET token_speed = ? WHERE id = ?", string(data), messageID)
}

func (s *Store) exec(query string, args ...any) error {
	_, err := s.db.Exec(query, args...)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*Thread, error) {
	var t Thread
	var favorite int
	var updatedAt int64
	if err := row.Scan(&t.ID, &t.Title, &favorite, &t.ModelID, &t.ProviderName, &t.AssistantID, &t.Order, &updatedAt); err != nil {
		return nil, err
	}
	t.Favorite = favorite != 0
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
