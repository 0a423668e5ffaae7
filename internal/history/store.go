// Package history persists chat transcripts in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	// SQLite driver (required for database/sql registration).
	_ "github.com/mattn/go-sqlite3"

	"github.com/flynn-ai/modeldock/internal/conversation"
)

// Store manages the history database.
type Store struct {
	db *sql.DB
}

// Summary describes one stored conversation.
type Summary struct {
	ID           string
	ModelID      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// Open opens the history database at path, creating it if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id              TEXT PRIMARY KEY,
		model_id        TEXT NOT NULL,
		created_at      INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at      INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		message_count   INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      INTEGER NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Start creates a new conversation record and returns its id.
func (s *Store) Start(ctx context.Context, modelID string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversations (id, model_id) VALUES (?, ?)`, id, modelID)
	if err != nil {
		return "", fmt.Errorf("start conversation: %w", err)
	}
	return id, nil
}

// Append stores one turn in a conversation.
func (s *Store) Append(ctx context.Context, conversationID string, turn conversation.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, role, content, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?)`,
		turn.ID, conversationID, conversationID, string(turn.Role), turn.Content, turn.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET message_count = message_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), conversationID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	return tx.Commit()
}

// Messages returns a conversation's turns in order.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]conversation.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY seq`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var t conversation.Turn
		var role string
		var created int64
		if err := rows.Scan(&t.ID, &role, &t.Content, &created); err != nil {
			return nil, err
		}
		t.Role = conversation.Role(role)
		t.CreatedAt = time.Unix(created, 0)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Recent lists the most recently updated conversations.
func (s *Store) Recent(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model_id, created_at, updated_at, message_count
		 FROM conversations WHERE message_count > 0
		 ORDER BY updated_at DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var created, updated int64
		if err := rows.Scan(&sum.ID, &sum.ModelID, &created, &updated, &sum.MessageCount); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.Unix(created, 0)
		sum.UpdatedAt = time.Unix(updated, 0)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ============================================================
// Recorder
// ============================================================

// Recorder writes a live conversation into the store. It implements
// conversation.Recorder; the conversation record is created lazily on
// the first turn.
type Recorder struct {
	store *Store

	mu             sync.Mutex
	modelID        string
	conversationID string
}

// NewRecorder creates a recorder for chats with modelID.
func (s *Store) NewRecorder(modelID string) *Recorder {
	return &Recorder{store: s, modelID: modelID}
}

// SetModel switches the model recorded for subsequent conversations.
func (r *Recorder) SetModel(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.modelID != modelID {
		r.modelID = modelID
		r.conversationID = ""
	}
}

// RecordTurn implements conversation.Recorder.
func (r *Recorder) RecordTurn(ctx context.Context, turn conversation.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conversationID == "" {
		id, err := r.store.Start(ctx, r.modelID)
		if err != nil {
			return err
		}
		r.conversationID = id
	}
	return r.store.Append(ctx, r.conversationID, turn)
}

// Rotate implements conversation.Recorder.
func (r *Recorder) Rotate(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversationID = ""
	return nil
}

// ConversationID returns the id currently written to, or "".
func (r *Recorder) ConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversationID
}
