package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists conversations in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dbPath, creating its directory and schema when missing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of concurrent appends.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exchanges (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		at TEXT NOT NULL,
		user_input TEXT NOT NULL,
		assistant_response TEXT NOT NULL,
		template INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_exchanges_conversation ON exchanges(conversation_id, at);
	`)
	return err
}

func (s *SQLiteStore) Begin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("history: begin %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, id string, ex Exchange) error {
	if err := s.Begin(ctx, id, ex.At); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (conversation_id, at, user_input, assistant_response, template) VALUES (?, ?, ?, ?, ?)`,
		id, ex.At.UTC().Format(time.RFC3339Nano), ex.UserInput, ex.AssistantResponse, ex.Template)
	if err != nil {
		return fmt.Errorf("history: append %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Conversation, error) {
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM conversations WHERE id = ?`, id).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("history: load %s: %w", id, err)
	}
	conv := Conversation{ID: id}
	if conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Conversation{}, fmt.Errorf("history: parse created_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT at, user_input, assistant_response, template FROM exchanges WHERE conversation_id = ? ORDER BY at, seq`, id)
	if err != nil {
		return Conversation{}, fmt.Errorf("history: list exchanges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ex Exchange
			at string
		)
		if err := rows.Scan(&at, &ex.UserInput, &ex.AssistantResponse, &ex.Template); err != nil {
			return Conversation{}, fmt.Errorf("history: scan exchange: %w", err)
		}
		ex.At, _ = time.Parse(time.RFC3339Nano, at)
		conv.Exchanges = append(conv.Exchanges, ex)
	}
	if err := rows.Err(); err != nil {
		return Conversation{}, fmt.Errorf("history: iterate exchanges: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
