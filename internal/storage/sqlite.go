// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

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

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// SchemaVersion tracks the database schema version for migrations.
const SchemaVersion = 1

// Schema stores one row per conversation. The body column holds the full
// JSON encoding; search_text holds the title and current-path text for
// LIKE matching.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    assistant_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    search_text TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL, -- Unix nanoseconds
    updated_at INTEGER NOT NULL, -- Unix nanoseconds
    body TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_assistant ON conversations(assistant_id);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore persists conversations in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dsn. A file
// path's parent directory is created; ":memory:" is accepted.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite dsn cannot be empty")
	}
	if !strings.HasPrefix(dsn, ":memory:") && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), util.PrivateDirMode); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// A single connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save implements Repository.
func (s *SQLiteStore) Save(ctx context.Context, c model.Conversation) error {
	if c.ID == "" {
		return ErrInvalidID
	}
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, assistant_id, title, search_text, created_at, updated_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			assistant_id = excluded.assistant_id,
			title = excluded.title,
			search_text = excluded.search_text,
			updated_at = excluded.updated_at,
			body = excluded.body`,
		c.ID, c.AssistantID, c.Title, searchText(c),
		c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano(), string(body))
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", c.ID, err)
	}
	return nil
}

// Load implements Repository.
func (s *SQLiteStore) Load(ctx context.Context, id string) (model.Conversation, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM conversations WHERE id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Conversation{}, notFound(id)
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	return decodeBody(id, body)
}

// Delete implements Repository.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	return nil
}

// Search implements Repository.
func (s *SQLiteStore) Search(ctx context.Context, query, assistantID string) ([]model.Conversation, error) {
	var (
		where []string
		args  []any
	)
	if assistantID != "" {
		where = append(where, "assistant_id = ?")
		args = append(args, assistantID)
	}
	if q := strings.ToLower(strings.TrimSpace(query)); q != "" {
		where = append(where, `search_text LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(q)+"%")
	}

	stmt := "SELECT id, body FROM conversations"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search conversations: %w", err)
	}
	defer rows.Close()

	var results []model.Conversation
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		c, err := decodeBody(id, body)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// Count returns the number of stored conversations.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations").Scan(&n)
	return n, err
}

// Prune deletes conversations not updated since before.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE updated_at < ?", before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func decodeBody(id, body string) (model.Conversation, error) {
	var c model.Conversation
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return model.Conversation{}, fmt.Errorf("failed to decode conversation %s: %w", id, err)
	}
	return c, nil
}

// searchText is the lower-cased title plus current-path text.
func searchText(c model.Conversation) string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(c.Title))
	for _, msg := range c.CurrentMessages() {
		sb.WriteString("\n")
		sb.WriteString(strings.ToLower(msg.Text(" ")))
	}
	return sb.String()
}

// escapeLike escapes LIKE wildcards in s.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
