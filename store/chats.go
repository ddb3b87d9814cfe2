package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Chat is one saved conversation.
type Chat struct {
	ID           string
	WorkingDir   string
	Model        string
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// CreateChat starts a new chat for workingDir.
func (db *DB) CreateChat(ctx context.Context, workingDir, model string) (*Chat, error) {
	now := time.Now()
	c := &Chat{
		ID:         uuid.NewString(),
		WorkingDir: workingDir,
		Model:      model,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO chats (id, working_dir, model, title, created_at, updated_at) VALUES (?, ?, ?, '', ?, ?)`,
		c.ID, c.WorkingDir, c.Model, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("store: create chat: %w", err)
	}
	return c, nil
}

const chatColumns = `c.id, c.working_dir, c.model, c.title, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id)`

func scanChat(row interface{ Scan(...any) error }) (*Chat, error) {
	var c Chat
	var created, updated string
	if err := row.Scan(&c.ID, &c.WorkingDir, &c.Model, &c.Title, &created, &updated, &c.MessageCount); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// Chat returns the chat with id.
func (db *DB) Chat(ctx context.Context, id string) (*Chat, error) {
	c, err := scanChat(db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats c WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoChat
	}
	if err != nil {
		return nil, fmt.Errorf("store: chat %s: %w", id, err)
	}
	return c, nil
}

// LatestChat returns the most recently updated chat for workingDir that has
// at least one message.
func (db *DB) LatestChat(ctx context.Context, workingDir string) (*Chat, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats c
		 WHERE c.working_dir = ? AND EXISTS (SELECT 1 FROM messages m WHERE m.chat_id = c.id)
		 ORDER BY c.updated_at DESC, c.rowid DESC LIMIT 1`, workingDir)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoChat
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest chat: %w", err)
	}
	return c, nil
}

// ListChats returns up to limit chats, most recent first.
func (db *DB) ListChats(ctx context.Context, limit int) ([]*Chat, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+chatColumns+` FROM chats c ORDER BY c.updated_at DESC, c.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list chats: %w", err)
	}
	defer rows.Close()
	var out []*Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list chats: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChat removes a chat and its messages.
func (db *DB) DeleteChat(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete chat %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoChat
	}
	return nil
}
