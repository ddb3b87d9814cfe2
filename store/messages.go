package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/martinemde/supernova/agentloop"
)

const maxTitleRunes = 60

// AppendMessage stores msg at the end of the chat's transcript. The first
// user message becomes the chat title.
func (db *DB) AppendMessage(ctx context.Context, chatID string, msg agentloop.Message) error {
	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("store: encode tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(data), Valid: true}
	}
	now := formatTime(time.Now())

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, content, tool_calls, tool_call_id, tool_name, is_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		chatID, string(msg.Role), msg.Content, toolCalls,
		nullIfEmpty(msg.ToolCallID), nullIfEmpty(msg.ToolName), msg.IsError, formatTime(msg.Timestamp))
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, now, chatID); err != nil {
		return fmt.Errorf("store: touch chat: %w", err)
	}
	if msg.Role == agentloop.RoleUser {
		if _, err := tx.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ? AND title = ''`, titleFrom(msg.Content), chatID); err != nil {
			return fmt.Errorf("store: set title: %w", err)
		}
	}
	return tx.Commit()
}

// Messages returns the chat's transcript in insertion order.
func (db *DB) Messages(ctx context.Context, chatID string) ([]agentloop.Message, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id, tool_name, is_error, created_at
		 FROM messages WHERE chat_id = ? ORDER BY id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: messages: %w", err)
	}
	defer rows.Close()

	var out []agentloop.Message
	for rows.Next() {
		var (
			m                           agentloop.Message
			role, created               string
			toolCalls, callID, toolName sql.NullString
		)
		if err := rows.Scan(&role, &m.Content, &toolCalls, &callID, &toolName, &m.IsError, &created); err != nil {
			return nil, fmt.Errorf("store: messages: %w", err)
		}
		m.Role = agentloop.Role(role)
		m.ToolCallID = callID.String
		m.ToolName = toolName.String
		m.Timestamp = parseTime(created)
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("store: decode tool calls: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Recorder returns a transcript recorder bound to chatID.
func (db *DB) Recorder(chatID string) *Recorder {
	return &Recorder{db: db, chatID: chatID}
}

// Recorder appends session messages to one chat at a time.
type Recorder struct {
	db *DB

	mu     sync.Mutex
	chatID string
}

// ChatID returns the chat the recorder writes to.
func (r *Recorder) ChatID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chatID
}

// SetChat points later messages at chatID.
func (r *Recorder) SetChat(chatID string) {
	r.mu.Lock()
	r.chatID = chatID
	r.mu.Unlock()
}

// RecordMessage implements agentloop.TranscriptRecorder.
func (r *Recorder) RecordMessage(ctx context.Context, msg agentloop.Message) error {
	return r.db.AppendMessage(ctx, r.ChatID(), msg)
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func titleFrom(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return string(runes[:maxTitleRunes-1]) + "…"
}
