package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/martinemde/supernova/agentloop"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTranscriptRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	chat, err := db.CreateChat(ctx, "/work", "gpt-4o")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	rec := db.Recorder(chat.ID)
	var session agentloop.TranscriptRecorder = rec

	history := []agentloop.Message{
		agentloop.NewUserMessage("list   the\nfiles"),
		agentloop.NewAssistantMessage("", []agentloop.ToolCallRequest{{ID: "c1", Name: "terminal_command", Arguments: `{"command":"ls"}`}}),
		agentloop.NewToolMessage(agentloop.ToolResult{ToolCallID: "c1", ToolName: "terminal_command", Success: true, Output: "a.txt"}),
		agentloop.NewAssistantMessage("There is one file.", nil),
	}
	for _, m := range history {
		if err := session.RecordMessage(ctx, m); err != nil {
			t.Fatalf("RecordMessage: %v", err)
		}
	}

	got, err := db.Messages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != len(history) {
		t.Fatalf("got %d messages, want %d", len(got), len(history))
	}
	if err := agentloop.ValidateTranscript(got); err != nil {
		t.Errorf("restored transcript invalid: %v", err)
	}
	if got[1].ToolCalls[0].Arguments != `{"command":"ls"}` || got[1].ToolCalls[0].Name != "terminal_command" {
		t.Errorf("tool calls = %+v", got[1].ToolCalls)
	}
	if got[2].ToolCallID != "c1" || got[2].ToolName != "terminal_command" || got[2].IsError {
		t.Errorf("tool message = %+v", got[2])
	}
	if got[3].Content != "There is one file." || got[3].Timestamp.IsZero() {
		t.Errorf("final message = %+v", got[3])
	}

	saved, err := db.Chat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if saved.Title != "list the files" || saved.MessageCount != 4 {
		t.Errorf("chat = %+v", saved)
	}
}

func TestLatestChat(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if _, err := db.LatestChat(ctx, "/work"); !errors.Is(err, ErrNoChat) {
		t.Fatalf("empty db = %v, want ErrNoChat", err)
	}

	first, _ := db.CreateChat(ctx, "/work", "m")
	second, _ := db.CreateChat(ctx, "/work", "m")
	other, _ := db.CreateChat(ctx, "/elsewhere", "m")
	_, _ = db.CreateChat(ctx, "/work", "m") // empty chats are skipped

	for _, id := range []string{second.ID, first.ID, other.ID} {
		if err := db.AppendMessage(ctx, id, agentloop.NewUserMessage("hi "+id)); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := db.LatestChat(ctx, "/work")
	if err != nil {
		t.Fatalf("LatestChat: %v", err)
	}
	if latest.ID != first.ID {
		t.Errorf("latest = %s, want %s", latest.ID, first.ID)
	}

	chats, err := db.ListChats(ctx, 10)
	if err != nil || len(chats) != 4 {
		t.Fatalf("ListChats = %d, %v", len(chats), err)
	}
}

func TestRecorderSetChat(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	a, _ := db.CreateChat(ctx, "/work", "m")
	b, _ := db.CreateChat(ctx, "/work", "m")

	rec := db.Recorder(a.ID)
	if err := rec.RecordMessage(ctx, agentloop.NewUserMessage("first")); err != nil {
		t.Fatal(err)
	}
	rec.SetChat(b.ID)
	if rec.ChatID() != b.ID {
		t.Fatalf("ChatID = %s", rec.ChatID())
	}
	if err := rec.RecordMessage(ctx, agentloop.NewUserMessage("second")); err != nil {
		t.Fatal(err)
	}

	for id, want := range map[string]string{a.ID: "first", b.ID: "second"} {
		msgs, err := db.Messages(ctx, id)
		if err != nil || len(msgs) != 1 || msgs[0].Content != want {
			t.Errorf("chat %s = %+v, %v", id, msgs, err)
		}
	}
}

func TestDeleteChat(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	chat, _ := db.CreateChat(ctx, "/work", "m")
	if err := db.AppendMessage(ctx, chat.ID, agentloop.NewUserMessage("x")); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteChat(ctx, chat.ID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if msgs, _ := db.Messages(ctx, chat.ID); len(msgs) != 0 {
		t.Errorf("messages survived delete: %d", len(msgs))
	}
	if err := db.DeleteChat(ctx, chat.ID); !errors.Is(err, ErrNoChat) {
		t.Errorf("second delete = %v", err)
	}
	if _, err := db.Chat(ctx, chat.ID); !errors.Is(err, ErrNoChat) {
		t.Errorf("Chat after delete = %v", err)
	}
}

func TestAppendRejectsUnknownChat(t *testing.T) {
	db := openTestDB(t)
	if err := db.AppendMessage(context.Background(), "missing", agentloop.NewUserMessage("x")); err == nil {
		t.Error("foreign key should reject messages for a missing chat")
	}
}

func TestTitleFrom(t *testing.T) {
	long := strings.Repeat("word ", 30)
	title := titleFrom(long)
	if n := len([]rune(title)); n != maxTitleRunes || !strings.HasSuffix(title, "…") {
		t.Errorf("title = %q (%d runes)", title, n)
	}
	if got := titleFrom("  short\tone "); got != "short one" {
		t.Errorf("title = %q", got)
	}
}
