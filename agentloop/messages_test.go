package agentloop

import (
	"errors"
	"strings"
	"testing"

	"github.com/martinemde/supernova/unifiedllm"
)

func TestValidateTranscript(t *testing.T) {
	call := func(ids ...string) Message {
		var calls []ToolCallRequest
		for _, id := range ids {
			calls = append(calls, ToolCallRequest{ID: id, Name: "t", Arguments: "{}"})
		}
		return NewAssistantMessage("", calls)
	}
	result := func(id string) Message {
		return NewToolMessage(ToolResult{ToolCallID: id, ToolName: "t", Success: true})
	}

	tests := []struct {
		name    string
		history []Message
		wantErr bool
	}{
		{"empty", nil, false},
		{"plain exchange", []Message{NewUserMessage("hi"), NewAssistantMessage("hello", nil)}, false},
		{"answered in order", []Message{NewUserMessage("hi"), call("a", "b"), result("a"), result("b"), NewAssistantMessage("ok", nil)}, false},
		{"out of order", []Message{NewUserMessage("hi"), call("a", "b"), result("b"), result("a")}, true},
		{"orphan result", []Message{NewUserMessage("hi"), result("a")}, true},
		{"unanswered at end", []Message{NewUserMessage("hi"), call("a")}, true},
		{"conversation moves on", []Message{NewUserMessage("hi"), call("a"), NewUserMessage("again")}, true},
		{"duplicate id", []Message{call("a"), result("a"), call("a"), result("a")}, true},
		{"empty id", []Message{call(""), result("")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTranscript(tt.history)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTranscript) {
					t.Errorf("error = %v, want ErrInvalidTranscript", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestConvertHistoryToMessages(t *testing.T) {
	history := []Message{
		NewSystemMessage("rules"),
		NewUserMessage("hi"),
		NewAssistantMessage("", []ToolCallRequest{
			{ID: "a", Name: "read_file", Arguments: `{"path":"x"}`},
			{ID: "b", Name: "read_file", Arguments: `{"path":`},
		}),
		NewToolMessage(ToolResult{ToolCallID: "a", ToolName: "read_file", Success: true, Output: "data"}),
		NewToolMessage(ToolResult{ToolCallID: "b", ToolName: "read_file"}),
		NewAssistantMessage("", nil),
	}

	msgs := ConvertHistoryToMessages(history)
	if len(msgs) != len(history) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(history))
	}
	if msgs[0].Role != unifiedllm.RoleSystem || msgs[1].Role != unifiedllm.RoleUser {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}

	calls := msgs[2].ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("tool calls = %+v", calls)
	}
	if string(calls[0].Arguments) != `{"path":"x"}` {
		t.Errorf("first arguments = %s", calls[0].Arguments)
	}
	if string(calls[1].Arguments) != `{}` {
		t.Errorf("malformed arguments should be replaced, got %s", calls[1].Arguments)
	}

	if len(msgs[5].Content) != 1 || msgs[5].Content[0].Kind != unifiedllm.ContentText {
		t.Errorf("empty assistant message = %+v", msgs[5])
	}
}

func TestNewToolMessage(t *testing.T) {
	msg := NewToolMessage(failedResult(ToolCallRequest{ID: "x", Name: "read_file"}, ErrorToolNotFound, "missing"))
	if msg.Role != RoleTool || msg.ToolCallID != "x" || msg.ToolName != "read_file" || !msg.IsError {
		t.Errorf("message = %+v", msg)
	}
	if !strings.Contains(msg.Content, `"success":false`) {
		t.Errorf("content = %s", msg.Content)
	}
}
