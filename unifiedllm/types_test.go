package unifiedllm

import (
	"encoding/json"
	"testing"
)

func TestMessageConstructors(t *testing.T) {
	t.Run("SystemMessage", func(t *testing.T) {
		msg := SystemMessage("You are helpful.")
		if msg.Role != RoleSystem {
			t.Errorf("expected role %q, got %q", RoleSystem, msg.Role)
		}
		if msg.TextContent() != "You are helpful." {
			t.Errorf("expected text %q, got %q", "You are helpful.", msg.TextContent())
		}
	})

	t.Run("UserMessage", func(t *testing.T) {
		msg := UserMessage("Hello")
		if msg.Role != RoleUser {
			t.Errorf("expected role %q, got %q", RoleUser, msg.Role)
		}
	})

	t.Run("AssistantMessage", func(t *testing.T) {
		msg := AssistantMessage("Hi there")
		if msg.Role != RoleAssistant {
			t.Errorf("expected role %q, got %q", RoleAssistant, msg.Role)
		}
		if len(msg.ToolCalls()) != 0 {
			t.Errorf("expected no tool calls, got %d", len(msg.ToolCalls()))
		}
	})

	t.Run("ToolResultMessage", func(t *testing.T) {
		msg := ToolResultMessage("call_123", "terminal_command", `{"success":true}`, false)
		if msg.Role != RoleTool {
			t.Errorf("expected role %q, got %q", RoleTool, msg.Role)
		}
		if msg.ToolCallID != "call_123" {
			t.Errorf("expected tool_call_id %q, got %q", "call_123", msg.ToolCallID)
		}
		if len(msg.Content) != 1 || msg.Content[0].Kind != ContentToolResult {
			t.Fatalf("expected a single tool result part, got %+v", msg.Content)
		}
		tr := msg.Content[0].ToolResult
		if tr.Name != "terminal_command" || tr.Content != `{"success":true}` || tr.IsError {
			t.Errorf("unexpected tool result %+v", tr)
		}
	})
}

func TestMessageToolCallsOrder(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentPart{
			TextPart("Checking."),
			ToolCallPart("a", "first", json.RawMessage(`{}`)),
			{Kind: ContentThinking, Thinking: &ThinkingData{Text: "hmm"}},
			ToolCallPart("b", "second", json.RawMessage(`{"x":1}`)),
		},
	}
	calls := msg.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "a" || calls[1].ID != "b" {
		t.Errorf("expected calls in content order, got %v", calls)
	}
	if msg.TextContent() != "Checking." {
		t.Errorf("thinking should not leak into text, got %q", msg.TextContent())
	}
}

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}
	b := Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}
	sum := a.Add(b)
	if sum.InputTokens != 11 || sum.OutputTokens != 22 || sum.TotalTokens != 33 {
		t.Errorf("unexpected sum %+v", sum)
	}
}

func TestResponseAccessors(t *testing.T) {
	resp := Response{Message: Message{
		Role:    RoleAssistant,
		Content: []ContentPart{TextPart("a"), TextPart("b"), ToolCallPart("c", "n", nil)},
	}}
	if resp.Text() != "ab" {
		t.Errorf("expected concatenated text, got %q", resp.Text())
	}
	if len(resp.ToolCalls()) != 1 {
		t.Errorf("expected 1 tool call, got %d", len(resp.ToolCalls()))
	}
}

func TestStreamEventOmitsError(t *testing.T) {
	ev := StreamEvent{Type: TextDelta, Delta: "hi", Error: &NetworkError{}}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := back["Error"]; ok {
		t.Error("error field should not be serialized")
	}
	if back["delta"] != "hi" {
		t.Errorf("unexpected delta %v", back["delta"])
	}
}
