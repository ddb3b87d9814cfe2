package agentloop

import (
	"fmt"
	"testing"
)

func historyOf(calls ...ToolCallRequest) []Message {
	var h []Message
	for i, c := range calls {
		c.ID = fmt.Sprintf("call-%d", i)
		h = append(h, NewAssistantMessage("", []ToolCallRequest{c}))
		h = append(h, NewToolMessage(ToolResult{ToolCallID: c.ID, ToolName: c.Name, Success: true}))
	}
	return h
}

func TestDetectLoop(t *testing.T) {
	a := ToolCallRequest{Name: "read_file", Arguments: `{"path":"a"}`}
	b := ToolCallRequest{Name: "read_file", Arguments: `{"path":"b"}`}
	c := ToolCallRequest{Name: "terminal_command", Arguments: `{"command":"ls"}`}

	tests := []struct {
		name    string
		history []Message
		window  int
		want    bool
	}{
		{"same call repeated", historyOf(a, a, a, a), 4, true},
		{"alternating pair", historyOf(a, b, a, b, a, b), 6, true},
		{"repeating triple", historyOf(a, b, c, a, b, c), 6, true},
		{"varied calls", historyOf(a, b, c, b, a, c), 6, false},
		{"too few calls", historyOf(a, a), 4, false},
		{"disabled", historyOf(a, a, a), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLoop(tt.history, tt.window); got != tt.want {
				t.Errorf("DetectLoop = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailureTracker(t *testing.T) {
	f := make(failureTracker)
	call := ToolCallRequest{Name: "read_file", Arguments: `{"path":"missing"}`}
	fail := ToolResult{Error: &ToolError{Kind: ErrorToolExecutionFailed}}

	if f.record(call, ToolResult{Success: true}) {
		t.Error("a success should never warn")
	}
	if f.record(call, fail) {
		t.Error("first failure should not warn")
	}
	if !f.record(call, fail) {
		t.Error("second identical failure should warn")
	}
	if f.record(call, fail) {
		t.Error("the warning fires only once")
	}
	other := ToolCallRequest{Name: "read_file", Arguments: `{"path":"other"}`}
	if f.record(other, fail) {
		t.Error("different arguments are tracked separately")
	}
}
