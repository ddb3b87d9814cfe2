package unifiedllm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseToolCallsArray(t *testing.T) {
	text := `Let me look.
[{"name": "terminal_command", "arguments": {"command": "ls -la"}}]`

	calls := parseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "terminal_command" {
		t.Errorf("expected name terminal_command, got %q", calls[0].Name)
	}
	if !strings.HasPrefix(calls[0].ID, "call_") {
		t.Errorf("expected generated call ID, got %q", calls[0].ID)
	}
	var args map[string]string
	if err := json.Unmarshal(calls[0].Arguments, &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["command"] != "ls -la" {
		t.Errorf("expected command arg, got %v", args)
	}
}

func TestParseToolCallsWrapped(t *testing.T) {
	text := `{"tool_calls": [{"id": "abc", "name": "file_info", "arguments": {"path": "go.mod"}}, {"name": "file_stats"}]} trailing`

	calls := parseToolCalls(text)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "abc" {
		t.Errorf("expected ID to be preserved, got %q", calls[0].ID)
	}
	if string(calls[1].Arguments) != `{}` {
		t.Errorf("expected empty arguments to default to {}, got %s", calls[1].Arguments)
	}
}

func TestParseToolCallsNone(t *testing.T) {
	if calls := parseToolCalls("just prose"); calls != nil {
		t.Errorf("expected no calls, got %v", calls)
	}
	if calls := parseToolCalls(`[{"name": broken`); len(calls) != 0 {
		t.Errorf("expected malformed JSON to yield no calls, got %v", calls)
	}
}

func TestRemoveToolCallJSON(t *testing.T) {
	text := "Running it now.\n[{\"name\": \"x\", \"arguments\": {}}]"
	calls := parseToolCalls(text)
	if got := removeToolCallJSON(text, calls); got != "Running it now." {
		t.Errorf("unexpected cleaned text %q", got)
	}
	if got := removeToolCallJSON("plain", nil); got != "plain" {
		t.Errorf("expected text unchanged without calls, got %q", got)
	}
}

func TestSafeForwardLimit(t *testing.T) {
	if got := safeForwardLimit("short"); got != 0 {
		t.Errorf("expected nothing forwardable from a short buffer, got %d", got)
	}
	text := strings.Repeat("a", 40)
	want := 40 - (len(`{"tool_calls"`) - 1)
	if got := safeForwardLimit(text); got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
	// Never split a multi-byte rune.
	multi := strings.Repeat("é", 20)
	limit := safeForwardLimit(multi)
	if !strings.HasPrefix(multi, multi[:limit]) || (limit > 0 && multi[limit-1] == 0xc3) {
		t.Errorf("limit %d splits a rune", limit)
	}
}

func TestToolCallMarkerIndex(t *testing.T) {
	if idx := toolCallMarkerIndex(`abc [{"name": "x"}]`); idx != 4 {
		t.Errorf("expected 4, got %d", idx)
	}
	if idx := toolCallMarkerIndex(`{"tool_calls": []} [{"name"`); idx != 0 {
		t.Errorf("expected earliest marker, got %d", idx)
	}
	if idx := toolCallMarkerIndex("none"); idx != -1 {
		t.Errorf("expected -1, got %d", idx)
	}
}

func TestGollmBuildResponse(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai", model: "gpt-4o"}

	resp := adapter.buildResponse(Request{}, "Hello there")
	if resp.Text() != "Hello there" {
		t.Errorf("unexpected text %q", resp.Text())
	}
	if resp.FinishReason.Reason != "stop" {
		t.Errorf("expected stop, got %q", resp.FinishReason.Reason)
	}
	if resp.Model != "gpt-4o" {
		t.Errorf("expected adapter default model, got %q", resp.Model)
	}

	resp = adapter.buildResponse(Request{Model: "gpt-4o-mini"}, `ok [{"name": "file_info", "arguments": {"path": "a"}}]`)
	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("expected tool_calls, got %q", resp.FinishReason.Reason)
	}
	if len(resp.ToolCalls()) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls()))
	}
	if resp.Text() != "ok" {
		t.Errorf("expected JSON stripped from text, got %q", resp.Text())
	}
}

func TestEmitToolCalls(t *testing.T) {
	var events []StreamEvent
	send := func(ev StreamEvent) bool {
		events = append(events, ev)
		return true
	}
	calls := []ToolCallData{
		{ID: "a", Name: "one", Arguments: json.RawMessage(`{"x":1}`)},
		{ID: "b", Name: "two", Arguments: json.RawMessage(`{}`)},
	}
	if !emitToolCalls(send, calls) {
		t.Fatal("expected emission to complete")
	}
	if len(events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(events))
	}
	if events[3].Type != ToolCallStart || events[3].ToolCallIndex != 1 || events[3].ToolCall.Name != "two" {
		t.Errorf("unexpected second start event %+v", events[3])
	}
	if events[1].Delta != `{"x":1}` {
		t.Errorf("unexpected delta %q", events[1].Delta)
	}
}

func TestEstimateTokens(t *testing.T) {
	req := Request{Messages: []Message{UserMessage("Hello world, this is a test message.")}}
	if tokens := estimateTokens(req); tokens <= 0 {
		t.Errorf("expected positive token estimate, got %d", tokens)
	}
}

func TestEstimateTokensEmpty(t *testing.T) {
	if tokens := estimateTokens(Request{}); tokens != 10 {
		t.Errorf("expected default token estimate of 10, got %d", tokens)
	}
}
