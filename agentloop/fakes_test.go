package agentloop

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/martinemde/supernova/unifiedllm"
)

// scriptedClient is a test double for LLMClient. Each call is answered by
// the corresponding func with a zero-based call number.
type scriptedClient struct {
	mu            sync.Mutex
	stream        func(ctx context.Context, n int) (<-chan unifiedllm.StreamEvent, error)
	complete      func(n int) (*unifiedllm.Response, error)
	streamCalls   int
	completeCalls int
	requests      []unifiedllm.Request
}

func (c *scriptedClient) Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	c.mu.Lock()
	n := c.streamCalls
	c.streamCalls++
	c.requests = append(c.requests, req)
	fn := c.stream
	c.mu.Unlock()
	if fn == nil {
		return nil, &unifiedllm.ConfigurationError{}
	}
	return fn(ctx, n)
}

func (c *scriptedClient) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	c.mu.Lock()
	n := c.completeCalls
	c.completeCalls++
	c.requests = append(c.requests, req)
	fn := c.complete
	c.mu.Unlock()
	if fn == nil {
		return nil, &unifiedllm.ConfigurationError{}
	}
	return fn(n)
}

func (c *scriptedClient) counts() (streams, completes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamCalls, c.completeCalls
}

// feed returns a closed channel pre-loaded with events.
func feed(events ...unifiedllm.StreamEvent) <-chan unifiedllm.StreamEvent {
	ch := make(chan unifiedllm.StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func finishEvent(reason string) unifiedllm.StreamEvent {
	return unifiedllm.StreamEvent{Type: unifiedllm.StreamFinish, FinishReason: &unifiedllm.FinishReason{Reason: reason}}
}

func textEvents(text string) []unifiedllm.StreamEvent {
	return []unifiedllm.StreamEvent{
		{Type: unifiedllm.StreamStart},
		{Type: unifiedllm.TextDelta, Delta: text},
		finishEvent("stop"),
	}
}

func toolEvents(id, name, args string) []unifiedllm.StreamEvent {
	return []unifiedllm.StreamEvent{
		{Type: unifiedllm.StreamStart},
		{Type: unifiedllm.ToolCallStart, ToolCallIndex: 0, ToolCall: &unifiedllm.ToolCallData{ID: id, Name: name}},
		{Type: unifiedllm.ToolCallDelta, ToolCallIndex: 0, Delta: args},
		{Type: unifiedllm.ToolCallEnd, ToolCallIndex: 0},
		finishEvent("tool_calls"),
	}
}

func textResponse(text string) *unifiedllm.Response {
	return &unifiedllm.Response{
		Message:      unifiedllm.AssistantMessage(text),
		FinishReason: unifiedllm.FinishReason{Reason: "stop"},
	}
}

func toolResponse(calls ...unifiedllm.ToolCallData) *unifiedllm.Response {
	msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
	for _, c := range calls {
		msg.Content = append(msg.Content, unifiedllm.ToolCallPart(c.ID, c.Name, c.Arguments))
	}
	return &unifiedllm.Response{Message: msg, FinishReason: unifiedllm.FinishReason{Reason: "tool_calls"}}
}

func call(id, name, args string) unifiedllm.ToolCallData {
	return unifiedllm.ToolCallData{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// recordingSink keeps every event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (r *recordingSink) Emit(ev SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) ofKind(kind EventKind) []SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SessionEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// recordingTool counts invocations and returns a fixed output.
type recordingTool struct {
	mu     sync.Mutex
	calls  int
	args   []Arguments
	output any
	err    error
}

func (r *recordingTool) executor(ctx context.Context, args Arguments, scope *ExecScope) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.args = append(r.args, args)
	return r.output, r.err
}

func (r *recordingTool) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func commandTool(rec *recordingTool) RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        "terminal_command",
			Description: "Run a shell command.",
			Schema: ArgumentSchema{
				{Name: "command", Type: TypeString, Required: true, Description: "Command to run."},
				{Name: "explanation", Type: TypeString, Description: "Why."},
			},
		},
		Executor:      rec.executor,
		SideEffecting: true,
		Command:       func(args Arguments) string { return args.String("command") },
	}
}

func echoTool(name string, rec *recordingTool) RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:   name,
			Schema: ArgumentSchema{{Name: "value", Type: TypeString}},
		},
		Executor: rec.executor,
	}
}

func newTestRegistry(t *testing.T, tools ...RegisteredTool) *ToolRegistry {
	t.Helper()
	reg := NewToolRegistry()
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Definition.Name, err)
		}
	}
	return reg
}

func testConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.EnableLoopDetection = false
	return cfg
}

func newTestSession(t *testing.T, client LLMClient, reg *ToolRegistry, cfg SessionConfig, opts ...SessionOption) (*Session, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	opts = append([]SessionOption{
		WithConfig(cfg),
		WithEventSink(sink),
		WithRetryPolicy(unifiedllm.NoRetry()),
	}, opts...)
	s := NewSession(client, Profile{Provider: "test", Model: "test-model", ContextWindow: 128000}, reg,
		NewLocalExecutionEnvironment(t.TempDir()), opts...)
	t.Cleanup(s.Close)
	return s, sink
}
