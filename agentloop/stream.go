package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/martinemde/supernova/unifiedllm"
)

// Assembly is a fully assembled model response.
type Assembly struct {
	Message      Message
	FinishReason unifiedllm.FinishReason
	Usage        unifiedllm.Usage
}

// WantsToolCalls reports whether the assembled message requests tools.
func (a *Assembly) WantsToolCalls() bool {
	return a != nil && a.Message.HasToolCalls()
}

// StreamProcessor consumes stream chunks and assembles one assistant
// message. Text deltas are forwarded to onText as they arrive. A processor
// holds no state between calls.
type StreamProcessor struct {
	onText     func(delta string)
	onToolCall func(index int, id, name string)
}

// NewStreamProcessor creates a processor. onText may be nil.
func NewStreamProcessor(onText func(delta string)) *StreamProcessor {
	if onText == nil {
		onText = func(string) {}
	}
	return &StreamProcessor{onText: onText, onToolCall: func(int, string, string) {}}
}

// OnToolCall sets a hook fired once per streamed tool call, as soon as its
// name is known and before its arguments finish arriving.
func (p *StreamProcessor) OnToolCall(fn func(index int, id, name string)) *StreamProcessor {
	if fn != nil {
		p.onToolCall = fn
	}
	return p
}

type pendingCall struct {
	id        string
	name      string
	args      strings.Builder
	closed    bool
	announced bool
}

type accumulator struct {
	text  strings.Builder
	calls map[int]*pendingCall
}

func (a *accumulator) call(index int) *pendingCall {
	if a.calls == nil {
		a.calls = make(map[int]*pendingCall)
	}
	c, ok := a.calls[index]
	if !ok {
		c = &pendingCall{}
		a.calls[index] = c
	}
	return c
}

// Process reads events until the completion marker. It returns a
// *StreamFailure for a provider error, a stream that ends without the
// marker, or a tool call that cannot be assembled. Cancellation returns the
// context's error and no message.
func (p *StreamProcessor) Process(ctx context.Context, events <-chan unifiedllm.StreamEvent) (*Assembly, error) {
	var acc accumulator
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, &StreamFailure{Reason: "stream ended before the completion marker"}
			}

			switch ev.Type {
			case unifiedllm.TextDelta:
				if ev.Delta == "" {
					continue
				}
				acc.text.WriteString(ev.Delta)
				p.onText(ev.Delta)

			case unifiedllm.ToolCallStart, unifiedllm.ToolCallDelta:
				c := acc.call(ev.ToolCallIndex)
				if ev.ToolCall != nil {
					if ev.ToolCall.ID != "" {
						c.id = ev.ToolCall.ID
					}
					if ev.ToolCall.Name != "" {
						c.name = ev.ToolCall.Name
					}
				}
				if c.name != "" && !c.announced {
					c.announced = true
					p.onToolCall(ev.ToolCallIndex, c.id, c.name)
				}
				if ev.Type == unifiedllm.ToolCallDelta {
					c.args.WriteString(ev.Delta)
				}

			case unifiedllm.ToolCallEnd:
				acc.call(ev.ToolCallIndex).closed = true

			case unifiedllm.StreamError:
				return nil, &StreamFailure{Reason: "provider reported a stream error", Cause: ev.Error}

			case unifiedllm.StreamFinish:
				return acc.assemble(ev)
			}
		}
	}
}

func (a *accumulator) assemble(finish unifiedllm.StreamEvent) (*Assembly, error) {
	indexes := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var calls []ToolCallRequest
	for _, idx := range indexes {
		c := a.calls[idx]
		if c.name == "" {
			return nil, &StreamFailure{Reason: fmt.Sprintf("tool call %d has no name", idx)}
		}
		args := strings.TrimSpace(c.args.String())
		if !c.closed && args != "" && !json.Valid([]byte(args)) {
			return nil, &StreamFailure{Reason: fmt.Sprintf("tool call %d (%s) ended with incomplete arguments", idx, c.name)}
		}
		calls = append(calls, newToolCallRequest(c.id, c.name, args))
	}

	asm := &Assembly{Message: NewAssistantMessage(a.text.String(), calls)}
	if finish.FinishReason != nil {
		asm.FinishReason = *finish.FinishReason
	}
	if finish.Usage != nil {
		asm.Usage = *finish.Usage
	}
	return asm, nil
}

// Ingest converts a non-streamed response into the same assembly a stream
// would produce, forwarding its text as a single delta.
func (p *StreamProcessor) Ingest(resp *unifiedllm.Response) *Assembly {
	text := resp.Text()
	if text != "" {
		p.onText(text)
	}
	var calls []ToolCallRequest
	for _, tc := range resp.ToolCalls() {
		calls = append(calls, newToolCallRequest(tc.ID, tc.Name, strings.TrimSpace(string(tc.Arguments))))
	}
	return &Assembly{
		Message:      NewAssistantMessage(text, calls),
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
	}
}

func newToolCallRequest(id, name, args string) ToolCallRequest {
	if id == "" {
		id = newCallID()
	}
	if args == "" || args == "null" {
		args = "{}"
	}
	return ToolCallRequest{ID: id, Name: name, Arguments: args}
}

func newCallID() string { return "call_" + uuid.New().String() }
