package agentloop

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/martinemde/supernova/unifiedllm"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRequest is a model-emitted request to invoke a tool. Arguments is
// the raw argument text exactly as the model produced it.
type ToolCallRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single entry in the session transcript.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolName   string            `json:"tool_name,omitempty"`
	IsError    bool              `json:"is_error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: time.Now()}
}

// NewAssistantMessage creates an assistant message with optional tool calls.
func NewAssistantMessage(content string, toolCalls []ToolCallRequest) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls, Timestamp: time.Now()}
}

// NewToolMessage creates the tool-role message answering one tool call.
func NewToolMessage(result ToolResult) Message {
	return Message{
		Role:       RoleTool,
		Content:    result.Content(),
		ToolCallID: result.ToolCallID,
		ToolName:   result.ToolName,
		IsError:    !result.Success,
		Timestamp:  time.Now(),
	}
}

// HasToolCalls reports whether an assistant message requests tools.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ConvertHistoryToMessages converts the transcript into LLM messages.
func ConvertHistoryToMessages(history []Message) []unifiedllm.Message {
	messages := make([]unifiedllm.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case RoleUser:
			messages = append(messages, unifiedllm.UserMessage(msg.Content))
		case RoleSystem:
			messages = append(messages, unifiedllm.SystemMessage(msg.Content))
		case RoleAssistant:
			out := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
			if msg.Content != "" {
				out.Content = append(out.Content, unifiedllm.TextPart(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := json.RawMessage(tc.Arguments)
				// Providers reject malformed argument JSON in history.
				if !json.Valid(args) {
					args = json.RawMessage(`{}`)
				}
				out.Content = append(out.Content, unifiedllm.ToolCallPart(tc.ID, tc.Name, args))
			}
			if len(out.Content) == 0 {
				out.Content = []unifiedllm.ContentPart{unifiedllm.TextPart("")}
			}
			messages = append(messages, out)
		case RoleTool:
			messages = append(messages,
				unifiedllm.ToolResultMessage(msg.ToolCallID, msg.ToolName, msg.Content, msg.IsError))
		}
	}
	return messages
}

// ValidateTranscript checks that every tool call in the history is answered
// by exactly one tool message, in emission order, before the conversation
// moves on.
func ValidateTranscript(history []Message) error {
	var pending []string
	seen := make(map[string]bool)

	for i, msg := range history {
		switch msg.Role {
		case RoleTool:
			if len(pending) == 0 || pending[0] != msg.ToolCallID {
				return fmt.Errorf("%w: message %d answers %q out of order", ErrInvalidTranscript, i, msg.ToolCallID)
			}
			pending = pending[1:]
		default:
			if len(pending) > 0 {
				return fmt.Errorf("%w: message %d follows unanswered tool call %q", ErrInvalidTranscript, i, pending[0])
			}
			if msg.Role != RoleAssistant {
				continue
			}
			for _, tc := range msg.ToolCalls {
				if tc.ID == "" {
					return fmt.Errorf("%w: message %d has a tool call without an ID", ErrInvalidTranscript, i)
				}
				if seen[tc.ID] {
					return fmt.Errorf("%w: duplicate tool call ID %q", ErrInvalidTranscript, tc.ID)
				}
				seen[tc.ID] = true
				pending = append(pending, tc.ID)
			}
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: tool call %q has no result", ErrInvalidTranscript, pending[0])
	}
	return nil
}
