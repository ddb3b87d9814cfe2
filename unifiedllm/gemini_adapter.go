package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// geminiModels is the subset of *genai.Models the adapter uses.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// GeminiAdapter implements ProviderAdapter on the Google Gen AI SDK. Unlike
// gollm it streams function calls natively.
type GeminiAdapter struct {
	models      geminiModels
	model       string
	temperature *float32
}

// NewGeminiAdapter creates a Gemini adapter. An empty model selects the
// catalog default.
func NewGeminiAdapter(ctx context.Context, apiKey, model string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "gemini: API key is required"}}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "gemini: create client", Cause: err}}
	}
	return newGeminiAdapter(client.Models, model), nil
}

func newGeminiAdapter(models geminiModels, model string) *GeminiAdapter {
	model = ResolveModel(model)
	if model == "" {
		if info := DefaultModel("gemini"); info != nil {
			model = info.ID
		}
	}
	t := float32(0.2)
	return &GeminiAdapter{models: models, model: model, temperature: &t}
}

// Name returns the provider identifier.
func (a *GeminiAdapter) Name() string { return "gemini" }

// SupportsStreaming consults the catalog for the model.
func (a *GeminiAdapter) SupportsStreaming(model string) bool {
	if model == "" {
		model = a.model
	}
	return StreamsNatively(model)
}

// Complete sends a blocking GenerateContent call.
func (a *GeminiAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	model, contents, config := a.translateRequest(req)
	resp, err := a.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, ClassifyError(a.Name(), err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &MalformedResponseError{SDKError: SDKError{Message: "gemini: response has no candidates"}}
	}

	var text strings.Builder
	var content []ContentPart
	for _, part := range candidateParts(resp) {
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			content = append(content, geminiToolCallPart(part.FunctionCall))
		}
	}
	if text.Len() > 0 {
		content = append([]ContentPart{TextPart(text.String())}, content...)
	}

	out := &Response{
		ID:       "resp_" + uuid.New().String()[:8],
		Model:    model,
		Provider: a.Name(),
		Message:  Message{Role: RoleAssistant, Content: content},
		Usage:    geminiUsage(resp),
	}
	out.FinishReason = geminiFinishReason(resp, len(out.ToolCalls()) > 0)
	return out, nil
}

// Stream sends a GenerateContentStream call. Each function call part is
// emitted as a start/delta/end triple on its own index.
func (a *GeminiAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	model, contents, config := a.translateRequest(req)
	seq := a.models.GenerateContentStream(ctx, model, contents, config)

	ch := make(chan StreamEvent, 64)
	send := func(ev StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		if !send(StreamEvent{Type: StreamStart}) {
			return
		}

		index := 0
		var last *genai.GenerateContentResponse
		for resp, err := range seq {
			if err != nil {
				send(StreamEvent{Type: StreamError, Error: &StreamInterruptedError{SDKError: SDKError{
					Message: "gemini stream interrupted",
					Cause:   ClassifyError(a.Name(), err),
				}}})
				return
			}
			if resp == nil {
				continue
			}
			last = resp
			for _, part := range candidateParts(resp) {
				if part.Text != "" && !part.Thought {
					if !send(StreamEvent{Type: TextDelta, Delta: part.Text}) {
						return
					}
				}
				if part.FunctionCall == nil {
					continue
				}
				tc := geminiToolCallPart(part.FunctionCall).ToolCall
				if !send(StreamEvent{Type: ToolCallStart, ToolCallIndex: index, ToolCall: &ToolCallData{ID: tc.ID, Name: tc.Name}}) {
					return
				}
				if !send(StreamEvent{Type: ToolCallDelta, ToolCallIndex: index, Delta: string(tc.Arguments)}) {
					return
				}
				if !send(StreamEvent{Type: ToolCallEnd, ToolCallIndex: index}) {
					return
				}
				index++
			}
		}

		finish := FinishReason{Reason: "stop", Raw: "STOP"}
		usage := Usage{}
		if last != nil {
			finish = geminiFinishReason(last, index > 0)
			usage = geminiUsage(last)
		}
		send(StreamEvent{Type: StreamFinish, FinishReason: &finish, Usage: &usage})
	}()

	return ch, nil
}

func (a *GeminiAdapter) translateRequest(req Request) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := ResolveModel(req.Model)
	if model == "" {
		model = a.model
	}

	config := &genai.GenerateContentConfig{Temperature: a.temperature}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}

	var system strings.Builder
	var contents []*genai.Content
	names := make(map[string]string) // tool call ID -> tool name

	for _, msg := range req.Messages {
		var parts []*genai.Part
		role := "user"
		switch msg.Role {
		case RoleSystem:
			system.WriteString(msg.TextContent())
			system.WriteString("\n")
			continue
		case RoleAssistant:
			role = "model"
			if text := msg.TextContent(); text != "" {
				parts = append(parts, &genai.Part{Text: text})
			}
			for _, tc := range msg.ToolCalls() {
				names[tc.ID] = tc.Name
				var args map[string]any
				_ = json.Unmarshal(tc.Arguments, &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
		case RoleTool:
			for _, p := range msg.Content {
				if p.Kind != ContentToolResult || p.ToolResult == nil {
					continue
				}
				name := p.ToolResult.Name
				if name == "" {
					name = names[p.ToolResult.ToolCallID]
				}
				key := "output"
				if p.ToolResult.IsError {
					key = "error"
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       p.ToolResult.ToolCallID,
					Name:     name,
					Response: map[string]any{key: p.ToolResult.Content},
				}})
			}
		default:
			parts = append(parts, &genai.Part{Text: msg.TextContent()})
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	if s := strings.TrimSpace(system.String()); s != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: s}}}
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaFromJSON(t.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return model, contents, config
}

// schemaFromJSON converts a JSON Schema object into genai's schema type.
func schemaFromJSON(m map[string]interface{}) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genaiType(t)
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]interface{}); ok {
				s.Properties[name] = schemaFromJSON(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]interface{}); ok {
		s.Items = schemaFromJSON(items)
	}
	switch req := m["required"].(type) {
	case []string:
		s.Required = append(s.Required, req...)
	case []interface{}:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s
}

func genaiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeObject
	}
}

func candidateParts(resp *genai.GenerateContentResponse) []*genai.Part {
	var parts []*genai.Part
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		parts = append(parts, cand.Content.Parts...)
	}
	return parts
}

func geminiToolCallPart(fc *genai.FunctionCall) ContentPart {
	id := fc.ID
	if id == "" {
		id = "call_" + uuid.New().String()[:8]
	}
	args, err := json.Marshal(fc.Args)
	if err != nil || fc.Args == nil {
		args = json.RawMessage(`{}`)
	}
	return ToolCallPart(id, fc.Name, args)
}

func geminiFinishReason(resp *genai.GenerateContentResponse, hasToolCalls bool) FinishReason {
	raw := ""
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		raw = string(resp.Candidates[0].FinishReason)
	}
	if hasToolCalls {
		return FinishReason{Reason: "tool_calls", Raw: raw}
	}
	switch raw {
	case "", "STOP":
		return FinishReason{Reason: "stop", Raw: raw}
	case "MAX_TOKENS":
		return FinishReason{Reason: "length", Raw: raw}
	case "SAFETY", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return FinishReason{Reason: "content_filter", Raw: raw}
	default:
		return FinishReason{Reason: "other", Raw: raw}
	}
}

func geminiUsage(resp *genai.GenerateContentResponse) Usage {
	if resp.UsageMetadata == nil {
		return Usage{}
	}
	u := resp.UsageMetadata
	return Usage{
		InputTokens:  int(u.PromptTokenCount),
		OutputTokens: int(u.CandidatesTokenCount),
		TotalTokens:  int(u.TotalTokenCount),
	}
}

// String identifies the adapter in logs.
func (a *GeminiAdapter) String() string {
	return fmt.Sprintf("gemini(%s)", a.model)
}
