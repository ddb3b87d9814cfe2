package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// toolCallMarkers introduce tool call JSON embedded in gollm's text output.
var toolCallMarkers = []string{`{"tool_calls"`, `[{"name"`}

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
// gollm flattens the conversation into one prompt and returns text, so
// tool calls are recovered from JSON the model writes into its reply.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If no API key is given, gollm reads the provider's usual environment variable.
func NewGollmAdapter(provider string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		maxTokens:   4096,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := ResolveModel(cfg.model)
	if model == "" {
		if info := DefaultModel(provider); info != nil {
			model = info.ID
		} else {
			return nil, &ConfigurationError{SDKError: SDKError{
				Message: fmt.Sprintf("no model configured for provider %q", provider),
			}}
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // the session owns retries
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("create gollm client for provider %s", provider),
			Cause:   err,
		}}
	}

	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider, model string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// SupportsStreaming reports whether both gollm's backend and the model stream.
func (a *GollmAdapter) SupportsStreaming(model string) bool {
	if model == "" {
		model = a.model
	}
	return a.llm.SupportsStreaming() && StreamsNatively(model)
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, ClassifyError(a.provider, err)
	}
	return a.buildResponse(req, text), nil
}

// Stream sends a streaming request and returns a channel of StreamEvent objects.
// Text before any embedded tool call JSON is forwarded as it arrives; the
// JSON itself is held back and re-emitted as tool call events at the end.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	ch := make(chan StreamEvent, 64)
	send := func(ev StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !a.llm.SupportsStreaming() {
		// Generate the full response and deliver it as one synthetic chunk.
		go func() {
			defer close(ch)
			text, err := a.llm.Generate(ctx, prompt)
			if err != nil {
				send(StreamEvent{Type: StreamError, Error: ClassifyError(a.provider, err)})
				return
			}
			a.emitResponse(send, a.buildResponse(req, text))
		}()
		return ch, nil
	}

	stream, err := a.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, ClassifyError(a.provider, err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		if !send(StreamEvent{Type: StreamStart}) {
			return
		}

		var full strings.Builder
		forwarded := 0
		held := false
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				send(StreamEvent{Type: StreamError, Error: &StreamInterruptedError{SDKError: SDKError{
					Message: "gollm stream interrupted",
					Cause:   ClassifyError(a.provider, err),
				}}})
				return
			}
			if token == nil || held {
				if token != nil {
					full.WriteString(token.Text)
				}
				continue
			}
			full.WriteString(token.Text)

			text := full.String()
			limit := safeForwardLimit(text)
			if cut := toolCallMarkerIndex(text); cut >= 0 {
				held = true
				limit = cut
			}
			if limit > forwarded {
				if !send(StreamEvent{Type: TextDelta, Delta: text[forwarded:limit]}) {
					return
				}
				forwarded = limit
			}
		}

		text := full.String()
		calls := parseToolCalls(text)
		if !held && forwarded < len(text) {
			if !send(StreamEvent{Type: TextDelta, Delta: text[forwarded:]}) {
				return
			}
		} else if held && len(calls) == 0 && forwarded < len(text) {
			// The marker was not followed by parseable tool calls; it was prose.
			if !send(StreamEvent{Type: TextDelta, Delta: text[forwarded:]}) {
				return
			}
		}

		if !emitToolCalls(send, calls) {
			return
		}
		resp := a.buildResponse(req, text)
		send(StreamEvent{
			Type:         StreamFinish,
			FinishReason: &resp.FinishReason,
			Usage:        &resp.Usage,
		})
	}()

	return ch, nil
}

// emitResponse replays a complete response as stream events.
func (a *GollmAdapter) emitResponse(send func(StreamEvent) bool, resp *Response) {
	if !send(StreamEvent{Type: StreamStart}) {
		return
	}
	if text := resp.Text(); text != "" {
		if !send(StreamEvent{Type: TextDelta, Delta: text}) {
			return
		}
	}
	if !emitToolCalls(send, resp.ToolCalls()) {
		return
	}
	send(StreamEvent{Type: StreamFinish, FinishReason: &resp.FinishReason, Usage: &resp.Usage})
}

func emitToolCalls(send func(StreamEvent) bool, calls []ToolCallData) bool {
	for i, tc := range calls {
		call := ToolCallData{ID: tc.ID, Name: tc.Name}
		if !send(StreamEvent{Type: ToolCallStart, ToolCallIndex: i, ToolCall: &call}) {
			return false
		}
		if !send(StreamEvent{Type: ToolCallDelta, ToolCallIndex: i, Delta: string(tc.Arguments)}) {
			return false
		}
		if !send(StreamEvent{Type: ToolCallEnd, ToolCallIndex: i}) {
			return false
		}
	}
	return true
}

// safeForwardLimit returns how much of text can be forwarded without
// splitting a tool call marker that may still be arriving.
func safeForwardLimit(text string) int {
	longest := 0
	for _, m := range toolCallMarkers {
		if len(m) > longest {
			longest = len(m)
		}
	}
	limit := len(text) - (longest - 1)
	if limit <= 0 {
		return 0
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return limit
}

func toolCallMarkerIndex(text string) int {
	best := -1
	for _, m := range toolCallMarkers {
		if idx := strings.Index(text, m); idx != -1 && (best == -1 || idx < best) {
			best = idx
		}
	}
	return best
}

// translateRequest converts a unified Request into a gollm Prompt.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var systemPrompt strings.Builder
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt.WriteString(msg.TextContent())
			systemPrompt.WriteString("\n")
		case RoleUser:
			parts = append(parts, "[User]: "+msg.TextContent())
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				parts = append(parts, "[Assistant]: "+text)
			}
			if calls := msg.ToolCalls(); len(calls) > 0 {
				encoded, _ := json.Marshal(toolCallsForPrompt(calls))
				parts = append(parts, "[Assistant tool calls]: "+string(encoded))
			}
		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind != ContentToolResult || part.ToolResult == nil {
					continue
				}
				prefix := "[Tool Result " + part.ToolResult.ToolCallID + "]"
				if part.ToolResult.IsError {
					prefix = "[Tool Error " + part.ToolResult.ToolCallID + "]"
				}
				parts = append(parts, prefix+": "+part.ToolResult.Content)
			}
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if sp := strings.TrimSpace(systemPrompt.String()); sp != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(sp, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}
	if req.ToolChoice != nil {
		promptOpts = append(promptOpts, gollm.WithToolChoice(req.ToolChoice.Mode))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

type promptToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func toolCallsForPrompt(calls []ToolCallData) []promptToolCall {
	out := make([]promptToolCall, len(calls))
	for i, c := range calls {
		out[i] = promptToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", ResolveModel(req.Model))
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// buildResponse constructs a unified Response from the generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	calls := parseToolCalls(text)
	var content []ContentPart
	if cleaned := removeToolCallJSON(text, calls); cleaned != "" {
		content = append(content, TextPart(cleaned))
	}
	for _, tc := range calls {
		content = append(content, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}
	if len(content) == 0 {
		content = []ContentPart{TextPart(text)}
	}

	finish := FinishReason{Reason: "stop", Raw: "stop"}
	if len(calls) > 0 {
		finish = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	input := estimateTokens(req)
	output := len(text) / 4 // gollm does not expose usage
	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      Message{Role: RoleAssistant, Content: content},
		FinishReason: finish,
		Usage: Usage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
	}
}

// parseToolCalls extracts tool calls the model wrote as JSON, either as a
// bare array of {name, arguments} or wrapped in {"tool_calls": [...]}.
func parseToolCalls(text string) []ToolCallData {
	start := toolCallMarkerIndex(text)
	if start == -1 {
		return nil
	}

	type rawCall struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	var raw []rawCall

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	if strings.HasPrefix(text[start:], "[") {
		if err := dec.Decode(&raw); err != nil {
			return nil
		}
	} else {
		var wrapped struct {
			ToolCalls []rawCall `json:"tool_calls"`
		}
		if err := dec.Decode(&wrapped); err != nil {
			return nil
		}
		raw = wrapped.ToolCalls
	}

	calls := make([]ToolCallData, 0, len(raw))
	for _, rc := range raw {
		if rc.Name == "" {
			continue
		}
		id := rc.ID
		if id == "" {
			id = "call_" + uuid.New().String()[:8]
		}
		args := rc.Arguments
		if len(args) == 0 || string(args) == "null" {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, ToolCallData{ID: id, Name: rc.Name, Arguments: args})
	}
	return calls
}

// removeToolCallJSON strips parsed tool call JSON from the text.
func removeToolCallJSON(text string, calls []ToolCallData) string {
	if len(calls) == 0 {
		return text
	}
	if idx := toolCallMarkerIndex(text); idx != -1 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

// estimateTokens provides a rough token count estimate from request messages.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				total += len(part.Text) / 4
			case ContentToolResult:
				if part.ToolResult != nil {
					total += len(part.ToolResult.Content) / 4
				}
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
