package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/martinemde/supernova/unifiedllm"
)

// SessionState represents where a session is within a turn.
type SessionState string

const (
	StateIdle                  SessionState = "idle"
	StateAwaitingModelResponse SessionState = "awaiting_model_response"
	StateStreaming             SessionState = "streaming"
	StateNonStreaming          SessionState = "non_streaming"
	StateResponseAssembled     SessionState = "response_assembled"
	StateToolCallsPending      SessionState = "tool_calls_pending"
	StateDispatching           SessionState = "dispatching"
	StateIterationLimitReached SessionState = "iteration_limit_reached"
	StateClosed                SessionState = "closed"
)

// SessionConfig holds the settings the session consumes.
type SessionConfig struct {
	Streaming           bool `json:"streaming"`
	MaxToolIterations   int  `json:"max_tool_iterations"`
	ToolResultLineLimit int  `json:"tool_result_line_limit"`
	// StreamFailureThreshold is the number of consecutive turns with a
	// stream failure after which streaming is disabled. 0 never disables.
	StreamFailureThreshold int            `json:"stream_failure_threshold"`
	RequireConfirmation    bool           `json:"require_confirmation"`
	TrustSafeCommands      bool           `json:"trust_safe_commands"`
	CommandTimeout         time.Duration  `json:"command_timeout"`
	ToolLineLimits         map[string]int `json:"tool_line_limits,omitempty"`
	ToolOutputLimits       map[string]int `json:"tool_output_limits,omitempty"`
	EnableLoopDetection    bool           `json:"enable_loop_detection"`
	LoopDetectionWindow    int            `json:"loop_detection_window"`
	ContextWarningRatio    float64        `json:"context_warning_ratio"`
	SystemPrompt           string         `json:"system_prompt,omitempty"`
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Streaming:              true,
		MaxToolIterations:      5,
		ToolResultLineLimit:    5,
		StreamFailureThreshold: 2,
		RequireConfirmation:    true,
		TrustSafeCommands:      false,
		CommandTimeout:         30 * time.Second,
		EnableLoopDetection:    true,
		LoopDetectionWindow:    6,
		ContextWarningRatio:    0.8,
	}
}

// LLMClient is the model backend contract.
type LLMClient interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
	Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error)
}

// StreamingCapability is implemented by clients that know whether a request
// can be streamed. *unifiedllm.Client implements it.
type StreamingCapability interface {
	SupportsStreaming(req unifiedllm.Request) bool
}

// TranscriptRecorder persists appended messages.
type TranscriptRecorder interface {
	RecordMessage(ctx context.Context, msg Message) error
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithConfig replaces the default configuration.
func WithConfig(cfg SessionConfig) SessionOption {
	return func(s *Session) { s.config = cfg }
}

// WithEventSink sends events to sink instead of the built-in emitter.
func WithEventSink(sink EventSink) SessionOption {
	return func(s *Session) { s.sink = sink }
}

// WithConfirmation sets the confirmation callback for side-effecting tools.
func WithConfirmation(fn ConfirmFunc) SessionOption {
	return func(s *Session) { s.confirm = fn }
}

// WithRecorder persists every appended message.
func WithRecorder(r TranscriptRecorder) SessionOption {
	return func(s *Session) { s.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithRetryPolicy sets the retry policy for non-streaming model calls.
func WithRetryPolicy(p unifiedllm.RetryPolicy) SessionOption {
	return func(s *Session) { s.retry = p }
}

// WithSessionSafetyFilter replaces the default command classifier.
func WithSessionSafetyFilter(f *SafetyFilter) SessionOption {
	return func(s *Session) { s.filter = f }
}

// Session owns the transcript and runs one turn at a time.
type Session struct {
	id         string
	client     LLMClient
	profile    Profile
	registry   *ToolRegistry
	env        ExecutionEnvironment
	dispatcher *Dispatcher
	filter     *SafetyFilter
	confirm    ConfirmFunc
	recorder   TranscriptRecorder
	logger     *slog.Logger
	retry      unifiedllm.RetryPolicy

	sink    EventSink
	emitter *EventEmitter // non-nil when the session owns its sink

	mu               sync.Mutex
	config           SessionConfig
	state            SessionState
	history          []Message
	streamingEnabled bool
	streamFailures   int
	turn             int
	seq              int
	running          bool
	cancel           context.CancelFunc
}

// NewSession creates a session.
func NewSession(client LLMClient, profile Profile, registry *ToolRegistry, env ExecutionEnvironment, opts ...SessionOption) *Session {
	s := &Session{
		id:       uuid.New().String(),
		client:   client,
		profile:  profile,
		registry: registry,
		env:      env,
		config:   DefaultSessionConfig(),
		state:    StateIdle,
		logger:   slog.Default(),
		retry:    unifiedllm.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sink == nil {
		s.emitter = NewEventEmitter(256)
		s.sink = s.emitter
	}
	if s.filter == nil {
		s.filter = NewSafetyFilter()
	}
	s.streamingEnabled = s.config.Streaming

	s.dispatcher = NewDispatcher(registry, env,
		WithConfirm(s.confirm),
		WithPolicy(ConfirmationPolicy{
			RequireConfirmation: s.config.RequireConfirmation,
			TrustSafeCommands:   s.config.TrustSafeCommands,
		}),
		WithCommandTimeout(s.config.CommandTimeout),
		WithTruncation(TruncationLimits{
			LineLimit: s.config.ToolResultLineLimit,
			ToolLines: s.config.ToolLineLimits,
			ToolChars: s.config.ToolOutputLimits,
		}),
		WithSafetyFilter(s.filter),
		WithDispatchLogger(s.logger),
	)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Profile returns the model profile.
func (s *Session) Profile() Profile { return s.profile }

// Registry returns the tool registry.
func (s *Session) Registry() *ToolRegistry { return s.registry }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the transcript.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]Message, len(s.history))
	copy(h, s.history)
	return h
}

// Events returns the built-in event channel, or nil when a custom sink was
// supplied with WithEventSink.
func (s *Session) Events() <-chan SessionEvent {
	if s.emitter == nil {
		return nil
	}
	return s.emitter.Events()
}

// Emitter returns the built-in emitter, or nil.
func (s *Session) Emitter() *EventEmitter { return s.emitter }

// StreamingEnabled reports whether model calls currently try streaming.
func (s *Session) StreamingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamingEnabled
}

// SetStreaming turns streaming on or off and resets the failure count.
func (s *Session) SetStreaming(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamingEnabled = enabled
	s.streamFailures = 0
}

// Restore replaces the transcript with a previously recorded one. The
// history must satisfy ValidateTranscript.
func (s *Session) Restore(history []Message) error {
	if err := ValidateTranscript(history); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrTurnInProgress
	}
	s.history = append([]Message(nil), history...)
	return nil
}

// Clear empties the transcript.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrTurnInProgress
	}
	s.history = nil
	return nil
}

// Interrupt cancels the in-flight turn, if any.
func (s *Session) Interrupt() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close interrupts any running turn and closes the built-in emitter.
func (s *Session) Close() {
	s.Interrupt()
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	if s.emitter != nil {
		s.emitter.Close()
	}
}

// Submit runs one turn for userText. It returns nil when the model finishes
// with a plain message, *IterationLimitError when the tool loop is cut off,
// *BackendError for unrecoverable backend failures, ErrTurnCancelled after
// Interrupt or context cancellation, and ErrTurnInProgress if another turn
// is running.
func (s *Session) Submit(ctx context.Context, userText string) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.running {
		s.mu.Unlock()
		return ErrTurnInProgress
	}
	turnCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.turn++
	s.seq = 0
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		if s.state != StateClosed {
			s.state = StateIdle
		}
		s.mu.Unlock()
	}()

	err := s.runTurn(turnCtx, userText)
	if err != nil {
		s.emit(EventTurnError, map[string]interface{}{"error": err.Error()})
		return err
	}
	s.emit(EventTurnComplete, nil)
	return nil
}

// turnState is the per-turn bookkeeping for iteration and fallback rules.
type turnState struct {
	iterations   int
	fellBack     bool
	streamFailed bool
	failures     failureTracker
}

func (s *Session) runTurn(ctx context.Context, userText string) error {
	// 1. Append the user message and reset the iteration count.
	s.appendMessage(ctx, NewUserMessage(userText))
	ts := &turnState{failures: make(failureTracker)}

	for {
		if ctx.Err() != nil {
			return ErrTurnCancelled
		}

		// 2. Call the model.
		s.setState(StateAwaitingModelResponse)
		asm, err := s.callModel(ctx, ts)
		if err != nil {
			if ctx.Err() != nil {
				return ErrTurnCancelled
			}
			return err
		}
		s.setState(StateResponseAssembled)
		msg := asm.Message
		s.claimCallIDs(&msg)

		// 3. A plain message ends the turn.
		if !msg.HasToolCalls() {
			s.appendMessage(ctx, msg)
			s.checkContextUsage()
			return nil
		}

		// 4. Enforce the iteration limit before anything is dispatched.
		ts.iterations++
		s.mu.Lock()
		limit := s.config.MaxToolIterations
		s.mu.Unlock()
		if ts.iterations > limit {
			s.setState(StateIterationLimitReached)
			s.appendMessage(ctx, NewAssistantMessage(fmt.Sprintf(
				"Stopped after %d rounds of tool calls without a final answer. "+
					"Send a follow-up message to continue.", limit), nil))
			return &IterationLimitError{Limit: limit}
		}

		// 5. Record the request and dispatch in emission order.
		s.appendMessage(ctx, msg)
		s.setState(StateToolCallsPending)
		for _, call := range msg.ToolCalls {
			s.emit(EventToolCallDetected, map[string]interface{}{
				"call_id":   call.ID,
				"tool_name": call.Name,
				"arguments": call.Arguments,
			})
		}

		s.setState(StateDispatching)
		if err := s.dispatchAll(ctx, msg.ToolCalls, ts); err != nil {
			return err
		}
		s.setState(StateToolCallsPending)

		// 6. Loop detection.
		s.mu.Lock()
		enableLoop := s.config.EnableLoopDetection
		window := s.config.LoopDetectionWindow
		history := make([]Message, len(s.history))
		copy(history, s.history)
		s.mu.Unlock()
		if enableLoop && DetectLoop(history, window) {
			s.emit(EventWarning, map[string]interface{}{
				"message": fmt.Sprintf("the last %d tool calls follow a repeating pattern", window),
			})
		}
	}
}

// claimCallIDs replaces tool call IDs that are empty or already used in the
// history. Providers may reuse IDs across turns and results must pair with
// exactly one call.
func (s *Session) claimCallIDs(msg *Message) {
	if !msg.HasToolCalls() {
		return
	}
	seen := make(map[string]bool)
	s.mu.Lock()
	for _, m := range s.history {
		for _, tc := range m.ToolCalls {
			seen[tc.ID] = true
		}
	}
	s.mu.Unlock()

	calls := make([]ToolCallRequest, len(msg.ToolCalls))
	copy(calls, msg.ToolCalls)
	for i := range calls {
		if calls[i].ID == "" || seen[calls[i].ID] {
			reissued := newCallID()
			s.logger.Debug("reissued tool call ID", "session", s.id, "tool", calls[i].Name, "from", calls[i].ID, "to", reissued)
			calls[i].ID = reissued
		}
		seen[calls[i].ID] = true
	}
	msg.ToolCalls = calls
}

func (s *Session) dispatchAll(ctx context.Context, calls []ToolCallRequest, ts *turnState) error {
	for i, call := range calls {
		if ctx.Err() != nil {
			// Answer the rest so the transcript has no orphaned calls.
			for _, rest := range calls[i:] {
				s.appendMessage(ctx, NewToolMessage(failedResult(rest, ErrorToolExecutionFailed, "interrupted")))
			}
			return ErrTurnCancelled
		}

		result := s.dispatcher.Dispatch(ctx, call)
		s.appendMessage(ctx, NewToolMessage(result))

		data := map[string]interface{}{
			"call_id":   call.ID,
			"tool_name": call.Name,
			"success":   result.Success,
			"output":    result.FullOutput,
			"truncated": result.Truncated,
		}
		if result.Error != nil {
			data["error_kind"] = string(result.Error.Kind)
			data["error"] = result.Error.Message
		}
		s.emit(EventToolResult, data)

		if ts.failures.record(call, result) {
			s.emit(EventWarning, map[string]interface{}{
				"message": fmt.Sprintf("%s failed twice with the same arguments", call.Name),
			})
		}
	}
	if ctx.Err() != nil {
		return ErrTurnCancelled
	}
	return nil
}

// callModel makes one model call, streaming when allowed, and falls back to
// a single non-streaming call when the stream fails.
func (s *Session) callModel(ctx context.Context, ts *turnState) (*Assembly, error) {
	req := s.buildRequest()
	proc := NewStreamProcessor(func(delta string) {
		s.emit(EventTextDelta, map[string]interface{}{"text": delta})
	}).OnToolCall(func(index int, id, name string) {
		s.emit(EventToolCallStarted, map[string]interface{}{
			"index":     index,
			"call_id":   id,
			"tool_name": name,
		})
	})

	if s.shouldStream(req, ts) {
		s.setState(StateStreaming)
		asm, err := s.streamOnce(ctx, req, proc)
		if err == nil {
			s.mu.Lock()
			s.streamFailures = 0
			s.mu.Unlock()
			return asm, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var failure *StreamFailure
		if !errors.As(err, &failure) {
			failure = &StreamFailure{Reason: "stream could not be opened", Cause: err}
		}
		// A rejected request fails the same way without streaming, so it
		// ends the turn instead of counting as a stream downgrade.
		if requestRejected(failure.Cause) {
			return nil, newBackendError(failure.Cause)
		}
		s.noteStreamFailure(ts, failure)
	}

	s.setState(StateNonStreaming)
	resp, err := unifiedllm.Retry(ctx, s.retry, func(ctx context.Context) (*unifiedllm.Response, error) {
		return s.client.Complete(ctx, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newBackendError(err)
	}
	if resp == nil {
		return nil, &BackendError{Kind: BackendMalformedResponse, Err: errors.New("empty response")}
	}
	return proc.Ingest(resp), nil
}

// requestRejected reports whether err is a provider verdict on the request
// itself. A corrupt stream is not one: the non-streaming call may succeed.
func requestRejected(err error) bool {
	if err == nil {
		return false
	}
	var malformed *unifiedllm.MalformedResponseError
	if errors.As(err, &malformed) {
		return false
	}
	return !unifiedllm.IsRetryable(err)
}

func (s *Session) streamOnce(ctx context.Context, req unifiedllm.Request, proc *StreamProcessor) (*Assembly, error) {
	// Cancelling on return stops the producer when the stream is abandoned.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := s.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return proc.Process(ctx, events)
}

func (s *Session) shouldStream(req unifiedllm.Request, ts *turnState) bool {
	if ts.fellBack {
		return false
	}
	s.mu.Lock()
	enabled := s.streamingEnabled
	s.mu.Unlock()
	if !enabled {
		return false
	}
	if capable, ok := s.client.(StreamingCapability); ok {
		return capable.SupportsStreaming(req)
	}
	return true
}

// noteStreamFailure records a failure once per turn, switches the rest of
// the turn to non-streaming, and disables streaming once the threshold of
// consecutive failing turns is reached.
func (s *Session) noteStreamFailure(ts *turnState, failure *StreamFailure) {
	ts.fellBack = true
	s.logger.Warn("stream failed, retrying without streaming", "session", s.id, "reason", failure.Error())
	s.emit(EventStreamFallback, map[string]interface{}{"reason": failure.Error()})

	if ts.streamFailed {
		return
	}
	ts.streamFailed = true

	s.mu.Lock()
	s.streamFailures++
	threshold := s.config.StreamFailureThreshold
	downgrade := threshold > 0 && s.streamFailures >= threshold && s.streamingEnabled
	if downgrade {
		s.streamingEnabled = false
	}
	failures := s.streamFailures
	s.mu.Unlock()

	if downgrade {
		s.logger.Warn("streaming disabled for this session", "session", s.id, "consecutive_failures", failures)
		s.emit(EventWarning, map[string]interface{}{
			"message": fmt.Sprintf("streaming disabled after %d consecutive stream failures", failures),
		})
	}
}

func (s *Session) buildRequest() unifiedllm.Request {
	s.mu.Lock()
	systemPrompt := s.config.SystemPrompt
	history := make([]Message, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	var messages []unifiedllm.Message
	if systemPrompt != "" {
		messages = append(messages, unifiedllm.SystemMessage(systemPrompt))
	}
	messages = append(messages, ConvertHistoryToMessages(history)...)

	req := unifiedllm.Request{
		Model:    s.profile.Model,
		Provider: s.profile.Provider,
		Messages: messages,
	}
	if s.registry != nil && s.registry.Count() > 0 {
		req.Tools = s.registry.ToUnifiedLLMToolDefs()
		req.ToolChoice = &unifiedllm.ToolChoice{Mode: "auto"}
	}
	return req
}

func (s *Session) appendMessage(ctx context.Context, msg Message) {
	s.mu.Lock()
	s.history = append(s.history, msg)
	recorder := s.recorder
	s.mu.Unlock()

	if recorder == nil {
		return
	}
	// Results appended during cancellation must still be persisted.
	if err := recorder.RecordMessage(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Error("failed to record message", "session", s.id, "role", msg.Role, "error", err)
	}
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = state
	}
}

func (s *Session) emit(kind EventKind, data map[string]interface{}) {
	s.mu.Lock()
	s.seq++
	event := SessionEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: s.id,
		Turn:      s.turn,
		Seq:       s.seq,
		Data:      data,
	}
	sink := s.sink
	s.mu.Unlock()
	sink.Emit(event)
}

// checkContextUsage emits a warning if context usage exceeds the configured
// share of the model's context window.
func (s *Session) checkContextUsage() {
	s.mu.Lock()
	totalChars := len(s.config.SystemPrompt)
	for _, msg := range s.history {
		totalChars += len(msg.Content)
		for _, tc := range msg.ToolCalls {
			totalChars += len(tc.Arguments)
		}
	}
	ratio := s.config.ContextWarningRatio
	contextWindow := s.profile.ContextWindow
	s.mu.Unlock()

	if contextWindow <= 0 || ratio <= 0 {
		return
	}
	approxTokens := totalChars / 4
	if approxTokens > int(float64(contextWindow)*ratio) {
		pct := int(float64(approxTokens) / float64(contextWindow) * 100)
		s.emit(EventWarning, map[string]interface{}{
			"message": fmt.Sprintf("Context usage at ~%d%% of context window", pct),
		})
	}
}
