package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ToolError describes why a tool call failed.
type ToolError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ToolResult is the outcome of dispatching one tool call.
type ToolResult struct {
	ToolCallID string     `json:"tool_call_id"`
	ToolName   string     `json:"tool_name"`
	Success    bool       `json:"success"`
	Output     string     `json:"output"`
	Error      *ToolError `json:"error,omitempty"`
	Truncated  bool       `json:"truncated"`

	// FullOutput is the output before truncation, for display only.
	FullOutput string `json:"-"`
}

// Content renders the canonical JSON sent to the model in the tool message.
func (r ToolResult) Content() string {
	payload := struct {
		Success   bool       `json:"success"`
		Output    string     `json:"output"`
		Error     *ToolError `json:"error"`
		Truncated bool       `json:"truncated"`
	}{r.Success, r.Output, r.Error, r.Truncated}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"output":"","error":{"kind":%q,"message":%q},"truncated":false}`,
			ErrorToolExecutionFailed, err.Error())
	}
	return string(data)
}

func failedResult(call ToolCallRequest, kind ErrorKind, msg string) ToolResult {
	return ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Error:      &ToolError{Kind: kind, Message: msg},
	}
}

// ConfirmFunc asks the user to approve a side-effecting call. It may block
// indefinitely; there is no default answer.
type ConfirmFunc func(ctx context.Context, description string) (bool, error)

// ConfirmationPolicy decides when the confirmation gate applies.
type ConfirmationPolicy struct {
	RequireConfirmation bool
	// TrustSafeCommands skips confirmation for commands classified safe.
	TrustSafeCommands bool
}

// NeedsConfirmation applies the policy to a side-effecting call. Dangerous
// commands always need confirmation.
func (p ConfirmationPolicy) NeedsConfirmation(c Classification) bool {
	switch {
	case c.Level == SafetyDangerous:
		return true
	case !p.RequireConfirmation:
		return false
	case c.Level == SafetySafe && p.TrustSafeCommands:
		return false
	default:
		return true
	}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithConfirm sets the confirmation callback.
func WithConfirm(fn ConfirmFunc) DispatcherOption {
	return func(d *Dispatcher) { d.confirm = fn }
}

// WithPolicy sets the confirmation policy.
func WithPolicy(p ConfirmationPolicy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = p }
}

// WithCommandTimeout bounds each tool execution.
func WithCommandTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithTruncation sets the output limits.
func WithTruncation(limits TruncationLimits) DispatcherOption {
	return func(d *Dispatcher) { d.limits = limits }
}

// WithSafetyFilter replaces the default command classifier.
func WithSafetyFilter(f *SafetyFilter) DispatcherOption {
	return func(d *Dispatcher) { d.filter = f }
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher runs tool calls through lookup, validation, confirmation and
// execution. It never panics and never returns an error: every failure is
// a ToolResult with Success false.
type Dispatcher struct {
	registry *ToolRegistry
	env      ExecutionEnvironment
	filter   *SafetyFilter
	confirm  ConfirmFunc
	policy   ConfirmationPolicy
	timeout  time.Duration
	limits   TruncationLimits
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over a registry and environment.
func NewDispatcher(registry *ToolRegistry, env ExecutionEnvironment, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		env:      env,
		filter:   NewSafetyFilter(),
		policy:   ConfirmationPolicy{RequireConfirmation: true},
		timeout:  30 * time.Second,
		limits:   TruncationLimits{LineLimit: 5},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes one tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCallRequest) ToolResult {
	// 1. Lookup.
	tool, err := d.registry.Lookup(call.Name)
	if err != nil {
		return failedResult(call, ErrorToolNotFound, fmt.Sprintf("unknown tool %q", call.Name))
	}

	// 2. Validate arguments. Malformed JSON is a validation failure.
	args, err := tool.Definition.Schema.Validate(call.Arguments)
	if err != nil {
		return failedResult(call, ErrorArgumentValidation, err.Error())
	}

	// 3. Confirmation gate.
	if tool.SideEffecting {
		classification := Classification{Level: SafetyUnknown, Reason: "modifies files"}
		command := ""
		if tool.Command != nil {
			command = tool.Command(args)
			classification = d.filter.Classify(command)
		}
		if d.policy.NeedsConfirmation(classification) {
			approved, reason := d.askConfirmation(ctx, call, args, command, classification)
			if !approved {
				return failedResult(call, ErrorUserDeclined, reason)
			}
		}
	}

	// 4. Execute inside a scoped acquisition.
	output, err := d.execute(ctx, tool, args)
	full := normalizeOutput(output)

	// 5. Truncate.
	truncated, clipped := TruncateToolOutput(full, call.Name, d.limits)
	result := ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Success:    err == nil,
		Output:     truncated,
		Truncated:  clipped,
		FullOutput: full,
	}
	if err != nil {
		result.Error = &ToolError{Kind: ErrorToolExecutionFailed, Message: err.Error()}
		d.logger.Debug("tool execution failed", "tool", call.Name, "call_id", call.ID, "error", err)
	}
	return result
}

func (d *Dispatcher) askConfirmation(ctx context.Context, call ToolCallRequest, args Arguments, command string, c Classification) (bool, string) {
	if d.confirm == nil {
		return false, "confirmation required but no confirmation handler is available"
	}
	approved, err := d.confirm(ctx, describeCall(call.Name, args, command, c))
	if err != nil {
		return false, "confirmation failed: " + err.Error()
	}
	if !approved {
		return false, "user declined to run " + call.Name
	}
	return true, ""
}

func describeCall(name string, args Arguments, command string, c Classification) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s]", name, c.Level)
	if c.Level == SafetyDangerous {
		fmt.Fprintf(&sb, " (%s)", c.Reason)
	}
	if command != "" {
		sb.WriteString(": ")
		sb.WriteString(command)
		return sb.String()
	}
	if data, err := json.Marshal(args); err == nil {
		summary := string(data)
		if len(summary) > 200 {
			summary = summary[:200] + "..."
		}
		sb.WriteString(": ")
		sb.WriteString(summary)
	}
	return sb.String()
}

type outcome struct {
	output any
	err    error
}

func (d *Dispatcher) execute(ctx context.Context, tool *RegisteredTool, args Arguments) (any, error) {
	scope, err := d.env.Acquire(ctx, d.timeout)
	if err != nil {
		return nil, fmt.Errorf("acquire execution environment: %w", err)
	}
	defer scope.Release()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := tool.Executor(scope.Context(), args, scope)
		done <- outcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		return o.output, o.err
	case <-scope.Context().Done():
		select {
		case o := <-done:
			return o.output, o.err
		default:
		}
		if ctx.Err() != nil {
			return nil, errors.New("interrupted")
		}
		return nil, fmt.Errorf("timed out after %s", d.timeout)
	}
}

func normalizeOutput(v any) string {
	switch o := v.(type) {
	case nil:
		return ""
	case string:
		return o
	case []byte:
		return string(o)
	case fmt.Stringer:
		return o.String()
	default:
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Sprintf("%v", o)
		}
		return string(data)
	}
}
