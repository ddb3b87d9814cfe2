package agentloop

import (
	"errors"
	"fmt"

	"github.com/martinemde/supernova/unifiedllm"
)

// ErrorKind classifies a failed tool call. Every kind is folded into a
// tool-role message so the model can correct itself within the turn.
type ErrorKind string

const (
	ErrorToolNotFound        ErrorKind = "ToolNotFound"
	ErrorArgumentValidation  ErrorKind = "ArgumentValidationError"
	ErrorUserDeclined        ErrorKind = "UserDeclined"
	ErrorToolExecutionFailed ErrorKind = "ToolExecutionFailed"
)

var (
	// ErrToolNotFound is returned by ToolRegistry.Lookup for unknown names.
	ErrToolNotFound = errors.New("tool not found")
	// ErrDuplicateTool is returned when a tool name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrTurnInProgress rejects a Submit while another turn is running.
	ErrTurnInProgress = errors.New("a turn is already in progress")
	// ErrTurnCancelled reports a turn aborted by Interrupt or its context.
	ErrTurnCancelled = errors.New("turn cancelled")
	// ErrIterationLimitReached matches *IterationLimitError via errors.Is.
	ErrIterationLimitReached = errors.New("tool iteration limit reached")
	// ErrSessionClosed is returned by Submit after Close.
	ErrSessionClosed = errors.New("session is closed")
	// ErrInvalidTranscript wraps transcript invariant violations.
	ErrInvalidTranscript = errors.New("invalid transcript")
)

// ArgumentValidationError reports a tool call whose arguments do not match
// the tool's schema. Field is empty when the payload as a whole is invalid.
type ArgumentValidationError struct {
	Field  string
	Reason string
}

func (e *ArgumentValidationError) Error() string {
	if e.Field == "" {
		return "invalid arguments: " + e.Reason
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}

// StreamFailure reports a stream that cannot be assembled into a message.
// The session recovers from it by retrying the model call without streaming.
type StreamFailure struct {
	Reason string
	Cause  error
}

func (e *StreamFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stream failure: %s: %v", e.Reason, e.Cause)
	}
	return "stream failure: " + e.Reason
}

func (e *StreamFailure) Unwrap() error { return e.Cause }

// IterationLimitError terminates a turn whose model kept requesting tools.
type IterationLimitError struct {
	Limit int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("tool iteration limit of %d reached", e.Limit)
}

func (e *IterationLimitError) Is(target error) bool {
	return target == ErrIterationLimitReached
}

// BackendErrorKind groups unrecoverable model backend failures.
type BackendErrorKind string

const (
	BackendAuthentication    BackendErrorKind = "authentication"
	BackendQuota             BackendErrorKind = "quota"
	BackendMalformedResponse BackendErrorKind = "malformed_response"
	BackendProvider          BackendErrorKind = "provider"
)

// BackendError surfaces a model backend failure that ended the turn.
type BackendError struct {
	Kind BackendErrorKind
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("model backend error (%s): %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func newBackendError(err error) *BackendError {
	var be *BackendError
	if errors.As(err, &be) {
		return be
	}

	var (
		auth      *unifiedllm.AuthenticationError
		denied    *unifiedllm.AccessDeniedError
		quota     *unifiedllm.QuotaExceededError
		malformed *unifiedllm.MalformedResponseError
	)
	kind := BackendProvider
	switch {
	case errors.As(err, &auth), errors.As(err, &denied):
		kind = BackendAuthentication
	case errors.As(err, &quota):
		kind = BackendQuota
	case errors.As(err, &malformed):
		kind = BackendMalformedResponse
	}
	return &BackendError{Kind: kind, Err: err}
}
