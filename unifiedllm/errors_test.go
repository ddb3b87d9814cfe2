package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, false},
		{402, false},
		{403, false},
		{404, false},
		{408, true},
		{413, false},
		{422, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
		{599, true},
	}

	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "test error", "openai")
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("status %d: expected retryable=%v, got %v", tt.status, tt.retryable, got)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"auth error", &AuthenticationError{}, false},
		{"access denied", &AccessDeniedError{}, false},
		{"not found", &NotFoundError{}, false},
		{"invalid request", &InvalidRequestError{}, false},
		{"context length", &ContextLengthError{}, false},
		{"quota", &QuotaExceededError{}, false},
		{"content filter", &ContentFilterError{}, false},
		{"configuration", &ConfigurationError{}, false},
		{"abort", &AbortError{}, false},
		{"malformed", &MalformedResponseError{}, false},
		{"rate limit", &RateLimitError{}, true},
		{"server", &ServerError{}, true},
		{"network", &NetworkError{}, true},
		{"stream interrupted", &StreamInterruptedError{}, true},
		{"timeout", &RequestTimeoutError{}, true},
		{"provider retryable", &ProviderError{Retryable: true}, true},
		{"provider not retryable", &ProviderError{Retryable: false}, false},
		{"unknown", errors.New("boom"), true},
		{"wrapped auth", fmt.Errorf("calling model: %w", &AuthenticationError{}), false},
		{"wrapped server", fmt.Errorf("calling model: %w", &ServerError{}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, got)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg   string
		check func(error) bool
	}{
		{"401 Unauthorized", func(e error) bool { var x *AuthenticationError; return errors.As(e, &x) }},
		{"invalid api key", func(e error) bool { var x *AuthenticationError; return errors.As(e, &x) }},
		{"You exceeded your current quota (insufficient_quota)", func(e error) bool { var x *QuotaExceededError; return errors.As(e, &x) }},
		{"403 Forbidden", func(e error) bool { var x *AccessDeniedError; return errors.As(e, &x) }},
		{"404 not found", func(e error) bool { var x *NotFoundError; return errors.As(e, &x) }},
		{"429 rate limit exceeded", func(e error) bool { var x *RateLimitError; return errors.As(e, &x) }},
		{"context length exceeded", func(e error) bool { var x *ContextLengthError; return errors.As(e, &x) }},
		{"500 internal server error", func(e error) bool { var x *ServerError; return errors.As(e, &x) }},
		{"timeout waiting for response", func(e error) bool { var x *RequestTimeoutError; return errors.As(e, &x) }},
		{"read: connection reset by peer", func(e error) bool { var x *NetworkError; return errors.As(e, &x) }},
		{"content filter triggered", func(e error) bool { var x *ContentFilterError; return errors.As(e, &x) }},
		{"something unknown", func(e error) bool { var x *ProviderError; return errors.As(e, &x) }},
	}

	for _, tt := range tests {
		err := ClassifyError("openai", errors.New(tt.msg))
		if !tt.check(err) {
			t.Errorf("for %q: unexpected classification %T", tt.msg, err)
		}
	}
}

func TestClassifyErrorContext(t *testing.T) {
	var abort *AbortError
	if err := ClassifyError("openai", context.Canceled); !errors.As(err, &abort) {
		t.Errorf("expected AbortError for context.Canceled, got %T", err)
	}
	var timeout *RequestTimeoutError
	if err := ClassifyError("openai", context.DeadlineExceeded); !errors.As(err, &timeout) {
		t.Errorf("expected RequestTimeoutError for DeadlineExceeded, got %T", err)
	}
	if ClassifyError("openai", nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestSDKErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &NetworkError{SDKError: SDKError{Message: "dial", Cause: cause}}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if err.Error() != "dial: root cause" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := ErrorFromStatusCode(429, "slow down", "anthropic")
	want := "[anthropic] slow down (status=429, retryable=true)"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
