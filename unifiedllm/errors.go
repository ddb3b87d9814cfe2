package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by an LLM provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	Retryable  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type QuotaExceededError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type StreamInterruptedError struct{ SDKError }
type MalformedResponseError struct{ SDKError }
type ConfigurationError struct{ SDKError }

func newProviderError(provider string, status int, retryable bool, err error) ProviderError {
	return ProviderError{
		SDKError:   SDKError{Message: err.Error(), Cause: err},
		Provider:   provider,
		StatusCode: status,
		Retryable:  retryable,
	}
}

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider string) error {
	cause := errors.New(message)
	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: newProviderError(provider, statusCode, false, cause)}
	case 401:
		return &AuthenticationError{ProviderError: newProviderError(provider, statusCode, false, cause)}
	case 402:
		return &QuotaExceededError{ProviderError: newProviderError(provider, statusCode, false, cause)}
	case 403:
		return &AccessDeniedError{ProviderError: newProviderError(provider, statusCode, false, cause)}
	case 404:
		return &NotFoundError{ProviderError: newProviderError(provider, statusCode, false, cause)}
	case 408:
		return &RequestTimeoutError{SDKError: SDKError{Message: message}}
	case 413:
		return &ContextLengthError{ProviderError: newProviderError(provider, statusCode, false, cause)}
	case 429:
		return &RateLimitError{ProviderError: newProviderError(provider, statusCode, true, cause)}
	case 500, 502, 503, 504:
		return &ServerError{ProviderError: newProviderError(provider, statusCode, true, cause)}
	default:
		pe := newProviderError(provider, statusCode, true, cause)
		return &pe
	}
}

// ClassifyError converts a raw SDK error into the unified error hierarchy
// by inspecting its message. Vendor SDKs surface HTTP failures as
// formatted strings, so the status code and well-known phrases are matched.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestTimeoutError{SDKError: SDKError{Message: "request timed out", Cause: err}}
	}

	msg := strings.ToLower(err.Error())
	has := func(needles ...string) bool {
		for _, n := range needles {
			if strings.Contains(msg, n) {
				return true
			}
		}
		return false
	}

	switch {
	case has("401", "unauthorized", "invalid key", "invalid api key", "api key not valid"):
		return &AuthenticationError{ProviderError: newProviderError(provider, 401, false, err)}
	case has("insufficient_quota", "quota", "billing"):
		return &QuotaExceededError{ProviderError: newProviderError(provider, 402, false, err)}
	case has("403", "forbidden", "permission denied"):
		return &AccessDeniedError{ProviderError: newProviderError(provider, 403, false, err)}
	case has("429", "rate limit", "resource_exhausted"):
		return &RateLimitError{ProviderError: newProviderError(provider, 429, true, err)}
	case has("context length", "too many tokens", "maximum context"):
		return &ContextLengthError{ProviderError: newProviderError(provider, 413, false, err)}
	case has("404", "not found"):
		return &NotFoundError{ProviderError: newProviderError(provider, 404, false, err)}
	case has("400", "invalid request", "invalid_argument"):
		return &InvalidRequestError{ProviderError: newProviderError(provider, 400, false, err)}
	case has("500", "502", "503", "504", "internal server", "unavailable", "overloaded"):
		return &ServerError{ProviderError: newProviderError(provider, 500, true, err)}
	case has("timeout", "deadline exceeded"):
		return &RequestTimeoutError{SDKError: SDKError{Message: err.Error(), Cause: err}}
	case has("connection reset", "connection refused", "broken pipe", "unexpected eof", "no such host"):
		return &NetworkError{SDKError: SDKError{Message: err.Error(), Cause: err}}
	case has("content filter", "safety", "blocked"):
		return &ContentFilterError{ProviderError: newProviderError(provider, 0, false, err)}
	default:
		pe := newProviderError(provider, 0, true, err)
		return &pe
	}
}

// IsRetryable reports whether the error is safe to retry. Wrapped errors
// are unwrapped, so a classified error survives fmt.Errorf("%w").
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var (
		auth     *AuthenticationError
		denied   *AccessDeniedError
		notFound *NotFoundError
		invalid  *InvalidRequestError
		ctxLen   *ContextLengthError
		quota    *QuotaExceededError
		filter   *ContentFilterError
		config   *ConfigurationError
		abort    *AbortError
		bad      *MalformedResponseError
	)
	switch {
	case errors.As(err, &auth), errors.As(err, &denied), errors.As(err, &notFound),
		errors.As(err, &invalid), errors.As(err, &ctxLen), errors.As(err, &quota),
		errors.As(err, &filter), errors.As(err, &config), errors.As(err, &abort),
		errors.As(err, &bad):
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	// Rate limits, server errors, network and timeouts all land here.
	return true
}
