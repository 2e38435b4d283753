package embeddings

import (
	"fmt"
	"strings"
)

// ErrorReason categorizes a failure from an embedding provider, mirroring
// internal/agent/providers.FailoverReason's shape for the embedding path.
type ErrorReason string

const (
	ErrorAuthenticationFailed ErrorReason = "authentication_failed"
	ErrorRateLimited          ErrorReason = "rate_limited"
	ErrorInputTooLong         ErrorReason = "input_too_long"
	ErrorInvalidConfig        ErrorReason = "invalid_config"
	ErrorModelNotFound        ErrorReason = "model_not_found"
	ErrorServerError          ErrorReason = "server_error"
	ErrorUnknown              ErrorReason = "unknown"
)

// IsRetryable reports whether retrying the same request may succeed.
func (r ErrorReason) IsRetryable() bool {
	switch r {
	case ErrorRateLimited, ErrorServerError:
		return true
	default:
		return false
	}
}

// Error is a structured error from an embedding provider.
type Error struct {
	Reason   ErrorReason
	Provider string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Reason, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Reason, e.Message)
}

// Retryable reports whether retrying the same request may succeed.
func (e *Error) Retryable() bool {
	return e.Reason.IsRetryable()
}

// ClassifyHTTPStatus maps an HTTP status code and message body to an
// ErrorReason following the OpenAI-compatible provider contract: 401 is
// always an auth failure, 429 is always retryable rate limiting, 400 is
// split between InputTooLong (message mentions "token"/"length") and
// InvalidConfig (everything else), 404 is a missing model, and any 5xx is a
// retryable server error.
func ClassifyHTTPStatus(status int, message string) ErrorReason {
	switch {
	case status == 401 || status == 403:
		return ErrorAuthenticationFailed
	case status == 429:
		return ErrorRateLimited
	case status == 400:
		lower := strings.ToLower(message)
		if strings.Contains(lower, "token") || strings.Contains(lower, "length") {
			return ErrorInputTooLong
		}
		return ErrorInvalidConfig
	case status == 404:
		return ErrorModelNotFound
	case status >= 500:
		return ErrorServerError
	default:
		return ErrorUnknown
	}
}
