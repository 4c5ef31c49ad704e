package tts

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrValidation matches every *ValidationError via errors.Is
var ErrValidation = errors.New("invalid synthesis request")

// ValidationError reports a request rejected before any network call
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// APIError is a failed call to the synthesis backend. StatusCode is 0 when
// no HTTP response was received.
type APIError struct {
	StatusCode int
	Message    string
	Retryable  bool
	Attempts   int
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, "elevenlabs: status %d: %s", e.StatusCode, e.Message)
	} else {
		fmt.Fprintf(&b, "elevenlabs: %s", e.Message)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " (after %d attempts)", e.Attempts)
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRetryableStatus reports whether an HTTP status is worth retrying
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// isRetryableError is the retry predicate for the client
func isRetryableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

// parseErrorMessage extracts a human readable message from an error body.
// Tries detail.message, detail as a string, message, the raw body and
// finally the status text.
func parseErrorMessage(body []byte, status int) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Detail) > 0 {
			var detail struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(payload.Detail, &detail) == nil && detail.Message != "" {
				return detail.Message
			}
			var s string
			if json.Unmarshal(payload.Detail, &s) == nil && s != "" {
				return s
			}
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}
