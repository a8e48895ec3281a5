package provider

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnknownProvider is returned by New for an identity outside the registry.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnsupportedOperation means the provider has no adapter for the
	// requested operation (e.g. image generation on anthropic).
	ErrUnsupportedOperation = errors.New("unsupported operation for provider")

	// ErrInvalidRequest is a canonical request that fails validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStreamTruncated means the stream ended without [DONE] or a
	// provider terminal event.
	ErrStreamTruncated = errors.New("stream ended before completion signal")

	// ErrTimeout means the call exceeded its timeout budget.
	ErrTimeout = errors.New("request timed out")
)

// ConfigError is a configuration problem detected before any network call:
// an unknown provider or an operation the provider does not support. It is
// never worth retrying.
type ConfigError struct {
	Provider ID
	Op       Operation
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %q", e.Err, string(e.Provider))
	}
	return fmt.Sprintf("%v: %s on %s", e.Err, e.Op, e.Provider)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// APIError is a non-2xx response from a vendor, or an error event inside an
// otherwise successful stream (StatusCode 0). Message is the vendor's own
// error message when the body could be parsed, otherwise the HTTP status text.
type APIError struct {
	Provider   ID
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	where := fmt.Sprintf("status %d", e.StatusCode)
	if e.StatusCode == 0 {
		where = "in stream"
	}
	if e.Type != "" {
		return fmt.Sprintf("%s API error (%s, %s): %s", e.Provider, where, e.Type, e.Message)
	}
	return fmt.Sprintf("%s API error (%s): %s", e.Provider, where, e.Message)
}

// Retryable is a hint for callers that implement their own retry policy;
// the client itself never retries.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TransportError wraps network failures and truncated streams.
type TransportError struct {
	Provider ID
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedChunkError is a stream line whose payload is not valid JSON. The
// streaming driver logs and skips these; they never reach the caller.
type MalformedChunkError struct {
	Data string
	Err  error
}

func (e *MalformedChunkError) Error() string {
	return fmt.Sprintf("malformed stream chunk %q: %v", e.Data, e.Err)
}

func (e *MalformedChunkError) Unwrap() error { return e.Err }

func unsupported(id ID, op Operation) error {
	return &ConfigError{Provider: id, Op: op, Err: ErrUnsupportedOperation}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
