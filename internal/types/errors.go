package types

import (
	"errors"
	"fmt"
	"time"
)

// ConfigNotFoundError reports an unknown model id. Raised before any
// network attempt is made.
type ConfigNotFoundError struct {
	ModelID string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("no configuration for model %q", e.ModelID)
}

// AvailabilityError reports that a model or its provider is unusable
// according to the lightweight availability check.
type AvailabilityError struct {
	ModelID  string
	Provider string
	Reason   string
}

func (e *AvailabilityError) Error() string {
	return fmt.Sprintf("model %q unavailable on provider %q: %s", e.ModelID, e.Provider, e.Reason)
}

// ProviderError is a structured backend failure. Retryability is decided
// once, at the backend boundary, from the status code or transport error;
// downstream code never inspects message text.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool

	// RetryAfter is a server-supplied backoff hint (usually from a 429),
	// zero when the server gave none.
	RetryAfter time.Duration

	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CircuitOpenError is the fast-fail raised when a provider's breaker is
// open. No network attempt was made. It is never retried by the same
// request; the breaker decides when probes resume.
type CircuitOpenError struct {
	Provider string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for provider %s", e.Provider)
}

// RetryExhaustedError wraps the last failure after the retry budget is
// spent, tagged with the attempt count.
type RetryExhaustedError struct {
	Provider  string
	RequestID string
	Attempts  int
	Err       error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("provider %s failed after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// StreamConnectionError is a transport-level streaming failure, distinct
// from content errors. Connection and read timeouts surface as this type
// and are always retryable.
type StreamConnectionError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *StreamConnectionError) Error() string {
	return fmt.Sprintf("stream connection to %s failed: %s", e.Provider, e.Reason)
}

func (e *StreamConnectionError) Unwrap() error { return e.Err }

// ValidationError reports malformed caller input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// InternalError wraps an unclassified failure behind a generic message so
// unexpected errors still surface with a stable shape.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// RetryableStatus reports whether an HTTP status code is transient:
// timeouts, rate limits and server-side failures retry, other 4xx do not.
func RetryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// IsRetryable reports whether an error should consume a retry attempt.
// Only explicit classification counts: an open circuit and validation
// failures are terminal, transport stream errors are transient.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	var se *StreamConnectionError
	if errors.As(err, &se) {
		return true
	}
	var oe *CircuitOpenError
	if errors.As(err, &oe) {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	return false
}

// RetryAfterHint extracts a server-supplied retry-after delay when the
// failure exposes one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter, true
	}
	return 0, false
}
