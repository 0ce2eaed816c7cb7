package llm

import (
	"fmt"
	"time"
)

// StatusError is a provider failure classified by HTTP status code.
// Providers that can recover a status code from their backend error wrap it
// in a StatusError so callers can decide whether to retry without parsing
// message text.
type StatusError struct {
	// Code is the HTTP status code of the failed request.
	Code int

	// RetryAfter is the server-provided wait hint on rate limits, zero
	// when the response carried none.
	RetryAfter time.Duration

	// Err is the underlying provider error.
	Err error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: request timeout, rate
// limit, or a server-side error.
func (e *StatusError) Retryable() bool {
	return e.Code == 408 || e.Code == 429 || e.Code >= 500
}

// RetryDelayHint exposes the rate-limit wait so retry loops can honour it.
func (e *StatusError) RetryDelayHint() time.Duration { return e.RetryAfter }
