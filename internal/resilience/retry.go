package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy describes a bounded retry loop with exponential backoff.
type Policy struct {
	// MaxRetries is the number of extra attempts after the first. Zero
	// means the operation runs exactly once.
	MaxRetries int

	// BaseDelay is the wait before the first retry; it doubles after each
	// failed attempt. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 30s.
	MaxDelay time.Duration
}

// PermanentError marks an error that must not be retried. [Do] unwraps it and
// returns the underlying error immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so [Do] stops retrying. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// DelayHinter is implemented by errors that carry a server-provided wait
// hint, such as a rate-limit response with a Retry-After header. The hint
// replaces the computed backoff for the next attempt.
type DelayHinter interface {
	RetryDelayHint() time.Duration
}

// Do runs op until it succeeds, returns a permanent error, exhausts the
// retry budget, or ctx is cancelled. The name labels log records only.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}

	delay := p.BaseDelay
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt >= p.MaxRetries {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		wait := delay
		var hinter DelayHinter
		if errors.As(err, &hinter) {
			if hint := hinter.RetryDelayHint(); hint > 0 {
				wait = hint
			}
		}

		slog.Warn("operation failed, retrying",
			"op", name,
			"attempt", attempt+1,
			"max_retries", p.MaxRetries,
			"wait", wait,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
