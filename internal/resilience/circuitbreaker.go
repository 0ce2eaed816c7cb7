// Package resilience provides retry and circuit breaker primitives for the
// external services the pipeline depends on.
//
// [Do] runs an operation under a bounded exponential-backoff [Policy] and
// honours server-provided wait hints. [CircuitBreaker] keeps the drive
// watcher from hammering a folder API that is persistently failing.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while calls are
// being rejected.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker rejects calls before letting a
	// single probe call through. Default: 30s.
	ResetTimeout time.Duration
}

// CircuitBreaker keeps a periodic caller from hammering a failing
// dependency. After MaxFailures consecutive failures every call is
// rejected with [ErrCircuitOpen] until ResetTimeout has elapsed; the next
// call then runs as a probe. A successful probe closes the breaker, a
// failed one starts another rejection window.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu       sync.Mutex
	open     bool
	failures int
	openedAt time.Time
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero-value config
// fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
	}
}

// Execute runs fn and records its outcome, or returns [ErrCircuitOpen]
// without running it while the breaker is rejecting calls.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// allow decides whether the next call may run. An open breaker lets one
// call through once the reset timeout has elapsed and restarts the window,
// so concurrent callers stay rejected until that probe's outcome is in.
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.open {
		return nil
	}
	if time.Since(cb.openedAt) < cb.resetTimeout {
		return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	}
	cb.openedAt = time.Now()
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.open {
			cb.open = false
			slog.Info("circuit breaker closed", "name", cb.name)
		}
		cb.failures = 0
		return
	}

	if cb.open {
		cb.openedAt = time.Now()
		slog.Warn("circuit breaker probe failed", "name", cb.name)
		return
	}
	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.open = true
		cb.openedAt = time.Now()
		slog.Warn("circuit breaker opened",
			"name", cb.name, "consecutive_failures", cb.failures)
	}
}
