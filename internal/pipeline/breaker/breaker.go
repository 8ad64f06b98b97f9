package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker isolates a single category from a degraded sink. After
// `threshold` consecutive failures it opens and fast-fails dispatch for
// that category; once `timeout` has elapsed since the last failure it
// permits exactly one trial call (half-open) before deciding whether to
// close again.
//
// Each category owns its own instance so a failing category cannot
// block dispatch for a healthy one.
type Breaker struct {
	threshold int
	timeout   time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time

	log *slog.Logger
	now func() time.Time
}

// New creates a closed breaker.
func New(name string, threshold int, timeout time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		timeout:   timeout,
		state:     StateClosed,
		log:       slog.Default().With("breaker", name),
		now:       time.Now,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether calls should be skipped. When the breaker is
// open and the reset timeout has elapsed it transitions to half-open,
// resets the failure counter, and returns false for that single check,
// granting one trial call.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return false
	}

	if b.now().Sub(b.lastFailure) > b.timeout {
		b.log.Info("Breaker timeout elapsed, moving to half-open", "timeout", b.timeout)
		b.state = StateHalfOpen
		b.failures = 0
		return false
	}
	return true
}

// RecordSuccess records a successful call. In half-open state it closes
// the breaker; in closed state it heals any partial failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.log.Info("Breaker closed after successful half-open trial")
		b.state = StateClosed
		b.failures = 0
	case StateClosed:
		if b.failures > 0 {
			b.failures = 0
		}
	}
}

// RecordFailure records a failed call. In half-open state it reopens
// the breaker immediately; in closed state it opens the breaker once
// the consecutive-failure threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch {
	case b.state == StateHalfOpen:
		b.log.Warn("Breaker reopened after failed half-open trial")
		b.state = StateOpen
	case b.state == StateClosed && b.failures >= b.threshold:
		b.log.Warn("Breaker opened", "failures", b.failures, "threshold", b.threshold)
		b.state = StateOpen
	}
}

// Reset forces the breaker closed regardless of current state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.lastFailure = time.Time{}
}
