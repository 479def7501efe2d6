// Package libroutine provides a circuit breaker for supervising recurring
// background work. A Routine tracks consecutive failures of an operation and
// trips open once a threshold is reached, letting a single probe through
// after a reset timeout before allowing normal traffic again.
package libroutine

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute when the breaker rejects the call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	// Closed allows all calls.
	Closed State = iota
	// Open rejects all calls until the reset timeout elapses.
	Open
	// HalfOpen allows a single probe call to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Routine is a circuit breaker guarding one logical operation.
// All methods are safe for concurrent use.
type Routine struct {
	mu            sync.Mutex
	state         State
	failures      int
	threshold     int
	resetTimeout  time.Duration
	openedAt      time.Time
	probeInFlight bool
}

// NewRoutine creates a closed breaker that opens after threshold consecutive
// failures and probes recovery after resetTimeout.
func NewRoutine(threshold int, resetTimeout time.Duration) *Routine {
	if threshold < 1 {
		threshold = 1
	}
	return &Routine{
		state:        Closed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
	}
}

// advanceLocked moves Open to HalfOpen once the reset timeout has elapsed.
// Callers must hold r.mu.
func (r *Routine) advanceLocked(now time.Time) {
	if r.state == Open && now.Sub(r.openedAt) >= r.resetTimeout {
		r.state = HalfOpen
		r.probeInFlight = false
	}
}

// Allow reports whether a call may proceed. In the half-open state only the
// first caller is admitted as the probe; others are rejected until the probe
// reports back via markSuccess or markFailure.
func (r *Routine) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceLocked(time.Now())
	switch r.state {
	case Closed:
		return true
	case HalfOpen:
		if r.probeInFlight {
			return false
		}
		r.probeInFlight = true
		return true
	default:
		return false
	}
}

func (r *Routine) markSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Closed
	r.failures = 0
	r.probeInFlight = false
}

func (r *Routine) markFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case HalfOpen:
		r.state = Open
		r.openedAt = time.Now()
		r.probeInFlight = false
	case Closed:
		r.failures++
		if r.failures >= r.threshold {
			r.state = Open
			r.openedAt = time.Now()
		}
	}
}

// Execute runs fn under the breaker. It returns ErrCircuitOpen without
// calling fn when the breaker rejects the call, and otherwise records the
// outcome of fn.
func (r *Routine) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	if err != nil {
		r.markFailure()
		return err
	}
	r.markSuccess()
	return nil
}

// ExecuteWithRetry runs fn up to maxRetries times, sleeping interval between
// attempts. It returns ErrCircuitOpen as soon as the breaker rejects an
// attempt and the context error if ctx is cancelled while waiting.
func (r *Routine) ExecuteWithRetry(ctx context.Context, interval time.Duration, maxRetries int, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
		err := r.Execute(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// GetState returns the current breaker state.
func (r *Routine) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceLocked(time.Now())
	return r.state
}

// GetThreshold returns the configured failure threshold.
func (r *Routine) GetThreshold() int {
	return r.threshold
}

// GetResetTimeout returns the configured reset timeout.
func (r *Routine) GetResetTimeout() time.Duration {
	return r.resetTimeout
}

// ForceOpen trips the breaker regardless of the failure count.
func (r *Routine) ForceOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Open
	r.openedAt = time.Now()
	r.probeInFlight = false
}

// ForceClose resets the breaker to closed and clears the failure count.
func (r *Routine) ForceClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Closed
	r.failures = 0
	r.probeInFlight = false
}

// Loop runs fn on every tick of interval and whenever triggerChan fires,
// until ctx is cancelled. Each run goes through the breaker; execution
// errors (including ErrCircuitOpen) are reported to errCb when it is
// non-nil. triggerChan may be nil.
func (r *Routine) Loop(ctx context.Context, interval time.Duration, triggerChan chan struct{}, fn func(ctx context.Context) error, errCb func(error)) {
	run := func() {
		if err := r.Execute(ctx, fn); err != nil && errCb != nil {
			errCb(err)
		}
	}
	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		case <-triggerChan:
			run()
		}
	}
}
