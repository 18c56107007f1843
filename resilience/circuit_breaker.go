// Package resilience guards a bus round trip against a capability whose
// workers have started failing or hanging: once its error rate crosses a
// threshold, the breaker trips and rejects further calls immediately
// instead of letting every caller queue up behind a timeout.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/aiteam/mindbus/core"
)

// State is a circuit breaker's current disposition toward new calls.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrOpen is returned by Execute when the breaker is rejecting calls.
var ErrOpen = core.ErrCircuitBreakerOpen

// Config tunes when a CircuitBreaker trips and how it recovers.
type Config struct {
	// Name identifies the breaker in logs; dispatch.go sets one per capability.
	Name string

	// ErrorThreshold is the failure rate (0..1) that trips the breaker once
	// VolumeThreshold calls have been counted in the current Window.
	ErrorThreshold float64

	// VolumeThreshold is the minimum number of calls counted before the
	// error rate is evaluated at all, so a single early failure can't trip
	// a breaker that has barely been exercised.
	VolumeThreshold int

	// Window is how long closed-state counts accumulate before resetting,
	// so a capability that recovers isn't punished by failures from an
	// hour ago.
	Window time.Duration

	// SleepWindow is how long Open is held before a HalfOpen probe batch
	// is allowed through.
	SleepWindow time.Duration

	// HalfOpenRequests is the number of probe calls let through while
	// HalfOpen; any failure among them re-opens the breaker.
	HalfOpenRequests int
}

// DefaultConfig returns conservative trip/recovery thresholds suitable for
// protecting a bus round trip to a capability worker.
func DefaultConfig() Config {
	return Config{
		Name:             "default",
		ErrorThreshold:   0.5,
		VolumeThreshold:  10,
		Window:           60 * time.Second,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 3,
	}
}

// CircuitBreaker trips to Open once a capability's error rate crosses
// Config.ErrorThreshold over a rolling window, rejecting calls until
// SleepWindow elapses; a HalfOpen probe batch then decides whether to
// close again or re-open.
type CircuitBreaker struct {
	cfg Config

	mu             sync.Mutex
	state          State
	stateChangedAt time.Time
	windowStart    time.Time
	successes      int
	failures       int

	halfOpenInFlight  int
	halfOpenSuccesses int
	halfOpenFailures  int
}

// NewCircuitBreaker builds a breaker in the Closed state, filling in any
// zero-valued Config fields from DefaultConfig.
func NewCircuitBreaker(cfg Config) (*CircuitBreaker, error) {
	def := DefaultConfig()
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = def.ErrorThreshold
	}
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = def.VolumeThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.SleepWindow <= 0 {
		cfg.SleepWindow = def.SleepWindow
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}

	now := time.Now()
	return &CircuitBreaker{cfg: cfg, state: Closed, stateChangedAt: now, windowStart: now}, nil
}

// Execute runs fn if the breaker currently allows it, records the outcome,
// and returns ErrOpen without calling fn at all if it doesn't.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return ErrOpen
	}
	err := fn()
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rolloverLocked()

	switch cb.state {
	case Open:
		if time.Since(cb.stateChangedAt) < cb.cfg.SleepWindow {
			return false
		}
		cb.transitionLocked(HalfOpen)
		cb.halfOpenInFlight = 1
		return true
	case HalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenRequests {
			return false
		}
		cb.halfOpenInFlight++
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == HalfOpen {
		cb.halfOpenInFlight--
		if success {
			cb.halfOpenSuccesses++
		} else {
			cb.halfOpenFailures++
		}
		if cb.halfOpenFailures > 0 {
			cb.transitionLocked(Open)
			return
		}
		if cb.halfOpenSuccesses >= cb.cfg.HalfOpenRequests {
			cb.transitionLocked(Closed)
		}
		return
	}

	if success {
		cb.successes++
	} else {
		cb.failures++
	}
	total := cb.successes + cb.failures
	if total < cb.cfg.VolumeThreshold {
		return
	}
	if float64(cb.failures)/float64(total) >= cb.cfg.ErrorThreshold {
		cb.transitionLocked(Open)
	}
}

// rolloverLocked resets the closed-state counters once Window has elapsed
// so old failures don't keep a recovered capability's breaker tripped.
func (cb *CircuitBreaker) rolloverLocked() {
	if cb.state != Closed {
		return
	}
	if time.Since(cb.windowStart) >= cb.cfg.Window {
		cb.successes, cb.failures = 0, 0
		cb.windowStart = time.Now()
	}
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	cb.state = to
	cb.stateChangedAt = time.Now()
	switch to {
	case Closed:
		cb.successes, cb.failures = 0, 0
		cb.windowStart = time.Now()
	case HalfOpen:
		cb.halfOpenInFlight, cb.halfOpenSuccesses, cb.halfOpenFailures = 0, 0, 0
	}
}

// State reports the breaker's current disposition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to Closed, discarding counted history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(Closed)
}
