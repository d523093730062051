// Package circuitbreaker guards calls to the service's external dependencies
// (Postgres, Redis, the conversational backend) so a failing dependency sheds
// load fast instead of tying every request up in timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of a breaker. Closed passes traffic, Open rejects it, HalfOpen lets a
// limited number of probe requests through to test recovery.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitBreakerOpen is returned while the breaker is rejecting traffic.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe budget is spent.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config tunes one breaker instance.
type Config struct {
	MaxRequests      uint32        // probe budget while half-open
	Interval         time.Duration // closed-state counter reset period
	Timeout          time.Duration // how long to stay open before probing
	FailureThreshold uint32        // consecutive failures that trip the breaker
	SuccessThreshold uint32        // consecutive probe successes that close it
	OnStateChange    func(name string, from, to State)
}

// DefaultConfig returns the baseline tuning shared by all dependencies.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts tracks request outcomes within the current window.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker tracks failures against one named dependency. Counts are
// scoped to a window that rolls on every state change and, while closed, on
// each Interval expiry, so an outcome reported after the window rolled is
// discarded rather than double counted.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu       sync.RWMutex
	state    State
	window   uint64
	counts   Counts
	deadline time.Time
}

// NewCircuitBreaker creates a breaker starting in the closed state.
func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:     name,
		config:   config,
		logger:   logger,
		state:    StateClosed,
		deadline: time.Now().Add(config.Interval),
	}
}

// Execute runs fn if the breaker admits the request. A panic in fn is counted
// as a failure before being re-raised.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	win, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.settle(win, false)
			panic(r)
		}
	}()

	err = fn()
	cb.settle(win, err == nil)
	return err
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Counts returns the outcome counters of the current window.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.counts
}

// admit decides whether a request may proceed and returns the window it was
// admitted under.
func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, win := cb.advance(time.Now())
	switch {
	case state == StateOpen:
		return win, ErrCircuitBreakerOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests:
		return win, ErrTooManyRequests
	}

	cb.counts.Requests++
	return win, nil
}

// settle records the outcome of a request admitted under win. Outcomes from a
// stale window are dropped.
func (cb *CircuitBreaker) settle(win uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, current := cb.advance(now)
	if current != win {
		return
	}

	switch {
	case success && state == StateClosed:
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveFailures = 0
	case success && state == StateHalfOpen:
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		if cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed, now)
		}
	case !success && state == StateClosed:
		cb.counts.TotalFailures++
		cb.counts.ConsecutiveFailures++
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	case !success && state == StateHalfOpen:
		cb.transition(StateOpen, now)
	}
}

// advance applies any deadline-driven state change and returns the effective
// state and window. Callers must hold cb.mu.
func (cb *CircuitBreaker) advance(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.deadline.IsZero() && cb.deadline.Before(now) {
			cb.rollWindow(now)
		}
	case StateOpen:
		if cb.deadline.Before(now) {
			cb.transition(StateHalfOpen, now)
		}
	}
	return cb.state, cb.window
}

// transition moves the breaker to a new state and rolls the window.
func (cb *CircuitBreaker) transition(state State, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.rollWindow(now)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}

// rollWindow starts a fresh counting window and arms the next deadline.
func (cb *CircuitBreaker) rollWindow(now time.Time) {
	cb.window++
	cb.counts = Counts{}

	switch cb.state {
	case StateClosed:
		if cb.config.Interval == 0 {
			cb.deadline = time.Time{}
		} else {
			cb.deadline = now.Add(cb.config.Interval)
		}
	case StateOpen:
		cb.deadline = now.Add(cb.config.Timeout)
	default:
		cb.deadline = time.Time{}
	}
}
