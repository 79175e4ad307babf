// Package circuit provides circuit breaker functionality for resilient LLM calls.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

// Circuit breaker states for managing service failure patterns.
const (
	Closed   State = iota // Normal operation
	Open                  // Failing, reject requests
	HalfOpen              // Testing if service recovered
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines configuration for circuit breaker behavior.
type Config struct {
	FailureThreshold int           // Consecutive failures before opening
	SuccessThreshold int           // Successes in half-open before closing
	Timeout          time.Duration // Time to wait in open before probing
}

// DefaultConfig provides reasonable defaults for circuit breaker behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Timeout:          30 * time.Second,
}

// Error is returned without calling the provider while the circuit is open.
type Error struct {
	State State
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker is %s", e.State)
}

// Breaker defines the interface for circuit breaker implementations.
type Breaker interface {
	// Allow checks if a request should be allowed based on current state.
	Allow() bool

	// Record records the result (success/failure) of a request.
	Record(success bool)

	// GetState returns the current circuit breaker state.
	GetState() State

	// Reset manually resets the circuit breaker to closed state.
	Reset()
}

// StateChangeFunc observes transitions; it is called with the breaker lock released.
type StateChangeFunc func(from, to State)

//nolint:govet // Logical field grouping preferred over memory alignment
type breaker struct {
	config          Config
	onChange        StateChangeFunc
	now             func() time.Time
	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// New creates a new circuit breaker with the given configuration.
func New(config Config) Breaker {
	return NewWithObserver(config, nil)
}

// NewWithObserver creates a breaker that reports state changes to onChange.
func NewWithObserver(config Config, onChange StateChangeFunc) Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultConfig.SuccessThreshold
	}
	return &breaker{
		config:   config,
		onChange: onChange,
		now:      time.Now,
		state:    Closed,
	}
}

// Allow checks if a request should be allowed based on current state.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	from := b.state
	allowed := true
	if b.state == Open {
		if b.now().Sub(b.lastFailureTime) >= b.config.Timeout {
			b.state = HalfOpen
			b.successCount = 0
		} else {
			allowed = false
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return allowed
}

// Record records the success or failure of a request.
func (b *breaker) Record(success bool) {
	b.mu.Lock()
	from := b.state
	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// GetState returns the current circuit breaker state.
func (b *breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset manually resets the circuit breaker to closed state.
func (b *breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
	b.mu.Unlock()

	b.notify(from, Closed)
}

func (b *breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}

func (b *breaker) onSuccess() {
	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

func (b *breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = b.now()

	switch b.state {
	case Closed:
		if b.failureCount >= b.config.FailureThreshold {
			b.state = Open
		}
	case HalfOpen:
		// A single failed probe reopens the circuit.
		b.state = Open
		b.successCount = 0
	}
}
