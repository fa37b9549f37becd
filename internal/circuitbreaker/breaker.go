// Package circuitbreaker stops push sends to a gateway host after a run of
// consecutive transport failures, and lets a single probe through once
// the cooldown has passed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

type hostState struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker tracks one state per key, normally a gateway host.
// A threshold of zero disables it: Allow always succeeds.
type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*hostState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*hostState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Allow returns ErrCircuitOpen while the key is open, or while a half-open
// probe is already in flight.
func (cb *CircuitBreaker) Allow(key string) error {
	if cb.threshold <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		return nil
	}

	switch s.state {
	case StateOpen:
		if cb.clock().Sub(s.openedAt) >= cb.cooldown {
			s.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if s, ok := cb.states[key]; ok {
		s.state = StateClosed
		s.consecutiveFailures = 0
	}
}

// RecordFailure counts a transport failure. Rejections by the gateway for
// a single token are not failures of the host and must not be recorded.
func (cb *CircuitBreaker) RecordFailure(key string) {
	if cb.threshold <= 0 {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		s = &hostState{}
		cb.states[key] = s
	}

	s.consecutiveFailures++
	if s.state == StateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.state = StateOpen
		s.openedAt = cb.clock()
	}
}

// State reports the current state for key.
func (cb *CircuitBreaker) State(key string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if s, ok := cb.states[key]; ok {
		return s.state
	}
	return StateClosed
}
