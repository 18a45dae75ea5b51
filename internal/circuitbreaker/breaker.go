// Package circuitbreaker guards the downstream endpoint with a per-key
// three-state breaker. The sink keys it by resource type so a broken
// handler for one record kind does not burn the retry budget of others.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type keyState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker opens a key after threshold consecutive failures and
// lets a single probe through after the cooldown.
type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*keyState
	threshold int
	cooldown  time.Duration

	now func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*keyState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call for key may proceed. When an open key's
// cooldown has elapsed, the breaker moves to half-open and admits exactly
// one probe; further calls are rejected until the probe resolves.
func (cb *CircuitBreaker) Allow(key string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if cb.now().Sub(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

// RecordSuccess closes the key and clears its failure count.
func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

// RecordFailure counts a failure for key, opening it at the threshold.
// A failed half-open probe reopens immediately.
func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[key]
	if !ok {
		s = &keyState{}
		cb.states[key] = s
	}

	if s.state == stateHalfOpen {
		s.state = stateOpen
		s.openedAt = cb.now()
		return
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = cb.now()
	}
}
