package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/T3-Labs/stream-balancer/pkg/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var ErrOpen = errors.New("circuit breaker aberto")

// Breaker protege um caminho de execução instável (o backend GPU) contra
// tentativas repetidas enquanto ele está falhando. Aberto, o caminho
// protegido é evitado até o backoff expirar; meio-aberto, uma tentativa de
// sondagem é permitida por vez.
type Breaker struct {
	name              string
	maxFailures       int64
	halfOpenSuccesses int64

	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64

	mu             sync.RWMutex
	state          State
	failures       int64
	successes      int64
	currentBackoff time.Duration
	lastFailTime   time.Time
	lastStateTime  time.Time
}

func NewBreaker(name string, maxFailures int64, initialBackoff time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if initialBackoff <= 0 {
		initialBackoff = 5 * time.Second
	}

	return &Breaker{
		name:              name,
		maxFailures:       maxFailures,
		halfOpenSuccesses: 3,
		initialBackoff:    initialBackoff,
		maxBackoff:        5 * time.Minute,
		backoffMultiplier: 2.0,
		currentBackoff:    initialBackoff,
		state:             StateClosed,
		lastStateTime:     time.Now(),
	}
}

// Allow indica se o caminho protegido pode ser tentado agora.
func (cb *Breaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true

	case StateOpen:
		if time.Since(cb.lastFailTime) > cb.currentBackoff {
			cb.setStateLocked(StateHalfOpen)
			return true
		}
		return false

	default:
		return false
	}
}

func (cb *Breaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++

	switch cb.state {
	case StateClosed:
		cb.failures = 0
		cb.currentBackoff = cb.initialBackoff

	case StateHalfOpen:
		if cb.successes >= cb.halfOpenSuccesses {
			cb.setStateLocked(StateClosed)
			cb.failures = 0
			cb.successes = 0
			cb.currentBackoff = cb.initialBackoff
		}
	}
}

func (cb *Breaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailTime = time.Now()
	cb.successes = 0

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.setStateLocked(StateOpen)
			cb.growBackoffLocked()
		}

	case StateHalfOpen:
		cb.setStateLocked(StateOpen)
		cb.growBackoffLocked()
	}
}

func (cb *Breaker) growBackoffLocked() {
	cb.currentBackoff = time.Duration(float64(cb.currentBackoff) * cb.backoffMultiplier)
	if cb.currentBackoff > cb.maxBackoff {
		cb.currentBackoff = cb.maxBackoff
	}
}

func (cb *Breaker) setStateLocked(newState State) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.lastStateTime = time.Now()

	if logger.Log != nil {
		logger.Log.Warnw("Circuit breaker mudou de estado",
			"breaker", cb.name,
			"old_state", oldState.String(),
			"new_state", newState.String(),
			"failures", cb.failures,
			"backoff", cb.currentBackoff)
	}
}

func (cb *Breaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

type Stats struct {
	Name            string
	State           State
	Failures        int64
	Successes       int64
	CurrentBackoff  time.Duration
	LastFailTime    time.Time
	LastStateChange time.Time
}

func (cb *Breaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		CurrentBackoff:  cb.currentBackoff,
		LastFailTime:    cb.lastFailTime,
		LastStateChange: cb.lastStateTime,
	}
}

func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.currentBackoff = cb.initialBackoff
	cb.lastStateTime = time.Now()
}
