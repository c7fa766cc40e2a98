package llm

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCapabilityOpen reports that a capability endpoint is temporarily
// blocked after repeated failures.
var ErrCapabilityOpen = errors.New("llm: capability circuit open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	default:
		return "half-open"
	}
}

// breaker guards one capability endpoint. After failureThreshold
// consecutive failures calls are rejected for cooldown; the first probe
// after cooldown decides whether the endpoint recovered. Failing one
// capability never blocks the others.
type breaker struct {
	name   string
	logger *zap.Logger

	failureThreshold int
	cooldown         time.Duration

	mu            sync.Mutex
	state         breakerState
	consecFails   int
	openedAt      time.Time
	probeInFlight bool
}

func newBreaker(name string, logger *zap.Logger) *breaker {
	return &breaker{
		name:             name,
		logger:           logger,
		failureThreshold: 5,
		cooldown:         30 * time.Second,
	}
}

// call runs fn unless the breaker is open.
func (b *breaker) call(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return ErrCapabilityOpen
		}
		b.setState(breakerHalfOpen)
		b.probeInFlight = true
		return nil
	default: // half-open: one probe at a time
		if b.probeInFlight {
			return ErrCapabilityOpen
		}
		b.probeInFlight = true
		return nil
	}
}

func (b *breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.probeInFlight = false
		if success {
			b.consecFails = 0
			b.setState(breakerClosed)
		} else {
			b.openedAt = time.Now()
			b.setState(breakerOpen)
		}
		return
	}

	if success {
		b.consecFails = 0
		return
	}
	b.consecFails++
	if b.consecFails >= b.failureThreshold {
		b.openedAt = time.Now()
		b.setState(breakerOpen)
	}
}

func (b *breaker) setState(s breakerState) {
	if b.state == s {
		return
	}
	prev := b.state
	b.state = s
	b.logger.Info("capability circuit state changed",
		zap.String("capability", b.name),
		zap.String("from", prev.String()),
		zap.String("to", s.String()))
}
