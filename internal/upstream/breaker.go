package upstream

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrConnectSuspended is returned by connect attempts while the breaker is
// open: the provider has failed repeatedly and new dials are held back until
// the cooldown elapses.
var ErrConnectSuspended = errors.New("upstream: connects suspended after repeated failures")

const (
	defaultBreakerMaxFailures = 4
	defaultBreakerCooldown    = 30 * time.Second
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerProbing
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// connBreaker guards provider dials. Consecutive failures open it; while open
// every attempt fails fast with [ErrConnectSuspended] until the cooldown
// elapses, after which a single probe dial is let through. A successful probe
// closes the breaker again, a failed one restarts the cooldown.
//
// Safe for concurrent use.
type connBreaker struct {
	log         *slog.Logger
	maxFailures int
	cooldown    time.Duration

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

func newConnBreaker(log *slog.Logger) *connBreaker {
	return &connBreaker{
		log:         log,
		maxFailures: defaultBreakerMaxFailures,
		cooldown:    defaultBreakerCooldown,
	}
}

// call runs dial unless the breaker is holding connects back. The dial's
// error feeds the breaker's failure accounting and is returned unchanged.
func (b *connBreaker) call(dial func() error) error {
	b.mu.Lock()
	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrConnectSuspended
		}
		b.state = breakerProbing
		b.log.Info("probing upstream after cooldown")
	case breakerProbing:
		// A probe is already in flight.
		b.mu.Unlock()
		return ErrConnectSuspended
	}
	b.mu.Unlock()

	err := dial()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.openedAt = time.Now()
		if b.state == breakerProbing || b.failures >= b.maxFailures {
			if b.state != breakerOpen {
				b.log.Warn("suspending upstream connects",
					"consecutive_failures", b.failures,
					"cooldown", b.cooldown)
			}
			b.state = breakerOpen
		}
		return err
	}

	if b.state != breakerClosed {
		b.log.Info("upstream connects resumed")
	}
	b.state = breakerClosed
	b.failures = 0
	return nil
}

// currentState reports the breaker's state, surfacing the pending
// open → probing transition once the cooldown has elapsed.
func (b *connBreaker) currentState() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerOpen && time.Since(b.openedAt) >= b.cooldown {
		return breakerProbing
	}
	return b.state
}
