package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sweep and garbage-collection tuning.
const (
	// DefaultIdleTimeout ends sessions with no client traffic when the
	// config does not set one.
	DefaultIdleTimeout = 5 * time.Minute

	// gcGrace is how long an ended session stays queryable before the
	// manager forgets it.
	gcGrace = 30 * time.Second

	// sweepInterval is the idle/GC sweep period.
	sweepInterval = 15 * time.Second
)

// VisitRegistry counts sessions per client fingerprint, backing the
// provider.ready returning-user fields. In-memory; resets on restart.
type VisitRegistry struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewVisitRegistry creates an empty registry.
func NewVisitRegistry() *VisitRegistry {
	return &VisitRegistry{counts: make(map[string]int)}
}

// Visit records one session for the fingerprint and returns how many came
// before it. An empty fingerprint is not tracked and always returns 0.
func (r *VisitRegistry) Visit(fingerprint string) int {
	if fingerprint == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.counts[fingerprint]
	r.counts[fingerprint] = previous + 1
	return previous
}

// Manager owns all live sessions: creation on accepted transports, the
// idle-timeout sweep, delayed garbage collection of ended sessions, and
// drain on shutdown.
type Manager struct {
	deps Deps
	log  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	endedAt  map[string]time.Time
	wg       sync.WaitGroup
}

// NewManager creates a session manager. A nil Deps.Visits gets a fresh
// registry so provider.ready always has visit counts.
func NewManager(deps Deps) *Manager {
	if deps.Visits == nil {
		deps.Visits = NewVisitRegistry()
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		deps:     deps,
		log:      log.With("component", "session_manager"),
		sessions: make(map[string]*Session),
		endedAt:  make(map[string]time.Time),
	}
}

// Handle runs a full session over an accepted transport, blocking until
// the session ends. The caller is typically a per-connection HTTP
// handler goroutine.
func (m *Manager) Handle(ctx context.Context, transport Transport) error {
	id := "session-" + uuid.NewString()
	sess := New(id, transport, m.deps)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	m.wg.Add(1)

	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveSessions.Add(ctx, 1)
	}
	m.log.Info("session accepted", "session_id", id)

	err := sess.Run(ctx)

	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}
	m.mu.Lock()
	m.endedAt[id] = time.Now()
	m.mu.Unlock()
	m.wg.Done()
	return err
}

// Get returns a session by ID. Ended sessions remain visible until the
// GC grace period expires.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Active returns the number of sessions that have not ended.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id := range m.sessions {
		if _, ended := m.endedAt[id]; !ended {
			n++
		}
	}
	return n
}

// Run sweeps until ctx is cancelled, then drains all sessions.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return ctx.Err()
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// sweep ends idle sessions and forgets ended ones past the grace period.
func (m *Manager) sweep(now time.Time) {
	idleTimeout := m.deps.Config.Session.IdleTimeout()
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	m.mu.Lock()
	var idle []*Session
	for id, sess := range m.sessions {
		if ended, ok := m.endedAt[id]; ok {
			if now.Sub(ended) >= gcGrace {
				delete(m.sessions, id)
				delete(m.endedAt, id)
			}
			continue
		}
		if now.Sub(sess.LastActivity()) >= idleTimeout {
			idle = append(idle, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range idle {
		m.log.Info("ending idle session", "session_id", sess.ID())
		sess.End("idle_timeout")
	}
}

// Shutdown ends every live session and waits for their Handle calls to
// return.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	var live []*Session
	for id, sess := range m.sessions {
		if _, ended := m.endedAt[id]; !ended {
			live = append(live, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range live {
		sess.End("server_shutdown")
	}
	m.wg.Wait()
	m.log.Info("all sessions drained")
}
