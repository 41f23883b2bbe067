// Package admission filters inbound client audio before it reaches the
// upstream reasoning adapter. It exists to stop three pathologies:
// assistant audio leaking back through the microphone and being
// re-recognized, stale chunks arriving after an explicit stop, and audio
// sent while the assistant owns the speaker.
//
// Five gates apply in order, all of which must pass: the stop-latch,
// upstream readiness, arbitrator lifecycle, the echo-suppression cooldown,
// and the RMS energy floor. Violations are silent drops, never errors.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nxtg-ai/voxbridge/internal/arbiter"
	"github.com/nxtg-ai/voxbridge/pkg/audio"
)

// Physical defaults. The cooldown must exceed typical room reverb (RT60);
// the RMS floor sits between the noise floor and a whisper (≈ −44 dBFS).
const (
	DefaultCooldown = 1500 * time.Millisecond
	DefaultMinRMS   = 200.0
)

// DropReason classifies why a chunk was not forwarded.
type DropReason string

const (
	DropNone         DropReason = ""
	DropStopLatched  DropReason = "stop_latched"
	DropNotConnected DropReason = "upstream_not_connected"
	DropNotListening DropReason = "not_listening"
	DropCooldown     DropReason = "cooldown"
	DropLowEnergy    DropReason = "low_energy"
)

// Arbitration is the arbitrator surface the gate drives.
type Arbitration interface {
	State() arbiter.State
	OnUserSpeechEnded()
	OnUserBargeIn()
	ResetResponseInProgress()
}

// Upstream is the reasoning-adapter surface the gate forwards to.
type Upstream interface {
	IsConnected() bool
	IsResponding() bool
	SendAudio(ctx context.Context, chunk audio.Chunk) error
	// CommitAudio returns false when the buffered audio was too small to
	// commit.
	CommitAudio(ctx context.Context) (bool, error)
	ClearInputBuffer(ctx context.Context) error
	Cancel(ctx context.Context) error
}

// Config tunes the gate.
type Config struct {
	// Cooldown is the no-microphone window after the latest cooldown
	// anchor. Zero means DefaultCooldown.
	Cooldown time.Duration
	// MinRMS is the energy floor for forwarded chunks. Zero means
	// DefaultMinRMS.
	MinRMS float64
}

func (c Config) withDefaults() Config {
	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MinRMS == 0 {
		c.MinRMS = DefaultMinRMS
	}
	return c
}

// Metrics is a snapshot of admission counters.
type Metrics struct {
	Forwarded int
	Drops     map[DropReason]int
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gate) { g.log = log }
}

// WithClock injects the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithActivityFunc installs a callback invoked whenever a chunk is
// forwarded, used to touch the session's last-activity time.
func WithActivityFunc(fn func()) Option {
	return func(g *Gate) { g.touch = fn }
}

// Gate is one session's admission filter. Safe for concurrent use.
type Gate struct {
	cfg   Config
	arb   Arbitration
	up    Upstream
	log   *slog.Logger
	now   func() time.Time
	touch func()

	mu              sync.Mutex
	latched         bool
	lastResponseEnd time.Time
	lastPlaybackEnd time.Time
	forwarded       int
	drops           map[DropReason]int
}

// NewGate creates an admission gate bound to an arbitrator and upstream
// adapter.
func NewGate(cfg Config, arb Arbitration, up Upstream, opts ...Option) *Gate {
	g := &Gate{
		cfg:   cfg.withDefaults(),
		arb:   arb,
		up:    up,
		log:   slog.Default(),
		now:   time.Now,
		drops: make(map[DropReason]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("component", "admission")
	return g
}

// Admit runs the chunk through the gate chain and, if every gate passes,
// forwards it upstream. The returned reason is DropNone on forward. A
// non-nil error means the forward itself failed; drops are never errors.
func (g *Gate) Admit(ctx context.Context, chunk audio.Chunk) (DropReason, error) {
	if reason := g.check(chunk); reason != DropNone {
		return reason, nil
	}
	if err := g.up.SendAudio(ctx, chunk); err != nil {
		return DropNone, fmt.Errorf("admission: forward: %w", err)
	}
	g.mu.Lock()
	g.forwarded++
	g.mu.Unlock()
	if g.touch != nil {
		g.touch()
	}
	return DropNone, nil
}

// check evaluates the gate chain without forwarding.
func (g *Gate) check(chunk audio.Chunk) DropReason {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.latched {
		return g.dropLocked(DropStopLatched)
	}
	if !g.up.IsConnected() {
		return g.dropLocked(DropNotConnected)
	}
	if g.arb.State() != arbiter.StateListening {
		return g.dropLocked(DropNotListening)
	}
	anchor := g.lastResponseEnd
	if g.lastPlaybackEnd.After(anchor) {
		anchor = g.lastPlaybackEnd
	}
	if !anchor.IsZero() && g.now().Sub(anchor) < g.cfg.Cooldown {
		return g.dropLocked(DropCooldown)
	}
	if audio.RMS(chunk.Data) < g.cfg.MinRMS {
		return g.dropLocked(DropLowEnergy)
	}
	return DropNone
}

func (g *Gate) dropLocked(reason DropReason) DropReason {
	g.drops[reason]++
	return reason
}

// OnStop handles audio.stop and audio.cancel: latch, clear the upstream
// input buffer, cancel an in-flight response, and collapse a pending
// response cycle.
func (g *Gate) OnStop(ctx context.Context) error {
	g.mu.Lock()
	g.latched = true
	g.mu.Unlock()

	if err := g.up.ClearInputBuffer(ctx); err != nil {
		g.log.Warn("clear input buffer failed", "error", err)
	}
	if g.up.IsResponding() {
		if err := g.up.Cancel(ctx); err != nil {
			return fmt.Errorf("admission: cancel response: %w", err)
		}
	}
	if s := g.arb.State(); s == arbiter.StateResponding || s == arbiter.StateLaneBPlaying {
		g.arb.ResetResponseInProgress()
	}
	return nil
}

// OnCommit handles audio.commit: latch, start the response cycle if still
// listening, and run the upstream commit. When the upstream rejects the
// buffer as too small, the cycle is reset, the latch is cleared, and false
// is returned so the caller can notify the client with commit.skipped.
func (g *Gate) OnCommit(ctx context.Context) (bool, error) {
	g.mu.Lock()
	g.latched = true
	g.mu.Unlock()

	if g.arb.State() == arbiter.StateListening {
		g.arb.OnUserSpeechEnded()
	}
	ok, err := g.up.CommitAudio(ctx)
	if err != nil {
		return false, fmt.Errorf("admission: commit: %w", err)
	}
	if !ok {
		g.arb.ResetResponseInProgress()
		g.mu.Lock()
		g.latched = false
		g.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// OnUpstreamSpeechEnded handles the provider's own end-of-speech detection
// in open-mic capture: start the response cycle if still listening. No latch
// is taken, since the microphone stays hot and the lifecycle check holds
// chunks back for the duration of the cycle. The commit itself already
// happened server-side, so there is nothing to send upstream.
func (g *Gate) OnUpstreamSpeechEnded() {
	if g.arb.State() == arbiter.StateListening {
		g.arb.OnUserSpeechEnded()
	}
}

// OnPlaybackEnded records the client-side cooldown anchor.
func (g *Gate) OnPlaybackEnded() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastPlaybackEnd = g.now()
}

// OnResponseComplete records the server-side cooldown anchor and clears
// the stop latch.
func (g *Gate) OnResponseComplete() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastResponseEnd = g.now()
	g.latched = false
}

// OnBargeIn clears the latch and cancels the active lane.
func (g *Gate) OnBargeIn() {
	g.mu.Lock()
	g.latched = false
	g.mu.Unlock()
	g.arb.OnUserBargeIn()
}

// OnSessionStart opens the microphone for a fresh session.
func (g *Gate) OnSessionStart() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latched = false
}

// Latched reports the stop-latch state.
func (g *Gate) Latched() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latched
}

// MetricsSnapshot returns the current admission counters.
func (g *Gate) MetricsSnapshot() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	drops := make(map[DropReason]int, len(g.drops))
	for k, v := range g.drops {
		drops[k] = v
	}
	return Metrics{Forwarded: g.forwarded, Drops: drops}
}
