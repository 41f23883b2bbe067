package arbiter

import (
	"log/slog"
	"sync"
	"time"
)

// Default lane timings. MinDelayBeforeReflex gives Lane B a head start
// before the filler plays; MaxReflexDuration bounds how long the filler may
// hold the speaker; TransitionGap is the silence inserted between stopping
// the reflex and starting Lane B audio.
const (
	DefaultMinDelayBeforeReflex = 250 * time.Millisecond
	DefaultMaxReflexDuration    = 4 * time.Second
	DefaultTransitionGap        = 120 * time.Millisecond
)

// historyCap bounds the retained transition history per session.
const historyCap = 256

// Config tunes a session's lane timings.
type Config struct {
	// ReflexEnabled arms the Lane A filler timer after user speech ends.
	ReflexEnabled bool
	// MinDelayBeforeReflex is how long to wait after speech end before the
	// reflex plays. Zero means DefaultMinDelayBeforeReflex.
	MinDelayBeforeReflex time.Duration
	// MaxReflexDuration stops the reflex if Lane B still has not produced
	// audio. Zero means DefaultMaxReflexDuration.
	MaxReflexDuration time.Duration
	// TransitionGap is the pause between stop_reflex and play_lane_b on
	// preemption. Zero means DefaultTransitionGap; negative disables the
	// gap entirely.
	TransitionGap time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinDelayBeforeReflex == 0 {
		c.MinDelayBeforeReflex = DefaultMinDelayBeforeReflex
	}
	if c.MaxReflexDuration == 0 {
		c.MaxReflexDuration = DefaultMaxReflexDuration
	}
	if c.TransitionGap == 0 {
		c.TransitionGap = DefaultTransitionGap
	}
	return c
}

// SignalEvent is one observable arbitration signal. For SignalStateChange
// the From/To fields carry states; for SignalOwnerChange they are empty and
// FromOwner/ToOwner carry the lanes. Cause names the trigger.
type SignalEvent struct {
	Signal    Signal
	From      State
	To        State
	FromOwner Owner
	ToOwner   Owner
	Cause     string
	At        time.Time
}

// SignalFunc receives arbitration signals in emission order. It is invoked
// with the arbitrator's lock held and must not call back into the
// arbitrator; forward to a channel or bus instead.
type SignalFunc func(SignalEvent)

// AuditSink receives every state and owner transition, in order. Sink
// errors are logged and never block arbitration.
type AuditSink interface {
	RecordTransition(evt SignalEvent) error
}

// Transition is one recorded state change.
type Transition struct {
	From  State
	To    State
	Cause string
	At    time.Time
}

// Metrics is a snapshot of per-session arbitration counters.
type Metrics struct {
	ReflexPlays        int
	Preemptions        int
	BargeIns           int
	PolicyCancels      int
	ResponsesCompleted int
	// LastLaneBLatency is bReadyTime − speechEndTime for the most recent
	// cycle that produced Lane B audio.
	LastLaneBLatency time.Duration
}

// Option configures an Arbitrator.
type Option func(*Arbitrator)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(a *Arbitrator) { a.log = log }
}

// WithAuditSink installs an audit sink for state and owner transitions.
func WithAuditSink(sink AuditSink) Option {
	return func(a *Arbitrator) { a.audit = sink }
}

// Arbitrator owns the speaker for one session. All methods are safe for
// concurrent use; operations and signal emissions are serialized.
type Arbitrator struct {
	sessionID string
	cfg       Config
	emit      SignalFunc
	log       *slog.Logger
	audit     AuditSink

	mu    sync.Mutex
	state State
	f     flags
	// gen invalidates outstanding timer callbacks; bumped on every cancel.
	gen           uint64
	reflexArm     *time.Timer
	reflexTimeout *time.Timer
	gapTimer      *time.Timer
	speechEndAt   time.Time
	laneBReadyAt  time.Time
	history       []Transition
	metrics       Metrics
}

// New creates an arbitrator in StateIdle. emit receives every signal the
// arbitrator produces; a nil emit discards signals.
func New(sessionID string, cfg Config, emit SignalFunc, opts ...Option) *Arbitrator {
	if emit == nil {
		emit = func(SignalEvent) {}
	}
	a := &Arbitrator{
		sessionID: sessionID,
		cfg:       cfg.withDefaults(),
		emit:      emit,
		log:       slog.Default(),
		state:     StateIdle,
		f:         flags{ReflexEnabled: cfg.ReflexEnabled},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With("component", "arbiter", "session_id", sessionID)
	return a
}

// StartSession moves IDLE to LISTENING. Any other state is ignored with a
// warning.
func (a *Arbitrator) StartSession() { a.apply(trigSessionStart) }

// EndSession cancels timers, stops any playing lane, and transitions to
// ENDED. Idempotent.
func (a *Arbitrator) EndSession() { a.apply(trigSessionEnd) }

// OnUserSpeechEnded begins a response cycle from LISTENING: records the
// speech-end time and, if the reflex lane is enabled, arms the filler
// timer. Ignored outside LISTENING or while a cycle is in progress.
func (a *Arbitrator) OnUserSpeechEnded() { a.apply(trigSpeechEnded) }

// OnLaneBReady reports the first assistant audio of the cycle. Cancels the
// reflex timers, preempts a playing reflex, and hands the speaker to Lane
// B. Idempotent within a cycle.
func (a *Arbitrator) OnLaneBReady() { a.apply(trigLaneBReady) }

// OnLaneBDone reports that the reasoning response finished. A pending
// suppression latch (set by policy cancellation) absorbs exactly one call.
func (a *Arbitrator) OnLaneBDone() { a.apply(trigLaneBDone) }

// OnUserBargeIn stops whatever is playing and returns to LISTENING.
func (a *Arbitrator) OnUserBargeIn() { a.apply(trigBargeIn) }

// OnPolicyCancel cuts the current output and hands the speaker to the
// fallback lane, latching suppression of the next OnLaneBDone.
func (a *Arbitrator) OnPolicyCancel() { a.apply(trigPolicyCancel) }

// OnFallbackComplete ends the fallback utterance and returns to LISTENING.
func (a *Arbitrator) OnFallbackComplete() { a.apply(trigFallbackComplete) }

// ResetResponseInProgress clears the cycle guard, collapsing B_RESPONDING
// back to LISTENING. Used when an upstream commit was skipped.
func (a *Arbitrator) ResetResponseInProgress() { a.apply(trigResetCycle) }

// State returns the current state.
func (a *Arbitrator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Owner returns the lane currently owning the speaker.
func (a *Arbitrator) Owner() Owner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return OwnerOf(a.state)
}

// ResponseInProgress reports whether a response cycle is active.
func (a *Arbitrator) ResponseInProgress() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.ResponseInProgress
}

// History returns a copy of the recorded state transitions, oldest first.
func (a *Arbitrator) History() []Transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Transition, len(a.history))
	copy(out, a.history)
	return out
}

// MetricsSnapshot returns the current counters.
func (a *Arbitrator) MetricsSnapshot() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

func (a *Arbitrator) apply(trig trigger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applyLocked(trig)
}

func (a *Arbitrator) applyLocked(trig trigger) {
	from := a.state
	next, nf, acts := transition(a.state, trig, a.f)
	a.f = nf
	now := time.Now()
	cause := trig.cause()

	switch trig {
	case trigBargeIn:
		if from != StateIdle && from != StateEnded {
			a.metrics.BargeIns++
		}
	case trigPolicyCancel:
		if from != StateIdle && from != StateEnded {
			a.metrics.PolicyCancels++
		}
	}

	for _, act := range acts {
		switch act {
		case actCancelTimers:
			a.cancelTimersLocked()
		case actArmReflexTimer:
			a.armLocked(&a.reflexArm, a.cfg.MinDelayBeforeReflex, trigReflexArm)
		case actArmReflexTimeout:
			a.armLocked(&a.reflexTimeout, a.cfg.MaxReflexDuration, trigReflexTimeout)
		case actTransition:
			a.state = next
			a.recordTransitionLocked(from, next, cause, now)
		case actPlayReflex:
			a.metrics.ReflexPlays++
			a.signalLocked(SignalEvent{Signal: SignalPlayReflex, Cause: cause, At: now})
		case actStopReflex:
			a.signalLocked(SignalEvent{Signal: SignalStopReflex, Cause: cause, At: now})
		case actPlayLaneB:
			a.signalLocked(SignalEvent{Signal: SignalPlayLaneB, Cause: cause, At: now})
		case actPlayLaneBAfterGap:
			a.metrics.Preemptions++
			a.armLaneBGapLocked()
		case actStopLaneB:
			a.signalLocked(SignalEvent{Signal: SignalStopLaneB, Cause: cause, At: now})
		case actPlayFallback:
			a.signalLocked(SignalEvent{Signal: SignalPlayFallback, Cause: cause, At: now})
		case actStopFallback:
			a.signalLocked(SignalEvent{Signal: SignalStopFallback, Cause: cause, At: now})
		case actResponseComplete:
			a.metrics.ResponsesCompleted++
			a.signalLocked(SignalEvent{Signal: SignalResponseComplete, Cause: cause, At: now})
		case actRecordSpeechEnd:
			a.speechEndAt = now
		case actRecordLaneBReady:
			a.laneBReadyAt = now
			if !a.speechEndAt.IsZero() {
				a.metrics.LastLaneBLatency = now.Sub(a.speechEndAt)
			}
		case actWarnIgnored:
			a.log.Warn("ignored arbitration trigger", "state", string(from), "cause", cause)
		}
	}
}

func (a *Arbitrator) recordTransitionLocked(from, to State, cause string, now time.Time) {
	a.history = append(a.history, Transition{From: from, To: to, Cause: cause, At: now})
	if len(a.history) > historyCap {
		a.history = a.history[len(a.history)-historyCap:]
	}
	a.signalLocked(SignalEvent{Signal: SignalStateChange, From: from, To: to, Cause: cause, At: now})
	if fo, to2 := OwnerOf(from), OwnerOf(to); fo != to2 {
		a.signalLocked(SignalEvent{Signal: SignalOwnerChange, FromOwner: fo, ToOwner: to2, Cause: cause, At: now})
	}
}

func (a *Arbitrator) signalLocked(evt SignalEvent) {
	a.emit(evt)
	if a.audit != nil {
		if err := a.audit.RecordTransition(evt); err != nil {
			a.log.Warn("audit sink rejected signal", "signal", string(evt.Signal), "error", err)
		}
	}
}

// cancelTimersLocked invalidates every outstanding timer. The generation
// bump makes late-firing callbacks no-ops.
func (a *Arbitrator) cancelTimersLocked() {
	a.gen++
	for _, t := range []*time.Timer{a.reflexArm, a.reflexTimeout, a.gapTimer} {
		if t != nil {
			t.Stop()
		}
	}
	a.reflexArm, a.reflexTimeout, a.gapTimer = nil, nil, nil
}

func (a *Arbitrator) armLocked(slot **time.Timer, d time.Duration, trig trigger) {
	gen := a.gen
	*slot = time.AfterFunc(d, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.gen != gen {
			return
		}
		a.applyLocked(trig)
	})
}

// armLaneBGapLocked emits play_lane_b after the transition gap, as long as
// nothing superseded the preemption in the meantime.
func (a *Arbitrator) armLaneBGapLocked() {
	emit := func() {
		if a.state != StateLaneBPlaying || a.f.LaneBPlaying {
			return
		}
		a.f.LaneBPlaying = true
		a.signalLocked(SignalEvent{Signal: SignalPlayLaneB, Cause: CauseLaneBReady, At: time.Now()})
	}
	if a.cfg.TransitionGap <= 0 {
		emit()
		return
	}
	gen := a.gen
	a.gapTimer = time.AfterFunc(a.cfg.TransitionGap, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.gen != gen {
			return
		}
		emit()
	})
}
