// Package arbiter decides who owns the speaker at every instant of a
// voice session. Three lanes compete for output: the reflex lane (A) plays
// a short pre-approved filler while the reasoning lane (B) prepares its
// response, and the fallback lane plays a safe utterance when policy
// cancels assistant output. The arbitrator is a per-session state machine
// with preemption, barge-in, reflex timers, and policy cancellation.
//
// All state mutation is serialized per session: the transition table is a
// pure function and every emitted signal observes the same total order as
// the transitions that produced it.
package arbiter

// State is the arbitrator's lifecycle position. Initial state is
// StateIdle; StateEnded is terminal.
type State string

const (
	StateIdle            State = "IDLE"
	StateListening       State = "LISTENING"
	StateReflexPlaying   State = "A_PLAYING"
	StateResponding      State = "B_RESPONDING"
	StateLaneBPlaying    State = "B_PLAYING"
	StateFallbackPlaying State = "FALLBACK_PLAYING"
	StateEnded           State = "ENDED"
)

// Owner identifies which lane holds the speaker.
type Owner string

const (
	OwnerNone     Owner = "none"
	OwnerReflex   Owner = "reflex"
	OwnerLaneB    Owner = "reasoning"
	OwnerFallback Owner = "fallback"
)

// OwnerOf returns the lane that owns the speaker in the given state. At
// most one lane plays at any instant; ownership is a pure function of
// state.
func OwnerOf(s State) Owner {
	switch s {
	case StateReflexPlaying:
		return OwnerReflex
	case StateLaneBPlaying:
		return OwnerLaneB
	case StateFallbackPlaying:
		return OwnerFallback
	default:
		return OwnerNone
	}
}

// Signal names an observable arbitration event. Lane producers and the
// client writer subscribe to these; play/stop pairs for a lane are always
// matched.
type Signal string

const (
	SignalStateChange      Signal = "state_change"
	SignalOwnerChange      Signal = "owner_change"
	SignalPlayReflex       Signal = "play_reflex"
	SignalStopReflex       Signal = "stop_reflex"
	SignalPlayLaneB        Signal = "play_lane_b"
	SignalStopLaneB        Signal = "stop_lane_b"
	SignalPlayFallback     Signal = "play_fallback"
	SignalStopFallback     Signal = "stop_fallback"
	SignalResponseComplete Signal = "response_complete"
)

// Causes attached to signals, naming the trigger that produced them.
const (
	CauseSessionStart     = "session_start"
	CauseSessionEnd       = "session_end"
	CauseUserSpeechEnded  = "user_speech_ended"
	CauseReflexTimer      = "reflex_timer"
	CauseReflexTimeout    = "reflex_timeout"
	CauseLaneBReady       = "b_first_audio_ready"
	CauseLaneBDone        = "response_done"
	CauseBargeIn          = "user_barge_in"
	CausePolicyCancel     = "policy_cancel"
	CauseFallbackComplete = "fallback_complete"
	CauseResetCycle       = "reset_cycle"
)
