package arbiter

// trigger is an arbitration input. Triggers are applied one at a time under
// the session serializer.
type trigger int

const (
	trigSessionStart trigger = iota
	trigSessionEnd
	trigSpeechEnded
	trigReflexArm
	trigReflexTimeout
	trigLaneBReady
	trigLaneBDone
	trigBargeIn
	trigPolicyCancel
	trigFallbackComplete
	trigResetCycle
)

func (t trigger) cause() string {
	switch t {
	case trigSessionStart:
		return CauseSessionStart
	case trigSessionEnd:
		return CauseSessionEnd
	case trigSpeechEnded:
		return CauseUserSpeechEnded
	case trigReflexArm:
		return CauseReflexTimer
	case trigReflexTimeout:
		return CauseReflexTimeout
	case trigLaneBReady:
		return CauseLaneBReady
	case trigLaneBDone:
		return CauseLaneBDone
	case trigBargeIn:
		return CauseBargeIn
	case trigPolicyCancel:
		return CausePolicyCancel
	case trigFallbackComplete:
		return CauseFallbackComplete
	case trigResetCycle:
		return CauseResetCycle
	}
	return "unknown"
}

// flags is the arbitrator's response-cycle bookkeeping, threaded through
// the pure transition function alongside the state.
//
// ResponseInProgress guards against overlapping response cycles.
// SuppressLaneBDone absorbs exactly one reasoning-done event after a policy
// cancellation. The three *Playing flags track which play signals have been
// emitted, so every stop signal can be matched to a prior play.
type flags struct {
	ResponseInProgress bool
	SuppressLaneBDone  bool
	ReflexEnabled      bool
	ReflexPlaying      bool
	LaneBPlaying       bool
	FallbackPlaying    bool
}

// action is a side effect requested by the transition function. The
// executor performs actions strictly in list order; actTransition marks the
// point at which the state (and owner) change becomes observable.
type action int

const (
	actCancelTimers action = iota
	actArmReflexTimer
	actArmReflexTimeout
	actTransition
	actPlayReflex
	actStopReflex
	actPlayLaneB
	actPlayLaneBAfterGap
	actStopLaneB
	actPlayFallback
	actStopFallback
	actResponseComplete
	actRecordSpeechEnd
	actRecordLaneBReady
	actWarnIgnored
)

// stopPlaying appends the matching stop action for every lane currently
// marked as playing and clears its flag.
func stopPlaying(f flags, acts []action) (flags, []action) {
	if f.ReflexPlaying {
		acts = append(acts, actStopReflex)
		f.ReflexPlaying = false
	}
	if f.LaneBPlaying {
		acts = append(acts, actStopLaneB)
		f.LaneBPlaying = false
	}
	if f.FallbackPlaying {
		acts = append(acts, actStopFallback)
		f.FallbackPlaying = false
	}
	return f, acts
}

// transition is the arbitrator's pure transition table: given the current
// state, an input trigger, and the cycle flags, it returns the next state,
// the updated flags, and the ordered list of side effects to execute. It
// performs no I/O and reads no clocks.
func transition(s State, trig trigger, f flags) (State, flags, []action) {
	switch trig {
	case trigSessionStart:
		if s != StateIdle {
			return s, f, []action{actWarnIgnored}
		}
		return StateListening, f, []action{actTransition}

	case trigSessionEnd:
		if s == StateEnded {
			return s, f, nil
		}
		acts := []action{actCancelTimers}
		f, acts = stopPlaying(f, acts)
		f.ResponseInProgress = false
		return StateEnded, f, append(acts, actTransition)

	case trigSpeechEnded:
		if s != StateListening {
			return s, f, []action{actWarnIgnored}
		}
		if f.ResponseInProgress {
			return s, f, nil
		}
		f.ResponseInProgress = true
		acts := []action{actRecordSpeechEnd, actTransition}
		if f.ReflexEnabled {
			acts = append(acts, actArmReflexTimer)
		}
		return StateResponding, f, acts

	case trigReflexArm:
		if s != StateResponding {
			return s, f, nil
		}
		f.ReflexPlaying = true
		return StateReflexPlaying, f, []action{actTransition, actPlayReflex, actArmReflexTimeout}

	case trigReflexTimeout:
		if s != StateReflexPlaying || !f.ReflexPlaying {
			return s, f, nil
		}
		// The reflex ran its course; hold A_PLAYING while Lane B catches up.
		f.ReflexPlaying = false
		return s, f, []action{actStopReflex}

	case trigLaneBReady:
		switch s {
		case StateReflexPlaying:
			acts := []action{actCancelTimers, actRecordLaneBReady}
			if f.ReflexPlaying {
				acts = append(acts, actStopReflex)
				f.ReflexPlaying = false
			}
			return StateLaneBPlaying, f, append(acts, actTransition, actPlayLaneBAfterGap)
		case StateResponding:
			f.LaneBPlaying = true
			return StateLaneBPlaying, f, []action{actCancelTimers, actRecordLaneBReady, actTransition, actPlayLaneB}
		default:
			// Repeated ready events within a cycle are no-ops.
			return s, f, nil
		}

	case trigLaneBDone:
		if f.SuppressLaneBDone {
			f.SuppressLaneBDone = false
			return s, f, nil
		}
		switch s {
		case StateFallbackPlaying, StateEnded:
			return s, f, nil
		case StateLaneBPlaying:
			acts := []action{actCancelTimers}
			if f.LaneBPlaying {
				acts = append(acts, actStopLaneB)
				f.LaneBPlaying = false
			}
			f.ResponseInProgress = false
			return StateListening, f, append(acts, actTransition, actResponseComplete)
		case StateListening:
			if !f.ResponseInProgress {
				return s, f, nil
			}
			f.ResponseInProgress = false
			return s, f, []action{actCancelTimers, actResponseComplete}
		case StateResponding:
			f.ResponseInProgress = false
			return StateListening, f, []action{actCancelTimers, actTransition, actResponseComplete}
		case StateReflexPlaying:
			acts := []action{actCancelTimers}
			if f.ReflexPlaying {
				acts = append(acts, actStopReflex)
				f.ReflexPlaying = false
			}
			f.ResponseInProgress = false
			return StateListening, f, append(acts, actTransition, actResponseComplete)
		default:
			f.ResponseInProgress = false
			return StateListening, f, []action{actCancelTimers, actWarnIgnored, actTransition}
		}

	case trigBargeIn:
		if s == StateIdle || s == StateEnded {
			return s, f, nil
		}
		acts := []action{actCancelTimers}
		f, acts = stopPlaying(f, acts)
		f.ResponseInProgress = false
		if s == StateListening {
			return s, f, acts
		}
		return StateListening, f, append(acts, actTransition)

	case trigPolicyCancel:
		switch s {
		case StateIdle, StateEnded:
			return s, f, nil
		case StateFallbackPlaying:
			// Already on the safe path; cut any residual reasoning stream
			// and absorb its eventual done event.
			f.SuppressLaneBDone = true
			f.LaneBPlaying = false
			return s, f, []action{actCancelTimers, actStopLaneB}
		default:
			acts := []action{actCancelTimers}
			f, acts = stopPlaying(f, acts)
			f.SuppressLaneBDone = true
			f.ResponseInProgress = true
			f.FallbackPlaying = true
			return StateFallbackPlaying, f, append(acts, actTransition, actPlayFallback)
		}

	case trigFallbackComplete:
		if s != StateFallbackPlaying {
			return s, f, nil
		}
		acts := []action{}
		if f.FallbackPlaying {
			acts = append(acts, actStopFallback)
			f.FallbackPlaying = false
		}
		f.ResponseInProgress = false
		return StateListening, f, append(acts, actTransition, actResponseComplete)

	case trigResetCycle:
		f.ResponseInProgress = false
		if s == StateResponding {
			return StateListening, f, []action{actCancelTimers, actTransition}
		}
		return s, f, nil
	}
	return s, f, nil
}
