package arbiter_test

import (
	"sync"
	"testing"
	"time"

	"github.com/nxtg-ai/voxbridge/internal/arbiter"
)

type recorder struct {
	mu     sync.Mutex
	events []arbiter.SignalEvent
}

func (r *recorder) record(evt arbiter.SignalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) signals() []arbiter.SignalEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]arbiter.SignalEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) count(sig arbiter.Signal) int {
	n := 0
	for _, evt := range r.signals() {
		if evt.Signal == sig {
			n++
		}
	}
	return n
}

func (r *recorder) ownerSequence() []arbiter.Owner {
	seq := []arbiter.Owner{arbiter.OwnerNone}
	for _, evt := range r.signals() {
		if evt.Signal == arbiter.SignalOwnerChange {
			seq = append(seq, evt.ToOwner)
		}
	}
	return seq
}

func waitForState(t *testing.T, a *arbiter.Arbitrator, want arbiter.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", a.State(), want)
}

func waitForSignal(t *testing.T, rec *recorder, sig arbiter.Signal) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.count(sig) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("signal %s never observed", sig)
}

// Reflex preemption: the filler starts while Lane B prepares, then Lane B
// takes over. Ownership walks none → reflex → reasoning and the play/stop
// pairs stay matched.
func TestReflexPreemption(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	a := arbiter.New("sess-preempt", arbiter.Config{
		ReflexEnabled:        true,
		MinDelayBeforeReflex: 20 * time.Millisecond,
		MaxReflexDuration:    time.Second,
		TransitionGap:        10 * time.Millisecond,
	}, rec.record)
	t.Cleanup(a.EndSession)

	a.StartSession()
	a.OnUserSpeechEnded()
	waitForState(t, a, arbiter.StateReflexPlaying)

	a.OnLaneBReady()
	waitForState(t, a, arbiter.StateLaneBPlaying)
	waitForSignal(t, rec, arbiter.SignalPlayLaneB)

	wantOwners := []arbiter.Owner{arbiter.OwnerNone, arbiter.OwnerReflex, arbiter.OwnerLaneB}
	got := rec.ownerSequence()
	if len(got) != len(wantOwners) {
		t.Fatalf("owner sequence = %v, want %v", got, wantOwners)
	}
	for i := range wantOwners {
		if got[i] != wantOwners[i] {
			t.Fatalf("owner sequence = %v, want %v", got, wantOwners)
		}
	}

	// stop_reflex must precede play_lane_b.
	var stopReflexAt, playLaneBAt = -1, -1
	for i, evt := range rec.signals() {
		switch evt.Signal {
		case arbiter.SignalStopReflex:
			stopReflexAt = i
		case arbiter.SignalPlayLaneB:
			playLaneBAt = i
		}
	}
	if stopReflexAt == -1 || playLaneBAt == -1 || stopReflexAt > playLaneBAt {
		t.Fatalf("stop_reflex at %d, play_lane_b at %d", stopReflexAt, playLaneBAt)
	}
	if n := rec.count(arbiter.SignalPlayReflex); n != 1 {
		t.Fatalf("play_reflex count = %d, want 1", n)
	}
	if n := rec.count(arbiter.SignalStopReflex); n != 1 {
		t.Fatalf("stop_reflex count = %d, want 1", n)
	}

	m := a.MetricsSnapshot()
	if m.ReflexPlays != 1 || m.Preemptions != 1 {
		t.Fatalf("metrics = %+v, want one reflex play and one preemption", m)
	}
	if m.LastLaneBLatency <= 0 {
		t.Fatalf("lane B latency = %v, want > 0", m.LastLaneBLatency)
	}
}

// Policy cancellation mid-playback: Lane B is cut, the fallback plays, the
// late upstream done event is absorbed exactly once, and the fallback
// completion closes the cycle with a single response_complete.
func TestPolicyCancelDuringLaneB(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	a := arbiter.New("sess-cancel", arbiter.Config{ReflexEnabled: false}, rec.record)
	t.Cleanup(a.EndSession)

	a.StartSession()
	a.OnUserSpeechEnded()
	a.OnLaneBReady()
	if got := a.State(); got != arbiter.StateLaneBPlaying {
		t.Fatalf("state = %s, want %s", got, arbiter.StateLaneBPlaying)
	}

	a.OnPolicyCancel()
	if got := a.State(); got != arbiter.StateFallbackPlaying {
		t.Fatalf("state = %s, want %s", got, arbiter.StateFallbackPlaying)
	}
	if n := rec.count(arbiter.SignalStopLaneB); n != 1 {
		t.Fatalf("stop_lane_b count = %d, want 1", n)
	}
	if n := rec.count(arbiter.SignalPlayFallback); n != 1 {
		t.Fatalf("play_fallback count = %d, want 1", n)
	}
	seq := rec.ownerSequence()
	if seq[len(seq)-1] != arbiter.OwnerFallback {
		t.Fatalf("owner = %s, want fallback", seq[len(seq)-1])
	}

	// The late upstream done is suppressed, leaving the fallback playing.
	a.OnLaneBDone()
	if got := a.State(); got != arbiter.StateFallbackPlaying {
		t.Fatalf("state after suppressed done = %s, want %s", got, arbiter.StateFallbackPlaying)
	}
	if n := rec.count(arbiter.SignalResponseComplete); n != 0 {
		t.Fatalf("response_complete count = %d before fallback finished", n)
	}

	a.OnFallbackComplete()
	if got := a.State(); got != arbiter.StateListening {
		t.Fatalf("state = %s, want %s", got, arbiter.StateListening)
	}
	if n := rec.count(arbiter.SignalResponseComplete); n != 1 {
		t.Fatalf("response_complete count = %d, want 1", n)
	}

	// A second stray done after the cycle closed changes nothing.
	a.OnLaneBDone()
	if n := rec.count(arbiter.SignalResponseComplete); n != 1 {
		t.Fatalf("response_complete count = %d after stray done, want 1", n)
	}
}

func TestBargeInStopsPlayback(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	a := arbiter.New("sess-barge", arbiter.Config{ReflexEnabled: false}, rec.record)
	t.Cleanup(a.EndSession)

	a.StartSession()
	a.OnUserSpeechEnded()
	a.OnLaneBReady()
	a.OnUserBargeIn()

	if got := a.State(); got != arbiter.StateListening {
		t.Fatalf("state = %s, want %s", got, arbiter.StateListening)
	}
	if n := rec.count(arbiter.SignalStopLaneB); n != 1 {
		t.Fatalf("stop_lane_b count = %d, want 1", n)
	}
	if a.ResponseInProgress() {
		t.Fatal("response cycle still marked in progress after barge-in")
	}
	if m := a.MetricsSnapshot(); m.BargeIns != 1 {
		t.Fatalf("barge-in count = %d, want 1", m.BargeIns)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	a := arbiter.New("sess-end", arbiter.Config{ReflexEnabled: false}, rec.record)

	a.StartSession()
	a.EndSession()
	a.EndSession()

	if got := a.State(); got != arbiter.StateEnded {
		t.Fatalf("state = %s, want %s", got, arbiter.StateEnded)
	}
	ended := 0
	for _, tr := range a.History() {
		if tr.To == arbiter.StateEnded {
			ended++
		}
	}
	if ended != 1 {
		t.Fatalf("transitions into ENDED = %d, want 1", ended)
	}
}

func TestLaneBReadyIdempotentWithinCycle(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	a := arbiter.New("sess-ready", arbiter.Config{ReflexEnabled: false}, rec.record)
	t.Cleanup(a.EndSession)

	a.StartSession()
	a.OnUserSpeechEnded()
	a.OnLaneBReady()
	a.OnLaneBReady()

	if n := rec.count(arbiter.SignalPlayLaneB); n != 1 {
		t.Fatalf("play_lane_b count = %d, want 1", n)
	}
}

func TestResetCycleCollapsesResponding(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	a := arbiter.New("sess-reset", arbiter.Config{ReflexEnabled: false}, rec.record)
	t.Cleanup(a.EndSession)

	a.StartSession()
	a.OnUserSpeechEnded()
	if got := a.State(); got != arbiter.StateResponding {
		t.Fatalf("state = %s, want %s", got, arbiter.StateResponding)
	}

	a.ResetResponseInProgress()
	if got := a.State(); got != arbiter.StateListening {
		t.Fatalf("state = %s, want %s", got, arbiter.StateListening)
	}
	if a.ResponseInProgress() {
		t.Fatal("response cycle still marked in progress after reset")
	}

	// The cycle guard is clear, so a new speech end starts a fresh cycle.
	a.OnUserSpeechEnded()
	if got := a.State(); got != arbiter.StateResponding {
		t.Fatalf("state = %s, want %s", got, arbiter.StateResponding)
	}
}

func TestReflexTimeoutStopsFiller(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	a := arbiter.New("sess-timeout", arbiter.Config{
		ReflexEnabled:        true,
		MinDelayBeforeReflex: 10 * time.Millisecond,
		MaxReflexDuration:    30 * time.Millisecond,
	}, rec.record)
	t.Cleanup(a.EndSession)

	a.StartSession()
	a.OnUserSpeechEnded()
	waitForSignal(t, rec, arbiter.SignalPlayReflex)
	waitForSignal(t, rec, arbiter.SignalStopReflex)

	// The filler timed out but Lane B never arrived: state holds A_PLAYING.
	if got := a.State(); got != arbiter.StateReflexPlaying {
		t.Fatalf("state = %s, want %s", got, arbiter.StateReflexPlaying)
	}
}
