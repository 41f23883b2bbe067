package eventbus_test

import (
	"testing"
	"time"

	"github.com/nxtg-ai/voxbridge/internal/eventbus"
)

func recvOne(t *testing.T, sub *eventbus.Subscription) eventbus.Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return eventbus.Event{}
}

func TestPublishTypedSubscriber(t *testing.T) {
	t.Parallel()

	bus := eventbus.New("sess-1")
	t.Cleanup(bus.Close)

	sub := bus.Subscribe("policy.decision")
	bus.Publish("control", "rag.query", map[string]any{"q": "latency"})
	bus.Publish("control", "policy.decision", map[string]any{"kind": "allow"})

	evt := recvOne(t, sub)
	if evt.Type != "policy.decision" {
		t.Fatalf("got type %q, want policy.decision", evt.Type)
	}
	if evt.SessionID != "sess-1" {
		t.Fatalf("got session %q, want sess-1", evt.SessionID)
	}
	if evt.EventID == "" || evt.TMS == 0 {
		t.Fatalf("event missing id or timestamp: %+v", evt)
	}

	select {
	case extra := <-sub.Events():
		t.Fatalf("unexpected extra event: %+v", extra)
	default:
	}
}

func TestWildcardSubscriberSeesAll(t *testing.T) {
	t.Parallel()

	bus := eventbus.New("sess-2")
	t.Cleanup(bus.Close)

	sub := bus.Subscribe()
	bus.Publish("arbiter", "state_change", nil)
	bus.Publish("upstream", "upstream.first_audio_ready", nil)

	first := recvOne(t, sub)
	second := recvOne(t, sub)
	if first.Type != "state_change" || second.Type != "upstream.first_audio_ready" {
		t.Fatalf("got %q then %q", first.Type, second.Type)
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	t.Parallel()

	bus := eventbus.New("sess-3")
	t.Cleanup(bus.Close)

	sub := bus.Subscribe("tick")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			bus.Publish("test", "tick", map[string]any{"seq": i})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The newest events survive; the oldest were shed.
	var last eventbus.Event
	drained := 0
	for {
		select {
		case evt := <-sub.Events():
			last = evt
			drained++
			continue
		default:
		}
		break
	}
	if drained == 0 {
		t.Fatal("subscriber received nothing")
	}
	if seq, _ := last.Payload["seq"].(int); seq != 499 {
		t.Fatalf("newest event seq = %v, want 499", last.Payload["seq"])
	}
}

func TestCloseReleasesSubscribers(t *testing.T) {
	t.Parallel()

	bus := eventbus.New("sess-4")
	sub := bus.Subscribe()
	bus.Close()
	bus.Close() // idempotent

	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed channel after bus close")
	}

	// Publishing after close must not panic.
	bus.Publish("test", "tick", nil)
}

func TestSubscriptionClose(t *testing.T) {
	t.Parallel()

	bus := eventbus.New("sess-5")
	t.Cleanup(bus.Close)

	sub := bus.Subscribe("tick")
	sub.Close()
	sub.Close() // idempotent

	bus.Publish("test", "tick", nil)
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed channel after subscription close")
	}
}
