// Package upstream wraps a realtime speech provider as the session's
// reasoning lane. The adapter owns the provider connection and its
// lifecycle: buffered audio accounting, the two-phase commit protocol,
// response-scoped instruction injection, reconnection with capped backoff,
// and surfacing provider traffic as adapter events (including wrapper-level
// first-audio-ready with its TTFB measurement).
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nxtg-ai/voxbridge/internal/observe"
	"github.com/nxtg-ai/voxbridge/pkg/audio"
	"github.com/nxtg-ai/voxbridge/pkg/realtime"
)

// Commit protocol constants. A commit needs at least MinBufferDuration of
// audio buffered; before committing, the adapter waits out SafetyWindow
// since the last append so in-flight chunks land first.
const (
	MinBufferDuration = 100 * time.Millisecond
	SafetyWindow      = 50 * time.Millisecond
)

// MaxBufferBytes caps local buffer accounting at 5 seconds of 24 kHz
// PCM16. Older samples beyond the cap are discarded tail-first.
const MaxBufferBytes = 5 * audio.DefaultSampleRate * 2

// maxQueueEntries bounds the outgoing audio queue; the oldest entry is
// dropped when a new one arrives at capacity.
const maxQueueEntries = 50

// Reconnect backoff defaults.
const (
	DefaultMaxReconnectAttempts = 5
	defaultReconnectBaseDelay   = 500 * time.Millisecond
	maxReconnectDelay           = 10 * time.Second
)

// ErrNotConnected is returned by operations that need a live provider
// session.
var ErrNotConnected = errors.New("upstream: not connected")

// EventType discriminates adapter events.
type EventType string

const (
	EventSpeechStarted   EventType = "speech_started"
	EventSpeechStopped   EventType = "speech_stopped"
	EventResponseStart   EventType = "response_start"
	EventResponseEnd     EventType = "response_end"
	EventAudio           EventType = "audio"
	EventTranscript      EventType = "transcript"
	EventUserTranscript  EventType = "user_transcript"
	EventFirstAudioReady EventType = "first_audio_ready"
	EventError           EventType = "error"
)

// Event is one adapter occurrence delivered to the session loop.
type Event struct {
	Type    EventType
	Audio   []byte
	Text    string
	IsFinal bool
	// TTFBMS is the response_start → first audio chunk latency, set on
	// EventFirstAudioReady and EventResponseEnd.
	TTFBMS int64
	Err    error
}

// InstructionsProvider is called on commit confirmation with the
// accumulated user transcript; it returns response-scoped instructions, or
// empty for none.
type InstructionsProvider func(transcript string) string

// Config describes the upstream session.
type Config struct {
	// SessionID is required; the adapter never connects without one.
	SessionID string

	// Voice selects the provider voice.
	Voice string

	// Mode is the initial turn-detection mode. Empty means push-to-talk.
	Mode realtime.VoiceMode

	// Instructions is the base system prompt.
	Instructions string

	// MaxReconnectAttempts bounds reconnection after a dropped provider
	// connection. Zero means DefaultMaxReconnectAttempts.
	MaxReconnectAttempts int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(a *Adapter) { a.log = log }
}

// WithMetrics installs the shared metrics instruments. Nil disables
// adapter metric recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// Adapter is one session's reasoning lane. Safe for concurrent use.
type Adapter struct {
	provider realtime.Provider
	cfg      Config
	log      *slog.Logger
	events   chan Event
	breaker  *connBreaker
	metrics  *observe.Metrics

	mu            sync.Mutex
	handle        realtime.SessionHandle
	connected     bool
	responding    bool
	pendingCommit bool
	bufferedBytes int
	lastAppend    time.Time
	userText      strings.Builder
	convContext   []string
	instrProvider InstructionsProvider
	mode          realtime.VoiceMode
	respStartAt   time.Time
	firstAudio    bool
	lastTTFB      int64
	reconnects    int

	sendCh    chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates an adapter over the given provider. Call Connect before
// sending audio and Disconnect when the session ends.
func New(provider realtime.Provider, cfg Config, opts ...Option) *Adapter {
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	mode := cfg.Mode
	if mode == "" {
		mode = realtime.VoiceModePushToTalk
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		provider: provider,
		cfg:      cfg,
		log:      slog.Default(),
		events:   make(chan Event, 256),
		sendCh:   make(chan []byte, maxQueueEntries),
		mode:     mode,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With("component", "upstream", "session_id", cfg.SessionID)
	a.breaker = newConnBreaker(a.log)
	return a
}

// Events returns the adapter's event stream. Closed by Disconnect.
func (a *Adapter) Events() <-chan Event { return a.events }

// Connect dials the provider and starts the send and receive loops.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.cfg.SessionID == "" {
		return fmt.Errorf("upstream: connect without session id")
	}
	a.mu.Lock()
	if a.connected {
		a.mu.Unlock()
		return nil
	}
	cfg := a.sessionConfigLocked()
	a.mu.Unlock()

	var handle realtime.SessionHandle
	err := a.breaker.call(func() error {
		var dialErr error
		handle, dialErr = a.provider.Connect(ctx, cfg)
		return dialErr
	})
	if err != nil {
		return fmt.Errorf("upstream: connect: %w", err)
	}

	a.mu.Lock()
	a.handle = handle
	a.connected = true
	a.reconnects = 0
	a.mu.Unlock()

	a.wg.Add(2)
	go a.sendLoop()
	go a.receiveLoop(handle)
	return nil
}

// sessionConfigLocked builds the provider config from the base
// instructions plus any accumulated conversation context.
func (a *Adapter) sessionConfigLocked() realtime.SessionConfig {
	instructions := a.cfg.Instructions
	if len(a.convContext) > 0 {
		instructions = strings.TrimSpace(instructions + "\n" + strings.Join(a.convContext, "\n"))
	}
	return realtime.SessionConfig{
		SessionID:    a.cfg.SessionID,
		Voice:        a.cfg.Voice,
		Instructions: instructions,
		Mode:         a.mode,
	}
}

// Disconnect tears the session down: stops loops, closes the provider
// handle, and closes the event stream. Idempotent.
func (a *Adapter) Disconnect() {
	a.closeOnce.Do(func() {
		a.cancel()
		a.mu.Lock()
		handle := a.handle
		a.handle = nil
		a.connected = false
		a.responding = false
		a.mu.Unlock()
		if handle != nil {
			_ = handle.Close()
		}
		a.wg.Wait()
		close(a.events)
	})
}

// IsConnected reports whether a provider session is live.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// IsResponding reports whether a model response is in flight.
func (a *Adapter) IsResponding() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.responding
}

// SendAudio queues a PCM16 chunk for the provider's input buffer. The
// queue is bounded with oldest-drop; local buffer accounting is capped at
// MaxBufferBytes, preserving the newest samples.
func (a *Adapter) SendAudio(_ context.Context, chunk audio.Chunk) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return ErrNotConnected
	}
	a.bufferedBytes += len(chunk.Data)
	if a.bufferedBytes > MaxBufferBytes {
		a.bufferedBytes = MaxBufferBytes
	}
	a.lastAppend = time.Now()
	a.mu.Unlock()

	for {
		select {
		case a.sendCh <- chunk.Data:
			return nil
		default:
			// Queue full: shed the oldest chunk and retry.
			select {
			case <-a.sendCh:
			default:
			}
		}
	}
}

// sendLoop drains the audio queue into the provider handle.
func (a *Adapter) sendLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case data := <-a.sendCh:
			a.mu.Lock()
			handle := a.handle
			a.mu.Unlock()
			if handle == nil {
				continue
			}
			if err := handle.SendAudio(data); err != nil {
				a.log.Warn("send audio failed", "error", err)
			}
		}
	}
}

// CommitAudio runs the two-phase commit protocol. Phase one requires at
// least MinBufferDuration of buffered audio; a smaller buffer is reset and
// false is returned. Phase two waits out the safety window since the last
// append, sends the commit, and marks it pending. The response itself is
// requested only when the provider confirms the commit.
func (a *Adapter) CommitAudio(ctx context.Context) (bool, error) {
	a.mu.Lock()
	if !a.connected || a.handle == nil {
		a.mu.Unlock()
		return false, ErrNotConnected
	}
	bufferedMS := audio.DurationMS(a.bufferedBytes, audio.DefaultSampleRate)
	if bufferedMS < MinBufferDuration.Milliseconds() {
		a.bufferedBytes = 0
		handle := a.handle
		a.mu.Unlock()
		a.drainQueue()
		if err := handle.ClearInput(); err != nil {
			a.log.Warn("clear input after tiny buffer failed", "error", err)
		}
		a.log.Debug("commit skipped", "buffered_ms", bufferedMS)
		return false, nil
	}
	sinceAppend := time.Since(a.lastAppend)
	handle := a.handle
	a.mu.Unlock()

	if wait := SafetyWindow - sinceAppend; wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	if err := handle.Commit(); err != nil {
		return false, fmt.Errorf("upstream: commit: %w", err)
	}
	a.mu.Lock()
	a.pendingCommit = true
	a.mu.Unlock()
	return true, nil
}

// ClearInputBuffer discards the provider-side input buffer and resets
// local accounting. Best effort.
func (a *Adapter) ClearInputBuffer(_ context.Context) error {
	a.mu.Lock()
	a.bufferedBytes = 0
	a.pendingCommit = false
	handle := a.handle
	a.mu.Unlock()
	a.drainQueue()
	if handle == nil {
		return nil
	}
	if err := handle.ClearInput(); err != nil {
		return fmt.Errorf("upstream: clear input: %w", err)
	}
	return nil
}

// Cancel stops the in-flight model response.
func (a *Adapter) Cancel(_ context.Context) error {
	a.mu.Lock()
	handle := a.handle
	a.responding = false
	a.mu.Unlock()
	if handle == nil {
		return ErrNotConnected
	}
	if err := handle.CancelResponse(); err != nil {
		return fmt.Errorf("upstream: cancel: %w", err)
	}
	return nil
}

// SetVoiceMode reconfigures provider turn detection mid-session. Invalid
// modes are rejected.
func (a *Adapter) SetVoiceMode(mode realtime.VoiceMode) error {
	if !mode.Valid() {
		return fmt.Errorf("upstream: invalid voice mode %q", mode)
	}
	a.mu.Lock()
	a.mode = mode
	handle := a.handle
	a.mu.Unlock()
	if handle == nil {
		return nil
	}
	if err := handle.SetVoiceMode(mode); err != nil {
		return fmt.Errorf("upstream: set voice mode: %w", err)
	}
	return nil
}

// Mode returns the active voice mode.
func (a *Adapter) Mode() realtime.VoiceMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// SetConversationContext accumulates text into the system instructions of
// the next provider session.
func (a *Adapter) SetConversationContext(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.convContext = append(a.convContext, text)
}

// SetResponseInstructionsProvider installs the callback invoked on commit
// confirmation with the accumulated user transcript.
func (a *Adapter) SetResponseInstructionsProvider(fn InstructionsProvider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.instrProvider = fn
}

// drainQueue empties the outgoing audio queue.
func (a *Adapter) drainQueue() {
	for {
		select {
		case <-a.sendCh:
		default:
			return
		}
	}
}

// receiveLoop consumes one provider connection's events until it closes,
// then decides whether to reconnect.
func (a *Adapter) receiveLoop(handle realtime.SessionHandle) {
	defer a.wg.Done()
	for evt := range handle.Events() {
		a.handleProviderEvent(evt)
	}
	if a.ctx.Err() != nil {
		return
	}

	err := handle.Err()
	a.mu.Lock()
	a.connected = false
	a.responding = false
	a.bufferedBytes = 0
	a.pendingCommit = false
	a.handle = nil
	a.mu.Unlock()
	a.drainQueue()

	if err == nil {
		return
	}
	a.log.Warn("provider connection lost", "error", err)
	a.wg.Add(1)
	go a.reconnectLoop()
}

// reconnectLoop retries the provider connection with capped exponential
// backoff until it succeeds, the attempt budget runs out, or the adapter
// shuts down.
func (a *Adapter) reconnectLoop() {
	defer a.wg.Done()
	for {
		a.mu.Lock()
		attempt := a.reconnects
		a.reconnects++
		cfg := a.sessionConfigLocked()
		a.mu.Unlock()

		if attempt >= a.cfg.MaxReconnectAttempts {
			a.log.Error("reconnect attempts exhausted", "attempts", attempt)
			a.emit(Event{Type: EventError, Err: fmt.Errorf("upstream: reconnect attempts exhausted after %d tries", attempt)})
			return
		}

		delay := defaultReconnectBaseDelay << attempt
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(delay):
		}

		var handle realtime.SessionHandle
		err := a.breaker.call(func() error {
			var dialErr error
			handle, dialErr = a.provider.Connect(a.ctx, cfg)
			return dialErr
		})
		if err != nil {
			a.log.Warn("reconnect failed", "attempt", attempt+1, "error", err)
			a.recordReconnect("error")
			continue
		}

		a.mu.Lock()
		a.handle = handle
		a.connected = true
		a.reconnects = 0
		a.mu.Unlock()
		a.log.Info("provider reconnected", "attempts", attempt+1)
		a.recordReconnect("ok")

		a.wg.Add(1)
		go a.receiveLoop(handle)
		return
	}
}

func (a *Adapter) recordReconnect(status string) {
	if a.metrics != nil {
		a.metrics.RecordReconnect(a.ctx, status)
	}
}

func (a *Adapter) handleProviderEvent(evt realtime.Event) {
	switch evt.Type {
	case realtime.EventSpeechStarted:
		a.emit(Event{Type: EventSpeechStarted})

	case realtime.EventSpeechStopped:
		a.emit(Event{Type: EventSpeechStopped})

	case realtime.EventCommitted:
		a.onCommitConfirmed()

	case realtime.EventResponseStart:
		a.mu.Lock()
		a.responding = true
		a.respStartAt = evt.At
		a.firstAudio = false
		a.lastTTFB = 0
		a.mu.Unlock()
		a.emit(Event{Type: EventResponseStart})

	case realtime.EventAudio:
		a.mu.Lock()
		first := !a.firstAudio
		a.firstAudio = true
		var ttfb int64
		if first && !a.respStartAt.IsZero() {
			ttfb = time.Since(a.respStartAt).Milliseconds()
			a.lastTTFB = ttfb
		}
		a.mu.Unlock()
		if first {
			a.emit(Event{Type: EventFirstAudioReady, TTFBMS: ttfb})
		}
		a.emit(Event{Type: EventAudio, Audio: evt.Audio})

	case realtime.EventTranscript:
		a.emit(Event{Type: EventTranscript, Text: evt.Text, IsFinal: evt.IsFinal})

	case realtime.EventUserTranscript:
		a.mu.Lock()
		if evt.IsFinal {
			if a.userText.Len() > 0 {
				a.userText.WriteString(" ")
			}
			a.userText.WriteString(evt.Text)
		}
		a.mu.Unlock()
		a.emit(Event{Type: EventUserTranscript, Text: evt.Text, IsFinal: evt.IsFinal})

	case realtime.EventResponseEnd:
		a.mu.Lock()
		a.responding = false
		ttfb := a.lastTTFB
		a.mu.Unlock()
		a.emit(Event{Type: EventResponseEnd, TTFBMS: ttfb})

	case realtime.EventError:
		// Provider-reported errors drop the local buffer and clear the
		// responding flag; the connection itself may survive.
		a.mu.Lock()
		a.responding = false
		a.bufferedBytes = 0
		a.pendingCommit = false
		a.mu.Unlock()
		a.drainQueue()
		a.emit(Event{Type: EventError, Err: evt.Err})
	}
}

// onCommitConfirmed finishes the two-phase commit: when a commit was
// pending and no response is already in flight, request one, enriched with
// response-scoped instructions built from the accumulated user transcript.
// In open-mic the provider's VAD commits the buffer on its own, so an
// unsolicited confirmation is authoritative and treated the same way.
func (a *Adapter) onCommitConfirmed() {
	a.mu.Lock()
	if !a.pendingCommit && a.mode != realtime.VoiceModeOpenMic {
		a.mu.Unlock()
		return
	}
	a.pendingCommit = false
	a.bufferedBytes = 0
	transcript := a.userText.String()
	a.userText.Reset()
	provider := a.instrProvider
	handle := a.handle
	responding := a.responding
	a.mu.Unlock()

	if responding || handle == nil {
		return
	}
	instructions := ""
	if provider != nil {
		instructions = provider(transcript)
	}
	if err := handle.CreateResponse(instructions); err != nil {
		a.log.Warn("response create failed", "error", err)
	}
}

// emit delivers an adapter event unless the adapter is shutting down.
func (a *Adapter) emit(evt Event) {
	select {
	case a.events <- evt:
	case <-a.ctx.Done():
	}
}

// LastTTFB returns the most recent response's time-to-first-byte in
// milliseconds, zero when no audio has arrived yet.
func (a *Adapter) LastTTFB() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastTTFB
}
