// Package realtime defines the Provider interface for realtime
// speech-to-speech backends.
//
// A realtime provider wraps a low-latency voice service that accepts raw
// audio input and returns synthesised audio output in a single, stateful
// session — bypassing the separate STT → LLM → TTS pipeline entirely. The
// central abstraction is SessionHandle: a bidirectional, multiplexed
// channel carrying audio, transcripts, and response lifecycle events
// concurrently. Sessions are long-lived (seconds to minutes) and support
// mid-session reconfiguration.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"
	"time"
)

// VoiceMode selects how user turns are detected.
type VoiceMode string

const (
	// VoiceModePushToTalk disables server-side voice activity detection;
	// the client delimits turns with explicit commits.
	VoiceModePushToTalk VoiceMode = "push_to_talk"

	// VoiceModeOpenMic enables server-side VAD with a tuned threshold and a
	// longer silence window.
	VoiceModeOpenMic VoiceMode = "open_mic"
)

// Valid reports whether m is a known voice mode.
func (m VoiceMode) Valid() bool {
	return m == VoiceModePushToTalk || m == VoiceModeOpenMic
}

// EventType discriminates session events.
type EventType string

const (
	// EventSpeechStarted and EventSpeechStopped report server-side VAD
	// observations of the user's audio.
	EventSpeechStarted EventType = "speech_started"
	EventSpeechStopped EventType = "speech_stopped"

	// EventCommitted confirms that a previously sent input commit was
	// accepted by the provider.
	EventCommitted EventType = "committed"

	// EventResponseStart and EventResponseEnd delimit one model response.
	EventResponseStart EventType = "response_start"
	EventResponseEnd   EventType = "response_end"

	// EventAudio carries one PCM16 chunk of synthesised response audio.
	EventAudio EventType = "audio"

	// EventTranscript carries assistant response text: streaming deltas
	// while IsFinal is false, the full utterance when true.
	EventTranscript EventType = "transcript"

	// EventUserTranscript carries the provider's recognition of the user's
	// input audio.
	EventUserTranscript EventType = "user_transcript"

	// EventError reports a non-fatal provider error.
	EventError EventType = "error"
)

// Event is one occurrence on a session's event stream. Only the fields
// relevant to the Type are populated.
type Event struct {
	Type    EventType
	Audio   []byte
	Text    string
	IsFinal bool
	Err     error
	At      time.Time
}

// SessionConfig is the initial configuration for a new realtime session.
type SessionConfig struct {
	// SessionID correlates the upstream session with the orchestrator
	// session. Required.
	SessionID string

	// Voice selects the synthesised voice. Empty uses the provider default.
	Voice string

	// Instructions is the system-level prompt in effect for the session.
	Instructions string

	// Mode selects push-to-talk or open-mic turn detection. Empty means
	// push-to-talk.
	Mode VoiceMode
}

// SessionHandle represents an open realtime session. It is an interface so
// test code can supply mock implementations without a live provider
// connection.
//
// The session is the hot path of the voice pipeline — every method must
// return quickly, and consumers must drain Events promptly so backpressure
// cannot stall the provider's receive loop. All methods are safe for
// concurrent use. Callers must call Close when done.
type SessionHandle interface {
	// SendAudio appends a raw PCM16 chunk to the provider's input buffer.
	SendAudio(chunk []byte) error

	// Commit asks the provider to commit the buffered input as a user turn.
	// Confirmation arrives asynchronously as an EventCommitted event.
	Commit() error

	// ClearInput discards the provider-side input buffer.
	ClearInput() error

	// CreateResponse asks the model to respond to the committed input.
	// instructions, when non-empty, scope the response without replacing
	// the session-level prompt.
	CreateResponse(instructions string) error

	// CancelResponse stops the in-flight model response and discards any
	// buffered output audio.
	CancelResponse() error

	// SetVoiceMode reconfigures turn detection mid-session.
	SetVoiceMode(mode VoiceMode) error

	// UpdateInstructions replaces the session-level prompt. Effective for
	// the next model turn.
	UpdateInstructions(instructions string) error

	// Events returns the stream of session events. The channel is closed
	// when the session ends; call Err afterwards to check whether it ended
	// cleanly.
	Events() <-chan Event

	// Err returns the error that closed the event stream prematurely, or
	// nil if the session ended cleanly.
	Err() error

	// Close terminates the session and releases all resources. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime speech backend.
//
// Implementations must be safe for concurrent use; the orchestrator opens
// one session per client connection.
type Provider interface {
	// Connect establishes a new session with the given configuration. The
	// returned handle is ready to accept audio immediately. The caller owns
	// the handle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
