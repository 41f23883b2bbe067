// Package session owns one client conversation end to end: the wire
// codec, the session loop that dispatches client messages to the
// arbitrator, admission gate, and reasoning adapter, and the manager
// that tracks live sessions, sweeps idle ones, and garbage-collects
// ended ones after a grace period.
package session

import (
	"context"
	"encoding/json"
	"fmt"
)

// Client → server message types.
const (
	MsgSessionStart   = "session.start"
	MsgSessionSetMode = "session.set_mode"
	MsgAudioChunk     = "audio.chunk"
	MsgAudioStop      = "audio.stop"
	MsgAudioCancel    = "audio.cancel"
	MsgAudioCommit    = "audio.commit"
	MsgPlaybackEnded  = "playback.ended"
	MsgUserBargeIn    = "user.barge_in"
	MsgSessionEnd     = "session.end"
)

// Server → client message types.
const (
	MsgSessionReady     = "session.ready"
	MsgProviderReady    = "provider.ready"
	MsgLaneStateChanged = "lane.state_changed"
	MsgLaneOwnerChanged = "lane.owner_changed"
	MsgTranscript       = "transcript"
	MsgUserTranscript   = "user_transcript"
	MsgSpeechStarted    = "speech.started"
	MsgSpeechStopped    = "speech.stopped"
	MsgResponseStart    = "response.start"
	MsgResponseEnd      = "response.end"
	MsgAudioStopAck     = "audio.stop.ack"
	MsgAudioCancelAck   = "audio.cancel.ack"
	MsgUserBargeInAck   = "user.barge_in.ack"
	MsgModeChanged      = "session.mode_changed"
	MsgCommitSkipped    = "commit.skipped"
	MsgError            = "error"
)

// Lane tags carried on outbound audio chunks and transcripts.
const (
	LaneReflex   = "reflex"
	LaneB        = "lane_b"
	LaneFallback = "fallback"
)

// ReasonBufferTooSmall is the commit.skipped reason for an upstream
// commit rejected because too little audio was buffered.
const ReasonBufferTooSmall = "buffer_too_small"

// ClientMessage is the decoded form of every inbound client message.
// Fields beyond Type are populated per message type; unknown fields are
// ignored rather than rejected so older clients keep working.
type ClientMessage struct {
	Type string `json:"type"`

	// session.start
	Fingerprint string `json:"fingerprint,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`

	// session.start, session.set_mode
	VoiceMode string `json:"voiceMode,omitempty"`

	// audio.chunk
	Data       string `json:"data,omitempty"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// ServerMessage is the encoded form of every outbound server message.
// Only the fields relevant to the message type are set; the rest are
// omitted from the JSON.
type ServerMessage struct {
	Type string `json:"type"`

	// session.ready
	SessionID string `json:"sessionId,omitempty"`

	// provider.ready
	IsReturningUser      *bool `json:"isReturningUser,omitempty"`
	PreviousSessionCount *int  `json:"previousSessionCount,omitempty"`

	// provider.ready, session.mode_changed
	VoiceMode string `json:"voiceMode,omitempty"`

	// lane.state_changed, lane.owner_changed
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Cause string `json:"cause,omitempty"`

	// audio.chunk
	Data       string `json:"data,omitempty"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Lane       string `json:"lane,omitempty"`

	// transcript, user_transcript
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	IsFinal    *bool   `json:"isFinal,omitempty"`
	Timestamp  int64   `json:"timestamp,omitempty"`

	// commit.skipped
	Reason string `json:"reason,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// Transport is the framed bidirectional connection a session runs over.
// The server package adapts a websocket to this; tests use an in-memory
// pipe.
type Transport interface {
	// ReadMessage blocks for the next complete client frame.
	ReadMessage(ctx context.Context) ([]byte, error)

	// WriteMessage sends one complete frame to the client.
	WriteMessage(ctx context.Context, data []byte) error

	// Close tears the connection down. Idempotent.
	Close() error
}

// decodeClient parses one inbound frame. A non-nil error means the frame
// was not valid JSON for a client message; per protocol the session
// replies with an error message and keeps the connection open.
func decodeClient(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("session: decode client message: %w", err)
	}
	return msg, nil
}

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }
