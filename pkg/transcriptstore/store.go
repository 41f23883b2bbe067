// Package transcriptstore defines the persistence contract for session
// transcripts. Sessions record final transcript segments as they arrive and a
// single summary row when the session ends.
//
// Persistence is optional: a nil [Store] disables it, and callers treat write
// failures as best-effort (logged, never fatal to the session).
package transcriptstore

import (
	"context"
	"time"
)

// Role identifies which side of the conversation produced a segment.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Segment is one final transcript fragment of a session.
type Segment struct {
	// SessionID identifies the session this segment belongs to.
	SessionID string

	// Role is who produced the text.
	Role Role

	// Text is the transcript text. Stored after any PII redaction has been
	// applied, so the raw utterance never reaches the database.
	Text string

	// Lane names the output lane for assistant segments ("lane_b",
	// "fallback"). Empty for user segments.
	Lane string

	// At is when the segment was finalised.
	At time.Time
}

// Summary is the per-session row written once when a session ends.
type Summary struct {
	SessionID string

	// StartedAt and EndedAt bound the session's lifetime.
	StartedAt time.Time
	EndedAt   time.Time

	// UserTurns and AssistantTurns count finalised segments per role.
	UserTurns      int
	AssistantTurns int

	// PolicyCancels counts assistant responses cancelled by the policy gate.
	PolicyCancels int
}

// SearchOpts filters [Store.Search] results. Zero values mean "no filter".
type SearchOpts struct {
	SessionID string
	Role      Role
	After     time.Time
	Before    time.Time
	Limit     int
}

// Store persists transcript segments and session summaries.
// All methods must be safe for concurrent use.
type Store interface {
	// WriteSegment appends one final transcript segment.
	WriteSegment(ctx context.Context, seg Segment) error

	// WriteSummary records the session summary. Called once per session.
	WriteSummary(ctx context.Context, sum Summary) error

	// Recent returns the segments of sessionID finalised within the last
	// duration, ordered chronologically (oldest first).
	Recent(ctx context.Context, sessionID string, duration time.Duration) ([]Segment, error)

	// Search performs a full-text search over segment text with optional
	// filters from opts, ordered chronologically.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Segment, error)

	// Close releases any resources held by the store.
	Close()
}
