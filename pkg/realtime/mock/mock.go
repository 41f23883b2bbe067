// Package mock provides test doubles for the realtime.Provider and
// realtime.SessionHandle interfaces.
//
// Use Provider in unit tests to verify the wire traffic the upstream
// adapter generates and to feed controlled provider events without a live
// backend. Configure response fields before use; read call records after
// the code under test has run.
//
// Example:
//
//	p := &mock.Provider{}
//	handle, _ := p.Connect(ctx, realtime.SessionConfig{SessionID: "s"})
//	p.Session.Emit(realtime.Event{Type: realtime.EventCommitted})
package mock

import (
	"context"
	"sync"

	"github.com/nxtg-ai/voxbridge/pkg/realtime"
)

// Provider is a mock implementation of realtime.Provider. The zero value
// is ready to use: Connect returns a fresh Session.
type Provider struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned by Connect instead of a session.
	ConnectErr error

	// ConnectCalls records the configs passed to Connect, in order.
	ConnectCalls []realtime.SessionConfig

	// Session is the handle returned by the most recent successful Connect.
	Session *Session
}

var _ realtime.Provider = (*Provider)(nil)

// Connect records the call and returns a new Session (or ConnectErr).
func (p *Provider) Connect(_ context.Context, cfg realtime.SessionConfig) (realtime.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, cfg)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	p.Session = NewSession()
	return p.Session, nil
}

// Connects returns the number of Connect calls so far.
func (p *Provider) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Current returns the most recently created session, or nil.
func (p *Provider) Current() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Session
}

// Session is a mock realtime.SessionHandle. Error fields inject failures;
// call records accumulate in order.
type Session struct {
	mu sync.Mutex

	// --- Injectable errors ---

	SendAudioErr      error
	CommitErr         error
	ClearErr          error
	CreateResponseErr error
	CancelErr         error

	// --- Call records (read after test) ---

	// SentAudio collects every chunk passed to SendAudio.
	SentAudio [][]byte

	// Commits counts Commit calls.
	Commits int

	// Clears counts ClearInput calls.
	Clears int

	// CreateResponses records the instructions passed to CreateResponse.
	CreateResponses []string

	// Cancels counts CancelResponse calls.
	Cancels int

	// Modes records every SetVoiceMode call.
	Modes []realtime.VoiceMode

	// Instructions records every UpdateInstructions call.
	Instructions []string

	closed bool
	errVal error
	events chan realtime.Event
}

var _ realtime.SessionHandle = (*Session)(nil)

// NewSession returns an open mock session.
func NewSession() *Session {
	return &Session{events: make(chan realtime.Event, 64)}
}

// Emit pushes a provider event to the session's consumers. It is how tests
// simulate upstream traffic (commit confirmations, audio, transcripts).
func (s *Session) Emit(evt realtime.Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.events <- evt
}

// Fail closes the event stream with err, simulating a dropped connection.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.errVal = err
	close(s.events)
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SentAudio = append(s.SentAudio, cp)
	return nil
}

func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CommitErr != nil {
		return s.CommitErr
	}
	s.Commits++
	return nil
}

func (s *Session) ClearInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClearErr != nil {
		return s.ClearErr
	}
	s.Clears++
	return nil
}

func (s *Session) CreateResponse(instructions string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateResponseErr != nil {
		return s.CreateResponseErr
	}
	s.CreateResponses = append(s.CreateResponses, instructions)
	return nil
}

func (s *Session) CancelResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CancelErr != nil {
		return s.CancelErr
	}
	s.Cancels++
	return nil
}

func (s *Session) SetVoiceMode(mode realtime.VoiceMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Modes = append(s.Modes, mode)
	return nil
}

func (s *Session) UpdateInstructions(instructions string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Instructions = append(s.Instructions, instructions)
	return nil
}

func (s *Session) Events() <-chan realtime.Event { return s.events }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close is idempotent and ends the event stream cleanly.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// Counts returns the commit, clear, and cancel call counts under lock.
func (s *Session) Counts() (commits, clears, cancels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Commits, s.Clears, s.Cancels
}

// ResponseInstructions returns a copy of the recorded CreateResponse
// instructions.
func (s *Session) ResponseInstructions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.CreateResponses))
	copy(out, s.CreateResponses)
	return out
}

// ModesSnapshot returns a copy of the recorded SetVoiceMode calls.
func (s *Session) ModesSnapshot() []realtime.VoiceMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realtime.VoiceMode, len(s.Modes))
	copy(out, s.Modes)
	return out
}

// SentAudioBytes returns the total byte count of all sent chunks.
func (s *Session) SentAudioBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.SentAudio {
		n += len(c)
	}
	return n
}
