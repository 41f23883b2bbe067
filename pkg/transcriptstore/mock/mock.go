// Package mock provides an in-memory test double for [transcriptstore.Store].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent use
// via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.Store{}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("WriteSegment"); got != 1 {
//	    t.Errorf("expected 1 WriteSegment call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/nxtg-ai/voxbridge/pkg/transcriptstore"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [transcriptstore.Store].
// All exported *Err fields default to nil (success); result fields default to
// nil (empty slice returned).
type Store struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// Segments accumulates every segment passed to WriteSegment.
	Segments []transcriptstore.Segment

	// Summaries accumulates every summary passed to WriteSummary.
	Summaries []transcriptstore.Summary

	// WriteSegmentErr is returned by [Store.WriteSegment] when non-nil.
	WriteSegmentErr error

	// WriteSummaryErr is returned by [Store.WriteSummary] when non-nil.
	WriteSummaryErr error

	// RecentResult is returned by [Store.Recent].
	// When nil, Recent returns an empty non-nil slice.
	RecentResult []transcriptstore.Segment

	// RecentErr is returned by [Store.Recent] when non-nil.
	RecentErr error

	// SearchResult is returned by [Store.Search].
	// When nil, Search returns an empty non-nil slice.
	SearchResult []transcriptstore.Segment

	// SearchErr is returned by [Store.Search] when non-nil.
	SearchErr error

	// Closed reports whether Close was called.
	Closed bool
}

// Ensure Store satisfies the interface at compile time.
var _ transcriptstore.Store = (*Store)(nil)

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls and accumulated writes without altering
// response configuration.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.Segments = nil
	m.Summaries = nil
}

// SegmentsSnapshot returns a copy of all segments written so far.
func (m *Store) SegmentsSnapshot() []transcriptstore.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transcriptstore.Segment, len(m.Segments))
	copy(out, m.Segments)
	return out
}

// SummariesSnapshot returns a copy of all summaries written so far.
func (m *Store) SummariesSnapshot() []transcriptstore.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transcriptstore.Summary, len(m.Summaries))
	copy(out, m.Summaries)
	return out
}

// WriteSegment implements [transcriptstore.Store].
func (m *Store) WriteSegment(_ context.Context, seg transcriptstore.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "WriteSegment", Args: []any{seg}})
	if m.WriteSegmentErr != nil {
		return m.WriteSegmentErr
	}
	m.Segments = append(m.Segments, seg)
	return nil
}

// WriteSummary implements [transcriptstore.Store].
func (m *Store) WriteSummary(_ context.Context, sum transcriptstore.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "WriteSummary", Args: []any{sum}})
	if m.WriteSummaryErr != nil {
		return m.WriteSummaryErr
	}
	m.Summaries = append(m.Summaries, sum)
	return nil
}

// Recent implements [transcriptstore.Store].
func (m *Store) Recent(_ context.Context, sessionID string, duration time.Duration) ([]transcriptstore.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Recent", Args: []any{sessionID, duration}})
	if m.RecentResult == nil {
		return []transcriptstore.Segment{}, m.RecentErr
	}
	out := make([]transcriptstore.Segment, len(m.RecentResult))
	copy(out, m.RecentResult)
	return out, m.RecentErr
}

// Search implements [transcriptstore.Store].
func (m *Store) Search(_ context.Context, query string, opts transcriptstore.SearchOpts) ([]transcriptstore.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{query, opts}})
	if m.SearchResult == nil {
		return []transcriptstore.Segment{}, m.SearchErr
	}
	out := make([]transcriptstore.Segment, len(m.SearchResult))
	copy(out, m.SearchResult)
	return out, m.SearchErr
}

// Close implements [transcriptstore.Store].
func (m *Store) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Close"})
	m.Closed = true
}
