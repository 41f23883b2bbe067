// Package postgres provides a PostgreSQL-backed implementation of
// [transcriptstore.Store].
//
// Segments live in a transcript_segments table with a GIN full-text search
// index; summaries live in session_summaries keyed by session ID. [Migrate]
// is idempotent and runs on every [NewStore] call.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nxtg-ai/voxbridge/pkg/transcriptstore"
)

var _ transcriptstore.Store = (*Store)(nil)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcript_segments (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    lane        TEXT         NOT NULL DEFAULT '',
    at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_segments_session
    ON transcript_segments (session_id, at);

CREATE INDEX IF NOT EXISTS idx_transcript_segments_fts
    ON transcript_segments USING GIN (to_tsvector('english', text));

CREATE TABLE IF NOT EXISTS session_summaries (
    session_id       TEXT         PRIMARY KEY,
    started_at       TIMESTAMPTZ  NOT NULL,
    ended_at         TIMESTAMPTZ  NOT NULL,
    user_turns       INT          NOT NULL DEFAULT 0,
    assistant_turns  INT          NOT NULL DEFAULT 0,
    policy_cancels   INT          NOT NULL DEFAULT 0
);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("transcript store: migrate: %w", err)
	}
	return nil
}

// Store is the PostgreSQL-backed transcript store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn
// and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Pool exposes the underlying connection pool, e.g. for readiness probes.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// WriteSegment implements [transcriptstore.Store].
func (s *Store) WriteSegment(ctx context.Context, seg transcriptstore.Segment) error {
	const q = `
		INSERT INTO transcript_segments (session_id, role, text, lane, at)
		VALUES ($1, $2, $3, $4, $5)`

	at := seg.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.pool.Exec(ctx, q, seg.SessionID, string(seg.Role), seg.Text, seg.Lane, at)
	if err != nil {
		return fmt.Errorf("transcript store: write segment: %w", err)
	}
	return nil
}

// WriteSummary implements [transcriptstore.Store]. A re-written summary for
// the same session replaces the previous row.
func (s *Store) WriteSummary(ctx context.Context, sum transcriptstore.Summary) error {
	const q = `
		INSERT INTO session_summaries
		    (session_id, started_at, ended_at, user_turns, assistant_turns, policy_cancels)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
		    started_at      = EXCLUDED.started_at,
		    ended_at        = EXCLUDED.ended_at,
		    user_turns      = EXCLUDED.user_turns,
		    assistant_turns = EXCLUDED.assistant_turns,
		    policy_cancels  = EXCLUDED.policy_cancels`

	_, err := s.pool.Exec(ctx, q,
		sum.SessionID,
		sum.StartedAt,
		sum.EndedAt,
		sum.UserTurns,
		sum.AssistantTurns,
		sum.PolicyCancels,
	)
	if err != nil {
		return fmt.Errorf("transcript store: write summary: %w", err)
	}
	return nil
}

// Recent implements [transcriptstore.Store].
func (s *Store) Recent(ctx context.Context, sessionID string, duration time.Duration) ([]transcriptstore.Segment, error) {
	const q = `
		SELECT session_id, role, text, lane, at
		FROM   transcript_segments
		WHERE  session_id = $1
		  AND  at >= now() - ($2::bigint * interval '1 microsecond')
		ORDER  BY at`

	rows, err := s.pool.Query(ctx, q, sessionID, duration.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("transcript store: recent: %w", err)
	}
	return collectSegments(rows)
}

// Search implements [transcriptstore.Store]. The query is passed to
// plainto_tsquery so no special operator syntax is required.
func (s *Store) Search(ctx context.Context, query string, opts transcriptstore.SearchOpts) ([]transcriptstore.Segment, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', text) @@ plainto_tsquery('english', $1)",
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if opts.Role != "" {
		conditions = append(conditions, "role = "+next(string(opts.Role)))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "at < "+next(opts.Before))
	}

	q := "SELECT session_id, role, text, lane, at\n" +
		"FROM   transcript_segments\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY at"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: search: %w", err)
	}
	return collectSegments(rows)
}

// Close implements [transcriptstore.Store].
func (s *Store) Close() {
	s.pool.Close()
}

// collectSegments scans pgx rows into a slice of Segment values.
func collectSegments(rows pgx.Rows) ([]transcriptstore.Segment, error) {
	segments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcriptstore.Segment, error) {
		var (
			seg  transcriptstore.Segment
			role string
		)
		if err := row.Scan(&seg.SessionID, &role, &seg.Text, &seg.Lane, &seg.At); err != nil {
			return transcriptstore.Segment{}, err
		}
		seg.Role = transcriptstore.Role(role)
		return seg, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if segments == nil {
		segments = []transcriptstore.Segment{}
	}
	return segments, nil
}
