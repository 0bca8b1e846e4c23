// Package postgres provides a PostgreSQL-backed session store.
//
// One [pgxpool.Pool] serves both the write side (archiving terminated
// sessions) and the read side (analytics queries). [Migrate] is idempotent
// and runs on every start.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitchside-ai/pitchside/internal/conversation"
	"github.com/pitchside-ai/pitchside/internal/schema"
	"github.com/pitchside-ai/pitchside/internal/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id          TEXT         PRIMARY KEY,
    user_id             TEXT         NOT NULL,
    activity_type       TEXT         NOT NULL,
    state               TEXT         NOT NULL,
    reason              TEXT         NOT NULL DEFAULT '',
    started_at          TIMESTAMPTZ  NOT NULL,
    ended_at            TIMESTAMPTZ  NOT NULL,
    accumulated_fields  JSONB        NOT NULL DEFAULT '{}',
    overall_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    data_quality_score  DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_ended
    ON sessions (user_id, ended_at);

CREATE INDEX IF NOT EXISTS idx_sessions_activity_type
    ON sessions (activity_type);
`

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    session_id            TEXT         NOT NULL REFERENCES sessions (session_id) ON DELETE CASCADE,
    turn_number           INT          NOT NULL,
    prompt                TEXT         NOT NULL DEFAULT '',
    transcript            TEXT         NOT NULL DEFAULT '',
    transcript_confidence DOUBLE PRECISION,
    extracted_delta       JSONB        NOT NULL DEFAULT '{}',
    field_confidences     JSONB        NOT NULL DEFAULT '{}',
    extraction_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    missing_fields        JSONB        NOT NULL DEFAULT '[]',
    retry_count           INT          NOT NULL DEFAULT 0,
    timestamp             TIMESTAMPTZ  NOT NULL,
    PRIMARY KEY (session_id, turn_number)
);
`

// Migrate creates or ensures the required tables and indexes exist. Safe to
// call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlTurns} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// Store is the PostgreSQL-backed session store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Archive implements [conversation.Archiver]. The session row and its turns
// are written in one transaction; a duplicate session id is rejected.
func (s *Store) Archive(ctx context.Context, rec conversation.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fields, err := json.Marshal(rec.AccumulatedFields)
	if err != nil {
		return fmt.Errorf("postgres store: marshal fields: %w", err)
	}

	const insertSession = `
		INSERT INTO sessions
		    (session_id, user_id, activity_type, state, reason, started_at, ended_at,
		     accumulated_fields, overall_confidence, data_quality_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = tx.Exec(ctx, insertSession,
		rec.SessionID,
		rec.UserID,
		string(rec.ActivityType),
		string(rec.State),
		string(rec.Reason),
		rec.StartedAt,
		rec.EndedAt,
		fields,
		rec.OverallConfidence,
		rec.DataQualityScore,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", store.ErrDuplicateSession, rec.SessionID)
		}
		return fmt.Errorf("postgres store: insert session: %w", err)
	}

	const insertTurn = `
		INSERT INTO turns
		    (session_id, turn_number, prompt, transcript, transcript_confidence,
		     extracted_delta, field_confidences, extraction_confidence,
		     missing_fields, retry_count, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	for _, turn := range rec.Turns {
		delta, err := json.Marshal(turn.ExtractedDelta)
		if err != nil {
			return fmt.Errorf("postgres store: marshal delta: %w", err)
		}
		confs, err := json.Marshal(turn.FieldConfidences)
		if err != nil {
			return fmt.Errorf("postgres store: marshal confidences: %w", err)
		}
		missing, err := json.Marshal(turn.MissingFields)
		if err != nil {
			return fmt.Errorf("postgres store: marshal missing fields: %w", err)
		}
		_, err = tx.Exec(ctx, insertTurn,
			rec.SessionID,
			turn.TurnNumber,
			turn.Prompt,
			turn.Transcript,
			turn.TranscriptConfidence,
			delta,
			confs,
			turn.ExtractionConfidence,
			missing,
			turn.RetryCount,
			turn.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("postgres store: insert turn %d: %w", turn.TurnNumber, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// ListSessions implements [store.Store].
func (s *Store) ListSessions(ctx context.Context, userID string, window store.Window) ([]conversation.Record, error) {
	args := []any{userID}
	q := `
		SELECT session_id, user_id, activity_type, state, reason, started_at, ended_at,
		       accumulated_fields, overall_confidence, data_quality_score
		FROM   sessions
		WHERE  user_id = $1`
	if !window.From.IsZero() {
		args = append(args, window.From)
		q += fmt.Sprintf("\n  AND  ended_at >= $%d", len(args))
	}
	if !window.To.IsZero() {
		args = append(args, window.To)
		q += fmt.Sprintf("\n  AND  ended_at < $%d", len(args))
	}
	q += "\nORDER  BY ended_at"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanSession)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan sessions: %w", err)
	}
	if len(recs) == 0 {
		return []conversation.Record{}, nil
	}

	ids := make([]string, len(recs))
	byID := make(map[string]int, len(recs))
	for i, rec := range recs {
		ids[i] = rec.SessionID
		byID[rec.SessionID] = i
	}

	const turnsQuery = `
		SELECT session_id, turn_number, prompt, transcript, transcript_confidence,
		       extracted_delta, field_confidences, extraction_confidence,
		       missing_fields, retry_count, timestamp
		FROM   turns
		WHERE  session_id = ANY($1)
		ORDER  BY session_id, turn_number`

	turnRows, err := s.pool.Query(ctx, turnsQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list turns: %w", err)
	}
	defer turnRows.Close()

	for turnRows.Next() {
		sessionID, turn, err := scanTurn(turnRows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan turn: %w", err)
		}
		i := byID[sessionID]
		recs[i].Turns = append(recs[i].Turns, turn)
	}
	if err := turnRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate turns: %w", err)
	}

	return recs, nil
}

func scanSession(row pgx.CollectableRow) (conversation.Record, error) {
	var (
		rec          conversation.Record
		activityType string
		state        string
		reason       string
		fields       []byte
	)
	if err := row.Scan(
		&rec.SessionID,
		&rec.UserID,
		&activityType,
		&state,
		&reason,
		&rec.StartedAt,
		&rec.EndedAt,
		&fields,
		&rec.OverallConfidence,
		&rec.DataQualityScore,
	); err != nil {
		return conversation.Record{}, err
	}
	rec.ActivityType = schema.ActivityType(activityType)
	rec.State = conversation.State(state)
	rec.Reason = conversation.Reason(reason)
	if err := json.Unmarshal(fields, &rec.AccumulatedFields); err != nil {
		return conversation.Record{}, err
	}
	return rec, nil
}

func scanTurn(rows pgx.Rows) (string, conversation.Turn, error) {
	var (
		sessionID string
		turn      conversation.Turn
		delta     []byte
		confs     []byte
		missing   []byte
	)
	if err := rows.Scan(
		&sessionID,
		&turn.TurnNumber,
		&turn.Prompt,
		&turn.Transcript,
		&turn.TranscriptConfidence,
		&delta,
		&confs,
		&turn.ExtractionConfidence,
		&missing,
		&turn.RetryCount,
		&turn.Timestamp,
	); err != nil {
		return "", conversation.Turn{}, err
	}
	if err := json.Unmarshal(delta, &turn.ExtractedDelta); err != nil {
		return "", conversation.Turn{}, err
	}
	if err := json.Unmarshal(confs, &turn.FieldConfidences); err != nil {
		return "", conversation.Turn{}, err
	}
	if err := json.Unmarshal(missing, &turn.MissingFields); err != nil {
		return "", conversation.Turn{}, err
	}
	return sessionID, turn, nil
}
