// Package sqlite implements the session-state contract on a SQLite
// database shared by all orchestrator instances. Token swaps use a
// conditional UPDATE so the database decides races; timeline sequences
// are assigned inside an immediate transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/voxenlabs/voxen-core/core/events"
	"github.com/voxenlabs/voxen-core/core/sessionstate"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL DEFAULT '',
	turn_id TEXT NOT NULL DEFAULT '',
	cancel_token TEXT NOT NULL DEFAULT '',
	queue_depth INTEGER NOT NULL DEFAULT 0,
	created_ts INTEGER NOT NULL,
	last_active_ts INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS timeline (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	turn_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	ts INTEGER NOT NULL,
	payload TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, seq)
);
`

type Store struct {
	db *sql.DB
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single writer keeps CAS and sequence assignment serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) EnsureSession(ctx context.Context, id string) (sessionstate.SessionRecord, error) {
	now := time.Now().UnixMilli()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_ts, last_active_ts) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`, id, now, now,
	); err != nil {
		return sessionstate.SessionRecord{}, wrapUnavailable(err)
	}
	return s.LoadSession(ctx, id)
}

func (s *Store) LoadSession(ctx context.Context, id string) (sessionstate.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, turn_id, cancel_token, queue_depth, created_ts, last_active_ts
		 FROM sessions WHERE id = ?`, id)

	var record sessionstate.SessionRecord
	var createdTS, lastActiveTS int64
	if err := row.Scan(&record.ID, &record.State, &record.TurnID, &record.CancelToken,
		&record.QueueDepth, &createdTS, &lastActiveTS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sessionstate.SessionRecord{}, sessionstate.ErrSessionNotFound
		}
		return sessionstate.SessionRecord{}, wrapUnavailable(err)
	}
	record.CreatedAt = time.UnixMilli(createdTS)
	record.LastActiveAt = time.UnixMilli(lastActiveTS)
	return record, nil
}

func (s *Store) CompareAndSwapToken(ctx context.Context, id, old, new string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET cancel_token = ?, last_active_ts = ?
		 WHERE id = ? AND cancel_token = ?`,
		new, time.Now().UnixMilli(), id, old)
	if err != nil {
		return false, wrapUnavailable(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, wrapUnavailable(err)
	}
	if affected == 0 {
		// Either the token moved or the session is gone; disambiguate so
		// callers can tell losing a race from a missing session.
		if _, err := s.LoadSession(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) CurrentToken(ctx context.Context, id string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT cancel_token FROM sessions WHERE id = ?`, id)
	var token string
	if err := row.Scan(&token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sessionstate.ErrSessionNotFound
		}
		return "", wrapUnavailable(err)
	}
	return token, nil
}

func (s *Store) SetTurnState(ctx context.Context, id, state, turnID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, turn_id = ?, last_active_ts = ? WHERE id = ?`,
		state, turnID, time.Now().UnixMilli(), id)
	if err != nil {
		return wrapUnavailable(err)
	}
	return requireRow(result)
}

func (s *Store) SetQueueDepth(ctx context.Context, id string, depth int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET queue_depth = ? WHERE id = ?`, depth, id)
	if err != nil {
		return wrapUnavailable(err)
	}
	return requireRow(result)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapUnavailable(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM timeline WHERE session_id = ?`, id); err != nil {
		return wrapUnavailable(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return wrapUnavailable(err)
	}
	return tx.Commit()
}

func (s *Store) IdleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE last_active_ts < ?`, cutoff.UnixMilli())
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapUnavailable(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, id string, event events.StageEvent) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
		return 0, wrapUnavailable(err)
	}
	if exists == 0 {
		return 0, sessionstate.ErrSessionNotFound
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM timeline WHERE session_id = ?`, id).Scan(&seq); err != nil {
		return 0, wrapUnavailable(err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO timeline (session_id, seq, turn_id, stage, status, ts, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, seq, event.TurnID, string(event.Stage), string(event.Status),
		event.Timestamp.UnixMilli(), event.Payload,
	); err != nil {
		return 0, wrapUnavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapUnavailable(err)
	}
	return seq, nil
}

func (s *Store) EventsAfter(ctx context.Context, id string, after int64, limit int) ([]events.StageEvent, error) {
	query := `SELECT seq, turn_id, stage, status, ts, payload FROM timeline
		 WHERE session_id = ? AND seq > ? ORDER BY seq`
	args := []any{id, after}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	var out []events.StageEvent
	for rows.Next() {
		var event events.StageEvent
		var stage, status string
		var ts int64
		if err := rows.Scan(&event.Sequence, &event.TurnID, &stage, &status, &ts, &event.Payload); err != nil {
			return nil, wrapUnavailable(err)
		}
		event.Stage = events.Stage(stage)
		event.Status = events.Status(status)
		event.Timestamp = time.UnixMilli(ts)
		out = append(out, event)
	}
	return out, rows.Err()
}

func (s *Store) PruneEvents(ctx context.Context, id string, retain int) error {
	if retain < 0 {
		retain = 0
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM timeline WHERE session_id = ? AND seq <= (
			SELECT COALESCE(MAX(seq), 0) - ? FROM timeline WHERE session_id = ?
		)`, id, retain, id)
	if err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapUnavailable(err)
	}
	if affected == 0 {
		return sessionstate.ErrSessionNotFound
	}
	return nil
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", sessionstate.ErrUnavailable, err)
}
