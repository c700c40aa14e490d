// Package sessionstate defines the shared session-state backend used to
// keep cancellation, turn ownership, and the event timeline consistent
// across orchestrator instances.
//
// The contract is intentionally narrow: a compare-and-set on the
// session's cancel token and a monotonic per-session append for the
// timeline. The in-process backend in memory.go and the SQLite backend
// in sqlite/ implement the same contract, selected by configuration.
package sessionstate

import (
	"context"
	"errors"
	"time"

	"github.com/voxenlabs/voxen-core/core/events"
)

var (
	// ErrSessionNotFound is returned when a session id is unknown to the
	// backend.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnavailable is returned when the backend cannot be reached.
	// Orchestrators fail closed on it: new turns are rejected rather than
	// risking a lost cancellation.
	ErrUnavailable = errors.New("session state backend unavailable")
)

// SessionRecord is the externally visible slice of session state. Only
// these fields are mutated across process instances; everything else
// about a session stays process-local to the instance driving it.
type SessionRecord struct {
	ID           string
	State        string
	TurnID       string
	CancelToken  string
	QueueDepth   int
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Store is the shared-state contract.
type Store interface {
	// EnsureSession creates the session record if absent and returns the
	// current record either way.
	EnsureSession(ctx context.Context, id string) (SessionRecord, error)

	// LoadSession returns the current record or ErrSessionNotFound.
	LoadSession(ctx context.Context, id string) (SessionRecord, error)

	// CompareAndSwapToken atomically replaces the session's cancel token
	// if and only if it currently equals old. It reports whether the swap
	// happened. This is the sole arbiter of turn-start and interrupt
	// races between instances.
	CompareAndSwapToken(ctx context.Context, id, old, new string) (bool, error)

	// CurrentToken returns the session's current cancel token. Stages
	// compare their held token against it before every side effect.
	CurrentToken(ctx context.Context, id string) (string, error)

	// SetTurnState records the session's turn state and active turn id,
	// bumping last-activity.
	SetTurnState(ctx context.Context, id, state, turnID string) error

	// SetQueueDepth records the session's queued segment count so status
	// reads on other instances see it.
	SetQueueDepth(ctx context.Context, id string, depth int) error

	// DeleteSession removes the session record and its timeline.
	DeleteSession(ctx context.Context, id string) error

	// IdleSessions returns ids of sessions whose last activity is older
	// than the cutoff.
	IdleSessions(ctx context.Context, cutoff time.Time) ([]string, error)

	// AppendEvent appends to the session's timeline and returns the
	// assigned sequence. Sequences are monotonic per session even when
	// several instances append concurrently.
	AppendEvent(ctx context.Context, id string, event events.StageEvent) (int64, error)

	// EventsAfter returns up to limit events with sequence greater than
	// the cursor, in sequence order. A limit of zero means no limit.
	EventsAfter(ctx context.Context, id string, after int64, limit int) ([]events.StageEvent, error)

	// PruneEvents drops the oldest events of a session beyond the given
	// retained count. Remaining events keep their sequences.
	PruneEvents(ctx context.Context, id string, retain int) error

	Close() error
}
