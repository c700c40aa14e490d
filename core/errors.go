package orchestration

import (
	"errors"
	"fmt"

	"github.com/voxenlabs/voxen-core/core/events"
	"github.com/voxenlabs/voxen-core/core/sessionstate"
)

// ErrStaleTurn signals a write attempted on behalf of a superseded turn.
// It is the normal outcome of an interruption race: callers discard the
// result and exit, it is never surfaced to the session's caller.
var ErrStaleTurn = errors.New("stale turn: cancel token no longer current")

// ErrStateBackendUnavailable aliases the state backend's sentinel so
// callers can match it without importing sessionstate. The orchestrator
// fails closed on it: new turns are rejected until the backend returns.
var ErrStateBackendUnavailable = sessionstate.ErrUnavailable

// SessionBusyError reports a turn start while another turn is active.
// The caller interrupts first or waits for the session to return to
// IDLE.
type SessionBusyError struct {
	SessionID string
	State     TurnState
}

func (e *SessionBusyError) Error() string {
	return fmt.Sprintf("session %s is busy (state %s): interrupt the active turn or wait", e.SessionID, e.State)
}

// SegmentGapError reports a synthesized segment that never arrived
// within the gap timeout. Playback skips ahead; the turn continues
// degraded rather than stalling.
type SegmentGapError struct {
	TurnID       string
	FromSequence int
	ToSequence   int
}

func (e *SegmentGapError) Error() string {
	if e.FromSequence == e.ToSequence {
		return fmt.Sprintf("segment %d of turn %s lost, skipping ahead", e.FromSequence, e.TurnID)
	}
	return fmt.Sprintf("segments %d-%d of turn %s lost, skipping ahead", e.FromSequence, e.ToSequence, e.TurnID)
}

// ProviderError wraps a capability provider failure with the stage it
// occurred in. It drives the turn to ERROR but never crashes the
// orchestrator.
type ProviderError struct {
	Stage events.Stage
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider failed: %v", e.Stage, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func newProviderError(stage events.Stage, err error) *ProviderError {
	return &ProviderError{Stage: stage, Err: err}
}
