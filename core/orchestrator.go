// Package orchestration sequences one voice turn per session through
// voice-activity detection, transcription, answer generation, text
// normalization, synthesis, and ordered playback. Interruption is
// cooperative: every stage compares its turn's cancel token against
// the shared session state before each externally visible write and
// discards its result on mismatch, so no audio from a cancelled turn
// is ever played even when several instances drive sessions against
// the same state backend.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voxenlabs/voxen-core/core/answering"
	"github.com/voxenlabs/voxen-core/core/audio"
	"github.com/voxenlabs/voxen-core/core/events"
	"github.com/voxenlabs/voxen-core/core/sessionstate"
	"github.com/voxenlabs/voxen-core/core/speechtotext"
	"github.com/voxenlabs/voxen-core/core/texttospeech"
	"github.com/voxenlabs/voxen-core/core/vad"
	"go.opentelemetry.io/otel/codes"
)

const defaultGapTimeout = 2 * time.Second

type Orchestrator struct {
	store        sessionstate.Store
	speechToText speechtotext.Client
	generator    answering.Generator
	synthesizer  texttospeech.Synthesizer
	player       Player
	newDetector  func() vad.Detector

	fixedQA   *answering.FixedTable
	admission AdmissionPolicy

	segmentPolicy   SegmentPolicy
	maxSegmentRunes int
	stageTimeouts   StageTimeouts
	gapTimeout      time.Duration
	idleTimeout     time.Duration
	eventRetention  int
	encodingInfo    audio.EncodingInfo
	fallbackMessage string
	bargeIn         bool

	mu       sync.Mutex
	sessions map[string]*localSession

	baseContext context.Context
	closeOnce   sync.Once
	closed      chan struct{}
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:           sessionstate.NewMemoryStore(),
		newDetector:     func() vad.Detector { return vad.NewEnergyDetector() },
		admission:       AdmitAll{},
		segmentPolicy:   SegmentOnPunctuation,
		gapTimeout:      defaultGapTimeout,
		encodingInfo:    audio.GetDefaultEncodingInfo(),
		fallbackMessage: "Sorry, something went wrong answering that. Please try again.",
		sessions:        map[string]*localSession{},
		baseContext:     context.Background(),
		closed:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.idleTimeout > 0 {
		go o.reapIdleSessions()
	}

	return o
}

// Status is a read-only snapshot of session state taken from the
// shared backend. It never blocks on in-flight work.
type Status struct {
	State              TurnState
	TurnID             string
	QueuedSegmentCount int
}

// StartTurn begins a new turn for the session and returns its id
// immediately; the pipeline runs asynchronously. It fails with
// SessionBusyError while another turn is active and fails closed when
// the state backend is unreachable.
func (o *Orchestrator) StartTurn(ctx context.Context, sessionID string, input AudioInput, opts ...TurnOption) (string, error) {
	ctx, span := tracer.Start(ctx, "start turn")
	defer span.End()

	if o.isClosed() {
		return "", fmt.Errorf("orchestrator is closed")
	}

	if err := o.admission.Admit(ctx, sessionID); err != nil {
		return "", fmt.Errorf("turn not admitted: %w", err)
	}

	record, err := o.store.EnsureSession(ctx, sessionID)
	if err != nil {
		err = fmt.Errorf("failed to load session state: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	state := TurnState(record.State)
	if state == "" {
		state = StateIdle
	}
	if state.IsActive() {
		return "", &SessionBusyError{SessionID: sessionID, State: state}
	}

	turnID := uuid.NewString()
	token := uuid.NewString()
	swapped, err := o.store.CompareAndSwapToken(ctx, sessionID, record.CancelToken, token)
	if err != nil {
		return "", fmt.Errorf("failed to claim turn: %w", err)
	}
	if !swapped {
		// Another instance claimed the session between our read and
		// the swap.
		return "", &SessionBusyError{SessionID: sessionID, State: StateListening}
	}

	if err := o.store.SetTurnState(ctx, sessionID, string(StateListening), turnID); err != nil {
		return "", fmt.Errorf("failed to record turn start: %w", err)
	}
	o.appendEvent(ctx, sessionID, events.Started(turnID, events.StageTurn))

	options := TurnOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	sess := o.session(sessionID)
	sess.queue.BeginTurn(turnID)

	pipelineCtx, cancel := context.WithCancel(o.baseContext)
	sess.setCancel(cancel)

	pipeline := &turnPipeline{
		orchestrator:    o,
		session:         sess,
		sessionID:       sessionID,
		turnID:          turnID,
		token:           token,
		input:           input,
		detector:        o.newDetector(),
		buffer:          newSegmentBuffer(o.segmentPolicy, o.maxSegmentRunes),
		queue:           sess.queue,
		options:         options,
		transcriptReady: make(chan struct{}),
		playbackDone:    make(chan struct{}),
	}
	go pipeline.run(pipelineCtx)

	return turnID, nil
}

// Interrupt cancels the session's active turn, wherever it runs. It is
// idempotent: with no active turn it is a no-op, and of two racing
// interrupts exactly one wins the token swap while the other returns
// quietly. The invalidated token is written to shared state, so stages
// on other instances stop emitting at their next check.
func (o *Orchestrator) Interrupt(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "interrupt session")
	defer span.End()

	record, err := o.store.LoadSession(ctx, sessionID)
	if errors.Is(err, sessionstate.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		err = fmt.Errorf("failed to load session state: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	state := TurnState(record.State)
	if !state.IsActive() {
		return nil
	}

	swapped, err := o.store.CompareAndSwapToken(ctx, sessionID, record.CancelToken, uuid.NewString())
	if err != nil {
		return fmt.Errorf("failed to invalidate turn token: %w", err)
	}
	if !swapped {
		// Lost the race to a concurrent interrupt or turn start;
		// whoever won already owns the cleanup.
		return nil
	}

	if sess := o.lookupSession(sessionID); sess != nil {
		sess.queue.Clear()
		sess.cancelPipeline()
	}
	if o.player != nil {
		o.player.Clear()
	}
	if err := o.store.SetQueueDepth(ctx, sessionID, 0); err != nil {
		span.RecordError(err)
	}

	o.appendEvent(ctx, sessionID, events.Cancelled(record.TurnID, events.StageTurn))
	if err := o.store.SetTurnState(ctx, sessionID, string(StateInterrupted), record.TurnID); err != nil {
		return fmt.Errorf("failed to record interruption: %w", err)
	}
	return o.store.SetTurnState(ctx, sessionID, string(StateIdle), record.TurnID)
}

// GetStatus reports the session's state as seen through the shared
// backend. Unknown sessions read as IDLE with nothing queued.
func (o *Orchestrator) GetStatus(ctx context.Context, sessionID string) (Status, error) {
	record, err := o.store.LoadSession(ctx, sessionID)
	if errors.Is(err, sessionstate.ErrSessionNotFound) {
		return Status{State: StateIdle}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to load session state: %w", err)
	}

	state := TurnState(record.State)
	if state == "" {
		state = StateIdle
	}
	return Status{
		State:              state,
		TurnID:             record.TurnID,
		QueuedSegmentCount: record.QueueDepth,
	}, nil
}

// PollEvents returns timeline events with sequence greater than the
// cursor, in order. Safe for any number of concurrent readers.
func (o *Orchestrator) PollEvents(ctx context.Context, sessionID string, afterSequence int64) ([]events.StageEvent, error) {
	timeline, err := o.store.EventsAfter(ctx, sessionID, afterSequence, 0)
	if errors.Is(err, sessionstate.ErrSessionNotFound) {
		return nil, nil
	}
	return timeline, err
}

// EndSession interrupts any active turn and destroys the session.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	if err := o.Interrupt(ctx, sessionID); err != nil {
		return err
	}

	o.mu.Lock()
	delete(o.sessions, sessionID)
	o.mu.Unlock()

	if err := o.store.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, sessionstate.ErrSessionNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		close(o.closed)

		o.mu.Lock()
		ids := make([]string, 0, len(o.sessions))
		for id := range o.sessions {
			ids = append(ids, id)
		}
		o.mu.Unlock()

		for _, id := range ids {
			if err := o.Interrupt(o.baseContext, id); err != nil {
				logger.Warn("failed to interrupt session on close", "session_id", id, "error", err)
			}
		}

		if err := o.store.Close(); err != nil {
			logger.Warn("failed to close state store", "error", err)
		}
	})
}

func (o *Orchestrator) isClosed() bool {
	select {
	case <-o.closed:
		return true
	default:
		return false
	}
}

// transition advances the session's turn state after re-validating the
// caller's token and the state machine edge.
func (o *Orchestrator) transition(ctx context.Context, sessionID, token, turnID string, next TurnState) error {
	record, err := o.store.LoadSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session state: %w", err)
	}
	if record.CancelToken != token {
		return ErrStaleTurn
	}

	state := TurnState(record.State)
	if state == "" {
		state = StateIdle
	}
	if !state.CanTransitionTo(next) {
		return fmt.Errorf("invalid turn state transition %s -> %s", state, next)
	}

	return o.store.SetTurnState(ctx, sessionID, string(next), turnID)
}

func (o *Orchestrator) appendEvent(ctx context.Context, sessionID string, event events.StageEvent) {
	if _, err := o.store.AppendEvent(ctx, sessionID, event); err != nil {
		logger.Warn("failed to append timeline event",
			"session_id", sessionID, "turn_id", event.TurnID, "stage", string(event.Stage), "error", err)
		return
	}

	if o.eventRetention > 0 {
		if err := o.store.PruneEvents(ctx, sessionID, o.eventRetention); err != nil {
			logger.Warn("failed to prune timeline", "session_id", sessionID, "error", err)
		}
	}
}

func (o *Orchestrator) session(sessionID string) *localSession {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, ok := o.sessions[sessionID]
	if !ok {
		sess = &localSession{id: sessionID, queue: newAudioQueue(o.gapTimeout)}
		o.sessions[sessionID] = sess
	}
	return sess
}

func (o *Orchestrator) lookupSession(sessionID string) *localSession {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.sessions[sessionID]
}

func (o *Orchestrator) reapIdleSessions() {
	ticker := time.NewTicker(o.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-o.closed:
			return
		case <-ticker.C:
		}

		ids, err := o.store.IdleSessions(o.baseContext, time.Now().Add(-o.idleTimeout))
		if err != nil {
			logger.Warn("failed to list idle sessions", "error", err)
			continue
		}
		for _, id := range ids {
			if err := o.EndSession(o.baseContext, id); err != nil {
				logger.Warn("failed to reap idle session", "session_id", id, "error", err)
			}
		}
	}
}

// localSession is the process-local side of a session: the audio queue
// and conversation history live only on the instance driving the turn.
type localSession struct {
	id    string
	queue *AudioQueue

	mu      sync.Mutex
	history []answering.Exchange
	cancel  context.CancelFunc
}

func (s *localSession) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

func (s *localSession) cancelPipeline() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *localSession) appendHistory(exchange answering.Exchange) {
	s.mu.Lock()
	s.history = append(s.history, exchange)
	s.mu.Unlock()
}

func (s *localSession) historySnapshot() []answering.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]answering.Exchange, len(s.history))
	copy(history, s.history)
	return history
}
