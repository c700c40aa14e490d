package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voxenlabs/voxen-core/core/answering"
	"github.com/voxenlabs/voxen-core/core/events"
	"github.com/voxenlabs/voxen-core/core/normalize"
	"github.com/voxenlabs/voxen-core/core/speechtotext"
	"github.com/voxenlabs/voxen-core/core/texttospeech"
	"github.com/voxenlabs/voxen-core/core/vad"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	synthesisFanOut   = 2
	playbackPollEvery = 100 * time.Millisecond
)

// turnPipeline drives one turn through its stages as independently
// cancellable workers. No worker is ever killed mid-computation:
// cancellation works by checking the turn's token against shared state
// before every externally visible write and discarding on mismatch.
type turnPipeline struct {
	orchestrator *Orchestrator
	session      *localSession
	sessionID    string
	turnID       string
	token        string
	input        AudioInput
	detector     vad.Detector
	buffer       *segmentBuffer
	queue        *AudioQueue
	options      TurnOptions

	transcriptMu    sync.Mutex
	transcript      string
	transcriptReady chan struct{}

	playbackDone chan struct{}

	segmentCount int

	speakingOnce  sync.Once
	cancelledOnce sync.Once
}

func (p *turnPipeline) run(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "run turn pipeline")
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var workerErr error
	workerErrMu := sync.Mutex{}
	addWorkerErr := func(err error) {
		if err == nil {
			return
		}
		workerErrMu.Lock()
		workerErr = errors.Join(workerErr, err)
		workerErrMu.Unlock()
	}

	run := func(name string, f func(context.Context) error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				addWorkerErr(fmt.Errorf("%s worker panicked: %v", name, recovered))
				cancel()
			}
		}()

		if err := f(ctx); err != nil {
			addWorkerErr(fmt.Errorf("%s worker failed: %w", name, err))
			cancel()
		}
	}

	wg := &sync.WaitGroup{}
	wg.Add(4)
	go func() {
		defer wg.Done()
		run("transcription", p.transcribe)
	}()
	go func() {
		defer wg.Done()
		run("answer generation", p.generate)
	}()
	go func() {
		defer wg.Done()
		run("synthesis", p.synthesize)
	}()
	go func() {
		defer wg.Done()
		run("playback", p.playback)
	}()

	wg.Wait()

	// Finalization talks to the store even when the pipeline context
	// was cancelled by an interrupt.
	finalCtx := context.WithoutCancel(ctx)
	switch {
	case p.isStale(finalCtx):
		p.handleCancellation()
	case workerErr != nil:
		span.RecordError(workerErr)
		span.SetStatus(codes.Error, workerErr.Error())
		p.failTurn(finalCtx, workerErr)
	}
}

// transcribe captures audio through the VAD gate, feeds it to the
// recognizer, and relays transcription updates. Interim results are
// recorded as events but never drive generation.
func (p *turnPipeline) transcribe(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "transcribe turn audio")
	defer span.End()

	if timeout := p.orchestrator.stageTimeouts.Transcribe; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stream, err := p.orchestrator.speechToText.NewStream(ctx,
		speechtotext.WithInterimResults(),
		speechtotext.WithEncodingInfo(p.orchestrator.encodingInfo),
	)
	if err != nil {
		return newProviderError(events.StageTranscribe, err)
	}
	defer func() {
		if err := stream.Close(ctx); err != nil {
			span.RecordError(fmt.Errorf("failed to close transcription stream: %w", err))
		}
	}()

	if p.input != nil {
		if err := p.input.Capture(ctx, p.onAudioChunk(ctx, stream)); err != nil {
			return newProviderError(events.StageTranscribe, err)
		}
		defer func() {
			if err := p.input.StopCapture(); err != nil {
				span.RecordError(fmt.Errorf("failed to stop audio capture: %w", err))
			}
		}()
	}

	final := ""
	for result, err := range stream.Results(ctx) {
		if err != nil {
			return newProviderError(events.StageTranscribe, err)
		}

		if !result.IsFinal {
			if err := p.emit(ctx, events.Partial(p.turnID, events.StageTranscribe, result.Text)); err != nil {
				return err
			}
			if p.options.onInterimTranscript != nil {
				p.options.onInterimTranscript(result.Text)
			}
			continue
		}

		final = result.Text
		break
	}

	if final == "" {
		p.setTranscript("")
		if err := ctx.Err(); err != nil {
			return newProviderError(events.StageTranscribe, err)
		}
		// No speech before the stream ended; the turn finishes empty.
		return nil
	}

	if err := p.emit(ctx, events.Completed(p.turnID, events.StageTranscribe, final)); err != nil {
		return err
	}
	if err := p.orchestrator.transition(ctx, p.sessionID, p.token, p.turnID, StateThinking); err != nil {
		return err
	}
	if p.options.onTranscript != nil {
		p.options.onTranscript(final)
	}
	p.setTranscript(final)

	if p.orchestrator.bargeIn {
		// Keep the microphone open so the caller can talk over the
		// answer; the capture callback raises the interrupt.
		select {
		case <-p.playbackDone:
		case <-ctx.Done():
		}
	}

	return nil
}

// onAudioChunk builds the capture callback: VAD gating before the
// final transcript, barge-in detection after it.
func (p *turnPipeline) onAudioChunk(ctx context.Context, stream speechtotext.Stream) func(chunk []byte) {
	inSpeech := false
	return func(chunk []byte) {
		detection := p.detector.Detect(chunk)

		if p.transcriptArrived() {
			if p.orchestrator.bargeIn && detection.SpeechStart {
				go func() {
					if err := p.orchestrator.Interrupt(p.orchestrator.baseContext, p.sessionID); err != nil {
						logger.Warn("barge-in interrupt failed", "session_id", p.sessionID, "error", err)
					}
				}()
			}
			return
		}

		if detection.SpeechStart {
			inSpeech = true
			if err := p.emit(ctx, events.Started(p.turnID, events.StageVAD)); err != nil {
				return
			}
		}
		if !inSpeech {
			return
		}

		if err := stream.SendAudio(chunk); err != nil {
			logger.Debug("failed to forward audio chunk", "session_id", p.sessionID, "error", err)
		}

		if detection.SpeechEnd {
			inSpeech = false
			_ = p.emit(ctx, events.Completed(p.turnID, events.StageVAD, ""))
		}
	}
}

// generate waits for the final transcript, then answers it: a fixed-QA
// hit streams nothing and goes straight to synthesis, otherwise the
// generator streams chunks into the segment buffer.
func (p *turnPipeline) generate(ctx context.Context) error {
	select {
	case <-p.transcriptReady:
	case <-ctx.Done():
		p.buffer.Complete()
		return nil
	}

	transcript := p.Transcript()
	if transcript == "" {
		p.buffer.Complete()
		return nil
	}

	ctx, span := tracer.Start(ctx, "generate answer")
	defer span.End()

	if timeout := p.orchestrator.stageTimeouts.Generate; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if answer, ok := p.orchestrator.fixedQA.Lookup(transcript); ok {
		span.AddEvent("fixed answer hit")
		if err := p.emit(ctx, events.Completed(p.turnID, events.StageAnswer, answer)); err != nil {
			p.buffer.Clear()
			return err
		}
		if p.options.onAnswerText != nil {
			p.options.onAnswerText(answer)
		}
		p.buffer.AddChunk(answer)
		p.buffer.Complete()
		return nil
	}

	if p.orchestrator.generator == nil {
		p.buffer.Complete()
		return newProviderError(events.StageAnswer, fmt.Errorf("no answer generator configured"))
	}

	if err := p.emit(ctx, events.Started(p.turnID, events.StageAnswer)); err != nil {
		p.buffer.Clear()
		return err
	}

	stream := p.orchestrator.generator.Generate(ctx, transcript,
		answering.WithHistory(p.session.historySnapshot()),
	)
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			p.buffer.Complete()
			return newProviderError(events.StageAnswer, err)
		}
		if err := p.emit(ctx, events.Partial(p.turnID, events.StageAnswer, chunk)); err != nil {
			p.buffer.Clear()
			return err
		}
		if p.options.onAnswerText != nil {
			p.options.onAnswerText(chunk)
		}
		p.buffer.AddChunk(chunk)
	}

	p.buffer.Complete()
	if err := ctx.Err(); err != nil {
		// Timeout or cancellation ended the stream early.
		return newProviderError(events.StageAnswer, err)
	}
	return p.emit(ctx, events.Completed(p.turnID, events.StageAnswer, p.buffer.String()))
}

// synthesize normalizes each cut segment and fans synthesis out over a
// bounded group. Sequences are assigned at cut time, so segments may
// finish out of order; the queue restores the order.
func (p *turnPipeline) synthesize(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "synthesize answer segments")
	defer span.End()

	if timeout := p.orchestrator.stageTimeouts.Synthesize; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.buffer.Clear()
		case <-done:
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(synthesisFanOut)

	sequence := 0
	var loopErr error
	for segment := range p.buffer.Segments {
		if p.isStale(ctx) {
			loopErr = ErrStaleTurn
			break
		}

		sequence++
		seq := sequence
		spoken := normalize.Text(segment)
		if err := p.emit(ctx, events.Completed(p.turnID, events.StageNormalize, spoken)); err != nil {
			loopErr = err
			break
		}

		group.Go(func() error {
			return p.synthesizeSegment(groupCtx, seq, spoken)
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	if loopErr != nil {
		return loopErr
	}

	p.segmentCount = sequence
	p.queue.CompleteTurn(p.turnID, sequence)
	return nil
}

func (p *turnPipeline) synthesizeSegment(ctx context.Context, sequence int, text string) error {
	if p.orchestrator.synthesizer == nil {
		return newProviderError(events.StageSynthesis, fmt.Errorf("no synthesizer configured"))
	}

	payload, err := p.orchestrator.synthesizer.Synthesize(ctx, text,
		texttospeech.WithEncodingInfo(p.orchestrator.encodingInfo),
	)
	if err != nil {
		return newProviderError(events.StageSynthesis, err)
	}

	if p.isStale(ctx) {
		return ErrStaleTurn
	}

	// First segment ready moves the turn to SPEAKING.
	var transitionErr error
	p.speakingOnce.Do(func() {
		transitionErr = p.orchestrator.transition(ctx, p.sessionID, p.token, p.turnID, StateSpeaking)
	})
	if transitionErr != nil {
		return transitionErr
	}

	segment := AudioSegment{
		TurnID:   p.turnID,
		Sequence: sequence,
		Payload:  payload,
		Duration: p.orchestrator.encodingInfo.Duration(payload),
		Text:     text,
	}
	if p.queue.Enqueue(segment) {
		p.setQueueDepth(ctx)
		_ = p.emit(ctx, events.Completed(p.turnID, events.StageSynthesis, strconv.Itoa(sequence)))
	}
	return nil
}

// playback drains the queue in sequence order. A gap older than the
// gap timeout is skipped and reported as a degraded-quality event, not
// a turn failure.
func (p *turnPipeline) playback(ctx context.Context) error {
	defer close(p.playbackDone)

	ctx, span := tracer.Start(ctx, "play answer audio")
	defer span.End()

	if timeout := p.orchestrator.stageTimeouts.Playback; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		if p.isStale(ctx) {
			return ErrStaleTurn
		}

		segment, gap, ok := p.queue.DrainNext()
		if gap != nil {
			gapErr := error(gap)
			span.RecordError(gapErr)
			logger.Warn("skipping lost audio segments", "session_id", p.sessionID, "error", gapErr)
			_ = p.emit(ctx, events.Errored(p.turnID, events.StagePlayback, gapErr))
		}
		if !ok {
			if p.queue.Drained() {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.queue.AwaitUpdate(ctx, playbackPollEvery)
			continue
		}

		if p.isStale(ctx) {
			return ErrStaleTurn
		}
		if p.orchestrator.player != nil {
			if err := p.orchestrator.player.Play(segment.Payload); err != nil {
				return newProviderError(events.StagePlayback, err)
			}
		}
		if p.options.onAudio != nil {
			p.options.onAudio(segment)
		}
		p.setQueueDepth(ctx)
	}

	return p.completeTurn(ctx)
}

// completeTurn closes out a fully played turn: terminal event, back to
// IDLE, transcript and answer recorded in session history.
func (p *turnPipeline) completeTurn(ctx context.Context) error {
	transcript := p.Transcript()
	answer := p.buffer.String()

	if err := p.emit(ctx, events.Completed(p.turnID, events.StageTurn, answer)); err != nil {
		return err
	}

	record, err := p.orchestrator.store.LoadSession(ctx, p.sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session state: %w", err)
	}
	if record.CancelToken != p.token {
		return ErrStaleTurn
	}
	if err := p.orchestrator.store.SetTurnState(ctx, p.sessionID, string(StateIdle), p.turnID); err != nil {
		return fmt.Errorf("failed to record turn completion: %w", err)
	}
	_ = p.orchestrator.store.SetQueueDepth(ctx, p.sessionID, 0)

	if transcript != "" {
		p.session.appendHistory(answering.Exchange{Question: transcript, Answer: answer})
	}
	if p.options.onTurnEnded != nil {
		p.options.onTurnEnded(transcript, answer)
	}
	return nil
}

// handleCancellation is the local cleanup after an interrupt won the
// token race. Shared state was already settled by the interrupt path.
func (p *turnPipeline) handleCancellation() {
	p.cancelledOnce.Do(func() {
		p.buffer.Clear()
		p.queue.Clear()
		if p.options.onCancellation != nil {
			p.options.onCancellation()
		}
	})
}

// failTurn converts a worker failure into the ERROR pulse and the
// fallback terminal event, leaving the session usable for a next turn.
func (p *turnPipeline) failTurn(ctx context.Context, workerErr error) {
	recordedErr := fmt.Errorf("turn %s failed: %w", p.turnID, workerErr)
	logger.Error("turn pipeline failed", "session_id", p.sessionID, "turn_id", p.turnID, "error", recordedErr)

	p.buffer.Clear()
	p.queue.Clear()
	if p.orchestrator.player != nil {
		p.orchestrator.player.Clear()
	}

	store := p.orchestrator.store
	swapped, err := store.CompareAndSwapToken(ctx, p.sessionID, p.token, uuid.NewString())
	if err != nil || !swapped {
		// An interrupt beat us to the token; its cleanup stands.
		return
	}

	p.orchestrator.appendEvent(ctx, p.sessionID, events.Errored(p.turnID, events.StageTurn, workerErr))
	p.orchestrator.appendEvent(ctx, p.sessionID,
		events.New(p.turnID, events.StageTurn, events.StatusError, p.orchestrator.fallbackMessage))

	_ = store.SetQueueDepth(ctx, p.sessionID, 0)
	if err := store.SetTurnState(ctx, p.sessionID, string(StateError), p.turnID); err != nil {
		logger.Warn("failed to record error state", "session_id", p.sessionID, "error", err)
	}
	if err := store.SetTurnState(ctx, p.sessionID, string(StateIdle), p.turnID); err != nil {
		logger.Warn("failed to return session to idle", "session_id", p.sessionID, "error", err)
	}
}

// isStale reports whether this turn's token is no longer the session's
// current one. A backend read failure counts as stale: when in doubt,
// stop emitting.
func (p *turnPipeline) isStale(ctx context.Context) bool {
	current, err := p.orchestrator.store.CurrentToken(ctx, p.sessionID)
	if err != nil {
		return true
	}
	return current != p.token
}

// emit appends a timeline event after the check-before-effect token
// comparison.
func (p *turnPipeline) emit(ctx context.Context, event events.StageEvent) error {
	if p.isStale(ctx) {
		return ErrStaleTurn
	}
	p.orchestrator.appendEvent(ctx, p.sessionID, event)
	return nil
}

func (p *turnPipeline) setQueueDepth(ctx context.Context) {
	depth := p.queue.Len()
	// An interrupt that won the token already wrote depth 0; a stale
	// write here would resurrect a count for a dead turn.
	if p.isStale(ctx) {
		return
	}
	if err := p.orchestrator.store.SetQueueDepth(ctx, p.sessionID, depth); err != nil {
		logger.Debug("failed to record queue depth", "session_id", p.sessionID, "error", err)
	}
}

func (p *turnPipeline) setTranscript(transcript string) {
	p.transcriptMu.Lock()
	p.transcript = transcript
	p.transcriptMu.Unlock()
	close(p.transcriptReady)
}

func (p *turnPipeline) Transcript() string {
	p.transcriptMu.Lock()
	defer p.transcriptMu.Unlock()

	return p.transcript
}

func (p *turnPipeline) transcriptArrived() bool {
	select {
	case <-p.transcriptReady:
		return true
	default:
		return false
	}
}
