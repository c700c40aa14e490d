package orchestration

import (
	"context"
	"time"

	"github.com/voxenlabs/voxen-core/core/answering"
	"github.com/voxenlabs/voxen-core/core/audio"
	"github.com/voxenlabs/voxen-core/core/sessionstate"
	"github.com/voxenlabs/voxen-core/core/speechtotext"
	"github.com/voxenlabs/voxen-core/core/texttospeech"
	"github.com/voxenlabs/voxen-core/core/vad"
)

type OrchestratorOption func(*Orchestrator)

// AudioInput delivers captured audio chunks for one turn. The transport
// layer or a local device client implements it.
type AudioInput interface {
	Capture(ctx context.Context, onChunk func(chunk []byte)) error
	StopCapture() error
}

// Player consumes drained segments. Optional: when absent, audio is
// delivered through WithAudioCallback only.
type Player interface {
	Play(payload []byte) error
	Clear()
}

func WithSpeechToTextClient(client speechtotext.Client) OrchestratorOption {
	return func(o *Orchestrator) { o.speechToText = client }
}

func WithAnswerGenerator(generator answering.Generator) OrchestratorOption {
	return func(o *Orchestrator) { o.generator = generator }
}

func WithSynthesizer(synthesizer texttospeech.Synthesizer) OrchestratorOption {
	return func(o *Orchestrator) { o.synthesizer = synthesizer }
}

func WithPlayer(player Player) OrchestratorOption {
	return func(o *Orchestrator) { o.player = player }
}

// WithVoiceActivityDetector installs a detector factory. Detectors keep
// smoothing state, so each turn gets a fresh one.
func WithVoiceActivityDetector(newDetector func() vad.Detector) OrchestratorOption {
	return func(o *Orchestrator) { o.newDetector = newDetector }
}

// WithStateStore selects the shared-state backend. The in-process
// store is the single-instance default; the SQLite store enables
// multi-instance consistency.
func WithStateStore(store sessionstate.Store) OrchestratorOption {
	return func(o *Orchestrator) { o.store = store }
}

// WithFixedQA installs the canned question table consulted before
// retrieval and generation.
func WithFixedQA(table *answering.FixedTable) OrchestratorOption {
	return func(o *Orchestrator) { o.fixedQA = table }
}

func WithAdmissionPolicy(policy AdmissionPolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.admission = policy }
}

func WithSegmentPolicy(policy SegmentPolicy, maxRunes int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.segmentPolicy = policy
		o.maxSegmentRunes = maxRunes
	}
}

// StageTimeouts bounds each stage kind. A zero value means no timeout
// for that stage. An expired stage behaves as cancelled for the turn
// and the turn ends in ERROR.
type StageTimeouts struct {
	Transcribe time.Duration
	Generate   time.Duration
	Synthesize time.Duration
	Playback   time.Duration
}

func WithStageTimeouts(timeouts StageTimeouts) OrchestratorOption {
	return func(o *Orchestrator) { o.stageTimeouts = timeouts }
}

// WithGapTimeout bounds how long playback waits for a missing segment
// sequence before skipping ahead.
func WithGapTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.gapTimeout = timeout }
}

// WithIdleTimeout destroys sessions with no activity for the given
// duration. Zero disables reaping.
func WithIdleTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.idleTimeout = timeout }
}

// WithEventRetention prunes each session's timeline beyond the given
// number of most recent events. Zero keeps everything.
func WithEventRetention(retain int) OrchestratorOption {
	return func(o *Orchestrator) { o.eventRetention = retain }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) OrchestratorOption {
	return func(o *Orchestrator) { o.encodingInfo = encodingInfo }
}

// WithFallbackMessage sets the message synthesized for the caller when
// a turn ends in ERROR.
func WithFallbackMessage(message string) OrchestratorOption {
	return func(o *Orchestrator) { o.fallbackMessage = message }
}

// WithBargeIn keeps the microphone open while the assistant speaks and
// interrupts the turn when the caller starts talking over it.
func WithBargeIn() OrchestratorOption {
	return func(o *Orchestrator) { o.bargeIn = true }
}

// TurnOptions carries the per-turn callback surface. Callbacks run on
// pipeline goroutines and should not block.
type TurnOptions struct {
	onInterimTranscript func(transcript string)
	onTranscript        func(transcript string)
	onAnswerText        func(delta string)
	onAudio             func(segment AudioSegment)
	onCancellation      func()
	onTurnEnded         func(transcript, answer string)
}

type TurnOption func(*TurnOptions)

// WithInterimTranscriptCallback registers a callback for interim
// transcription updates. Interim results never trigger generation.
func WithInterimTranscriptCallback(callback func(transcript string)) TurnOption {
	return func(o *TurnOptions) { o.onInterimTranscript = callback }
}

func WithTranscriptCallback(callback func(transcript string)) TurnOption {
	return func(o *TurnOptions) { o.onTranscript = callback }
}

// WithAnswerTextCallback registers a callback for streamed answer text
// deltas, before normalization.
func WithAnswerTextCallback(callback func(delta string)) TurnOption {
	return func(o *TurnOptions) { o.onAnswerText = callback }
}

// WithAudioCallback registers a callback for segments drained for
// playback, in sequence order.
func WithAudioCallback(callback func(segment AudioSegment)) TurnOption {
	return func(o *TurnOptions) { o.onAudio = callback }
}

func WithCancellationCallback(callback func()) TurnOption {
	return func(o *TurnOptions) { o.onCancellation = callback }
}

// WithTurnEndedCallback registers a callback invoked once when a turn
// completes normally, with the final transcript and spoken answer.
func WithTurnEndedCallback(callback func(transcript, answer string)) TurnOption {
	return func(o *TurnOptions) { o.onTurnEnded = callback }
}
