package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxenlabs/voxen-core/core/answering"
	"github.com/voxenlabs/voxen-core/core/events"
	"github.com/voxenlabs/voxen-core/core/sessionstate"
	"github.com/voxenlabs/voxen-core/core/speechtotext"
	"github.com/voxenlabs/voxen-core/core/texttospeech"
)

type scriptedSTT struct {
	results []speechtotext.Result
}

func (c scriptedSTT) NewStream(context.Context, ...speechtotext.TranscriptionOption) (speechtotext.Stream, error) {
	return &scriptedStream{results: c.results, closed: make(chan struct{})}, nil
}

type scriptedStream struct {
	results   []speechtotext.Result
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *scriptedStream) SendAudio([]byte) error { return nil }

func (s *scriptedStream) Results(ctx context.Context) func(yield func(speechtotext.Result, error) bool) {
	return func(yield func(speechtotext.Result, error) bool) {
		for _, result := range s.results {
			if !yield(result, nil) {
				return
			}
		}
		select {
		case <-ctx.Done():
		case <-s.closed:
		}
	}
}

func (s *scriptedStream) Close(context.Context) error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type stubGenerator struct {
	chunks        []string
	blockAfter    bool
	generateCalls *atomic.Int32
	lastOptions   *answering.GenerateOptions
	optionsMu     *sync.Mutex
}

func (g stubGenerator) Generate(_ context.Context, _ string, opts ...answering.GenerateOption) answering.Stream {
	if g.generateCalls != nil {
		g.generateCalls.Add(1)
	}
	if g.optionsMu != nil && g.lastOptions != nil {
		options := answering.GenerateOptions{}
		for _, opt := range opts {
			opt(&options)
		}
		g.optionsMu.Lock()
		*g.lastOptions = options
		g.optionsMu.Unlock()
	}
	return stubAnswerStream{chunks: g.chunks, blockAfter: g.blockAfter}
}

type stubAnswerStream struct {
	chunks     []string
	blockAfter bool
}

func (s stubAnswerStream) Chunks(ctx context.Context) func(yield func(string, error) bool) {
	return func(yield func(string, error) bool) {
		for _, chunk := range s.chunks {
			if ctx.Err() != nil {
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if s.blockAfter {
			<-ctx.Done()
		}
	}
}

type stubSynthesizer struct {
	err   error
	delay time.Duration
}

func (s stubSynthesizer) Synthesize(ctx context.Context, text string, _ ...texttospeech.SynthesisOption) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte(text), nil
}

type recordingPlayer struct {
	mu      sync.Mutex
	played  []string
	cleared int
}

func (p *recordingPlayer) Play(payload []byte) error {
	p.mu.Lock()
	p.played = append(p.played, string(payload))
	p.mu.Unlock()
	return nil
}

func (p *recordingPlayer) Clear() {
	p.mu.Lock()
	p.cleared++
	p.mu.Unlock()
}

func (p *recordingPlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	played := make([]string, len(p.played))
	copy(played, p.played)
	return played
}

func waitForState(t *testing.T, o *Orchestrator, sessionID string, want TurnState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := o.GetStatus(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("expected status read to succeed, got %v", err)
		}
		if status.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for session state %s", want)
}

func finalTranscript(text string) scriptedSTT {
	return scriptedSTT{results: []speechtotext.Result{{Text: text, IsFinal: true}}}
}

func TestStartTurnWhileActiveFailsWithSessionBusy(t *testing.T) {
	o := NewOrchestrator(
		WithSpeechToTextClient(finalTranscript("how do I reset my password")),
		WithAnswerGenerator(stubGenerator{chunks: []string{"Open settings."}, blockAfter: true}),
		WithSynthesizer(stubSynthesizer{}),
	)
	defer o.Close()

	ctx := context.Background()
	if _, err := o.StartTurn(ctx, "session-busy", nil); err != nil {
		t.Fatalf("expected first turn to start, got %v", err)
	}

	_, err := o.StartTurn(ctx, "session-busy", nil)
	var busy *SessionBusyError
	if !errors.As(err, &busy) {
		t.Fatalf("expected SessionBusyError, got %v", err)
	}

	if err := o.Interrupt(ctx, "session-busy"); err != nil {
		t.Fatalf("expected interrupt to succeed, got %v", err)
	}
	waitForState(t, o, "session-busy", StateIdle)

	if _, err := o.StartTurn(ctx, "session-busy", nil); err != nil {
		t.Fatalf("expected turn start after idle to succeed, got %v", err)
	}
}

func TestInterruptClearsQueueAndReturnsToIdle(t *testing.T) {
	cancelled := make(chan struct{}, 1)
	o := NewOrchestrator(
		WithSpeechToTextClient(finalTranscript("tell me a long story")),
		WithAnswerGenerator(stubGenerator{chunks: []string{"Once upon a time."}, blockAfter: true}),
		WithSynthesizer(stubSynthesizer{}),
	)
	defer o.Close()

	ctx := context.Background()
	if _, err := o.StartTurn(ctx, "session-interrupt", nil,
		WithCancellationCallback(func() {
			select {
			case cancelled <- struct{}{}:
			default:
			}
		}),
	); err != nil {
		t.Fatalf("expected turn to start, got %v", err)
	}

	waitForState(t, o, "session-interrupt", StateSpeaking)

	if err := o.Interrupt(ctx, "session-interrupt"); err != nil {
		t.Fatalf("expected interrupt to succeed, got %v", err)
	}

	status, err := o.GetStatus(ctx, "session-interrupt")
	if err != nil {
		t.Fatalf("expected status read to succeed, got %v", err)
	}
	if status.State != StateIdle {
		t.Fatalf("expected IDLE after interrupt, got %s", status.State)
	}
	if status.QueuedSegmentCount != 0 {
		t.Fatalf("expected empty queue after interrupt, got %d", status.QueuedSegmentCount)
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cancellation callback")
	}
}

func TestInterruptWithNoActiveTurnIsNoOp(t *testing.T) {
	o := NewOrchestrator()
	defer o.Close()

	if err := o.Interrupt(context.Background(), "session-unknown"); err != nil {
		t.Fatalf("expected no-op interrupt, got %v", err)
	}
}

func TestConcurrentInterruptsSingleWinner(t *testing.T) {
	o := NewOrchestrator(
		WithSpeechToTextClient(finalTranscript("keep talking")),
		WithAnswerGenerator(stubGenerator{chunks: []string{"Sure thing."}, blockAfter: true}),
		WithSynthesizer(stubSynthesizer{}),
	)
	defer o.Close()

	ctx := context.Background()
	turnID, err := o.StartTurn(ctx, "session-race", nil)
	if err != nil {
		t.Fatalf("expected turn to start, got %v", err)
	}
	waitForState(t, o, "session-race", StateSpeaking)

	wg := sync.WaitGroup{}
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.Interrupt(ctx, "session-race"); err != nil {
				t.Errorf("expected interrupt to succeed, got %v", err)
			}
		}()
	}
	wg.Wait()

	status, err := o.GetStatus(ctx, "session-race")
	if err != nil {
		t.Fatalf("expected status read to succeed, got %v", err)
	}
	if status.State != StateIdle || status.QueuedSegmentCount != 0 {
		t.Fatalf("expected idle empty session, got %s with %d queued", status.State, status.QueuedSegmentCount)
	}

	timeline, err := o.PollEvents(ctx, "session-race", 0)
	if err != nil {
		t.Fatalf("expected events read to succeed, got %v", err)
	}
	interrupted := 0
	for _, event := range timeline {
		if event.TurnID == turnID && event.Stage == events.StageTurn && event.Status == events.StatusCancelled {
			interrupted++
		}
	}
	if interrupted != 1 {
		t.Fatalf("expected exactly one interrupted event, got %d", interrupted)
	}
}

func TestFixedQAShortCircuitSkipsGenerator(t *testing.T) {
	generateCalls := atomic.Int32{}
	player := &recordingPlayer{}
	ended := make(chan struct{}, 1)

	o := NewOrchestrator(
		WithSpeechToTextClient(finalTranscript("What are your opening hours?")),
		WithAnswerGenerator(stubGenerator{chunks: []string{"should not run"}, generateCalls: &generateCalls}),
		WithSynthesizer(stubSynthesizer{}),
		WithPlayer(player),
		WithFixedQA(answering.NewFixedTable(map[string]string{
			"what are your opening hours": "We are open 9 to 5.",
		})),
	)
	defer o.Close()

	ctx := context.Background()
	if _, err := o.StartTurn(ctx, "session-fixed", nil,
		WithTurnEndedCallback(func(string, string) {
			select {
			case ended <- struct{}{}:
			default:
			}
		}),
	); err != nil {
		t.Fatalf("expected turn to start, got %v", err)
	}

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for turn to finish")
	}

	if calls := generateCalls.Load(); calls != 0 {
		t.Fatalf("expected generator to be skipped, got %d calls", calls)
	}

	timeline, err := o.PollEvents(ctx, "session-fixed", 0)
	if err != nil {
		t.Fatalf("expected events read to succeed, got %v", err)
	}
	for _, event := range timeline {
		if event.Stage == events.StageAnswer && event.Status != events.StatusCompleted {
			t.Fatalf("expected no answer stream events on a fixed hit, got %s", event.Status)
		}
	}

	played := player.Played()
	if len(played) == 0 {
		t.Fatalf("expected the fixed answer to be synthesized and played")
	}
	if played[0] != "We are open nine to five." {
		t.Fatalf("expected normalized fixed answer, got %q", played[0])
	}
}

func TestInterimResultsDoNotTriggerGeneration(t *testing.T) {
	generateCalls := atomic.Int32{}
	interim := make(chan string, 4)
	ended := make(chan struct{}, 1)

	o := NewOrchestrator(
		WithSpeechToTextClient(scriptedSTT{results: []speechtotext.Result{
			{Text: "one"},
			{Text: "one nine"},
			{Text: "1980 years", IsFinal: true},
		}}),
		WithAnswerGenerator(stubGenerator{chunks: []string{"A long time."}, generateCalls: &generateCalls}),
		WithSynthesizer(stubSynthesizer{}),
	)
	defer o.Close()

	ctx := context.Background()
	if _, err := o.StartTurn(ctx, "session-interim", nil,
		WithInterimTranscriptCallback(func(transcript string) {
			select {
			case interim <- transcript:
			default:
			}
		}),
		WithTurnEndedCallback(func(string, string) {
			select {
			case ended <- struct{}{}:
			default:
			}
		}),
	); err != nil {
		t.Fatalf("expected turn to start, got %v", err)
	}

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for turn to finish")
	}

	if calls := generateCalls.Load(); calls != 1 {
		t.Fatalf("expected exactly one generation call, got %d", calls)
	}
	select {
	case transcript := <-interim:
		if transcript != "one" {
			t.Fatalf("expected first interim transcript, got %q", transcript)
		}
	default:
		t.Fatalf("expected interim transcript callbacks")
	}

	timeline, err := o.PollEvents(ctx, "session-interim", 0)
	if err != nil {
		t.Fatalf("expected events read to succeed, got %v", err)
	}
	partials := 0
	for _, event := range timeline {
		if event.Stage == events.StageTranscribe && event.Status == events.StatusPartial {
			partials++
		}
	}
	if partials != 2 {
		t.Fatalf("expected two interim transcript events, got %d", partials)
	}
}

func TestCompletedTurnFeedsHistoryToGenerator(t *testing.T) {
	optionsMu := sync.Mutex{}
	lastOptions := answering.GenerateOptions{}
	generator := stubGenerator{
		chunks:      []string{"Answer."},
		lastOptions: &lastOptions,
		optionsMu:   &optionsMu,
	}
	ended := make(chan struct{}, 2)

	o := NewOrchestrator(
		WithSpeechToTextClient(finalTranscript("first question")),
		WithAnswerGenerator(generator),
		WithSynthesizer(stubSynthesizer{}),
	)
	defer o.Close()

	ctx := context.Background()
	endedCallback := WithTurnEndedCallback(func(string, string) { ended <- struct{}{} })

	if _, err := o.StartTurn(ctx, "session-history", nil, endedCallback); err != nil {
		t.Fatalf("expected first turn to start, got %v", err)
	}
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for first turn")
	}

	if _, err := o.StartTurn(ctx, "session-history", nil, endedCallback); err != nil {
		t.Fatalf("expected second turn to start, got %v", err)
	}
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for second turn")
	}

	optionsMu.Lock()
	history := lastOptions.History
	optionsMu.Unlock()
	if len(history) != 1 {
		t.Fatalf("expected one history exchange on the second turn, got %d", len(history))
	}
	if history[0].Question != "first question" {
		t.Fatalf("expected recorded question, got %q", history[0].Question)
	}
}

func TestProviderFailureEndsTurnWithFallbackEvent(t *testing.T) {
	o := NewOrchestrator(
		WithSpeechToTextClient(finalTranscript("trigger a failure")),
		WithAnswerGenerator(stubGenerator{chunks: []string{"Doomed answer."}}),
		WithSynthesizer(stubSynthesizer{err: errors.New("synthesis backend down")}),
		WithFallbackMessage("Sorry, please try again."),
	)
	defer o.Close()

	ctx := context.Background()
	turnID, err := o.StartTurn(ctx, "session-error", nil)
	if err != nil {
		t.Fatalf("expected turn to start, got %v", err)
	}

	waitForState(t, o, "session-error", StateIdle)

	timeline, err := o.PollEvents(ctx, "session-error", 0)
	if err != nil {
		t.Fatalf("expected events read to succeed, got %v", err)
	}
	fallbackSeen := false
	for _, event := range timeline {
		if event.TurnID == turnID && event.Stage == events.StageTurn && event.Status == events.StatusError &&
			event.Payload == "Sorry, please try again." {
			fallbackSeen = true
		}
	}
	if !fallbackSeen {
		t.Fatalf("expected a terminal fallback event for the failed turn")
	}

	if _, err := o.StartTurn(ctx, "session-error", nil); err != nil {
		t.Fatalf("expected session to accept a new turn after ERROR, got %v", err)
	}
}

func TestPollEventsRespectsCursor(t *testing.T) {
	ended := make(chan struct{}, 1)
	o := NewOrchestrator(
		WithSpeechToTextClient(finalTranscript("cursor test")),
		WithAnswerGenerator(stubGenerator{chunks: []string{"Fine."}}),
		WithSynthesizer(stubSynthesizer{}),
	)
	defer o.Close()

	ctx := context.Background()
	if _, err := o.StartTurn(ctx, "session-cursor", nil,
		WithTurnEndedCallback(func(string, string) { ended <- struct{}{} }),
	); err != nil {
		t.Fatalf("expected turn to start, got %v", err)
	}
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for turn to finish")
	}

	all, err := o.PollEvents(ctx, "session-cursor", 0)
	if err != nil {
		t.Fatalf("expected events read to succeed, got %v", err)
	}
	if len(all) < 3 {
		t.Fatalf("expected a populated timeline, got %d events", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Sequence <= all[i-1].Sequence {
			t.Fatalf("expected strictly increasing sequences, got %d after %d", all[i].Sequence, all[i-1].Sequence)
		}
	}

	tail, err := o.PollEvents(ctx, "session-cursor", all[1].Sequence)
	if err != nil {
		t.Fatalf("expected cursor read to succeed, got %v", err)
	}
	if len(tail) != len(all)-2 {
		t.Fatalf("expected %d events after cursor, got %d", len(all)-2, len(tail))
	}
}

func TestStageTimeoutFailsTurn(t *testing.T) {
	o := NewOrchestrator(
		WithSpeechToTextClient(finalTranscript("never answered")),
		WithAnswerGenerator(stubGenerator{blockAfter: true}),
		WithSynthesizer(stubSynthesizer{}),
		WithStageTimeouts(StageTimeouts{Generate: 50 * time.Millisecond}),
	)
	defer o.Close()

	ctx := context.Background()
	turnID, err := o.StartTurn(ctx, "session-timeout", nil)
	if err != nil {
		t.Fatalf("expected turn to start, got %v", err)
	}

	waitForState(t, o, "session-timeout", StateIdle)

	timeline, err := o.PollEvents(ctx, "session-timeout", 0)
	if err != nil {
		t.Fatalf("expected events read to succeed, got %v", err)
	}
	errored := false
	for _, event := range timeline {
		if event.TurnID == turnID && event.Stage == events.StageTurn && event.Status == events.StatusError {
			errored = true
		}
	}
	if !errored {
		t.Fatalf("expected the timed out turn to end with an error event")
	}
}

func TestStaleQueueDepthWriteDoesNotResurrectCount(t *testing.T) {
	store := sessionstate.NewMemoryStore()
	ctx := context.Background()

	record, err := store.EnsureSession(ctx, "session-depth")
	if err != nil {
		t.Fatalf("expected session to be created, got %v", err)
	}

	pipeline := &turnPipeline{
		orchestrator: &Orchestrator{store: store},
		sessionID:    "session-depth",
		turnID:       "turn-1",
		token:        record.CancelToken,
		queue:        newAudioQueue(time.Second),
	}
	pipeline.queue.BeginTurn("turn-1")
	pipeline.queue.Enqueue(AudioSegment{TurnID: "turn-1", Sequence: 1, Payload: []byte("audio")})

	// An interrupt takes the token and settles the depth at zero.
	swapped, err := store.CompareAndSwapToken(ctx, "session-depth", record.CancelToken, "winner")
	if err != nil || !swapped {
		t.Fatalf("expected token swap to succeed, got swapped=%v err=%v", swapped, err)
	}
	if err := store.SetQueueDepth(ctx, "session-depth", 0); err != nil {
		t.Fatalf("expected depth write to succeed, got %v", err)
	}

	pipeline.setQueueDepth(ctx)

	after, err := store.LoadSession(ctx, "session-depth")
	if err != nil {
		t.Fatalf("expected session load to succeed, got %v", err)
	}
	if after.QueueDepth != 0 {
		t.Fatalf("expected queue depth to stay 0 after the turn lost its token, got %d", after.QueueDepth)
	}
}
