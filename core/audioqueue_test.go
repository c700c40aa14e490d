package orchestration

import (
	"sync"
	"testing"
	"time"
)

func segment(turnID string, sequence int) AudioSegment {
	return AudioSegment{TurnID: turnID, Sequence: sequence, Payload: []byte{byte(sequence)}}
}

func TestDrainReturnsSegmentsInSequenceOrder(t *testing.T) {
	q := newAudioQueue(time.Second)
	q.BeginTurn("turn-1")

	q.Enqueue(segment("turn-1", 2))
	q.Enqueue(segment("turn-1", 3))

	if _, _, ok := q.DrainNext(); ok {
		t.Fatalf("expected no segment while sequence 1 is missing")
	}

	q.Enqueue(segment("turn-1", 1))

	for want := 1; want <= 3; want++ {
		got, gap, ok := q.DrainNext()
		if !ok {
			t.Fatalf("expected segment %d to be drainable", want)
		}
		if gap != nil {
			t.Fatalf("expected no gap, got %v", gap)
		}
		if got.Sequence != want {
			t.Fatalf("expected sequence %d, got %d", want, got.Sequence)
		}
	}
}

func TestEnqueueFromSupersededTurnIsDiscarded(t *testing.T) {
	q := newAudioQueue(time.Second)
	q.BeginTurn("turn-2")

	if q.Enqueue(segment("turn-1", 1)) {
		t.Fatalf("expected stale turn enqueue to be rejected")
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestClearWinsOverRacingEnqueue(t *testing.T) {
	q := newAudioQueue(time.Second)
	q.BeginTurn("turn-1")
	q.Enqueue(segment("turn-1", 1))

	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		q.Clear()
	}()
	go func() {
		defer wg.Done()
		q.Enqueue(segment("turn-1", 2))
	}()
	wg.Wait()
	q.Clear()

	if q.Len() != 0 {
		t.Fatalf("expected empty queue after clear, got %d", q.Len())
	}
	if q.Enqueue(segment("turn-1", 3)) {
		t.Fatalf("expected enqueue after clear to be rejected")
	}
}

func TestGapTimeoutSkipsAhead(t *testing.T) {
	q := newAudioQueue(20 * time.Millisecond)
	q.BeginTurn("turn-1")
	q.Enqueue(segment("turn-1", 3))

	if _, gap, ok := q.DrainNext(); ok || gap != nil {
		t.Fatalf("expected the gap to still be within its timeout")
	}

	time.Sleep(30 * time.Millisecond)

	got, gap, ok := q.DrainNext()
	if !ok {
		t.Fatalf("expected segment 3 after the gap timeout")
	}
	if got.Sequence != 3 {
		t.Fatalf("expected sequence 3, got %d", got.Sequence)
	}
	if gap == nil {
		t.Fatalf("expected a gap report for the skipped sequences")
	}
	if gap.FromSequence != 1 || gap.ToSequence != 2 {
		t.Fatalf("expected gap 1-2, got %d-%d", gap.FromSequence, gap.ToSequence)
	}
}

func TestLateSegmentBehindSkipIsDropped(t *testing.T) {
	q := newAudioQueue(10 * time.Millisecond)
	q.BeginTurn("turn-1")
	q.Enqueue(segment("turn-1", 2))

	time.Sleep(20 * time.Millisecond)
	if _, gap, ok := q.DrainNext(); !ok || gap == nil {
		t.Fatalf("expected skip-ahead to release segment 2")
	}

	if q.Enqueue(segment("turn-1", 1)) {
		t.Fatalf("expected the skipped sequence to be rejected when it finally arrives")
	}
}

func TestDrainedAfterCompleteTurn(t *testing.T) {
	q := newAudioQueue(time.Second)
	q.BeginTurn("turn-1")
	q.Enqueue(segment("turn-1", 1))
	q.CompleteTurn("turn-1", 1)

	if q.Drained() {
		t.Fatalf("expected queue not drained while a segment is buffered")
	}

	if _, _, ok := q.DrainNext(); !ok {
		t.Fatalf("expected segment 1 to be drainable")
	}
	if !q.Drained() {
		t.Fatalf("expected queue to report drained")
	}
}
