package orchestration

import (
	"strings"
	"testing"
	"time"
)

func collectSegments(b *segmentBuffer) []string {
	var segments []string
	for segment := range b.Segments {
		segments = append(segments, segment)
	}
	return segments
}

func TestSegmentBufferCutsOnPunctuation(t *testing.T) {
	b := newSegmentBuffer(SegmentOnPunctuation, 0)
	b.AddChunk("Hello there. How are")
	b.AddChunk(" you today? Fine")
	b.Complete()

	got := collectSegments(b)
	want := []string{"Hello there.", " How are you today?", " Fine"}
	if len(got) != len(want) {
		t.Fatalf("expected %d segments, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected segment %d to be %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSegmentBufferDoesNotCutInsideDecimals(t *testing.T) {
	b := newSegmentBuffer(SegmentOnPunctuation, 0)
	b.AddChunk("The value is 2.5 today.")
	b.Complete()

	got := collectSegments(b)
	if len(got) != 1 {
		t.Fatalf("expected one segment, got %d: %q", len(got), got)
	}
	if got[0] != "The value is 2.5 today." {
		t.Fatalf("expected the decimal to stay intact, got %q", got[0])
	}
}

func TestSegmentBufferHoldsDecimalSplitAcrossChunks(t *testing.T) {
	b := newSegmentBuffer(SegmentOnPunctuation, 0)
	b.AddChunk("The value is 2.")
	b.AddChunk("5 today.")
	b.Complete()

	got := collectSegments(b)
	if len(got) != 1 {
		t.Fatalf("expected one segment, got %d: %q", len(got), got)
	}
	if got[0] != "The value is 2.5 today." {
		t.Fatalf("expected the decimal to stay intact, got %q", got[0])
	}
}

func TestSegmentBufferFlushesTrailingDigitPeriod(t *testing.T) {
	b := newSegmentBuffer(SegmentOnPunctuation, 0)
	b.AddChunk("It ended in 1999.")
	b.Complete()

	got := collectSegments(b)
	if len(got) != 1 || got[0] != "It ended in 1999." {
		t.Fatalf("expected the trailing sentence to flush, got %q", got)
	}
}

func TestSegmentBufferLengthPolicy(t *testing.T) {
	b := newSegmentBuffer(SegmentOnLength, 5)
	b.AddChunk("abcdefghij")
	b.Complete()

	got := collectSegments(b)
	want := []string{"abcde", "fghij"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSegmentBufferForceCutsRunOnText(t *testing.T) {
	b := newSegmentBuffer(SegmentOnPunctuation, 10)
	b.AddChunk(strings.Repeat("a", 25))
	b.Complete()

	got := collectSegments(b)
	if len(got) != 3 {
		t.Fatalf("expected run-on text to be force cut into 3 segments, got %d: %q", len(got), got)
	}
}

func TestSegmentBufferBlocksUntilChunksArrive(t *testing.T) {
	b := newSegmentBuffer(SegmentOnPunctuation, 0)

	received := make(chan string, 1)
	go func() {
		for segment := range b.Segments {
			received <- segment
			return
		}
	}()

	select {
	case segment := <-received:
		t.Fatalf("expected no segment yet, got %q", segment)
	case <-time.After(20 * time.Millisecond):
	}

	b.AddChunk("Done.")

	select {
	case segment := <-received:
		if segment != "Done." {
			t.Fatalf("expected %q, got %q", "Done.", segment)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for segment")
	}
}

func TestSegmentBufferClearUnblocksConsumer(t *testing.T) {
	b := newSegmentBuffer(SegmentOnPunctuation, 0)

	done := make(chan struct{})
	go func() {
		for range b.Segments {
		}
		close(done)
	}()

	b.Clear()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cleared buffer to end iteration")
	}
}
