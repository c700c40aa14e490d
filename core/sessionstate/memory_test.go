package sessionstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxenlabs/voxen-core/core/events"
)

func TestCompareAndSwapTokenArbitratesRaces(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.EnsureSession(ctx, "s"); err != nil {
		t.Fatalf("expected session to be created, got %v", err)
	}

	swapped, err := store.CompareAndSwapToken(ctx, "s", "", "token-a")
	if err != nil || !swapped {
		t.Fatalf("expected initial swap to win, got swapped=%t err=%v", swapped, err)
	}

	swapped, err = store.CompareAndSwapToken(ctx, "s", "", "token-b")
	if err != nil {
		t.Fatalf("expected stale swap to fail cleanly, got %v", err)
	}
	if swapped {
		t.Fatalf("expected swap with a stale token to lose")
	}

	token, err := store.CurrentToken(ctx, "s")
	if err != nil {
		t.Fatalf("expected token read to succeed, got %v", err)
	}
	if token != "token-a" {
		t.Fatalf("expected the winner's token, got %q", token)
	}
}

func TestConcurrentSwapsExactlyOneWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.EnsureSession(ctx, "s"); err != nil {
		t.Fatalf("expected session to be created, got %v", err)
	}

	wins := 0
	winsMu := sync.Mutex{}
	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			swapped, err := store.CompareAndSwapToken(ctx, "s", "", "token")
			if err != nil {
				t.Errorf("expected swap to run, got %v", err)
				return
			}
			if swapped {
				winsMu.Lock()
				wins++
				winsMu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winning swap, got %d", wins)
	}
}

func TestAppendEventAssignsMonotonicSequences(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.EnsureSession(ctx, "s"); err != nil {
		t.Fatalf("expected session to be created, got %v", err)
	}

	for i := 1; i <= 3; i++ {
		seq, err := store.AppendEvent(ctx, "s", events.Started("turn", events.StageTurn))
		if err != nil {
			t.Fatalf("expected append to succeed, got %v", err)
		}
		if seq != int64(i) {
			t.Fatalf("expected sequence %d, got %d", i, seq)
		}
	}

	tail, err := store.EventsAfter(ctx, "s", 1, 0)
	if err != nil {
		t.Fatalf("expected cursor read to succeed, got %v", err)
	}
	if len(tail) != 2 || tail[0].Sequence != 2 || tail[1].Sequence != 3 {
		t.Fatalf("expected events 2 and 3 after the cursor, got %+v", tail)
	}
}

func TestPruneEventsKeepsSequences(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.EnsureSession(ctx, "s"); err != nil {
		t.Fatalf("expected session to be created, got %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := store.AppendEvent(ctx, "s", events.Started("turn", events.StageTurn)); err != nil {
			t.Fatalf("expected append to succeed, got %v", err)
		}
	}
	if err := store.PruneEvents(ctx, "s", 2); err != nil {
		t.Fatalf("expected prune to succeed, got %v", err)
	}

	remaining, err := store.EventsAfter(ctx, "s", 0, 0)
	if err != nil {
		t.Fatalf("expected events read to succeed, got %v", err)
	}
	if len(remaining) != 2 || remaining[0].Sequence != 4 || remaining[1].Sequence != 5 {
		t.Fatalf("expected pruned timeline to keep sequences 4 and 5, got %+v", remaining)
	}

	seq, err := store.AppendEvent(ctx, "s", events.Started("turn", events.StageTurn))
	if err != nil {
		t.Fatalf("expected append after prune to succeed, got %v", err)
	}
	if seq != 6 {
		t.Fatalf("expected sequence to keep growing after prune, got %d", seq)
	}
}

func TestIdleSessionsHonorsCutoff(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.EnsureSession(ctx, "old"); err != nil {
		t.Fatalf("expected session to be created, got %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	if _, err := store.EnsureSession(ctx, "fresh"); err != nil {
		t.Fatalf("expected session to be created, got %v", err)
	}

	idle, err := store.IdleSessions(ctx, cutoff)
	if err != nil {
		t.Fatalf("expected idle listing to succeed, got %v", err)
	}
	if len(idle) != 1 || idle[0] != "old" {
		t.Fatalf("expected only the old session to be idle, got %v", idle)
	}
}

func TestUnknownSessionReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.LoadSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := store.CurrentToken(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
