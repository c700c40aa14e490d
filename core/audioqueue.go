package orchestration

import (
	"context"
	"sync"
	"time"
)

// AudioSegment is one ordered unit of synthesized speech. Sequence is
// assigned when the segment's text is cut, so synthesis completion
// order may differ from playback order.
type AudioSegment struct {
	TurnID   string
	Sequence int
	Payload  []byte
	Duration time.Duration
	Text     string
}

// AudioQueue buffers synthesized segments for one session and releases
// them strictly in sequence order. Out-of-order arrivals wait in a
// reorder buffer until the gap fills or ages past the gap timeout, at
// which point playback skips ahead.
//
// The queue is process-local: only the instance driving a turn holds
// one. Clear is the interrupt path and must win any race with a
// concurrent enqueue.
type AudioQueue struct {
	mu sync.Mutex

	turnID       string
	nextSequence int
	lastSequence int
	completed    bool

	ready   []AudioSegment
	pending map[int]AudioSegment

	gapSince   time.Time
	gapTimeout time.Duration

	updateSignal chan struct{}
}

func newAudioQueue(gapTimeout time.Duration) *AudioQueue {
	return &AudioQueue{
		gapTimeout:   gapTimeout,
		pending:      map[int]AudioSegment{},
		updateSignal: make(chan struct{}, 1),
	}
}

// BeginTurn resets the queue for a new turn. Anything left over from
// the previous turn is dropped.
func (q *AudioQueue) BeginTurn(turnID string) {
	q.mu.Lock()
	q.turnID = turnID
	q.nextSequence = 1
	q.lastSequence = 0
	q.completed = false
	q.ready = nil
	q.pending = map[int]AudioSegment{}
	q.gapSince = time.Time{}
	q.mu.Unlock()
	q.signalUpdate()
}

// Enqueue inserts a segment by sequence. Segments from a superseded
// turn are discarded, reported by the false return. Out-of-order
// segments wait in the reorder buffer.
func (q *AudioQueue) Enqueue(segment AudioSegment) bool {
	q.mu.Lock()
	defer func() {
		q.mu.Unlock()
		q.signalUpdate()
	}()

	if segment.TurnID != q.turnID {
		logger.Debug("discarding audio segment from superseded turn",
			"turn_id", segment.TurnID, "sequence", segment.Sequence)
		return false
	}
	if segment.Sequence < q.nextSequence {
		// Already skipped past this sequence, too late to play it.
		return false
	}

	q.pending[segment.Sequence] = segment
	q.promoteLocked()
	return true
}

// CompleteTurn records the turn's final sequence so Drained can report
// end of playback once everything up to it has been drained.
func (q *AudioQueue) CompleteTurn(turnID string, lastSequence int) {
	q.mu.Lock()
	if q.turnID == turnID {
		q.lastSequence = lastSequence
		q.completed = true
	}
	q.mu.Unlock()
	q.signalUpdate()
}

// DrainNext pops the next in-order segment. When only out-of-order
// segments remain and the gap has aged past the timeout, it skips the
// missing sequences and reports the gap.
func (q *AudioQueue) DrainNext() (AudioSegment, *SegmentGapError, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var gap *SegmentGapError
	if len(q.ready) == 0 && len(q.pending) > 0 {
		if !q.gapSince.IsZero() && q.gapTimeout > 0 && time.Since(q.gapSince) >= q.gapTimeout {
			gap = q.skipGapLocked()
		}
	}

	if len(q.ready) == 0 {
		return AudioSegment{}, gap, false
	}

	segment := q.ready[0]
	q.ready = q.ready[1:]
	return segment, gap, true
}

// Clear atomically empties the queue and detaches it from the active
// turn, so an enqueue racing with the interrupt lands on a queue that
// no longer accepts its turn id.
func (q *AudioQueue) Clear() {
	q.mu.Lock()
	q.turnID = ""
	q.ready = nil
	q.pending = map[int]AudioSegment{}
	q.gapSince = time.Time{}
	q.mu.Unlock()
	q.signalUpdate()
}

// Len counts buffered segments, in-order and waiting alike.
func (q *AudioQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.ready) + len(q.pending)
}

// Drained reports whether every segment of the completed turn has been
// handed out.
func (q *AudioQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.completed && q.nextSequence > q.lastSequence &&
		len(q.ready) == 0 && len(q.pending) == 0
}

// AwaitUpdate blocks until the queue changes, the wait times out, or
// the context ends. The wait deadline keeps the consumer re-checking
// gap age even when no new segments arrive.
func (q *AudioQueue) AwaitUpdate(ctx context.Context, wait time.Duration) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-q.updateSignal:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// promoteLocked moves consecutive pending segments into ready and
// maintains the gap clock. Caller holds mu.
func (q *AudioQueue) promoteLocked() {
	for {
		segment, ok := q.pending[q.nextSequence]
		if !ok {
			break
		}
		delete(q.pending, q.nextSequence)
		q.ready = append(q.ready, segment)
		q.nextSequence++
	}

	if len(q.pending) > 0 {
		if q.gapSince.IsZero() {
			q.gapSince = time.Now()
		}
	} else {
		q.gapSince = time.Time{}
	}
}

// skipGapLocked declares the missing sequences lost and promotes from
// the lowest buffered sequence. Caller holds mu.
func (q *AudioQueue) skipGapLocked() *SegmentGapError {
	lowest := 0
	for sequence := range q.pending {
		if lowest == 0 || sequence < lowest {
			lowest = sequence
		}
	}
	if lowest == 0 {
		return nil
	}

	gap := &SegmentGapError{
		TurnID:       q.turnID,
		FromSequence: q.nextSequence,
		ToSequence:   lowest - 1,
	}
	q.nextSequence = lowest
	q.gapSince = time.Time{}
	q.promoteLocked()
	return gap
}

func (q *AudioQueue) signalUpdate() {
	select {
	case q.updateSignal <- struct{}{}:
	default:
	}
}
