package orchestration

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// SegmentPolicy selects how the growing answer text is cut into
// synthesizable segments.
type SegmentPolicy string

const (
	// SegmentOnPunctuation cuts after sentence-ending punctuation,
	// falling back to a length cut for run-on text.
	SegmentOnPunctuation SegmentPolicy = "punctuation"
	// SegmentOnLength cuts every maxSegmentRunes runes regardless of
	// punctuation.
	SegmentOnLength SegmentPolicy = "char-count"
)

const defaultMaxSegmentRunes = 200

// segmentBuffer accumulates streamed answer chunks and cuts them into
// segments at policy boundaries. Producers call AddChunk/Complete,
// the synthesis worker pulls via Segments, Clear unblocks everyone on
// cancellation.
type segmentBuffer struct {
	mu               sync.Mutex
	policy           SegmentPolicy
	maxRunes         int
	pending          string
	segments         []string
	segmentsConsumed int
	complete         bool
	cleared          bool
	updateSignal     chan struct{}
}

func newSegmentBuffer(policy SegmentPolicy, maxRunes int) *segmentBuffer {
	if maxRunes <= 0 {
		maxRunes = defaultMaxSegmentRunes
	}
	return &segmentBuffer{
		policy:       policy,
		maxRunes:     maxRunes,
		updateSignal: make(chan struct{}, 1),
	}
}

func (b *segmentBuffer) AddChunk(chunk string) {
	b.mu.Lock()
	b.pending += chunk
	b.cutLocked(false)
	b.mu.Unlock()
	b.signalUpdate()
}

// Complete flushes any trailing text as the final segment and marks
// the buffer finished.
func (b *segmentBuffer) Complete() {
	b.mu.Lock()
	b.cutLocked(true)
	b.complete = true
	b.mu.Unlock()
	b.signalUpdate()
}

// Segments blocks until the next segment is available and yields it,
// ending after Complete has flushed everything or Clear was called.
func (b *segmentBuffer) Segments(yield func(string) bool) {
	for {
		b.mu.Lock()
		if b.cleared {
			b.mu.Unlock()
			return
		}

		if b.segmentsConsumed < len(b.segments) {
			segment := b.segments[b.segmentsConsumed]
			b.segmentsConsumed++
			b.mu.Unlock()
			if !yield(segment) {
				return
			}
			continue
		}

		if b.complete {
			b.mu.Unlock()
			return
		}

		b.mu.Unlock()
		<-b.updateSignal
	}
}

func (b *segmentBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return strings.Join(b.segments, "") + b.pending
}

func (b *segmentBuffer) Clear() {
	b.mu.Lock()
	b.cleared = true
	b.mu.Unlock()
	b.signalUpdate()
}

// cutLocked moves completed segments out of pending. Caller holds mu.
func (b *segmentBuffer) cutLocked(flush bool) {
	for {
		cut := b.boundaryLocked()
		if cut <= 0 {
			break
		}
		b.segments = append(b.segments, b.pending[:cut])
		b.pending = b.pending[cut:]
	}

	if flush && strings.TrimSpace(b.pending) != "" {
		b.segments = append(b.segments, b.pending)
		b.pending = ""
	}
}

// boundaryLocked returns the byte offset to cut pending at, or 0 when
// no complete segment is available yet.
func (b *segmentBuffer) boundaryLocked() int {
	if b.policy == SegmentOnLength {
		if utf8.RuneCountInString(b.pending) < b.maxRunes {
			return 0
		}
		return runeOffset(b.pending, b.maxRunes)
	}

	runes := 0
	for i, r := range b.pending {
		runes++
		if isSentenceEnd(r) {
			// Do not cut inside a decimal like "2.5". A period right
			// after a digit at the end of pending is held back too:
			// the fractional part may still be streaming in, and
			// Complete flushes it anyway when nothing more arrives.
			if r == '.' && digitBefore(b.pending, i) && digitMayFollow(b.pending, i) {
				continue
			}
			return i + utf8.RuneLen(r)
		}
		if runes >= b.maxRunes {
			return i + utf8.RuneLen(r)
		}
	}
	return 0
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}

func digitBefore(s string, i int) bool {
	prev, _ := utf8.DecodeLastRuneInString(s[:i])
	return isDigit(prev)
}

func digitMayFollow(s string, i int) bool {
	if i+1 >= len(s) {
		return true
	}
	next, _ := utf8.DecodeRuneInString(s[i+1:])
	return isDigit(next)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func runeOffset(s string, runes int) int {
	seen := 0
	for i := range s {
		if seen == runes {
			return i
		}
		seen++
	}
	return len(s)
}

func (b *segmentBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}
