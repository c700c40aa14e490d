package sessionstate

import (
	"context"
	"sync"
	"time"

	"github.com/voxenlabs/voxen-core/core/events"
)

// MemoryStore is the single-instance backend: the same contract as the
// external backends, backed by a guarded map. It is the default when no
// store is configured.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
}

type memorySession struct {
	record   SessionRecord
	nextSeq  int64
	timeline []events.StageEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]*memorySession{}}
}

func (s *MemoryStore) EnsureSession(_ context.Context, id string) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		now := time.Now()
		session = &memorySession{record: SessionRecord{
			ID:           id,
			CreatedAt:    now,
			LastActiveAt: now,
		}}
		s.sessions[id] = session
	}
	return session.record, nil
}

func (s *MemoryStore) LoadSession(_ context.Context, id string) (SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return SessionRecord{}, ErrSessionNotFound
	}
	return session.record, nil
}

func (s *MemoryStore) CompareAndSwapToken(_ context.Context, id, old, new string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return false, ErrSessionNotFound
	}
	if session.record.CancelToken != old {
		return false, nil
	}
	session.record.CancelToken = new
	session.record.LastActiveAt = time.Now()
	return true, nil
}

func (s *MemoryStore) CurrentToken(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return "", ErrSessionNotFound
	}
	return session.record.CancelToken, nil
}

func (s *MemoryStore) SetTurnState(_ context.Context, id, state, turnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.record.State = state
	session.record.TurnID = turnID
	session.record.LastActiveAt = time.Now()
	return nil
}

func (s *MemoryStore) SetQueueDepth(_ context.Context, id string, depth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.record.QueueDepth = depth
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) IdleSessions(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, session := range s.sessions {
		if session.record.LastActiveAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, id string, event events.StageEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return 0, ErrSessionNotFound
	}
	session.nextSeq++
	event.Sequence = session.nextSeq
	session.timeline = append(session.timeline, event)
	return event.Sequence, nil
}

func (s *MemoryStore) EventsAfter(_ context.Context, id string, after int64, limit int) ([]events.StageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	var out []events.StageEvent
	for _, event := range session.timeline {
		if event.Sequence <= after {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) PruneEvents(_ context.Context, id string, retain int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if retain < 0 {
		retain = 0
	}
	if excess := len(session.timeline) - retain; excess > 0 {
		session.timeline = append([]events.StageEvent(nil), session.timeline[excess:]...)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
