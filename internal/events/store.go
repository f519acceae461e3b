package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"yuzu/meeting/internal/types"
)

// DefaultMaxPerSession bounds each session's journal.
const DefaultMaxPerSession = 500

// Store is an in-memory journal of per-session events, kept for the events
// endpoint and for debugging a meeting after the fact.
type Store struct {
	mu     sync.RWMutex
	max    int
	bySess map[string][]types.Event
}

func NewStore(maxPerSession int) *Store {
	if maxPerSession <= 1 {
		maxPerSession = DefaultMaxPerSession
	}
	return &Store{max: maxPerSession, bySess: make(map[string][]types.Event)}
}

// Append records an event. When a session exceeds its cap the oldest events
// are dropped and a single events_truncated marker is appended, so the
// journal never grows past the cap.
func (s *Store) Append(sessionID, typ string, payload map[string]any) types.Event {
	evt := types.Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      typ,
		Ts:        time.Now().UTC(),
		Payload:   payload,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.bySess[sessionID], evt)
	if l := len(list); l > s.max {
		keep := s.max - 1
		dropped := l - keep
		list = append([]types.Event(nil), list[l-keep:]...)
		list = append(list, types.Event{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Type:      "events_truncated",
			Ts:        time.Now().UTC(),
			Payload:   map[string]any{"dropped": dropped, "kept": keep},
		})
	}
	s.bySess[sessionID] = list
	return evt
}

func (s *Store) List(sessionID string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.bySess[sessionID]
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}

// Drop forgets a session's journal.
func (s *Store) Drop(sessionID string) {
	s.mu.Lock()
	delete(s.bySess, sessionID)
	s.mu.Unlock()
}
