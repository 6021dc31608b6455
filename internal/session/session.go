package session

import (
	"sync"
	"time"
)

// Session is one call: keyed by the opaque provider session id, with one
// DirectionState per role and a subscriber set. All mutation goes through
// mu; the registry never locks a Session while holding its own table lock.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu          sync.RWMutex
	directions  map[Role]*DirectionState
	subscribers map[string]*Subscriber
	lastMediaAt time.Time
	closed      bool
	closeReason CloseReason
}

func newSession(id string, createdAt time.Time) *Session {
	return &Session{
		ID:          id,
		CreatedAt:   createdAt,
		directions:  make(map[Role]*DirectionState),
		subscribers: make(map[string]*Subscriber),
		lastMediaAt: createdAt,
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastMediaAt = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastMediaAt)
}

func (s *Session) roles() []Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Role, 0, len(s.directions))
	for role := range s.directions {
		out = append(out, role)
	}
	return out
}

func (s *Session) direction(role Role) (*DirectionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.directions[role]
	return d, ok
}

func (s *Session) bindDirection(role Role, d *DirectionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.directions[role]; exists {
		return false
	}
	s.directions[role] = d
	return true
}

func (s *Session) unbindDirection(role Role) (*DirectionState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.directions[role]
	if ok {
		delete(s.directions, role)
	}
	return d, len(s.directions)
}

func (s *Session) addSubscriber(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.ID] = sub
}

func (s *Session) removeSubscriber(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subscribers[id]; ok {
		close(sub.ch)
		delete(s.subscribers, id)
	}
}

// subscribersSnapshot copies the subscriber list under the lock so publish
// can deliver outside it.
func (s *Session) subscribersSnapshot() []*Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		out = append(out, sub)
	}
	return out
}

func (s *Session) closeAllSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subscribers {
		close(sub.ch)
		delete(s.subscribers, id)
	}
}

func (s *Session) markClosed(reason CloseReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.closeReason = reason
	return true
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		SessionID:  s.ID,
		CreatedAt:  s.CreatedAt,
		Directions: make(map[Role]DirectionSnapshot, len(s.directions)),
	}
	for role, d := range s.directions {
		snap.Directions[role] = DirectionSnapshot{
			State:               d.VAD.State(),
			ChunksReceived:      d.ChunksReceived.Load(),
			SegmentsEmitted:     d.SegmentsEmitted.Load(),
			SegmentsRejected:    d.SegmentsRejected.Load(),
			TranscriptsSent:     d.TranscriptsSent.Load(),
			TranscriptsFiltered: d.TranscriptsFiltered.Load(),
			StreamTerminated:    d.Closed.Load(),
		}
	}
	return snap
}
