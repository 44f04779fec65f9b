package service

import (
	"slices"
	"sync"
)

// JoinedRoomSet is the bot's view of the rooms it is a member of. All
// methods are safe for concurrent use; the set is never exposed directly.
type JoinedRoomSet struct {
	mu    sync.RWMutex
	rooms map[string]struct{}
}

func NewJoinedRoomSet() *JoinedRoomSet {
	return &JoinedRoomSet{rooms: make(map[string]struct{})}
}

// Add reports whether roomID was newly added.
func (s *JoinedRoomSet) Add(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; ok {
		return false
	}
	s.rooms[roomID] = struct{}{}
	return true
}

// Remove reports whether roomID was present.
func (s *JoinedRoomSet) Remove(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return false
	}
	delete(s.rooms, roomID)
	return true
}

func (s *JoinedRoomSet) Contains(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

func (s *JoinedRoomSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Snapshot returns the members sorted.
func (s *JoinedRoomSet) Snapshot() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Replace swaps the whole membership, used when seeding at startup.
func (s *JoinedRoomSet) Replace(roomIDs []string) {
	next := make(map[string]struct{}, len(roomIDs))
	for _, id := range roomIDs {
		next[id] = struct{}{}
	}
	s.mu.Lock()
	s.rooms = next
	s.mu.Unlock()
}
