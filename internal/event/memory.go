package event

import (
	"errors"
	"sync"

	"github.com/youmna-rabie/aegis/internal/types"
)

var (
	ErrNotFound        = errors.New("event not found")
	ErrInvalidCapacity = errors.New("capacity must be greater than zero")
	ErrDuplicateID     = errors.New("event id already buffered")
)

// MemoryStore is an in-memory ring buffer of stream events with an id index.
// Evicted events are gone; nothing is archived. Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	buf   []types.StreamEvent
	index map[string]int // event ID → position in buf
	cap   int
	count int
	head  int // next write position
}

// NewMemoryStore creates a MemoryStore holding at most capacity events.
func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &MemoryStore{
		buf:   make([]types.StreamEvent, capacity),
		index: make(map[string]int, capacity),
		cap:   capacity,
	}, nil
}

// Save buffers event, overwriting the oldest entry when full.
func (s *MemoryStore) Save(event types.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.index[event.ID]; dup {
		return ErrDuplicateID
	}

	if s.count == s.cap {
		old := s.buf[s.head]
		delete(s.index, old.ID)
	}

	s.buf[s.head] = event
	s.index[event.ID] = s.head

	s.head = (s.head + 1) % s.cap
	if s.count < s.cap {
		s.count++
	}
	return nil
}

// Get looks up a buffered event by ID.
func (s *MemoryStore) Get(id string) (types.StreamEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[id]
	if !ok {
		return types.StreamEvent{}, ErrNotFound
	}
	return s.buf[pos], nil
}

// List returns up to limit events newest-first, skipping offset.
func (s *MemoryStore) List(limit, offset int) ([]types.StreamEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}

	// Walk backwards from the most recently written slot.
	result := make([]types.StreamEvent, 0, min(limit, s.count))
	for i := offset; i < s.count && len(result) < limit; i++ {
		pos := (s.head - 1 - i + s.cap) % s.cap
		result = append(result, s.buf[pos])
	}
	return result, nil
}

// Snapshot returns a copy of the buffer, oldest-first.
func (s *MemoryStore) Snapshot() []types.StreamEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.StreamEvent, 0, s.count)
	start := (s.head - s.count + s.cap) % s.cap
	for i := 0; i < s.count; i++ {
		out = append(out, s.buf[(start+i)%s.cap])
	}
	return out
}

// Clear empties the buffer and its index.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.buf)
	clear(s.index)
	s.count = 0
	s.head = 0
}

// Count returns the number of buffered events.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
