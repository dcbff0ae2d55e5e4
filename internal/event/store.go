package event

import "github.com/youmna-rabie/aegis/internal/types"

// Store is the bounded buffer a stream engine appends to.
type Store interface {
	// Save appends an event, evicting the oldest one when full.
	// Returns ErrDuplicateID if an event with the same ID is buffered.
	Save(event types.StreamEvent) error

	// Get retrieves a buffered event by ID. Returns ErrNotFound if it was
	// never saved or has been evicted.
	Get(id string) (types.StreamEvent, error)

	// List returns up to limit events, ordered newest-first.
	// offset skips the first N results for pagination.
	List(limit, offset int) ([]types.StreamEvent, error)

	// Snapshot returns every buffered event, oldest-first.
	Snapshot() []types.StreamEvent

	// Clear drops every buffered event.
	Clear()

	// Count returns the number of events currently buffered.
	Count() int
}
