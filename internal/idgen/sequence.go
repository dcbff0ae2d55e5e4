// Package idgen hands out process-unique, strictly increasing identifiers.
package idgen

import (
	"strconv"
	"sync/atomic"
)

// Sequence is a monotonic counter. Create one at startup and pass it to
// every component that mints stream event ids; the zero value is ready to use.
type Sequence struct {
	n atomic.Uint64
}

// NewSequence returns a Sequence whose first value is 1.
func NewSequence() *Sequence { return &Sequence{} }

// Next returns the next value. Values are never reused.
func (s *Sequence) Next() uint64 { return s.n.Add(1) }

// NextID returns the next value formatted as "<prefix>-<n>".
func (s *Sequence) NextID(prefix string) (string, uint64) {
	n := s.Next()
	return prefix + "-" + strconv.FormatUint(n, 10), n
}
