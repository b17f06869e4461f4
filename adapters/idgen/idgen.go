// Package idgen provides ID generation implementations.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/artpar/apikit/ports"
)

// UUID generates random (version 4) UUIDs.
type UUID struct{}

// New generates a new UUID v4.
func (UUID) New() string {
	return uuid.New().String()
}

// RequestID generates time-ordered (version 7) UUIDs, so request IDs sort
// by creation time in logs. Falls back to version 4 if the clock source
// fails.
type RequestID struct{}

// New generates a new request ID.
func (RequestID) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Sequential generates sequential IDs (for testing).
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New generates the next sequential ID.
func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

// Reset resets the counter.
func (s *Sequential) Reset() {
	s.counter.Store(0)
}

// Ensure interface compliance.
var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = RequestID{}
	_ ports.IDGenerator = (*Sequential)(nil)
)
