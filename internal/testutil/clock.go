package testutil

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// DeterministicClock is a resettable logical clock. The first Next returns 1.
// Safe for concurrent use.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// SequentialIDs hands out UUIDs 00000000-0000-7000-8000-00000000000N so
// stored records compare byte-for-byte across test runs.
type SequentialIDs struct {
	clock DeterministicClock
}

func (g *SequentialIDs) New() uuid.UUID {
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], uint64(g.clock.Next()))
	id[6] = 0x70
	id[8] |= 0x80
	return id
}
