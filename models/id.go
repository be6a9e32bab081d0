package models

import "sync/atomic"

// A sequential id generator. The zero value is ready to use and the first
// id is 1.
type SequentialIDGenerator struct {
	currentID atomic.Uint64
}

// New returns a sequential id.
func (g *SequentialIDGenerator) New() uint64 {
	return g.currentID.Add(1)
}

// Last returns the most recently generated id, or 0 when none was.
func (g *SequentialIDGenerator) Last() uint64 {
	return g.currentID.Load()
}
