package state

import "sync"

// Cell is the single integer of record owned by one subgraph instance.
//
// Arithmetic wraps on overflow (two's complement), so ApplyDelta never fails.
type Cell struct {
	mu    sync.RWMutex
	value int64
}

// NewCell returns a zero-initialized cell.
func NewCell() *Cell {
	return &Cell{}
}

// Read returns the current value.
func (c *Cell) Read() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// ApplyDelta adds by to the value in one critical section and returns the result.
func (c *Cell) ApplyDelta(by int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += by
	return c.value
}

// Store replaces the value. Used when adopting a value replicated from a sibling.
func (c *Cell) Store(v int64) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
}
