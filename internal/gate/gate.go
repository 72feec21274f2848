// Package gate provides per-stack mutual exclusion for mutating operations.
package gate

import (
	"sync"
)

// Gate holds one exclusive lock per stack name. Absence of an entry means
// the stack is free. Acquisition never queues: callers either get the lock
// immediately or are told the stack is busy.
type Gate struct {
	mu   sync.Mutex
	held map[string]bool
}

// New creates an empty Gate.
func New() *Gate {
	return &Gate{held: make(map[string]bool)}
}

// TryAcquire attempts to take the lock for a stack. It returns false
// immediately if another operation holds it. It never blocks.
func (g *Gate) TryAcquire(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[name] {
		return false
	}
	g.held[name] = true
	return true
}

// Release frees the lock for a stack. Releasing a lock that is not held is
// a no-op, so callers can defer it on every exit path.
func (g *Gate) Release(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, name)
}

// Held reports whether an operation currently holds the lock for a stack.
func (g *Gate) Held(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held[name]
}
