package clock

import (
	"math"
	"strconv"
	"sync/atomic"
)

// MaxWitness is the largest value Witness accepts. Anything larger would
// leave no room for the +1.
const MaxWitness = math.MaxInt64 - 1

// Valid reports whether v can be a received clock value.
func Valid(v int64) bool {
	return v >= 0 && v <= MaxWitness
}

// Lamport is a Lamport logical clock.
// Writes must come from a single goroutine (the owning node's tick loop);
// Value may be called concurrently.
type Lamport struct {
	counter atomic.Int64
}

// New creates a clock starting at zero.
func New() *Lamport {
	return &Lamport{}
}

// Value returns the current counter.
func (c *Lamport) Value() int64 {
	return c.counter.Load()
}

// Tick advances the clock by one for a send or internal event and returns
// the new value.
func (c *Lamport) Tick() int64 {
	return c.counter.Add(1)
}

// Witness applies the receive rule: clock = max(clock, received) + 1.
// Returns the new value. received must satisfy Valid.
func (c *Lamport) Witness(received int64) int64 {
	next := max(c.counter.Load(), received) + 1
	c.counter.Store(next)
	return next
}

// String returns the base 10 representation of the counter.
func (c *Lamport) String() string {
	return strconv.FormatInt(c.Value(), 10)
}
