package runtime

import (
	"sync"

	"github.com/sbl8/ufoengine/core"
)

// Channel is a bounded blocking FIFO of buffer handles with a one-shot
// close. It is the sole inter-task transport and the sole end-of-stream
// signal in the engine: closing a channel is the only way a worker learns
// its upstream is done.
//
// Channel is deliberately not built on a bare Go `chan *core.Buffer`: a
// channel send/receive on a closed Go channel either panics (send) or
// returns a zero value indistinguishable from a real item (receive) once
// buffered items are drained ambiguously. Pop must distinguish "closed and
// drained" from "item available", so the FIFO is driven explicitly with a
// mutex and two condition variables, in the same style the teacher uses
// throughout its scheduler and arena bookkeeping.
type Channel struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf      []*core.Buffer
	capacity int
	closed   bool
	closeOne sync.Once
}

// DefaultCapacity is the channel capacity used when a graph edge does not
// specify one.
const DefaultCapacity = 2

// NewChannel creates a Channel with the given capacity; a capacity below 1
// selects DefaultCapacity.
func NewChannel(capacity int) *Channel {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	c := &Channel{capacity: capacity}
	c.notEmpty = sync.NewCond(&c.mu)
	c.notFull = sync.NewCond(&c.mu)
	return c
}

// Push blocks until there is capacity or the channel is closed. Pushing to
// a closed channel returns ClosedError.
func (c *Channel) Push(buf *core.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.buf) >= c.capacity && !c.closed {
		c.notFull.Wait()
	}
	if c.closed {
		return &ClosedError{}
	}

	c.buf = append(c.buf, buf)
	c.notEmpty.Signal()
	return nil
}

// Pop blocks until an item is available or the channel is closed and
// drained. ok is false iff the channel is closed and empty.
func (c *Channel) Pop() (buf *core.Buffer, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.buf) == 0 && !c.closed {
		c.notEmpty.Wait()
	}
	if len(c.buf) == 0 {
		return nil, false
	}

	buf = c.buf[0]
	c.buf = c.buf[1:]
	c.notFull.Signal()
	return buf, true
}

// Close is idempotent and wakes all waiters. Subsequent Pops observe
// closed-and-drained once the backlog empties; subsequent Pushes fail.
func (c *Channel) Close() {
	c.closeOne.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.notEmpty.Broadcast()
		c.notFull.Broadcast()
	})
}

// Len reports the number of buffers currently queued (for tests/metrics).
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}
