package sem

import "sync"

// Chan is a counting semaphore emulated with a buffered channel. Tokens in the
// channel are available units, so Acquire blocks while the channel is empty.
// It stands in for a shared-memory semaphore where no mapping exists, such as
// exercising Mutex in a single process.
type Chan struct {
	tokens    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewChan returns a semaphore holding initial units with room for max.
func NewChan(initial, max int) *Chan {
	if initial > max {
		initial = max
	}
	c := &Chan{
		tokens: make(chan struct{}, max),
		done:   make(chan struct{}),
	}
	for i := 0; i < initial; i++ {
		c.tokens <- struct{}{}
	}
	return c
}

// Acquire takes one unit, blocking until one is available or the semaphore
// is destroyed.
func (c *Chan) Acquire() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case <-c.tokens:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Release returns one unit. Releasing past max blocks, as it would overflow
// the invariant the caller is tracking.
func (c *Chan) Release() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.tokens <- struct{}{}:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Value returns the number of available units.
func (c *Chan) Value() int {
	return len(c.tokens)
}

// Destroy wakes every blocked caller with ErrClosed.
func (c *Chan) Destroy() {
	c.closeOnce.Do(func() { close(c.done) })
}
