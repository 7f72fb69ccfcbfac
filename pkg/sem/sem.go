// Package sem defines the two synchronization capabilities the ring buffer is
// written against: a counting semaphore and a scoped mutual-exclusion lock.
//
// Implementations live next to the memory they guard: internal/shm provides
// process-shared futex semaphores inside a mapped region, and Chan provides a
// channel-backed semaphore for a single process.
package sem

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a destroyed semaphore.
var ErrClosed = errors.New("semaphore destroyed")

// Semaphore is a counting semaphore. Acquire blocks while the count is zero
// and then decrements it; Release increments it. A successful Release
// publishes every write made before it to the matching Acquire.
type Semaphore interface {
	Acquire() error
	Release() error
}

// Mutex is a binary semaphore with scoped acquisition.
type Mutex struct {
	s Semaphore
}

// NewMutex wraps a semaphore initialized to one.
func NewMutex(s Semaphore) *Mutex {
	return &Mutex{s: s}
}

// Do runs fn while holding the lock. The lock is released on every exit path,
// including a panic in fn. An acquire failure means fn did not run.
func (m *Mutex) Do(fn func()) (err error) {
	if err := m.s.Acquire(); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer func() {
		if rerr := m.s.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("unlock: %w", rerr))
		}
	}()
	fn()
	return nil
}
