/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/srediag/ipcbench/pkg/sem"
)

// SemaphoreSize is the size of one semaphore cell in a shared region.
//
//	value 4 byte | waiters 4 byte | destroyed 4 byte | reserved 4 byte
const SemaphoreSize = 16

const (
	semValueOffset     = 0
	semWaitersOffset   = 4
	semDestroyedOffset = 8
)

// ErrSemaphoreOverflow is returned by Release when the count would wrap.
var ErrSemaphoreOverflow = errors.New("semaphore count overflow")

// Semaphore is a counting semaphore whose whole state lives in a shared
// mapping, so every process mapping the cell sees the same semaphore. Waiters
// sleep on a futex keyed by the value word.
type Semaphore struct {
	value     *uint32
	waiters   *uint32
	destroyed *uint32
}

var _ sem.Semaphore = (*Semaphore)(nil)

// InitSemaphore initializes the cell to initial. Only the region owner calls
// it, before any other process maps the region.
func InitSemaphore(cell []byte, initial uint32) (*Semaphore, error) {
	s, err := AttachSemaphore(cell)
	if err != nil {
		return nil, err
	}
	atomic.StoreUint32(s.waiters, 0)
	atomic.StoreUint32(s.destroyed, 0)
	atomic.StoreUint32(s.value, initial)
	return s, nil
}

// AttachSemaphore returns a view of an initialized cell.
func AttachSemaphore(cell []byte) (*Semaphore, error) {
	if len(cell) < SemaphoreSize {
		return nil, fmt.Errorf("semaphore cell is %d bytes, want %d", len(cell), SemaphoreSize)
	}
	value, err := Uint32At(cell, semValueOffset)
	if err != nil {
		return nil, err
	}
	waiters, err := Uint32At(cell, semWaitersOffset)
	if err != nil {
		return nil, err
	}
	destroyed, err := Uint32At(cell, semDestroyedOffset)
	if err != nil {
		return nil, err
	}
	return &Semaphore{value: value, waiters: waiters, destroyed: destroyed}, nil
}

// Acquire takes one unit, sleeping while the count is zero. Interrupted waits
// are retried. It fails only if the semaphore is destroyed or the futex call
// itself fails.
func (s *Semaphore) Acquire() error {
	for {
		if atomic.LoadUint32(s.destroyed) != 0 {
			return sem.ErrClosed
		}
		v := atomic.LoadUint32(s.value)
		if v > 0 {
			if atomic.CompareAndSwapUint32(s.value, v, v-1) {
				return nil
			}
			continue
		}
		// Registering before the futex check pairs with Release reading
		// waiters after its increment, so one side always sees the other.
		atomic.AddUint32(s.waiters, 1)
		err := futexWait(s.value, 0)
		atomic.AddUint32(s.waiters, ^uint32(0))
		if err != nil {
			return err
		}
	}
}

// Release returns one unit and wakes a sleeping waiter, if any.
func (s *Semaphore) Release() error {
	for {
		if atomic.LoadUint32(s.destroyed) != 0 {
			return sem.ErrClosed
		}
		v := atomic.LoadUint32(s.value)
		if v == math.MaxUint32 {
			return ErrSemaphoreOverflow
		}
		if atomic.CompareAndSwapUint32(s.value, v, v+1) {
			break
		}
	}
	if atomic.LoadUint32(s.waiters) > 0 {
		if _, err := futexWake(s.value, 1); err != nil {
			return err
		}
	}
	return nil
}

// Value returns the current count.
func (s *Semaphore) Value() uint32 {
	return atomic.LoadUint32(s.value)
}

// Destroy marks the semaphore unusable and wakes every waiter, which then
// fails with sem.ErrClosed.
func (s *Semaphore) Destroy() error {
	atomic.StoreUint32(s.destroyed, 1)
	// Changing the value word makes a waiter that has not yet entered the
	// kernel return from futexWait immediately instead of missing the wake.
	atomic.AddUint32(s.value, 1)
	_, err := futexWake(s.value, math.MaxInt32)
	return err
}
