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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	internalshm "github.com/srediag/ipcbench/internal/shm"
	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/pkg/message"
	"github.com/srediag/ipcbench/pkg/sem"
)

// Region layout.
//
//	magic 8 | version 4 | capacity 4 | slot size 4 | msg size 4 |
//	write index 4 | read index 4 | empty sem 16 | full sem 16 | mutex sem 16 |
//	owner pid 4 | reserved ... up to HeaderSize | slots
const (
	HeaderSize = 128
	Version    = uint32(1)

	// MaxCapacity bounds ring_capacity.
	MaxCapacity = 1 << 16

	magicOffset      = 0
	versionOffset    = magicOffset + 8
	capacityOffset   = versionOffset + 4
	slotSizeOffset   = capacityOffset + 4
	msgSizeOffset    = slotSizeOffset + 4
	writeIndexOffset = msgSizeOffset + 4
	readIndexOffset  = writeIndexOffset + 4
	emptySemOffset   = readIndexOffset + 4
	fullSemOffset    = emptySemOffset + internalshm.SemaphoreSize
	mutexSemOffset   = fullSemOffset + internalshm.SemaphoreSize
	ownerPIDOffset   = mutexSemOffset + internalshm.SemaphoreSize
)

var regionMagic = [8]byte{'I', 'P', 'C', 'B', 'R', 'I', 'N', 'G'}

var (
	// ErrFrameSize is returned when a frame does not match the slot frame size.
	ErrFrameSize = errors.New("frame size does not match ring")
	// ErrBadRegion is returned when mapping memory that is not a ring region.
	ErrBadRegion = errors.New("not an ipcbench ring region")
	// ErrNotOwner is returned by Destroy on a borrowed view.
	ErrNotOwner = errors.New("ring view does not own the region")
)

// Options holds ring creation parameters.
type Options struct {
	// Name of the backing object. Empty picks a unique name.
	Name string
	// Dir holding the backing object. Empty means /dev/shm when available.
	Dir      string
	Capacity uint32
	MsgSize  uint32
	Meter    metric.Meter
}

// Ring is a view of a ring region mapped into this process.
type Ring struct {
	region *internalshm.MappedRegion
	mem    []byte
	owner  bool

	capacity  uint32
	slotSize  uint32
	msgSize   uint32
	frameSize int

	writeIndex *uint32
	readIndex  *uint32
	empty      *internalshm.Semaphore
	full       *internalshm.Semaphore
	mutexSem   *internalshm.Semaphore
	mutex      *sem.Mutex

	inst   *instruments
	closed atomic.Bool
}

// SlotSize returns the slot stride for msgSize: one frame rounded up to 8 bytes.
func SlotSize(msgSize uint32) uint32 {
	return (uint32(message.FrameSize(msgSize)) + 7) &^ 7
}

// RegionSize returns the number of bytes a ring region needs.
func RegionSize(capacity, msgSize uint32) int {
	return HeaderSize + int(capacity)*int(SlotSize(msgSize))
}

func validateGeometry(capacity, msgSize uint32) error {
	if capacity == 0 || capacity > MaxCapacity {
		return fmt.Errorf("ring capacity %d outside [1, %d]", capacity, MaxCapacity)
	}
	if msgSize == 0 {
		return errors.New("message size must be positive")
	}
	return nil
}

// Create allocates, maps and initializes a new named ring region. The caller
// owns it and must call Destroy once every other user has exited.
func Create(ctx context.Context, opts Options) (*Ring, error) {
	if err := validateGeometry(opts.Capacity, opts.MsgSize); err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrSetup, err)
	}
	size := RegionSize(opts.Capacity, opts.MsgSize)

	var region *internalshm.MappedRegion
	create := func() error {
		name := opts.Name
		if name == "" {
			name = "ipcbench_" + uuid.NewString()
		}
		r, err := internalshm.MapRegion(ctx, internalshm.MapOptions{
			Dir:    opts.Dir,
			Name:   name,
			Size:   size,
			Create: true,
		})
		if err != nil {
			// Only a generated name can be retried.
			if errors.Is(err, os.ErrExist) && opts.Name == "" {
				return err
			}
			return backoff.Permanent(err)
		}
		region = r
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3), ctx)
	if err := backoff.Retry(create, policy); err != nil {
		return nil, fmt.Errorf("%w: create ring region: %w", api.ErrSetup, err)
	}

	r, err := initRing(region.Addr, opts.Capacity, opts.MsgSize, opts.Meter)
	if err != nil {
		_ = internalshm.RemoveRegion(region)
		_ = internalshm.UnmapRegion(ctx, region)
		return nil, err
	}
	r.region = region
	r.owner = true
	internalLogger.Infof("created ring %s capacity:%d msg_size:%d bytes:%d", region.Path, opts.Capacity, opts.MsgSize, size)
	return r, nil
}

// New initializes a ring over caller-provided memory, which must be at least
// RegionSize bytes and 8-byte aligned. Destroy releases the semaphores only.
func New(mem []byte, capacity, msgSize uint32, meter metric.Meter) (*Ring, error) {
	if err := validateGeometry(capacity, msgSize); err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrSetup, err)
	}
	clear(mem[:min(len(mem), RegionSize(capacity, msgSize))])
	r, err := initRing(mem, capacity, msgSize, meter)
	if err != nil {
		return nil, err
	}
	r.owner = true
	return r, nil
}

// Attach maps a ring region from an open file, typically inherited from the
// owning process. The returned view takes ownership of f; f is closed on
// error.
func Attach(f *os.File, meter metric.Meter) (*Ring, error) {
	region, err := internalshm.MapFile(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: attach ring: %w", api.ErrSetup, err)
	}
	r, err := attachRing(region.Addr, meter)
	if err != nil {
		_ = internalshm.UnmapRegion(context.Background(), region)
		return nil, err
	}
	r.region = region
	return r, nil
}

// Open maps an existing ring region by path.
func Open(ctx context.Context, path string, meter metric.Meter) (*Ring, error) {
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{
		Dir:  filepath.Dir(path),
		Name: filepath.Base(path),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open ring: %w", api.ErrSetup, err)
	}
	r, err := attachRing(region.Addr, meter)
	if err != nil {
		_ = internalshm.UnmapRegion(ctx, region)
		return nil, err
	}
	r.region = region
	return r, nil
}

func initRing(mem []byte, capacity, msgSize uint32, meter metric.Meter) (*Ring, error) {
	size := RegionSize(capacity, msgSize)
	if len(mem) < size {
		return nil, fmt.Errorf("%w: region is %d bytes, want %d", api.ErrSetup, len(mem), size)
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, fmt.Errorf("%w: region is not 8-byte aligned", api.ErrSetup)
	}
	copy(mem[magicOffset:], regionMagic[:])
	putUint32(mem, versionOffset, Version)
	putUint32(mem, capacityOffset, capacity)
	putUint32(mem, slotSizeOffset, SlotSize(msgSize))
	putUint32(mem, msgSizeOffset, msgSize)
	putUint32(mem, ownerPIDOffset, uint32(os.Getpid()))

	if _, err := internalshm.InitSemaphore(mem[emptySemOffset:], capacity); err != nil {
		return nil, fmt.Errorf("%w: init empty: %w", api.ErrSetup, err)
	}
	if _, err := internalshm.InitSemaphore(mem[fullSemOffset:], 0); err != nil {
		return nil, fmt.Errorf("%w: init full: %w", api.ErrSetup, err)
	}
	if _, err := internalshm.InitSemaphore(mem[mutexSemOffset:], 1); err != nil {
		return nil, fmt.Errorf("%w: init mutex: %w", api.ErrSetup, err)
	}
	return attachRing(mem, meter)
}

func attachRing(mem []byte, meter metric.Meter) (*Ring, error) {
	if len(mem) < HeaderSize || [8]byte(mem[magicOffset:magicOffset+8]) != regionMagic {
		return nil, fmt.Errorf("%w: %w", api.ErrSetup, ErrBadRegion)
	}
	if v := getUint32(mem, versionOffset); v != Version {
		return nil, fmt.Errorf("%w: ring version %d, want %d", api.ErrSetup, v, Version)
	}
	capacity := getUint32(mem, capacityOffset)
	msgSize := getUint32(mem, msgSizeOffset)
	slotSize := getUint32(mem, slotSizeOffset)
	if err := validateGeometry(capacity, msgSize); err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrSetup, err)
	}
	if slotSize != SlotSize(msgSize) || len(mem) < RegionSize(capacity, msgSize) {
		return nil, fmt.Errorf("%w: %w: inconsistent geometry", api.ErrSetup, ErrBadRegion)
	}

	r := &Ring{
		mem:       mem,
		capacity:  capacity,
		slotSize:  slotSize,
		msgSize:   msgSize,
		frameSize: message.FrameSize(msgSize),
	}
	var err error
	if r.writeIndex, err = internalshm.Uint32At(mem, writeIndexOffset); err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrSetup, err)
	}
	if r.readIndex, err = internalshm.Uint32At(mem, readIndexOffset); err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrSetup, err)
	}
	if r.empty, err = internalshm.AttachSemaphore(mem[emptySemOffset:]); err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrSetup, err)
	}
	if r.full, err = internalshm.AttachSemaphore(mem[fullSemOffset:]); err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrSetup, err)
	}
	if r.mutexSem, err = internalshm.AttachSemaphore(mem[mutexSemOffset:]); err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrSetup, err)
	}
	r.mutex = sem.NewMutex(r.mutexSem)
	if r.inst, err = newInstruments(meter); err != nil {
		return nil, fmt.Errorf("%w: instruments: %w", api.ErrSetup, err)
	}
	return r, nil
}

// Push copies frame into the next free slot, blocking while the ring is full.
// It returns once the frame is visible to consumers.
func (r *Ring) Push(frame []byte) error {
	if len(frame) != r.frameSize {
		return fmt.Errorf("push %d bytes into %d-byte slots: %w", len(frame), r.frameSize, ErrFrameSize)
	}
	if err := r.empty.Acquire(); err != nil {
		return r.syncFailure("push: acquire empty", err)
	}
	committed := false
	err := r.mutex.Do(func() {
		w := atomic.LoadUint32(r.writeIndex)
		copy(r.slot(w), frame)
		atomic.StoreUint32(r.writeIndex, (w+1)%r.capacity)
		committed = true
	})
	if err != nil && !committed {
		// Nothing was written; give the slot back.
		_ = r.empty.Release()
		return r.syncFailure("push", err)
	}
	if ferr := r.full.Release(); ferr != nil {
		err = errors.Join(err, ferr)
	}
	if err != nil {
		return r.syncFailure("push: release", err)
	}
	r.inst.pushes.Add(context.Background(), 1)
	return nil
}

// Pop copies the oldest frame into dst, blocking while the ring is empty.
// dst must hold at least FrameSize bytes.
func (r *Ring) Pop(dst []byte) error {
	if len(dst) < r.frameSize {
		return fmt.Errorf("pop into %d bytes, frames are %d: %w", len(dst), r.frameSize, ErrFrameSize)
	}
	if err := r.full.Acquire(); err != nil {
		return r.syncFailure("pop: acquire full", err)
	}
	taken := false
	err := r.mutex.Do(func() {
		rd := atomic.LoadUint32(r.readIndex)
		copy(dst[:r.frameSize], r.slot(rd))
		atomic.StoreUint32(r.readIndex, (rd+1)%r.capacity)
		taken = true
	})
	if err != nil && !taken {
		_ = r.full.Release()
		return r.syncFailure("pop", err)
	}
	if eerr := r.empty.Release(); eerr != nil {
		err = errors.Join(err, eerr)
	}
	if err != nil {
		return r.syncFailure("pop: release", err)
	}
	r.inst.pops.Add(context.Background(), 1)
	return nil
}

func (r *Ring) slot(i uint32) []byte {
	off := HeaderSize + int(i)*int(r.slotSize)
	return r.mem[off : off+r.frameSize]
}

func (r *Ring) syncFailure(op string, err error) error {
	r.inst.failures.Add(context.Background(), 1)
	return fmt.Errorf("%w: %s: %w", api.ErrSync, op, err)
}

// Counts returns the current (full, empty) semaphore values. At quiescent
// points they sum to Capacity.
func (r *Ring) Counts() (full, empty uint32) {
	return r.full.Value(), r.empty.Value()
}

// Capacity returns the number of slots.
func (r *Ring) Capacity() uint32 { return r.capacity }

// MsgSize returns the configured payload size.
func (r *Ring) MsgSize() uint32 { return r.msgSize }

// FrameSize returns the size of every frame carried by the ring.
func (r *Ring) FrameSize() int { return r.frameSize }

// Path returns the backing object path, empty for in-memory rings.
func (r *Ring) Path() string {
	if r.region == nil {
		return ""
	}
	return r.region.Path
}

// File returns the backing file so it can be passed to child processes.
func (r *Ring) File() *os.File {
	if r.region == nil {
		return nil
	}
	return r.region.File
}

// Owner reports whether this view created the region.
func (r *Ring) Owner() bool { return r.owner }

// Close unmaps this view. It never affects other processes.
func (r *Ring) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.region == nil {
		return nil
	}
	return internalshm.UnmapRegion(context.Background(), r.region)
}

// Abort marks the semaphores destroyed, failing every current and future
// Push and Pop in every process with a sync failure. The mapping stays valid
// so woken waiters can return. Only the owner may call it.
func (r *Ring) Abort() error {
	if !r.owner {
		return ErrNotOwner
	}
	var errs []error
	for _, s := range []*internalshm.Semaphore{r.empty, r.full, r.mutexSem} {
		if err := s.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Destroy releases the region: Abort, then unlink the backing object and
// unmap this view. Only the owner may call it, after every local user of the
// view has returned.
func (r *Ring) Destroy() error {
	if !r.owner {
		return ErrNotOwner
	}
	var errs []error
	if err := r.Abort(); err != nil {
		errs = append(errs, err)
	}
	if r.region != nil {
		if err := internalshm.RemoveRegion(r.region); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func putUint32(mem []byte, off int, v uint32) {
	p, _ := internalshm.Uint32At(mem, off)
	atomic.StoreUint32(p, v)
}

func getUint32(mem []byte, off int) uint32 {
	p, _ := internalshm.Uint32At(mem, off)
	return atomic.LoadUint32(p)
}
