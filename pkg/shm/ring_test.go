//go:build linux

package shm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/pkg/message"
)

func alignedMem(n int) []byte {
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)
}

func newHeapRing(t *testing.T, capacity, msgSize uint32) *Ring {
	t.Helper()
	r, err := New(alignedMem(RegionSize(capacity, msgSize)), capacity, msgSize, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Destroy() })
	return r
}

func frame(producer, seq, msgSize uint32) []byte {
	payload := make([]byte, msgSize)
	message.FillPayload(payload, producer)
	buf := make([]byte, message.FrameSize(msgSize))
	_, _ = message.Encode(buf, message.Header{ProducerID: producer, Seq: seq, PayloadLen: msgSize}, payload)
	return buf
}

func TestRegionGeometry(t *testing.T) {
	assert.Equal(t, uint32(48), SlotSize(32))
	assert.Equal(t, uint32(24), SlotSize(1))
	assert.Equal(t, HeaderSize+8*48, RegionSize(8, 32))
	assert.LessOrEqual(t, ownerPIDOffset+4, HeaderSize)
}

func TestRingFIFO(t *testing.T) {
	r := newHeapRing(t, 4, 32)
	for i := uint32(0); i < 4; i++ {
		require.NoError(t, r.Push(frame(0, i, 32)))
	}
	full, empty := r.Counts()
	assert.Equal(t, uint32(4), full)
	assert.Equal(t, uint32(0), empty)

	dst := make([]byte, r.FrameSize())
	for i := uint32(0); i < 4; i++ {
		require.NoError(t, r.Pop(dst))
		h, _, err := message.Decode(dst, 32)
		require.NoError(t, err)
		assert.Equal(t, i, h.Seq)
	}
	full, empty = r.Counts()
	assert.Equal(t, uint32(0), full)
	assert.Equal(t, uint32(4), empty)
}

func TestRingRejectsWrongFrameSize(t *testing.T) {
	r := newHeapRing(t, 2, 32)
	err := r.Push(make([]byte, r.FrameSize()-1))
	assert.ErrorIs(t, err, ErrFrameSize)
	err = r.Pop(make([]byte, 3))
	assert.ErrorIs(t, err, ErrFrameSize)

	full, empty := r.Counts()
	assert.Equal(t, uint32(0), full)
	assert.Equal(t, uint32(2), empty)
}

func TestRingRejectsBadGeometry(t *testing.T) {
	_, err := New(alignedMem(RegionSize(1, 8)), 0, 8, nil)
	assert.ErrorIs(t, err, api.ErrSetup)
	_, err = New(alignedMem(RegionSize(1, 8)), 1, 0, nil)
	assert.ErrorIs(t, err, api.ErrSetup)
	_, err = New(alignedMem(HeaderSize), 4, 8, nil)
	assert.ErrorIs(t, err, api.ErrSetup)
}

func TestRingCapacityOneAlternates(t *testing.T) {
	r := newHeapRing(t, 1, 8)
	require.NoError(t, r.Push(frame(0, 0, 8)))

	pushed := make(chan error, 1)
	go func() { pushed <- r.Push(frame(0, 1, 8)) }()
	select {
	case <-pushed:
		t.Fatal("push into a full ring returned")
	case <-time.After(20 * time.Millisecond):
	}

	dst := make([]byte, r.FrameSize())
	require.NoError(t, r.Pop(dst))
	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("producer not woken by pop")
	}
	require.NoError(t, r.Pop(dst))
	h, _, err := message.Decode(dst, 8)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), h.Seq)
}

func TestRingConcurrentProducersConsumers(t *testing.T) {
	const (
		producers = 4
		consumers = 3
		messages  = 500
		msgSize   = 16
	)
	r := newHeapRing(t, 4, msgSize)

	var (
		mu   sync.Mutex
		seen = make(map[[2]uint32]int)
		wg   sync.WaitGroup
	)
	total := producers * messages
	popped := make(chan struct{}, total)

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dst := make([]byte, r.FrameSize())
			last := make(map[uint32]uint32)
			for {
				if err := r.Pop(dst); !assert.NoError(t, err) {
					return
				}
				h, _, err := message.Decode(dst, msgSize)
				assert.NoError(t, err)
				if h.IsSentinel() {
					return
				}
				// Slots are filled in push order, so one consumer sees each
				// producer's seqs ascending.
				if prev, ok := last[h.ProducerID]; ok {
					assert.Greater(t, h.Seq, prev, "producer %d", h.ProducerID)
				}
				last[h.ProducerID] = h.Seq
				mu.Lock()
				seen[[2]uint32{h.ProducerID, h.Seq}]++
				mu.Unlock()
				popped <- struct{}{}
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := uint32(0); p < producers; p++ {
		pwg.Add(1)
		go func(p uint32) {
			defer pwg.Done()
			for i := uint32(0); i < messages; i++ {
				assert.NoError(t, r.Push(frame(p, i, msgSize)))
			}
		}(p)
	}
	pwg.Wait()
	for i := 0; i < total; i++ {
		<-popped
	}
	full, empty := r.Counts()
	assert.Equal(t, uint32(0), full)
	assert.Equal(t, r.Capacity(), full+empty)

	for c := 0; c < consumers; c++ {
		require.NoError(t, r.Push(message.Sentinel(msgSize)))
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for k, n := range seen {
		assert.Equal(t, 1, n, "frame %v delivered %d times", k, n)
	}
}

func TestRingDestroyFailsWaiters(t *testing.T) {
	r, err := New(alignedMem(RegionSize(2, 8)), 2, 8, nil)
	require.NoError(t, err)

	popped := make(chan error, 1)
	go func() { popped <- r.Pop(make([]byte, r.FrameSize())) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, r.Destroy())
	select {
	case err := <-popped:
		assert.ErrorIs(t, err, api.ErrSync)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by destroy")
	}
	assert.ErrorIs(t, r.Push(frame(0, 0, 8)), api.ErrSync)
}

func TestCreateOpenDestroy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	owner, err := Create(ctx, Options{Dir: dir, Capacity: 8, MsgSize: 32})
	require.NoError(t, err)
	require.True(t, owner.Owner())
	require.NotNil(t, owner.File())
	assert.Equal(t, dir, filepath.Dir(owner.Path()))

	view, err := Open(ctx, owner.Path(), nil)
	require.NoError(t, err)
	assert.False(t, view.Owner())
	assert.Equal(t, uint32(8), view.Capacity())
	assert.Equal(t, uint32(32), view.MsgSize())

	require.NoError(t, view.Push(frame(1, 7, 32)))
	dst := make([]byte, owner.FrameSize())
	require.NoError(t, owner.Pop(dst))
	h, payload, err := message.Decode(dst, 32)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), h.ProducerID)
	assert.Equal(t, uint32(7), h.Seq)
	assert.Equal(t, byte('B'), payload[0])

	assert.ErrorIs(t, view.Destroy(), ErrNotOwner)
	require.NoError(t, view.Close())
	require.NoError(t, view.Close())

	path := owner.Path()
	require.NoError(t, owner.Destroy())
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestAttachInheritedFile(t *testing.T) {
	ctx := context.Background()
	owner, err := Create(ctx, Options{Dir: t.TempDir(), Capacity: 2, MsgSize: 8})
	require.NoError(t, err)
	defer owner.Destroy()

	f, err := os.OpenFile(owner.Path(), os.O_RDWR, 0)
	require.NoError(t, err)

	view, err := Attach(f, nil)
	require.NoError(t, err)
	defer view.Close()

	require.NoError(t, owner.Push(frame(0, 3, 8)))
	dst := make([]byte, view.FrameSize())
	require.NoError(t, view.Pop(dst))
	h, _, err := message.Decode(dst, 8)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), h.Seq)
}

func TestCreateNamedCollision(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, err := Create(ctx, Options{Dir: dir, Name: "ring", Capacity: 2, MsgSize: 8})
	require.NoError(t, err)
	defer first.Destroy()

	_, err = Create(ctx, Options{Dir: dir, Name: "ring", Capacity: 2, MsgSize: 8})
	assert.ErrorIs(t, err, api.ErrSetup)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestOpenRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-ring")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0600))

	_, err := Open(context.Background(), path, nil)
	assert.ErrorIs(t, err, ErrBadRegion)
	assert.ErrorIs(t, err, api.ErrSetup)
}

func TestAttachClosesFileOnError(t *testing.T) {
	dir := t.TempDir()
	empty, err := os.Create(filepath.Join(dir, "empty"))
	require.NoError(t, err)
	_, err = Attach(empty, nil)
	assert.ErrorIs(t, err, api.ErrSetup)
	_, err = empty.Stat()
	assert.ErrorIs(t, err, os.ErrClosed)

	path := filepath.Join(dir, "not-a-ring")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0600))
	foreign, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = Attach(foreign, nil)
	assert.ErrorIs(t, err, ErrBadRegion)
	_, err = foreign.Stat()
	assert.ErrorIs(t, err, os.ErrClosed)
}

func BenchmarkRingPushPop(b *testing.B) {
	const msgSize = 32
	r, err := New(alignedMem(RegionSize(64, msgSize)), 64, msgSize, nil)
	if err != nil {
		b.Fatal(err)
	}
	defer r.Destroy()
	src := make([]byte, r.FrameSize())
	dst := make([]byte, r.FrameSize())
	b.SetBytes(int64(len(src)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := r.Push(src); err != nil {
			b.Fatal(err)
		}
		if err := r.Pop(dst); err != nil {
			b.Fatal(err)
		}
	}
}

func TestRingAbortKeepsMapping(t *testing.T) {
	r := newHeapRing(t, 1, 8)
	require.NoError(t, r.Push(frame(0, 0, 8)))

	pushed := make(chan error, 1)
	go func() { pushed <- r.Push(frame(0, 1, 8)) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, r.Abort())
	select {
	case err := <-pushed:
		assert.ErrorIs(t, err, api.ErrSync)
	case <-time.After(time.Second):
		t.Fatal("producer not released by abort")
	}
	assert.ErrorIs(t, r.Pop(make([]byte, r.FrameSize())), api.ErrSync)
}
