//go:build linux

package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/pkg/message"
	"github.com/srediag/ipcbench/pkg/shm"
)

func newRing(t *testing.T, capacity, msgSize uint32) *shm.Ring {
	t.Helper()
	r, err := shm.Create(context.Background(), shm.Options{Dir: t.TempDir(), Capacity: capacity, MsgSize: msgSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Destroy() })
	return r
}

func openFile(t *testing.T, r *shm.Ring) *os.File {
	t.Helper()
	f, err := os.OpenFile(r.Path(), os.O_RDWR, 0)
	require.NoError(t, err)
	return f
}

func TestRingReceiverStopsAtSentinel(t *testing.T) {
	const msgSize = 16
	owner := newRing(t, 4, msgSize)
	s, err := SenderFromFile(KindShm, openFile(t, owner), msgSize, nil)
	require.NoError(t, err)
	defer s.Close()
	r, err := ReceiverFromFile(KindShm, openFile(t, owner), msgSize, nil)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, s.Send(testFrame(0, 0, msgSize)))
	require.NoError(t, Shutdown(s, 1, msgSize))

	frame := make([]byte, message.FrameSize(msgSize))
	require.NoError(t, r.Receive(frame))
	assert.ErrorIs(t, r.Receive(frame), api.ErrEndOfStream)
}

func TestShutdownTerminatesEveryConsumerOnce(t *testing.T) {
	const (
		msgSize   = 8
		consumers = 5
	)
	owner := newRing(t, 2, msgSize)
	sender := NewRingSender(owner)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		received int
	)
	for c := 0; c < consumers; c++ {
		r, err := ReceiverFromFile(KindShm, openFile(t, owner), msgSize, nil)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.Close()
			frame := make([]byte, message.FrameSize(msgSize))
			for {
				err := r.Receive(frame)
				if errors.Is(err, api.ErrEndOfStream) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				received++
				mu.Unlock()
			}
		}()
	}

	for i := uint32(0); i < 50; i++ {
		require.NoError(t, sender.Send(testFrame(0, i, msgSize)))
	}
	require.NoError(t, Shutdown(sender, consumers, msgSize))
	wg.Wait()

	assert.Equal(t, 50, received)
	full, empty := owner.Counts()
	assert.Equal(t, uint32(0), full)
	assert.Equal(t, uint32(2), empty)
}

func TestRingFromFileRejectsMsgSizeMismatch(t *testing.T) {
	owner := newRing(t, 2, 16)
	_, err := SenderFromFile(KindShm, openFile(t, owner), 32, nil)
	assert.ErrorIs(t, err, api.ErrSetup)
}

func TestFromFileClosesOnError(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = SenderFromFile(KindPipe, w, 2*AtomicWriteLimit, nil)
	assert.ErrorIs(t, err, api.ErrUsage)
	_, err = ReceiverFromFile(KindPipe, r, 2*AtomicWriteLimit, nil)
	assert.ErrorIs(t, err, api.ErrUsage)
	_, err = w.Write([]byte{0})
	assert.ErrorIs(t, err, os.ErrClosed)
	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrClosed)

	f, err := os.Create(filepath.Join(t.TempDir(), "empty"))
	require.NoError(t, err)
	_, err = ReceiverFromFile(KindShm, f, 8, nil)
	assert.ErrorIs(t, err, api.ErrSetup)
	_, err = f.Stat()
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestPipeFromFile(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	s, err := SenderFromFile(KindPipe, w, 8, nil)
	require.NoError(t, err)
	rc, err := ReceiverFromFile(KindPipe, r, 8, nil)
	require.NoError(t, err)
	defer rc.Close()

	require.NoError(t, s.Send(testFrame(1, 1, 8)))
	require.NoError(t, s.Close())
	frame := make([]byte, message.FrameSize(8))
	require.NoError(t, rc.Receive(frame))
	assert.ErrorIs(t, rc.Receive(frame), api.ErrEndOfStream)
}
