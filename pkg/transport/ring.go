package transport

import (
	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/pkg/message"
	"github.com/srediag/ipcbench/pkg/shm"
)

// RingSender pushes frames into a shared-memory ring.
type RingSender struct {
	ring *shm.Ring
}

// NewRingSender wraps a ring view. Close unmaps it.
func NewRingSender(r *shm.Ring) *RingSender {
	return &RingSender{ring: r}
}

// Send blocks while the ring is full.
func (s *RingSender) Send(frame []byte) error {
	return s.ring.Push(frame)
}

// Close unmaps the view; the owner's region is untouched.
func (s *RingSender) Close() error {
	return s.ring.Close()
}

// RingReceiver pops frames from a shared-memory ring and reports the sentinel
// frame as api.ErrEndOfStream.
type RingReceiver struct {
	ring *shm.Ring
}

// NewRingReceiver wraps a ring view. Close unmaps it.
func NewRingReceiver(r *shm.Ring) *RingReceiver {
	return &RingReceiver{ring: r}
}

// Receive blocks while the ring is empty.
func (r *RingReceiver) Receive(frame []byte) error {
	if err := r.ring.Pop(frame); err != nil {
		return err
	}
	if len(frame) >= message.HeaderSize && message.ReadHeader(frame).IsSentinel() {
		return api.ErrEndOfStream
	}
	return nil
}

// Close unmaps the view.
func (r *RingReceiver) Close() error {
	return r.ring.Close()
}
