// Package api defines the public contracts shared by ipcbench workers and the
// orchestrator: the transport endpoints and the failure taxonomy.
package api

import "io"

// ErrEndOfStream is returned by Receiver.Receive once the stream is drained:
// EOF on a pipe, or the sentinel frame on the shared-memory ring.
var ErrEndOfStream = io.EOF

// Sender is the producer side of a transport.
type Sender interface {
	// Send delivers one whole frame. It blocks while the transport is full
	// and returns only after the frame is enqueued.
	Send(frame []byte) error
	// Close releases the handle. It does not affect other senders.
	Close() error
}

// Receiver is the consumer side of a transport.
type Receiver interface {
	// Receive fills frame with exactly one frame. It blocks while the
	// transport is empty and returns ErrEndOfStream at end of stream.
	Receive(frame []byte) error
	// Close releases the handle.
	Close() error
}
