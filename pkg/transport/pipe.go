package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/pkg/message"
)

// AtomicWriteLimit is the largest write a pipe delivers as one unit when
// several writers share it (PIPE_BUF on Linux).
const AtomicWriteLimit = 4096

// ErrFrameTooLarge is returned for frames above AtomicWriteLimit.
var ErrFrameTooLarge = errors.New("frame exceeds atomic pipe write limit")

// ValidateFrameSize rejects message sizes whose frames could interleave with
// other writers on a shared pipe.
func ValidateFrameSize(msgSize uint32) error {
	if n := message.FrameSize(msgSize); n > AtomicWriteLimit {
		return fmt.Errorf("frame of %d bytes: %w (%d)", n, ErrFrameTooLarge, AtomicWriteLimit)
	}
	return nil
}

// NewPipe creates an anonymous pipe and wraps both ends.
func NewPipe(msgSize uint32) (*PipeSender, *PipeReceiver, error) {
	if err := ValidateFrameSize(msgSize); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", api.ErrUsage, err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: pipe: %w", api.ErrSetup, err)
	}
	s, _ := NewPipeSender(w, msgSize)
	rc, _ := NewPipeReceiver(r, msgSize)
	return s, rc, nil
}

// PipeSender writes whole frames to a pipe.
type PipeSender struct {
	w         io.WriteCloser
	frameSize int
}

// NewPipeSender wraps w, which the sender then owns.
func NewPipeSender(w io.WriteCloser, msgSize uint32) (*PipeSender, error) {
	if err := ValidateFrameSize(msgSize); err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrUsage, err)
	}
	return &PipeSender{w: w, frameSize: message.FrameSize(msgSize)}, nil
}

// Send writes frame with a single write call.
func (s *PipeSender) Send(frame []byte) error {
	if len(frame) != s.frameSize {
		return fmt.Errorf("%w: send %d bytes, frames are %d", api.ErrIO, len(frame), s.frameSize)
	}
	return writeAll(s.w, frame)
}

// Close closes this writer handle. Readers see end of stream once every
// writer handle is closed.
func (s *PipeSender) Close() error {
	return s.w.Close()
}

// PipeReceiver reads whole frames from a pipe.
type PipeReceiver struct {
	r         io.ReadCloser
	frameSize int
}

// NewPipeReceiver wraps r, which the receiver then owns.
func NewPipeReceiver(r io.ReadCloser, msgSize uint32) (*PipeReceiver, error) {
	if err := ValidateFrameSize(msgSize); err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrUsage, err)
	}
	return &PipeReceiver{r: r, frameSize: message.FrameSize(msgSize)}, nil
}

// Receive reads exactly one frame into frame.
func (r *PipeReceiver) Receive(frame []byte) error {
	if len(frame) < r.frameSize {
		return fmt.Errorf("%w: receive into %d bytes, frames are %d", api.ErrIO, len(frame), r.frameSize)
	}
	return readAll(r.r, frame[:r.frameSize])
}

// Close closes this reader handle.
func (r *PipeReceiver) Close() error {
	return r.r.Close()
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		b = b[n:]
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("%w: write: %w", api.ErrIO, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: write: %w", api.ErrIO, io.ErrShortWrite)
		}
	}
	return nil
}

// readAll fills b. End of input before the first byte is api.ErrEndOfStream;
// end of input inside b is a truncated frame.
func readAll(r io.Reader, b []byte) error {
	got := 0
	for got < len(b) {
		n, err := r.Read(b[got:])
		got += n
		switch {
		case err == nil:
		case errors.Is(err, syscall.EINTR):
		case errors.Is(err, io.EOF):
			if got == len(b) {
				return nil
			}
			if got == 0 {
				return api.ErrEndOfStream
			}
			return fmt.Errorf("%w: read %d of %d bytes: %w", api.ErrIO, got, len(b), io.ErrUnexpectedEOF)
		default:
			return fmt.Errorf("%w: read: %w", api.ErrIO, err)
		}
	}
	return nil
}
