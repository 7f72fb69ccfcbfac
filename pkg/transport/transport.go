// Package transport implements the two frame transports between producers
// and consumers: an anonymous pipe and the shared-memory ring. Both satisfy
// api.Sender and api.Receiver, so the worker loops never know which one they
// run on.
package transport

import (
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel/metric"

	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/pkg/message"
	"github.com/srediag/ipcbench/pkg/shm"
)

// Kind selects a transport.
type Kind string

const (
	KindShm  Kind = "shm"
	KindPipe Kind = "pipe"
)

// ParseKind parses a transport name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindShm, KindPipe:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown transport %q (want shm or pipe)", api.ErrUsage, s)
}

// Shutdown pushes one sentinel frame per consumer. It must be called only
// after every producer has exited.
func Shutdown(s api.Sender, consumers, msgSize uint32) error {
	sentinel := message.Sentinel(msgSize)
	for i := uint32(0); i < consumers; i++ {
		if err := s.Send(sentinel); err != nil {
			return fmt.Errorf("sentinel %d/%d: %w", i+1, consumers, err)
		}
	}
	return nil
}

// SenderFromFile wraps an inherited transport handle: the ring file for
// KindShm or the pipe write end for KindPipe. The sender owns f, which is closed on error.
func SenderFromFile(kind Kind, f *os.File, msgSize uint32, meter metric.Meter) (api.Sender, error) {
	switch kind {
	case KindShm:
		r, err := attachRing(f, msgSize, meter)
		if err != nil {
			return nil, err
		}
		return NewRingSender(r), nil
	case KindPipe:
		s, err := NewPipeSender(f, msgSize)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		return s, nil
	}
	_ = f.Close()
	return nil, fmt.Errorf("%w: unknown transport %q", api.ErrUsage, kind)
}

// ReceiverFromFile is the consumer counterpart of SenderFromFile. f is
// closed on error.
func ReceiverFromFile(kind Kind, f *os.File, msgSize uint32, meter metric.Meter) (api.Receiver, error) {
	switch kind {
	case KindShm:
		r, err := attachRing(f, msgSize, meter)
		if err != nil {
			return nil, err
		}
		return NewRingReceiver(r), nil
	case KindPipe:
		r, err := NewPipeReceiver(f, msgSize)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		return r, nil
	}
	_ = f.Close()
	return nil, fmt.Errorf("%w: unknown transport %q", api.ErrUsage, kind)
}

func attachRing(f *os.File, msgSize uint32, meter metric.Meter) (*shm.Ring, error) {
	r, err := shm.Attach(f, meter)
	if err != nil {
		return nil, err
	}
	if r.MsgSize() != msgSize {
		_ = r.Close()
		return nil, fmt.Errorf("%w: ring carries %d-byte messages, want %d", api.ErrSetup, r.MsgSize(), msgSize)
	}
	return r, nil
}
