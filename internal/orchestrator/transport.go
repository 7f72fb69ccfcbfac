package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/internal/config"
	"github.com/srediag/ipcbench/pkg/shm"
	"github.com/srediag/ipcbench/pkg/transport"
)

// runTransport is the orchestrator's side of the chosen transport: the
// owning ring view, or both ends of the pipe until the workers hold them.
type runTransport struct {
	cfg  *config.Config
	ring *shm.Ring

	mu    sync.Mutex
	pipeR *os.File
	pipeW *os.File

	abortOnce sync.Once
}

func openTransport(ctx context.Context, cfg *config.Config, meter metric.Meter) (*runTransport, error) {
	t := &runTransport{cfg: cfg}
	switch cfg.Transport {
	case transport.KindShm:
		r, err := shm.Create(ctx, shm.Options{
			Dir:      cfg.ShmDir,
			Capacity: cfg.RingCapacity,
			MsgSize:  cfg.MsgSize,
			Meter:    meter,
		})
		if err != nil {
			return nil, err
		}
		t.ring = r
	case transport.KindPipe:
		r, w, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("%w: pipe: %w", api.ErrSetup, err)
		}
		t.pipeR, t.pipeW = r, w
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", api.ErrUsage, cfg.Transport)
	}
	return t, nil
}

// file returns the handle a worker of role inherits.
func (t *runTransport) file(producer bool) *os.File {
	if t.ring != nil {
		return t.ring.File()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if producer {
		return t.pipeW
	}
	return t.pipeR
}

// release drops the orchestrator's copy of one pipe end once every worker of
// that side holds its own. Readers only see end of stream after the write
// end is released here.
func (t *runTransport) release(producer bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &t.pipeR
	if producer {
		p = &t.pipeW
	}
	if *p == nil {
		return nil
	}
	err := (*p).Close()
	*p = nil
	return err
}

// shutdown enqueues one sentinel per live consumer. Pipes need none.
func (t *runTransport) shutdown(consumers uint32) error {
	if t.ring == nil {
		return nil
	}
	return transport.Shutdown(transport.NewRingSender(t.ring), consumers, t.cfg.MsgSize)
}

// abort unblocks every worker stuck on the transport.
func (t *runTransport) abort() {
	t.abortOnce.Do(func() {
		if t.ring != nil {
			if err := t.ring.Abort(); err != nil {
				internalLogger.Warnf("abort ring: %v", err)
			}
			return
		}
		_ = t.release(true)
		_ = t.release(false)
	})
}

// close releases everything. Called once no worker can touch the transport.
func (t *runTransport) close() error {
	if t.ring != nil {
		return t.ring.Destroy()
	}
	return errors.Join(t.release(true), t.release(false))
}

func (t *runTransport) path() string {
	if t.ring != nil {
		return t.ring.Path()
	}
	return "pipe"
}
