package orchestrator

import (
	"fmt"
	"os"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/metric"

	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/internal/config"
	itransport "github.com/srediag/ipcbench/internal/transport"
	"github.com/srediag/ipcbench/pkg/transport"
	"github.com/srediag/ipcbench/pkg/verify"
	"github.com/srediag/ipcbench/pkg/worker"
)

// goroutineLauncher runs workers on a pool sized so every worker runs at
// once. Each worker gets a duplicated descriptor and, on the ring, its own
// mapping, exactly as a child process would.
type goroutineLauncher struct {
	cfg   *config.Config
	pool  *ants.Pool
	meter metric.Meter
}

// NewGoroutineLauncher returns an in-process launcher.
func NewGoroutineLauncher(cfg *config.Config, meter metric.Meter) (Launcher, error) {
	size := int(cfg.Producers + cfg.Consumers)
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p any) {
		internalLogger.Errorf("worker panic: %v", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: worker pool: %w", api.ErrSetup, err)
	}
	return &goroutineLauncher{cfg: cfg, pool: pool, meter: meter}, nil
}

type outcome struct {
	report *verify.Report
	err    error
}

func (l *goroutineLauncher) Start(role worker.Role, id uint32, f *os.File) (Handle, error) {
	dup, err := itransport.Dup(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %d: %w", api.ErrSetup, role, id, err)
	}
	h := &goroutineHandle{role: role, id: id, done: make(chan outcome, 1)}
	task := func() {
		// A panicking worker still reports, so Wait never hangs.
		o := outcome{err: fmt.Errorf("%s %d: panicked", role, id)}
		defer func() { h.done <- o }()
		o = l.run(role, id, dup)
	}
	if err := l.pool.Submit(task); err != nil {
		_ = dup.Close()
		return nil, fmt.Errorf("%w: submit %s %d: %w", api.ErrSetup, role, id, err)
	}
	return h, nil
}

func (l *goroutineLauncher) run(role worker.Role, id uint32, f *os.File) outcome {
	switch role {
	case worker.RoleProducer:
		s, err := transport.SenderFromFile(l.cfg.Transport, f, l.cfg.MsgSize, l.meter)
		if err != nil {
			return outcome{err: err}
		}
		return outcome{err: worker.RunProducer(id, l.cfg, s)}
	case worker.RoleConsumer:
		r, err := transport.ReceiverFromFile(l.cfg.Transport, f, l.cfg.MsgSize, l.meter)
		if err != nil {
			return outcome{err: err}
		}
		rep, err := worker.RunConsumer(id, l.cfg, r)
		if err != nil {
			return outcome{err: err}
		}
		return outcome{report: &rep}
	}
	_ = f.Close()
	return outcome{err: fmt.Errorf("%w: unknown role %q", api.ErrUsage, role)}
}

func (l *goroutineLauncher) Close() {
	l.pool.Release()
}

type goroutineHandle struct {
	role worker.Role
	id   uint32
	done chan outcome
}

func (h *goroutineHandle) PID() int { return os.Getpid() }

func (h *goroutineHandle) Wait() (*verify.Report, error) {
	o := <-h.done
	if o.err != nil {
		return nil, &WorkerError{Role: h.role, ID: h.id, Code: api.ExitCode(o.err), Err: o.err}
	}
	return o.report, nil
}
