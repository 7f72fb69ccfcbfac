// Package orchestrator runs one benchmark: it creates the transport, starts
// consumers then producers, waits for the producers, shuts the consumers
// down, tears the transport down and merges the consumer reports.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/internal/config"
	"github.com/srediag/ipcbench/internal/logging"
	"github.com/srediag/ipcbench/pkg/verify"
	"github.com/srediag/ipcbench/pkg/worker"
)

var internalLogger = logging.Named("orchestrator")

const instrumentationName = "github.com/srediag/ipcbench/internal/orchestrator"

// Options configures Run.
type Options struct {
	Config *config.Config
	// Executable is re-executed for process-mode workers. Empty means the
	// running binary.
	Executable string
	// Launcher overrides the launcher chosen from Config.Mode.
	Launcher Launcher
	// Registerer receives the run metrics. Nil keeps them private.
	Registerer prometheus.Registerer
	Tracer     trace.Tracer
	// Meter instruments the ring views owned by this process.
	Meter metric.Meter
	// OnReady is called once the transport exists, before any worker starts.
	OnReady func()
}

// Result is the outcome of a run.
type Result struct {
	Config    config.Config
	Consumers []verify.Report
	Summary   verify.Summary
	Workers   []WorkerStatus
	Failures  []*WorkerError
	Elapsed   time.Duration
}

// Throughput is messages per second over the whole run.
func (r *Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Config.Expected()) / r.Elapsed.Seconds()
}

// ExitCode is the process exit code the run maps to.
func (r *Result) ExitCode() int {
	if len(r.Failures) > 0 {
		return api.ExitWorkerFailed
	}
	return api.ExitOK
}

type exit struct {
	role   worker.Role
	id     uint32
	report *verify.Report
	err    error
}

// Run executes one benchmark. A non-nil error without a Result means setup
// failed and no worker ran; worker failures are reported in Result and as
// api.ErrWorkerFailed.
func Run(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration", api.ErrUsage)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := NewMetrics(reg)

	ctx, span := tracer.Start(ctx, "ipcbench.run", trace.WithAttributes(
		attribute.String("transport", string(cfg.Transport)),
		attribute.String("mode", cfg.Mode),
		attribute.Int64("producers", int64(cfg.Producers)),
		attribute.Int64("consumers", int64(cfg.Consumers)),
		attribute.Int64("messages_per_producer", int64(cfg.Messages)),
		attribute.Int64("msg_size", int64(cfg.MsgSize)),
	))
	defer span.End()

	res, err := run(ctx, tracer, metrics, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	if n := len(res.Failures); n > 0 {
		err = fmt.Errorf("%w: %d of %d workers", api.ErrWorkerFailed, n, cfg.Producers+cfg.Consumers)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.Float64("throughput", res.Throughput()))
	return res, nil
}

func run(ctx context.Context, tracer trace.Tracer, metrics *Metrics, opts Options) (*Result, error) {
	cfg := opts.Config

	_, setup := tracer.Start(ctx, "setup")
	tr, err := openTransport(ctx, cfg, opts.Meter)
	if err != nil {
		setup.End()
		return nil, err
	}
	launcher := opts.Launcher
	if launcher == nil {
		if launcher, err = newLauncher(cfg, opts); err != nil {
			setup.End()
			return nil, errors.Join(err, tr.close())
		}
	}
	defer launcher.Close()
	setup.End()
	internalLogger.Infof("transport %s ready: producers:%d consumers:%d messages:%d msg_size:%d",
		tr.path(), cfg.Producers, cfg.Consumers, cfg.Messages, cfg.MsgSize)
	if opts.OnReady != nil {
		opts.OnReady()
	}

	reg := newRegistry()
	producerExits := make(chan exit, cfg.Producers)
	consumerExits := make(chan exit, cfg.Consumers)
	start := func(role worker.Role, id uint32, exits chan<- exit) error {
		h, err := launcher.Start(role, id, tr.file(role == worker.RoleProducer))
		if err != nil {
			return err
		}
		reg.started(role, id, h.PID())
		metrics.workersStarted.WithLabelValues(string(role)).Inc()
		go func() {
			rep, err := h.Wait()
			exits <- exit{role: role, id: id, report: rep, err: err}
		}()
		return nil
	}

	res := &Result{Config: *cfg}
	record := func(e exit) {
		code := api.ExitOK
		if e.err != nil {
			var we *WorkerError
			if !errors.As(e.err, &we) {
				we = &WorkerError{Role: e.role, ID: e.id, Code: api.ExitCode(e.err), Err: e.err}
			}
			code = we.Code
			res.Failures = append(res.Failures, we)
			metrics.workersFailed.WithLabelValues(string(e.role), api.ExitReason(code)).Inc()
			internalLogger.Errorf("%v", we)
		}
		reg.exited(e.role, e.id, code)
		if e.report != nil {
			res.Consumers = append(res.Consumers, *e.report)
		}
	}

	t0 := time.Now()
	_, produce := tracer.Start(ctx, "produce")
	var startErr error
	var consumersStarted, producersStarted uint32
	for c := uint32(0); c < cfg.Consumers && startErr == nil; c++ {
		if startErr = start(worker.RoleConsumer, c, consumerExits); startErr == nil {
			consumersStarted++
		}
	}
	if startErr == nil {
		_ = tr.release(false)
	}
	for p := uint32(0); p < cfg.Producers && startErr == nil; p++ {
		if startErr = start(worker.RoleProducer, p, producerExits); startErr == nil {
			producersStarted++
		}
	}
	if err := tr.release(true); err != nil {
		internalLogger.Warnf("release pipe write end: %v", err)
	}
	if startErr != nil {
		internalLogger.Errorf("aborting run: %v", startErr)
		tr.abort()
	}

	// Producers first. A consumer can only leave early by failing; once
	// none is left, nobody drains the transport and producers are unblocked
	// by aborting it.
	live := consumersStarted
	for pending := producersStarted; pending > 0; {
		select {
		case e := <-producerExits:
			pending--
			record(e)
		case e := <-consumerExits:
			live--
			record(e)
			if live == 0 {
				tr.abort()
			}
		}
	}
	produce.End()

	_, drain := tracer.Start(ctx, "drain")
	shutdownDone := make(chan error, 1)
	if startErr == nil && live > 0 {
		// The drain loop below decrements live concurrently.
		n := live
		go func() { shutdownDone <- tr.shutdown(n) }()
	} else {
		shutdownDone <- nil
	}
	for live > 0 {
		select {
		case e := <-consumerExits:
			live--
			record(e)
			if e.err != nil && live == 0 {
				tr.abort()
			}
		case err := <-shutdownDone:
			if err != nil {
				internalLogger.Errorf("shutdown: %v", err)
				tr.abort()
			}
			shutdownDone = nil
		}
	}
	if shutdownDone != nil {
		if err := <-shutdownDone; err != nil {
			internalLogger.Warnf("shutdown: %v", err)
		}
	}
	res.Elapsed = time.Since(t0)
	drain.End()

	_, teardown := tracer.Start(ctx, "teardown")
	closeErr := tr.close()
	teardown.End()
	if closeErr != nil {
		internalLogger.Warnf("teardown %s: %v", tr.path(), closeErr)
	}
	if startErr != nil {
		return nil, startErr
	}

	res.Workers = reg.snapshot()
	sum, err := verify.Merge(res.Consumers, cfg.Producers, cfg.Messages)
	if err != nil {
		return nil, fmt.Errorf("merge reports: %w", err)
	}
	res.Summary = sum
	metrics.observe(res)
	return res, nil
}

func newLauncher(cfg *config.Config, opts Options) (Launcher, error) {
	if cfg.Mode == config.ModeGoroutine {
		return NewGoroutineLauncher(cfg, opts.Meter)
	}
	exe := opts.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("%w: locate executable: %w", api.ErrSetup, err)
		}
	}
	return NewProcessLauncher(exe, cfg), nil
}
