package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/internal/config"
	"github.com/srediag/ipcbench/internal/health"
	"github.com/srediag/ipcbench/internal/logging"
	"github.com/srediag/ipcbench/internal/orchestrator"
	"github.com/srediag/ipcbench/internal/telemetry"
	"github.com/srediag/ipcbench/pkg/message"
	"github.com/srediag/ipcbench/pkg/transport"
	"github.com/srediag/ipcbench/pkg/worker"
)

const instrumentationName = "github.com/srediag/ipcbench/cmd/ipcbench"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "worker" {
		os.Exit(worker.Main())
	}
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type uint32Value struct{ p *uint32 }

func (v uint32Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatUint(uint64(*v.p), 10)
}

func (v uint32Value) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return err
	}
	*v.p = uint32(n)
	return nil
}

func newFlagSet(cfg *config.Config, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("ipcbench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Var(uint32Value{&cfg.Producers}, "producers", "Number of producer workers")
	fs.Var(uint32Value{&cfg.Consumers}, "consumers", "Number of consumer workers")
	fs.Var(uint32Value{&cfg.Messages}, "messages", "Messages per producer")
	fs.Var(uint32Value{&cfg.MsgSize}, "msg-size", "Payload bytes per message")
	fs.Var(uint32Value{&cfg.RingCapacity}, "slots", "Ring buffer capacity (shm transport)")
	fs.Func("transport", "Transport: shm or pipe (default "+string(cfg.Transport)+")", func(s string) error {
		k, err := transport.ParseKind(s)
		if err != nil {
			return err
		}
		cfg.Transport = k
		return nil
	})
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "Worker execution: process or goroutine")
	fs.BoolVar(&cfg.Checksum, "checksum", cfg.Checksum, "Stamp and verify payload checksums")
	fs.StringVar(&cfg.ShmDir, "shm-dir", cfg.ShmDir, "Directory for the ring region (default /dev/shm)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve /metrics, /live and /ready on this address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Print transport details and per-worker status")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: ipcbench [flags]\n\nExample:\n  ipcbench -producers 4 -consumers 1 -messages 5000 -msg-size 64\n\nFlags:\n")
		fs.PrintDefaults()
	}
	return fs
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return api.ExitUsage
	}
	fs := newFlagSet(cfg, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return api.ExitOK
		}
		return api.ExitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "Error: unexpected argument %q\n", fs.Arg(0))
		fs.Usage()
		return api.ExitUsage
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return api.ExitUsage
	}
	defer logging.Sync()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return api.ExitCode(err)
	}
	if cfg.Verbose {
		fmt.Fprintf(stderr, "transport=%s mode=%s frame_bytes=%d", cfg.Transport, cfg.Mode, message.FrameSize(cfg.MsgSize))
		if cfg.Transport == transport.KindPipe {
			fmt.Fprintf(stderr, " atomic_write_limit=%d", transport.AtomicWriteLimit)
		}
		fmt.Fprintln(stderr)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tel, err := telemetry.New(reg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: telemetry: %v\n", err)
		return api.ExitSetup
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()
	opts := orchestrator.Options{
		Config:     cfg,
		Registerer: reg,
		Meter:      tel.Meter.Meter(instrumentationName),
		Tracer:     tel.Tracer.Tracer(instrumentationName),
	}
	if cfg.MetricsAddr != "" {
		hs := health.New(reg)
		if err := hs.Start(cfg.MetricsAddr); err != nil {
			fmt.Fprintf(stderr, "Error: metrics endpoint: %v\n", err)
			return api.ExitSetup
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = hs.Shutdown(ctx)
		}()
		opts.OnReady = func() { hs.SetReady(true) }
	}

	res, err := orchestrator.Run(context.Background(), opts)
	if res != nil {
		orchestrator.PrintReport(stdout, res, cfg.Verbose)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return api.ExitCode(err)
	}
	if !res.Summary.Complete() {
		return api.ExitUnclassified
	}
	return api.ExitOK
}
