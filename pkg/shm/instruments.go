package shm

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/srediag/ipcbench/pkg/shm"

type instruments struct {
	pushes   metric.Int64Counter
	pops     metric.Int64Counter
	failures metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(instrumentationName)
	}
	pushes, err := meter.Int64Counter("ipcbench.ring.pushes",
		metric.WithDescription("Frames pushed into the ring by this process."))
	if err != nil {
		return nil, err
	}
	pops, err := meter.Int64Counter("ipcbench.ring.pops",
		metric.WithDescription("Frames popped from the ring by this process."))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("ipcbench.ring.sync_failures",
		metric.WithDescription("Push or pop calls aborted by a semaphore failure."))
	if err != nil {
		return nil, err
	}
	return &instruments{pushes: pushes, pops: pops, failures: failures}, nil
}
