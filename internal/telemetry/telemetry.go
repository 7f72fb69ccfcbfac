// Package telemetry builds the OpenTelemetry providers of the ipcbench
// binary. Meter instruments are exported through the Prometheus registry
// served on the metrics endpoint; spans are logged as phase timings.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/srediag/ipcbench/internal/logging"
)

var internalLogger = logging.Named("telemetry")

// Providers holds the meter and tracer providers of one process.
type Providers struct {
	Meter  *sdkmetric.MeterProvider
	Tracer *sdktrace.TracerProvider
}

// New bridges OTel instruments into reg and logs every ended span.
func New(reg prometheus.Registerer) (*Providers, error) {
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(reg),
		otelprom.WithoutScopeInfo(),
		otelprom.WithoutTargetInfo(),
	)
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	return &Providers{
		Meter:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
		Tracer: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(PhaseLogger{})),
	}, nil
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(p.Tracer.Shutdown(ctx), p.Meter.Shutdown(ctx))
}

// PhaseLogger is a span processor writing one debug line per ended span.
type PhaseLogger struct{}

var _ sdktrace.SpanProcessor = PhaseLogger{}

func (PhaseLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (PhaseLogger) OnEnd(s sdktrace.ReadOnlySpan) {
	internalLogger.Debugf("phase %s: %s", s.Name(), s.EndTime().Sub(s.StartTime()))
}

func (PhaseLogger) Shutdown(context.Context) error { return nil }

func (PhaseLogger) ForceFlush(context.Context) error { return nil }
