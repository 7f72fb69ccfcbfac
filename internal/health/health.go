// Package health serves the optional observability endpoint of a run:
// liveness and readiness probes plus the Prometheus metrics of the
// orchestrator.
package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/ipcbench/internal/logging"
)

var internalLogger = logging.Named("health")

// ErrNotReady is reported by the readiness probe until the transport exists.
var ErrNotReady = errors.New("transport not created")

const maxGoroutines = 10000

// Server exposes /live, /ready and /metrics.
type Server struct {
	checks healthcheck.Handler
	mux    *http.ServeMux
	ready  atomic.Bool
	srv    *http.Server
	ln     net.Listener
}

// New builds the endpoint over reg. Probe results are exported to reg as
// well, under the ipcbench namespace.
func New(reg *prometheus.Registry) *Server {
	s := &Server{
		checks: healthcheck.NewMetricsHandler(reg, "ipcbench"),
		mux:    http.NewServeMux(),
	}
	s.checks.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	s.checks.AddReadinessCheck("transport", func() error {
		if !s.ready.Load() {
			return ErrNotReady
		}
		return nil
	})
	s.mux.HandleFunc("/live", s.checks.LiveEndpoint)
	s.mux.HandleFunc("/ready", s.checks.ReadyEndpoint)
	s.mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return s
}

// SetReady flips the readiness probe.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.mux}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			internalLogger.Warnf("metrics endpoint stopped: %v", err)
		}
	}()
	internalLogger.Infof("serving metrics on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
