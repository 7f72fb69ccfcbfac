package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/internal/config"
	"github.com/srediag/ipcbench/internal/logging"
	"github.com/srediag/ipcbench/pkg/transport"
	"github.com/srediag/ipcbench/pkg/verify"
)

// Process-mode hand-off from the orchestrator to a child worker.
const (
	// EnvSpec carries the JSON-encoded Spec.
	EnvSpec = "IPCBENCH_WORKER"
	// TransportFD is the inherited ring file or pipe end (first ExtraFiles entry).
	TransportFD = 3
	// ReportFD is the inherited write end a consumer reports on.
	ReportFD = 4
)

// Spec tells a child process what to run.
type Spec struct {
	Role   Role          `json:"role"`
	ID     uint32        `json:"id"`
	Config config.Config `json:"config"`
}

// EncodeSpec renders s for EnvSpec.
func EncodeSpec(s Spec) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeSpec parses and validates an EnvSpec value.
func DecodeSpec(raw string) (Spec, error) {
	var s Spec
	if raw == "" {
		return s, fmt.Errorf("%w: %s is not set", api.ErrUsage, EnvSpec)
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return s, fmt.Errorf("%w: decode %s: %w", api.ErrUsage, EnvSpec, err)
	}
	if s.Role != RoleProducer && s.Role != RoleConsumer {
		return s, fmt.Errorf("%w: unknown worker role %q", api.ErrUsage, s.Role)
	}
	if err := s.Config.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Main is the entry point of a child worker process. It returns the exit
// code.
func Main() int {
	spec, err := DecodeSpec(os.Getenv(EnvSpec))
	if err != nil {
		internalLogger.Errorf("worker: %v", err)
		return api.ExitCode(err)
	}
	if err := logging.SetLevel(spec.Config.LogLevel); err != nil {
		internalLogger.Warnf("worker %s %d: %v", spec.Role, spec.ID, err)
	}
	defer logging.Sync()

	f := os.NewFile(TransportFD, "transport")
	var report io.WriteCloser
	if spec.Role == RoleConsumer {
		report = os.NewFile(ReportFD, "report")
	}
	if err := Run(spec, f, report); err != nil {
		internalLogger.Errorf("%s %d: %v", spec.Role, spec.ID, err)
		return api.ExitCode(err)
	}
	return api.ExitOK
}

// Run executes one worker over an inherited transport handle. Consumers
// write their report to report, which is closed afterwards.
func Run(spec Spec, f *os.File, report io.WriteCloser) error {
	if f == nil {
		return fmt.Errorf("%w: no transport handle", api.ErrSetup)
	}
	cfg := &spec.Config
	switch spec.Role {
	case RoleProducer:
		s, err := transport.SenderFromFile(cfg.Transport, f, cfg.MsgSize, nil)
		if err != nil {
			return err
		}
		return RunProducer(spec.ID, cfg, s)
	case RoleConsumer:
		if report == nil {
			return fmt.Errorf("%w: consumer %d has no report channel", api.ErrSetup, spec.ID)
		}
		defer report.Close()
		r, err := transport.ReceiverFromFile(cfg.Transport, f, cfg.MsgSize, nil)
		if err != nil {
			return err
		}
		rep, err := RunConsumer(spec.ID, cfg, r)
		if err != nil {
			return err
		}
		return WriteReport(report, rep)
	}
	return fmt.Errorf("%w: unknown worker role %q", api.ErrUsage, spec.Role)
}

// WriteReport writes rep as one JSON document.
func WriteReport(w io.Writer, rep verify.Report) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if _, err := w.Write(buf.B); err != nil {
		return fmt.Errorf("%w: write report: %w", api.ErrIO, err)
	}
	return nil
}

// ReadReport reads a report written by WriteReport.
func ReadReport(r io.Reader) (verify.Report, error) {
	var rep verify.Report
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return rep, fmt.Errorf("%w: read report: %w", api.ErrIO, err)
	}
	return rep, nil
}
