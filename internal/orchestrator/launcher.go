package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/internal/config"
	"github.com/srediag/ipcbench/pkg/verify"
	"github.com/srediag/ipcbench/pkg/worker"
)

// Launcher starts workers over an inherited transport handle. The handle
// stays owned by the caller; a launcher hands each worker its own copy.
type Launcher interface {
	Start(role worker.Role, id uint32, f *os.File) (Handle, error)
	// Close releases launcher resources once every handle has been waited.
	Close()
}

// Handle is a started worker.
type Handle interface {
	// PID is the worker process id, or the orchestrator's own for goroutines.
	PID() int
	// Wait blocks until the worker exits. Consumers return their report.
	Wait() (*verify.Report, error)
}

// WorkerError is a worker that exited unsuccessfully.
type WorkerError struct {
	Role worker.Role
	ID   uint32
	Code int
	Err  error
}

func (e *WorkerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %d exited with %d (%s): %v", e.Role, e.ID, e.Code, api.ExitReason(e.Code), e.Err)
	}
	return fmt.Sprintf("%s %d exited with %d (%s)", e.Role, e.ID, e.Code, api.ExitReason(e.Code))
}

func (e *WorkerError) Unwrap() error { return e.Err }

// processLauncher re-executes the binary with the worker subcommand.
type processLauncher struct {
	exe string
	cfg *config.Config
}

// NewProcessLauncher returns a launcher running each worker as a child
// process of exe, which must dispatch "worker" to worker.Main.
func NewProcessLauncher(exe string, cfg *config.Config) Launcher {
	return &processLauncher{exe: exe, cfg: cfg}
}

func (l *processLauncher) Start(role worker.Role, id uint32, f *os.File) (Handle, error) {
	raw, err := worker.EncodeSpec(worker.Spec{Role: role, ID: id, Config: *l.cfg})
	if err != nil {
		return nil, fmt.Errorf("%w: encode worker spec: %w", api.ErrSetup, err)
	}
	cmd := exec.Command(l.exe, "worker")
	cmd.Env = append(os.Environ(), worker.EnvSpec+"="+raw)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{f}

	h := &processHandle{role: role, id: id, cmd: cmd}
	var reportW *os.File
	if role == worker.RoleConsumer {
		if h.report, reportW, err = os.Pipe(); err != nil {
			return nil, fmt.Errorf("%w: report pipe: %w", api.ErrSetup, err)
		}
		cmd.ExtraFiles = append(cmd.ExtraFiles, reportW)
	}
	if err := cmd.Start(); err != nil {
		if reportW != nil {
			_ = reportW.Close()
			_ = h.report.Close()
		}
		return nil, fmt.Errorf("%w: start %s %d: %w", api.ErrSetup, role, id, err)
	}
	if reportW != nil {
		// The child holds the only write end now.
		_ = reportW.Close()
	}
	return h, nil
}

func (l *processLauncher) Close() {}

type processHandle struct {
	role   worker.Role
	id     uint32
	cmd    *exec.Cmd
	report *os.File
}

func (h *processHandle) PID() int { return h.cmd.Process.Pid }

func (h *processHandle) Wait() (*verify.Report, error) {
	var (
		rep     verify.Report
		readErr error
	)
	if h.report != nil {
		// Read before reaping so a large report cannot block the child.
		rep, readErr = worker.ReadReport(h.report)
		_ = h.report.Close()
	}
	if err := h.cmd.Wait(); err != nil {
		code := api.ExitUnclassified
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			code = exitErr.ExitCode()
		}
		return nil, &WorkerError{Role: h.role, ID: h.id, Code: code, Err: err}
	}
	if h.report == nil {
		return nil, nil
	}
	if readErr != nil {
		return nil, &WorkerError{Role: h.role, ID: h.id, Code: api.ExitIO, Err: readErr}
	}
	return &rep, nil
}
