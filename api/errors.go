// Package api defines the public contracts shared by ipcbench workers and the
// orchestrator: the transport endpoints and the failure taxonomy.
package api

import "errors"

// Failure categories. Errors returned by the core wrap exactly one of these so
// callers can classify them with errors.Is.
var (
	// ErrSetup covers resource allocation, shared-memory creation and
	// primitive initialization. Fatal before workers start.
	ErrSetup = errors.New("setup failure")
	// ErrSync is a failed semaphore operation. Fatal to the calling worker only.
	ErrSync = errors.New("synchronization failure")
	// ErrIO is a non-retryable read or write failure on a transport.
	ErrIO = errors.New("i/o failure")
	// ErrUsage is an invalid configuration rejected before anything is created.
	ErrUsage = errors.New("invalid configuration")
	// ErrWorkerFailed is the orchestrator's aggregate: some worker exited
	// unsuccessfully.
	ErrWorkerFailed = errors.New("worker failed")
)

// Process exit codes reported by workers and the orchestrator.
const (
	ExitOK           = 0
	ExitUnclassified = 1
	ExitUsage        = 2
	ExitSetup        = 3
	ExitSync         = 4
	ExitIO           = 5
	ExitWorkerFailed = 6
)

// ExitCode maps an error returned by the core to its process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrWorkerFailed):
		return ExitWorkerFailed
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case errors.Is(err, ErrSetup):
		return ExitSetup
	case errors.Is(err, ErrSync):
		return ExitSync
	case errors.Is(err, ErrIO):
		return ExitIO
	default:
		return ExitUnclassified
	}
}

// ExitReason returns a short human label for a worker exit code.
func ExitReason(code int) string {
	switch code {
	case ExitOK:
		return "ok"
	case ExitUsage:
		return "usage"
	case ExitSetup:
		return "setup failure"
	case ExitSync:
		return "sync failure"
	case ExitIO:
		return "i/o failure"
	case ExitWorkerFailed:
		return "worker failed"
	default:
		return "unclassified"
	}
}
