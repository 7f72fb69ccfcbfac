package orchestrator

import (
	"fmt"
	"sort"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/ipcbench/pkg/worker"
)

// WorkerState is the lifecycle position of a worker.
type WorkerState string

const (
	StateRunning WorkerState = "running"
	StateExited  WorkerState = "exited"
	StateFailed  WorkerState = "failed"
)

// WorkerStatus is one registry entry.
type WorkerStatus struct {
	Role    worker.Role
	ID      uint32
	PID     int
	State   WorkerState
	Code    int
	Started time.Time
	Exited  time.Time
}

// registry tracks every worker of a run. Waiter goroutines update it
// concurrently.
type registry struct {
	m cmap.ConcurrentMap[string, WorkerStatus]
}

func newRegistry() *registry {
	return &registry{m: cmap.New[WorkerStatus]()}
}

func workerKey(role worker.Role, id uint32) string {
	return fmt.Sprintf("%s-%d", role, id)
}

func (r *registry) started(role worker.Role, id uint32, pid int) {
	r.m.Set(workerKey(role, id), WorkerStatus{
		Role:    role,
		ID:      id,
		PID:     pid,
		State:   StateRunning,
		Started: time.Now(),
	})
}

func (r *registry) exited(role worker.Role, id uint32, code int) {
	r.m.Upsert(workerKey(role, id), WorkerStatus{}, func(exist bool, old, _ WorkerStatus) WorkerStatus {
		if !exist {
			old = WorkerStatus{Role: role, ID: id}
		}
		old.Code = code
		old.Exited = time.Now()
		old.State = StateExited
		if code != 0 {
			old.State = StateFailed
		}
		return old
	})
}

// snapshot returns every entry, producers first, each side by id.
func (r *registry) snapshot() []WorkerStatus {
	out := make([]WorkerStatus, 0, r.m.Count())
	for _, s := range r.m.Items() {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role == worker.RoleProducer
		}
		return out[i].ID < out[j].ID
	})
	return out
}
