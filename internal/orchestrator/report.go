package orchestrator

import (
	"fmt"
	"io"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/srediag/ipcbench/internal/config"
	"github.com/srediag/ipcbench/pkg/transport"
	"github.com/srediag/ipcbench/pkg/worker"
)

// PrintReport writes the human-readable run report: one line per consumer,
// the run line, the timing line and the merged verification summary.
func PrintReport(w io.Writer, r *Result, verbose bool) {
	consumers := append(r.Consumers[:0:0], r.Consumers...)
	sort.Slice(consumers, func(i, j int) bool { return consumers[i].Consumer < consumers[j].Consumer })
	for _, c := range consumers {
		s := c.Stats
		fmt.Fprintf(w, "consumer[%d]: received=%d dup=%d out_of_range=%d malformed=%d",
			c.Consumer, s.TotalReceived, s.Duplicates, s.OutOfRange, s.Malformed)
		if r.Config.Checksum {
			fmt.Fprintf(w, " corrupted=%d", s.Corrupted)
		}
		if verbose {
			fmt.Fprintf(w, " reordered=%d", s.Reordered)
		}
		fmt.Fprintln(w)
	}

	cfg := r.Config
	fmt.Fprintf(w, "run(%s): producers=%d consumers=%d messages_per_producer=%d msg_size=%d",
		cfg.Transport, cfg.Producers, cfg.Consumers, cfg.Messages, cfg.MsgSize)
	if cfg.Transport == transport.KindShm {
		fmt.Fprintf(w, " slots=%d", cfg.RingCapacity)
	}
	if cfg.Mode != config.ModeProcess {
		fmt.Fprintf(w, " mode=%s", cfg.Mode)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "timing: %.3f sec | approx %.0f msgs/sec\n", r.Elapsed.Seconds(), r.Throughput())

	sum := r.Summary
	status := "complete"
	if !sum.Complete() {
		status = "INCOMPLETE"
	}
	fmt.Fprintf(w, "verify: %s expected=%d unique=%d missing=%d cross_consumer_dup=%d\n",
		status, sum.Expected, sum.Unique, sum.Missing, sum.CrossDuplicates)

	for _, f := range r.Failures {
		fmt.Fprintf(w, "failed: %s[%d] exit=%d (%s)\n", f.Role, f.ID, f.Code, exitLabel(f))
	}
	if verbose {
		for _, role := range []worker.Role{worker.RoleProducer, worker.RoleConsumer} {
			if n, mean, std := wallTimes(r.Workers, role); n > 0 {
				fmt.Fprintf(w, "workers(%s): n=%d wall_mean=%.3fs wall_stddev=%.3fs\n", role, n, mean, std)
			}
		}
		for _, s := range r.Workers {
			fmt.Fprintf(w, "worker: %s[%d] pid=%d state=%s exit=%d wall=%s\n",
				s.Role, s.ID, s.PID, s.State, s.Code, s.Exited.Sub(s.Started).Round(time.Microsecond))
		}
	}
}

func exitLabel(f *WorkerError) string {
	if f.Err != nil {
		return f.Err.Error()
	}
	return "no error"
}

// wallTimes summarizes how long the workers of one role ran.
func wallTimes(ws []WorkerStatus, role worker.Role) (n int, mean, std float64) {
	var xs []float64
	for _, s := range ws {
		if s.Role == role && !s.Exited.IsZero() {
			xs = append(xs, s.Exited.Sub(s.Started).Seconds())
		}
	}
	switch len(xs) {
	case 0:
		return 0, 0, 0
	case 1:
		return 1, xs[0], 0
	}
	mean, std = stat.MeanStdDev(xs, nil)
	return len(xs), mean, std
}
