// Package shm provides the shared-memory ring buffer used as a bounded
// multi-producer/multi-consumer queue between benchmark processes.
//
// The region is a fixed header followed by ring_capacity fixed-size slots.
// The header carries the write and read cursors and three process-shared
// semaphores: empty (free slots), full (occupied slots) and mutex (binary,
// guards the slots and both cursors). Push and Pop follow the classic
// two-phase protocol: take a counting unit, then the mutex, copy one frame,
// advance the cursor, release the mutex, release the opposite unit.
//
// One process owns a region: it calls Create, hands the backing file to the
// workers, and calls Destroy after every worker has exited. Workers hold a
// borrowed view obtained with Attach or Open and only ever call Push, Pop
// and Close.
//
// Example usage:
//
//	ring, err := shm.Create(ctx, shm.Options{Capacity: 64, MsgSize: 32})
//	// ...
//	err = ring.Push(frame)
//	// ...
//	err = ring.Pop(frame)
//	// ...
//	err = ring.Destroy()
//
// The package is instrumented with OpenTelemetry metrics (OTel Go API v1.30.0);
// pass a metric.Meter in Options to record pushes, pops and sync failures.
package shm
