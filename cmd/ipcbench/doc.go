// Command ipcbench measures and verifies message passing between producer
// and consumer processes over an anonymous pipe or a semaphore-guarded
// shared-memory ring.
//
// Configuration:
//   - Environment variables (IPCBENCH_PRODUCERS, IPCBENCH_TRANSPORT, ...)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Shared-memory ring, one process per worker
//	./ipcbench -producers 4 -consumers 2 -messages 50000 -msg-size 64 -slots 128
//
//	# Pipe transport, workers as goroutines, metrics on :9090
//	./ipcbench -transport pipe -mode goroutine -metrics-addr :9090
//
// The binary re-executes itself with the hidden "worker" subcommand to run
// each producer and consumer in process mode.
//
// Exit codes: 0 ok, 1 unclassified, 2 usage, 3 setup failure, 4 sync
// failure, 5 i/o failure, 6 some worker failed.
package main
