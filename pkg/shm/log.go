package shm

import "github.com/srediag/ipcbench/internal/logging"

var internalLogger = logging.Named("ring")
