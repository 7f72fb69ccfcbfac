// Package shm contains the platform layer for the shared-memory ring: mapping
// named regions and process-shared semaphores living inside them.
package shm

import (
	"errors"
	"os"
)

// ErrUnsupported is returned on platforms without shared mappings or futexes.
var ErrUnsupported = errors.New("shared memory not supported on this platform")

// ErrNoSpace is returned when the backing filesystem cannot hold the region.
var ErrNoSpace = errors.New("shared memory had not left space")

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr []byte
	// File backs the mapping. It stays open for the life of the region so it
	// can be handed to child processes.
	File *os.File
	Path string
	Size int
	// Owner is set on regions created by this process.
	Owner bool
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	// Dir is the directory holding the backing object. Empty means DefaultDir.
	Dir  string
	Name string
	// Size is required when creating. When opening, zero maps the whole file.
	Size   int
	Create bool
}

// Function implementations are provided in platform-specific files (platform_linux.go, platform_other.go).
