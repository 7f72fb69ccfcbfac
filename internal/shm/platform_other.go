//go:build !linux

package shm

import (
	"context"
	"os"
)

// DefaultDir returns the temp directory.
func DefaultDir() string { return os.TempDir() }

// MapRegion is not implemented on this platform.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

// MapFile is not implemented on this platform.
func MapFile(f *os.File) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

// UnmapRegion is not implemented on this platform.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	return ErrUnsupported
}

// RemoveRegion is not implemented on this platform.
func RemoveRegion(region *MappedRegion) error {
	return ErrUnsupported
}
