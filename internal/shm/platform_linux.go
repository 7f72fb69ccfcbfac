/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:build linux

package shm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

const devShm = "/dev/shm"

// DefaultDir returns /dev/shm when present, else the temp directory.
func DefaultDir() string {
	if info, err := os.Stat(devShm); err == nil && info.IsDir() {
		return devShm
	}
	return os.TempDir()
}

// MapRegion maps or creates a shared memory region (Linux implementation).
// Creation is exclusive: an existing object with the same name fails with an
// error matching os.ErrExist.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir()
	}
	path := filepath.Join(dir, opts.Name)

	flags := os.O_RDWR
	if opts.Create {
		if opts.Size <= 0 {
			return nil, fmt.Errorf("invalid region size %d", opts.Size)
		}
		if !canCreateOnDevShm(uint64(opts.Size), path) {
			return nil, fmt.Errorf("path:%s, size:%d: %w", path, opts.Size, ErrNoSpace)
		}
		flags |= os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		if opts.Create {
			_ = os.Remove(path)
		}
	}

	size := opts.Size
	if opts.Create {
		if err := f.Truncate(int64(size)); err != nil {
			cleanup()
			return nil, fmt.Errorf("ftruncate: %w", err)
		}
	} else {
		info, err := f.Stat()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("stat: %w", err)
		}
		if size == 0 {
			size = int(info.Size())
		}
		if info.Size() < int64(size) || size == 0 {
			cleanup()
			return nil, fmt.Errorf("region %s is %d bytes, want %d", path, info.Size(), size)
		}
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("mmap: %w", err)
	}
	if opts.Create {
		clear(mem)
	}
	return &MappedRegion{
		Addr:  mem,
		File:  f,
		Path:  path,
		Size:  size,
		Owner: opts.Create,
	}, nil
}

// MapFile maps the whole of an already open region, typically one inherited
// from the parent process. The region takes ownership of f.
func MapFile(f *os.File) (*MappedRegion, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	size := int(info.Size())
	if size <= 0 {
		return nil, fmt.Errorf("region %s is empty", f.Name())
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{Addr: mem, File: f, Path: f.Name(), Size: size}, nil
}

// UnmapRegion unmaps the region and closes its backing file (Linux implementation).
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if err := unix.Munmap(region.Addr); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	if region.File != nil {
		if err := region.File.Close(); err != nil {
			internalLogger.Warnf("region %s close error: %v", region.Path, err)
		}
		region.File = nil
	}
	return nil
}

// RemoveRegion unlinks the backing object. Existing mappings stay valid.
func RemoveRegion(region *MappedRegion) error {
	if region == nil || region.Path == "" {
		return nil
	}
	if err := os.Remove(region.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", region.Path, err)
	}
	internalLogger.Infof("removed region file:%s", region.Path)
	return nil
}

// canCreateOnDevShm only checks objects under /dev/shm; other paths always pass.
func canCreateOnDevShm(size uint64, path string) bool {
	if !strings.HasPrefix(path, devShm) {
		return true
	}
	stat, err := disk.Usage(devShm)
	if err != nil {
		internalLogger.Warnf("could not read the size of /dev/shm: %v", err)
		return true
	}
	return stat.Free >= size
}
