//go:build unix

package alloc

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Anonymous maps size bytes of private anonymous memory outside the Go heap.
func Anonymous(size int) (*Buffer, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap anonymous %d bytes: %w", size, err)
	}
	return &Buffer{
		data:    data,
		kind:    KindAnonymous,
		release: func() error { return unix.Munmap(data) },
	}, nil
}

// MappedFile maps path shared read/write, creating or truncating it to size
// bytes. The file contents can be inspected by another process while the
// buffer is live.
func MappedFile(path string, size int) (*Buffer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open mapped file %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("resize mapped file %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	// partitions are written and read front to back
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)

	release := func() error {
		syncErr := unix.Msync(data, unix.MS_SYNC)
		unmapErr := unix.Munmap(data)
		closeErr := f.Close()
		switch {
		case syncErr != nil:
			return fmt.Errorf("msync %s: %w", path, syncErr)
		case unmapErr != nil:
			return fmt.Errorf("munmap %s: %w", path, unmapErr)
		default:
			return closeErr
		}
	}
	return &Buffer{data: data, kind: KindFile, path: path, release: release}, nil
}
