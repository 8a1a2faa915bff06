package alloc

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unsafe"
)

type Kind string

const (
	KindHeap      Kind = "heap"
	KindAnonymous Kind = "anonymous"
	KindFile      Kind = "file"
)

// ParseKind accepts the kind names used in configuration files.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindHeap:
		return KindHeap, nil
	case KindAnonymous, "anon", "direct":
		return KindAnonymous, nil
	case KindFile, "mapped", "mmap":
		return KindFile, nil
	default:
		return "", fmt.Errorf("unknown allocation kind %q", s)
	}
}

// Buffer is a contiguous, 8-byte aligned region of memory backing a log
// buffer. Close releases it exactly once.
type Buffer struct {
	data    []byte
	kind    Kind
	path    string
	release func() error

	closeOnce sync.Once
	closeErr  error
}

func (b *Buffer) Bytes() []byte { return b.data }
func (b *Buffer) Kind() Kind    { return b.kind }

// Path returns the backing file of a mapped-file buffer, or "".
func (b *Buffer) Path() string { return b.path }

func (b *Buffer) Close() error {
	b.closeOnce.Do(func() {
		if b.release != nil {
			b.closeErr = b.release()
		}
		b.data = nil
	})
	return b.closeErr
}

// Heap allocates size bytes on the Go heap, aligned for 64-bit atomics.
func Heap(size int) *Buffer {
	words := make([]uint64, (size+7)/8)
	var data []byte
	if size > 0 {
		data = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	}
	return &Buffer{data: data, kind: KindHeap}
}

// Allocate returns a buffer of the requested kind. path is only used by
// KindFile.
func Allocate(kind Kind, size int, path string) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid allocation size %d", size)
	}
	switch kind {
	case KindHeap, "":
		return Heap(size), nil
	case KindAnonymous:
		return Anonymous(size)
	case KindFile:
		if path == "" {
			return nil, errors.New("mapped file allocation requires a path")
		}
		return MappedFile(path, size)
	default:
		return nil, fmt.Errorf("unknown allocation kind %q", kind)
	}
}
