//go:build !unix

package alloc

import "github.com/downfa11-org/go-dispatcher/util"

// Anonymous falls back to the heap on platforms without mmap.
func Anonymous(size int) (*Buffer, error) {
	util.Warn("anonymous mapping unsupported on this platform, using heap")
	return Heap(size), nil
}

// MappedFile falls back to the heap on platforms without mmap; nothing is
// written to path.
func MappedFile(path string, size int) (*Buffer, error) {
	util.Warn("mapped file %s unsupported on this platform, using heap", path)
	b := Heap(size)
	return b, nil
}
