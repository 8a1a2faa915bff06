package logbuffer

import "sync/atomic"

type PartitionStatus int32

const (
	StatusClean PartitionStatus = iota
	StatusNeedsCleaning
	StatusActive
)

func (s PartitionStatus) String() string {
	switch s {
	case StatusClean:
		return "CLEAN"
	case StatusNeedsCleaning:
		return "NEEDS_CLEANING"
	case StatusActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Partition is one fixed-size slab of the log buffer. Its tail is the single
// point of serialization between concurrent writers.
type Partition struct {
	index  int
	data   []byte
	tail   atomic.Int64
	status atomic.Int32
}

func newPartition(index int, data []byte) *Partition {
	return &Partition{index: index, data: data}
}

// Reserve atomically advances the tail by n bytes and returns the offset the
// reservation starts at. The returned offset may lie beyond the partition
// end once the partition is exhausted.
func (p *Partition) Reserve(n int) int {
	return int(p.tail.Add(int64(n)) - int64(n))
}

// Tail returns the next free offset, clamped to the partition size.
func (p *Partition) Tail() int {
	t := p.tail.Load()
	if t > int64(len(p.data)) {
		return len(p.data)
	}
	return int(t)
}

func (p *Partition) Data() []byte            { return p.data }
func (p *Partition) Size() int               { return len(p.data) }
func (p *Partition) Index() int              { return p.index }
func (p *Partition) Status() PartitionStatus { return PartitionStatus(p.status.Load()) }

func (p *Partition) setStatus(s PartitionStatus) { p.status.Store(int32(s)) }

func (p *Partition) MarkNeedsCleaning() {
	p.setStatus(StatusNeedsCleaning)
}

// Clean zeroes the partition and resets its tail. The caller guarantees no
// writer or reader touches this partition concurrently.
func (p *Partition) Clean() {
	clear(p.data)
	p.tail.Store(0)
	p.setStatus(StatusClean)
}
