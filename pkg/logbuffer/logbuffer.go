package logbuffer

import (
	"fmt"
	"sync/atomic"
)

// MinPartitionCount is the smallest ring that lets the buffer clean the
// partition two ahead of the active one without touching live data.
const MinPartitionCount = 3

// RawBuffer is the contiguous memory backing all partitions.
type RawBuffer interface {
	Bytes() []byte
	Close() error
}

// LogBuffer maps an ever increasing logical partition id onto a fixed ring
// of physical partitions.
type LogBuffer struct {
	raw                RawBuffer
	partitions         []*Partition
	partitionSize      int
	initialPartitionID int
	maxFrameLength     int

	activePartitionID atomic.Int32
	closed            atomic.Bool
}

// New slices raw into partitionCount partitions of partitionSize bytes.
func New(raw RawBuffer, partitionCount, partitionSize, initialPartitionID, maxFrameLength int) (*LogBuffer, error) {
	if partitionCount < MinPartitionCount {
		return nil, fmt.Errorf("%w: partition count %d < %d", ErrInvalidLayout, partitionCount, MinPartitionCount)
	}
	if partitionSize < 2*HeaderLength || partitionSize%FrameAlignment != 0 {
		return nil, fmt.Errorf("%w: partition size %d must be a multiple of %d and at least %d",
			ErrInvalidLayout, partitionSize, FrameAlignment, 2*HeaderLength)
	}
	if initialPartitionID < 0 {
		return nil, fmt.Errorf("%w: negative initial partition id %d", ErrInvalidLayout, initialPartitionID)
	}
	if maxFrameLength <= 0 || AlignedFramedLength(maxFrameLength) > partitionSize-HeaderLength {
		return nil, fmt.Errorf("%w: max frame length %d does not fit partition size %d",
			ErrInvalidLayout, maxFrameLength, partitionSize)
	}

	data := raw.Bytes()
	if len(data) < partitionCount*partitionSize {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrBufferTooSmall, len(data), partitionCount*partitionSize)
	}

	lb := &LogBuffer{
		raw:                raw,
		partitions:         make([]*Partition, partitionCount),
		partitionSize:      partitionSize,
		initialPartitionID: initialPartitionID,
		maxFrameLength:     maxFrameLength,
	}
	for i := range lb.partitions {
		start := i * partitionSize
		lb.partitions[i] = newPartition(i, data[start:start+partitionSize:start+partitionSize])
	}
	lb.Partition(initialPartitionID).setStatus(StatusActive)
	lb.activePartitionID.Store(int32(initialPartitionID))
	return lb, nil
}

// Partition returns the physical partition backing the logical id.
func (lb *LogBuffer) Partition(id int) *Partition {
	return lb.partitions[id%len(lb.partitions)]
}

func (lb *LogBuffer) ActivePartitionID() int {
	return int(lb.activePartitionID.Load())
}

func (lb *LogBuffer) InitialPartitionID() int { return lb.initialPartitionID }
func (lb *LogBuffer) PartitionCount() int     { return len(lb.partitions) }
func (lb *LogBuffer) PartitionSize() int      { return lb.partitionSize }
func (lb *LogBuffer) MaxFrameLength() int     { return lb.maxFrameLength }

// OnActivePartitionFilled moves the active partition forward by one and
// flags the partition two ahead for cleaning. It is a no-op when another
// writer already advanced past activeID.
func (lb *LogBuffer) OnActivePartitionFilled(activeID int) bool {
	next := activeID + 1
	if lb.ActivePartitionID() != activeID {
		return false
	}
	// the dirty mark must be visible before the new active id
	lb.Partition(next + 1).MarkNeedsCleaning()
	if !lb.activePartitionID.CompareAndSwap(int32(activeID), int32(next)) {
		return false
	}
	lb.Partition(next).setStatus(StatusActive)
	return true
}

// CleanPartitions resets every partition flagged for cleaning and returns
// how many it reset. The partition backing readerPartitionID, where the
// slowest reader still is, stays flagged until that reader moved on.
func (lb *LogBuffer) CleanPartitions(readerPartitionID int) int {
	reading := lb.Partition(readerPartitionID)
	cleaned := 0
	for _, p := range lb.partitions {
		if p != reading && p.Status() == StatusNeedsCleaning {
			p.Clean()
			cleaned++
		}
	}
	return cleaned
}

// Close releases the raw buffer. Only the first call has an effect.
func (lb *LogBuffer) Close() error {
	if !lb.closed.CompareAndSwap(false, true) {
		return nil
	}
	return lb.raw.Close()
}

func (lb *LogBuffer) IsClosed() bool {
	return lb.closed.Load()
}
