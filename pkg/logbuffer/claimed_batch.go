package logbuffer

import "fmt"

type BatchState int

const (
	BatchUninitialized BatchState = iota
	BatchWrapped
	BatchFragmentAdded
	BatchCommitted
	BatchAborted
)

func (s BatchState) String() string {
	switch s {
	case BatchUninitialized:
		return "UNINITIALIZED"
	case BatchWrapped:
		return "WRAPPED"
	case BatchFragmentAdded:
		return "FRAGMENT_ADDED"
	case BatchCommitted:
		return "COMMITTED"
	case BatchAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// ClaimedBatch subdivides one reservation into independently framed
// fragments that become visible to readers all at once.
type ClaimedBatch struct {
	buf             []byte
	partitionID     int
	partitionOffset int
	length          int
	onComplete      func()

	state          BatchState
	currentOffset  int
	fragmentOffset int
	fragmentLength int
	fragments      []int
}

func (b *ClaimedBatch) wrap(buf []byte, partitionID, partitionOffset, length int, onComplete func()) {
	b.buf = buf
	b.partitionID = partitionID
	b.partitionOffset = partitionOffset
	b.length = length
	b.onComplete = onComplete
	b.state = BatchWrapped
	b.currentOffset = 0
	b.fragmentOffset = 0
	b.fragmentLength = 0
	b.fragments = b.fragments[:0]
}

func (b *ClaimedBatch) State() BatchState { return b.state }

// NextFragment frames the next fragment of length payload bytes and returns
// the position right after it. Fragments must leave either no room or room
// for at least a padding header behind them.
func (b *ClaimedBatch) NextFragment(length int, streamID int32) (int64, error) {
	if b.state != BatchWrapped && b.state != BatchFragmentAdded {
		return 0, fmt.Errorf("%w: next fragment in state %s", ErrInvalidState, b.state)
	}
	if length < 0 {
		return 0, fmt.Errorf("%w: negative fragment length %d", ErrInvalidState, length)
	}

	framedLength := FramedLength(length)
	alignedLength := AlignedLength(framedLength)
	remaining := b.length - b.currentOffset - alignedLength
	if remaining < 0 || (remaining > 0 && remaining < HeaderLength) {
		return 0, &CapacityError{Offset: b.currentOffset, Length: length, Capacity: b.length - b.currentOffset}
	}

	frameOffset := b.partitionOffset + b.currentOffset
	writeReservedHeader(b.buf, frameOffset, framedLength, TypeMessage, streamID)
	b.fragments = append(b.fragments, frameOffset)

	b.fragmentOffset = b.currentOffset + HeaderLength
	b.fragmentLength = length
	b.currentOffset += alignedLength
	b.state = BatchFragmentAdded

	return Position(b.partitionID, b.partitionOffset+b.currentOffset), nil
}

// Buffer returns a view of the whole batch reservation.
func (b *ClaimedBatch) Buffer() []byte {
	if b.buf == nil {
		return nil
	}
	return b.buf[b.partitionOffset : b.partitionOffset+b.length : b.partitionOffset+b.length]
}

// FragmentOffset returns the payload offset of the last added fragment
// within Buffer.
func (b *ClaimedBatch) FragmentOffset() int { return b.fragmentOffset }

// Fragment returns the writable payload of the last added fragment.
func (b *ClaimedBatch) Fragment() []byte {
	if b.state != BatchFragmentAdded {
		return nil
	}
	return b.Buffer()[b.fragmentOffset : b.fragmentOffset+b.fragmentLength]
}

func (b *ClaimedBatch) FragmentCount() int { return len(b.fragments) }

// Commit publishes all fragments. The trailing padding is written first and
// the fragments are flipped from last to first, so a reader never observes
// the first fragment before the whole batch is committed.
func (b *ClaimedBatch) Commit() error {
	if b.state != BatchWrapped && b.state != BatchFragmentAdded {
		return fmt.Errorf("%w: commit in state %s", ErrInvalidState, b.state)
	}
	b.fillRemaining()

	last := len(b.fragments) - 1
	for i := last; i >= 0; i-- {
		frameOffset := b.fragments[i]
		var flags uint8
		if last > 0 {
			switch i {
			case 0:
				flags = FlagBatchBegin
			case last:
				flags = FlagBatchEnd
			}
		}
		framedLength := -LoadLength(b.buf, frameOffset)
		putType(b.buf, frameOffset, flags, TypeMessage)
		StoreLength(b.buf, frameOffset, framedLength)
	}

	b.state = BatchCommitted
	b.complete()
	return nil
}

// Abort discards every fragment by committing it as padding.
func (b *ClaimedBatch) Abort() error {
	if b.state != BatchWrapped && b.state != BatchFragmentAdded {
		return fmt.Errorf("%w: abort in state %s", ErrInvalidState, b.state)
	}
	b.fillRemaining()

	for i := len(b.fragments) - 1; i >= 0; i-- {
		frameOffset := b.fragments[i]
		framedLength := -LoadLength(b.buf, frameOffset)
		putType(b.buf, frameOffset, 0, TypePadding)
		StoreLength(b.buf, frameOffset, framedLength)
	}

	b.state = BatchAborted
	b.complete()
	return nil
}

func (b *ClaimedBatch) fillRemaining() {
	if padLength := b.length - b.currentOffset; padLength > 0 {
		writePadding(b.buf, b.partitionOffset+b.currentOffset, padLength)
	}
}

func (b *ClaimedBatch) complete() {
	onComplete := b.onComplete
	b.buf = nil
	b.onComplete = nil
	if onComplete != nil {
		onComplete()
	}
}
