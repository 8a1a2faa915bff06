package dispatcher

import (
	"fmt"

	"github.com/downfa11-org/go-dispatcher/pkg/logbuffer"
)

// BlockPeek is a view on a contiguous block of frames handed out by
// Subscription.PeekBlock. The block stays readable until it is resolved
// with MarkCompleted or MarkFailed; resolving moves the subscription past
// it. A BlockPeek can be reused for the next peek once resolved.
type BlockPeek struct {
	sub *Subscription
	buf []byte

	offset        int
	length        int
	streamID      int32
	position      int64
	nextPosition  int64
	fragmentCount int
	pending       bool
}

func (b *BlockPeek) set(sub *Subscription, buf []byte, offset, length int, streamID int32, position, nextPosition int64, fragmentCount int) {
	b.sub = sub
	b.buf = buf
	b.offset = offset
	b.length = length
	b.streamID = streamID
	b.position = position
	b.nextPosition = nextPosition
	b.fragmentCount = fragmentCount
	b.pending = true
}

// Buffer returns the raw frames of the block, headers included.
func (b *BlockPeek) Buffer() []byte {
	if !b.pending {
		return nil
	}
	return b.buf[b.offset : b.offset+b.length]
}

// StreamID is the stream shared by all fragments, or -1 when the block was
// peeked without stream awareness.
func (b *BlockPeek) StreamID() int32     { return b.streamID }
func (b *BlockPeek) Length() int         { return b.length }
func (b *BlockPeek) FragmentCount() int  { return b.fragmentCount }
func (b *BlockPeek) Position() int64     { return b.position }
func (b *BlockPeek) NextPosition() int64 { return b.nextPosition }
func (b *BlockPeek) IsPending() bool     { return b.pending }

// ForEach calls fn with the payload and stream id of every fragment in the
// block until fn returns false.
func (b *BlockPeek) ForEach(fn func(payload []byte, streamID int32) bool) {
	if !b.pending {
		return
	}
	end := b.offset + b.length
	for off := b.offset; off < end; {
		framedLength := int(logbuffer.LoadLength(b.buf, off))
		msg := logbuffer.MessageOffset(off)
		if !fn(b.buf[msg:msg+logbuffer.MessageLength(framedLength)], logbuffer.StreamIDAt(b.buf, off)) {
			return
		}
		off += logbuffer.AlignedLength(framedLength)
	}
}

// MarkCompleted consumes the block.
func (b *BlockPeek) MarkCompleted() error {
	if !b.pending {
		return ErrBlockNotPending
	}
	b.resolve()
	return nil
}

// MarkFailed flags every fragment of the block as failed and consumes it.
func (b *BlockPeek) MarkFailed() error {
	if !b.pending {
		return ErrBlockNotPending
	}
	end := b.offset + b.length
	for off := b.offset; off < end; {
		logbuffer.SetFlags(b.buf, off, logbuffer.FlagFailed)
		off += logbuffer.AlignedLength(int(logbuffer.LoadLength(b.buf, off)))
	}
	b.resolve()
	return nil
}

func (b *BlockPeek) resolve() {
	b.pending = false
	if b.sub.position.ProposeMax(b.nextPosition) {
		b.sub.consumed(b.fragmentCount)
	}
}

func (b *BlockPeek) String() string {
	return fmt.Sprintf("BlockPeek [position=%d, next=%d, length=%d, fragments=%d, streamId=%d]",
		b.position, b.nextPosition, b.length, b.fragmentCount, b.streamID)
}
