package logbuffer

const (
	// ResultEndOfPartition means the partition is exhausted and no padding
	// could be written. Readers skip straight to the next partition.
	ResultEndOfPartition = -1
	// ResultPaddingAtEndOfPartition means a padding frame now covers the
	// rest of the partition.
	ResultPaddingAtEndOfPartition = -2
)

// Appender writes frames into a partition. It holds no state; every
// reservation goes through the partition tail.
type Appender struct{}

// AppendFrame copies msg into a new committed frame. It returns the
// partition offset after the frame, or one of the end of partition results.
func (Appender) AppendFrame(p *Partition, msg []byte, streamID int32) int {
	framedLength := FramedLength(len(msg))
	alignedLength := AlignedLength(framedLength)

	frameOffset := p.Reserve(alignedLength)
	newTail := frameOffset + alignedLength
	if newTail > p.Size()-HeaderLength {
		return onEndOfPartition(p, frameOffset)
	}

	buf := p.data
	writeReservedHeader(buf, frameOffset, framedLength, TypeMessage, streamID)
	copy(buf[MessageOffset(frameOffset):], msg)
	StoreLength(buf, frameOffset, int32(framedLength))
	return newTail
}

// Claim reserves a frame for length payload bytes and wraps it into claim.
// The frame stays invisible to readers until the claim is committed.
func (Appender) Claim(p *Partition, claim *ClaimedFragment, length int, streamID int32, onComplete func()) int {
	framedLength := FramedLength(length)
	alignedLength := AlignedLength(framedLength)

	frameOffset := p.Reserve(alignedLength)
	newTail := frameOffset + alignedLength
	if newTail > p.Size()-HeaderLength {
		return onEndOfPartition(p, frameOffset)
	}

	writeReservedHeader(p.data, frameOffset, framedLength, TypeMessage, streamID)
	claim.wrap(p.data, frameOffset, framedLength, onComplete)
	return newTail
}

// ClaimBatch reserves room for fragmentCount fragments carrying batchLength
// payload bytes in total, leaving slack so every fragment can be aligned.
func (Appender) ClaimBatch(p *Partition, partitionID int, batch *ClaimedBatch, fragmentCount, batchLength int, onComplete func()) int {
	reserved := Align(BatchReservation(fragmentCount, batchLength), FrameAlignment)

	frameOffset := p.Reserve(reserved)
	newTail := frameOffset + reserved
	if newTail > p.Size()-HeaderLength {
		return onEndOfPartition(p, frameOffset)
	}

	batch.wrap(p.data, partitionID, frameOffset, reserved, onComplete)
	return newTail
}

// BatchReservation is the unaligned number of bytes a batch claim reserves.
func BatchReservation(fragmentCount, batchLength int) int {
	return batchLength + fragmentCount*(HeaderLength+FrameAlignment) + FrameAlignment
}

func onEndOfPartition(p *Partition, frameOffset int) int {
	padLength := p.Size() - frameOffset
	if padLength < HeaderLength {
		return ResultEndOfPartition
	}
	// this reservation tripped the partition end
	writePadding(p.data, frameOffset, padLength)
	return ResultPaddingAtEndOfPartition
}
