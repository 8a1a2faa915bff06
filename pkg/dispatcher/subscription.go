package dispatcher

import (
	"fmt"
	"sync/atomic"

	"github.com/downfa11-org/go-dispatcher/pkg/logbuffer"
	"github.com/downfa11-org/go-dispatcher/pkg/metrics"
	"github.com/downfa11-org/go-dispatcher/util"
	"github.com/prometheus/client_golang/prometheus"
)

// Subscription is an independent reader cursor over a dispatcher's log.
// A subscription must be read from one goroutine at a time.
type Subscription struct {
	id             int
	name           string
	dispatcherName string

	logBuffer *logbuffer.LogBuffer
	position  *AtomicPosition
	limit     atomic.Pointer[AtomicPosition]
	consumers conditions
	closed    atomic.Bool

	// onConsumed wakes the conductor and, in pipeline mode, the next stage.
	onConsumed func()

	fragmentsConsumed prometheus.Counter
	handlerPanics     prometheus.Counter
	positionGauge     prometheus.Gauge
}

func newSubscription(id int, name, dispatcherName string, lb *logbuffer.LogBuffer, position, limit *AtomicPosition, onConsumed func()) *Subscription {
	s := &Subscription{
		id:                id,
		name:              name,
		dispatcherName:    dispatcherName,
		logBuffer:         lb,
		position:          position,
		onConsumed:        onConsumed,
		fragmentsConsumed: metrics.FragmentsConsumed.WithLabelValues(dispatcherName, name),
		handlerPanics:     metrics.HandlerPanics.WithLabelValues(dispatcherName, name),
		positionGauge:     metrics.SubscriptionPosition.WithLabelValues(dispatcherName, name),
	}
	s.limit.Store(limit)
	s.positionGauge.Set(float64(position.Get()))
	return s
}

func (s *Subscription) ID() int         { return s.id }
func (s *Subscription) Name() string    { return s.name }
func (s *Subscription) Position() int64 { return s.position.Get() }
func (s *Subscription) Limit() int64    { return s.limit.Load().Get() }
func (s *Subscription) IsClosed() bool  { return s.closed.Load() }

// HasAvailable reports whether the writer made data visible beyond the
// current position.
func (s *Subscription) HasAvailable() bool {
	return s.Limit() > s.Position()
}

// RegisterConsumer adds a condition signalled whenever new data becomes
// available to this subscription.
func (s *Subscription) RegisterConsumer(cond Condition) {
	s.consumers.register(cond)
}

func (s *Subscription) RemoveConsumer(cond Condition) {
	s.consumers.remove(cond)
}

func (s *Subscription) signalConsumers() {
	s.consumers.signal()
}

func (s *Subscription) close() {
	s.closed.Store(true)
}

func (s *Subscription) String() string {
	return fmt.Sprintf("Subscription [id=%d, name=%s]", s.id, s.name)
}

// Poll hands up to maxFragments committed fragments to handler and consumes
// all of them once the scan is done. Handler results other than
// FailedFragment are ignored.
func (s *Subscription) Poll(handler FragmentHandler, maxFragments int) int {
	return s.read(handler, maxFragments, false)
}

// PeekAndConsume is Poll with the handler result of every fragment deciding
// whether to consume it and whether to continue.
func (s *Subscription) PeekAndConsume(handler FragmentHandler, maxFragments int) int {
	return s.read(handler, maxFragments, true)
}

func (s *Subscription) read(handler FragmentHandler, maxFragments int, handlerControlled bool) int {
	if s.closed.Load() || maxFragments <= 0 {
		return 0
	}
	current := s.position.Get()
	limit := s.Limit()
	if limit <= current {
		return 0
	}

	partitionID := logbuffer.PartitionID(current)
	partition := s.logBuffer.Partition(partitionID)
	return s.pollFragments(partition, handler, partitionID, logbuffer.PartitionOffset(current), maxFragments, limit, handlerControlled)
}

func (s *Subscription) pollFragments(
	partition *logbuffer.Partition,
	handler FragmentHandler,
	partitionID, offset, maxFragments int,
	limit int64,
	handlerControlled bool,
) int {
	buf := partition.Data()
	consumed := 0

	for {
		framedLength := logbuffer.LoadLength(buf, offset)
		if framedLength <= 0 {
			break
		}
		alignedLength := logbuffer.AlignedLength(int(framedLength))

		if logbuffer.FrameTypeAt(buf, offset) == logbuffer.TypePadding {
			offset += alignedLength
			if offset >= partition.Size() {
				partitionID++
				offset = 0
				break
			}
		} else {
			flags := logbuffer.FlagsAt(buf, offset)
			failed := logbuffer.IsFailed(flags)
			result := s.invoke(handler, buf, offset, int(framedLength), failed)

			if result == FailedFragment && !failed {
				logbuffer.SetFlags(buf, offset, logbuffer.FlagFailed)
			}
			if !handlerControlled {
				result = ConsumeFragment
			}
			if result == PostponeFragment {
				break
			}

			consumed++
			offset += alignedLength
			if result == ConsumeAndStop {
				break
			}
		}

		if consumed >= maxFragments || logbuffer.Position(partitionID, offset) >= limit {
			break
		}
	}

	if s.position.ProposeMax(logbuffer.Position(partitionID, offset)) {
		s.consumed(consumed)
	}
	return consumed
}

// invoke calls the handler and turns a panic into a consumed fragment so a
// misbehaving handler cannot corrupt the read bookkeeping.
func (s *Subscription) invoke(handler FragmentHandler, buf []byte, offset, framedLength int, failed bool) (result FragmentResult) {
	defer func() {
		if r := recover(); r != nil {
			util.Error("❌ Failed to handle fragment at %d [%s/%s]: %v", offset, s.dispatcherName, s.name, r)
			s.handlerPanics.Inc()
			result = ConsumeFragment
		}
	}()
	streamID := logbuffer.StreamIDAt(buf, offset)
	return handler.OnFragment(buf, logbuffer.MessageOffset(offset), logbuffer.MessageLength(framedLength), streamID, failed)
}

func (s *Subscription) consumed(fragments int) {
	if fragments > 0 {
		s.fragmentsConsumed.Add(float64(fragments))
	}
	s.positionGauge.Set(float64(s.position.Get()))
	if s.onConsumed != nil {
		s.onConsumed()
	}
}

// PeekBlock fills block with a contiguous span of committed fragments of at
// most maxBlockSize bytes without consuming it. Fragment batches are only
// included as a whole. With streamAware set the block ends before the first
// fragment of a different stream. It returns the block length; 0 means no
// block. The block must be resolved with MarkCompleted or MarkFailed; a
// block that is still pending is left untouched and 0 is returned.
func (s *Subscription) PeekBlock(block *BlockPeek, maxBlockSize int, streamAware bool) int {
	if s.closed.Load() || block.IsPending() {
		return 0
	}
	current := s.position.Get()
	limit := s.Limit()
	if limit <= current {
		return 0
	}

	partitionID := logbuffer.PartitionID(current)
	partition := s.logBuffer.Partition(partitionID)
	return s.peekBlock(partition, block, partitionID, logbuffer.PartitionOffset(current), maxBlockSize, limit, streamAware)
}

func (s *Subscription) peekBlock(
	partition *logbuffer.Partition,
	block *BlockPeek,
	partitionID, partitionOffset, maxBlockSize int,
	limit int64,
	streamAware bool,
) int {
	buf := partition.Data()
	startPartitionID := partitionID
	firstFragmentOffset := partitionOffset

	readBytes := 0
	initialStreamID := int32(-1)
	readingBatch := false
	// offset is the end of the last complete batch or single fragment
	offset := partitionOffset
	fragmentCount := 0
	pendingFragments := 0

	offsetLimit := logbuffer.PartitionOffset(limit)
	if logbuffer.PartitionID(limit) > partitionID {
		offsetLimit = partition.Size()
	}

	for {
		framedLength := logbuffer.LoadLength(buf, partitionOffset)
		if framedLength <= 0 {
			break
		}

		if logbuffer.FrameTypeAt(buf, partitionOffset) == logbuffer.TypePadding {
			partitionOffset += logbuffer.AlignedLength(int(framedLength))
			if partitionOffset >= partition.Size() {
				partitionID++
				partitionOffset = 0
			}
			offset = partitionOffset

			if readBytes == 0 {
				// nothing to hand out, skip the padding right away
				if s.position.ProposeMax(logbuffer.Position(partitionID, partitionOffset)) {
					s.consumed(0)
				}
			}
			break
		}

		if streamAware {
			streamID := logbuffer.StreamIDAt(buf, partitionOffset)
			if readBytes == 0 {
				initialStreamID = streamID
			} else if streamID != initialStreamID {
				break
			}
		}

		flags := logbuffer.FlagsAt(buf, partitionOffset)
		if !readingBatch {
			readingBatch = logbuffer.IsBatchBegin(flags)
		} else {
			readingBatch = !logbuffer.IsBatchEnd(flags)
		}

		alignedLength := logbuffer.AlignedLength(int(framedLength))
		if alignedLength > maxBlockSize-readBytes {
			break
		}
		partitionOffset += alignedLength
		readBytes += alignedLength
		pendingFragments++

		if !readingBatch {
			offset = partitionOffset
			fragmentCount += pendingFragments
			pendingFragments = 0
		}

		if maxBlockSize-readBytes <= logbuffer.HeaderLength || partitionOffset >= offsetLimit {
			break
		}
	}

	// drop a trailing incomplete batch
	blockLength := readBytes + offset - partitionOffset
	if blockLength > 0 {
		block.set(s, buf, firstFragmentOffset, blockLength, initialStreamID,
			logbuffer.Position(startPartitionID, firstFragmentOffset),
			logbuffer.Position(partitionID, offset),
			fragmentCount)
	}
	return blockLength
}
