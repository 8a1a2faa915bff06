package logbuffer_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/downfa11-org/go-dispatcher/pkg/alloc"
	"github.com/downfa11-org/go-dispatcher/pkg/logbuffer"
)

const testPartitionSize = 1024

func newLogBuffer(t *testing.T, partitionCount, partitionSize, initialID int) *logbuffer.LogBuffer {
	t.Helper()
	lb, err := logbuffer.New(alloc.Heap(partitionCount*partitionSize), partitionCount, partitionSize, initialID, partitionSize/4)
	if err != nil {
		t.Fatalf("failed to create log buffer: %v", err)
	}
	t.Cleanup(func() { lb.Close() })
	return lb
}

func newPartition(t *testing.T) *logbuffer.Partition {
	t.Helper()
	return newLogBuffer(t, 3, testPartitionSize, 0).Partition(0)
}

func TestAppendFrame_SingleMessage(t *testing.T) {
	p := newPartition(t)
	msg := []byte("0123456789")

	newTail := logbuffer.Appender{}.AppendFrame(p, msg, 20)

	aligned := logbuffer.AlignedFramedLength(len(msg))
	if newTail != aligned {
		t.Fatalf("expected new tail %d, got %d", aligned, newTail)
	}
	buf := p.Data()
	if got := logbuffer.LoadLength(buf, 0); got != int32(logbuffer.FramedLength(len(msg))) {
		t.Fatalf("expected committed length %d, got %d", logbuffer.FramedLength(len(msg)), got)
	}
	if got := logbuffer.FrameTypeAt(buf, 0); got != logbuffer.TypeMessage {
		t.Fatalf("expected MESSAGE, got %s", got)
	}
	if got := logbuffer.StreamIDAt(buf, 0); got != 20 {
		t.Fatalf("expected stream id 20, got %d", got)
	}
	if got := logbuffer.FlagsAt(buf, 0); got != 0 {
		t.Fatalf("expected no flags, got %#x", got)
	}
	off := logbuffer.MessageOffset(0)
	if !bytes.Equal(buf[off:off+len(msg)], msg) {
		t.Fatalf("payload mismatch: %q", buf[off:off+len(msg)])
	}
	if got := logbuffer.LoadLength(buf, aligned); got != 0 {
		t.Fatalf("expected unwritten next frame, got length %d", got)
	}
}

func TestAppendFrame_NoRoomForPadding(t *testing.T) {
	p := newPartition(t)
	start := testPartitionSize - logbuffer.HeaderLength + 4
	p.Reserve(start)

	result := logbuffer.Appender{}.AppendFrame(p, []byte("msg"), 1)

	if result != logbuffer.ResultEndOfPartition {
		t.Fatalf("expected end of partition result, got %d", result)
	}
	for i, b := range p.Data()[start:] {
		if b != 0 {
			t.Fatalf("byte %d written past tail: %#x", start+i, b)
		}
	}
}

func TestAppendFrame_PaddingAtEndOfPartition(t *testing.T) {
	p := newPartition(t)
	remaining := 24
	start := testPartitionSize - remaining
	p.Reserve(start)

	msg := make([]byte, 20)
	result := logbuffer.Appender{}.AppendFrame(p, msg, 1)

	if result != logbuffer.ResultPaddingAtEndOfPartition {
		t.Fatalf("expected padding result, got %d", result)
	}
	buf := p.Data()
	if got := logbuffer.LoadLength(buf, start); got != int32(remaining) {
		t.Fatalf("expected padding length %d, got %d", remaining, got)
	}
	if got := logbuffer.FrameTypeAt(buf, start); got != logbuffer.TypePadding {
		t.Fatalf("expected PADDING, got %s", got)
	}
	for i, b := range buf[logbuffer.MessageOffset(start):] {
		if b != 0 {
			t.Fatalf("payload byte %d written into padding: %#x", i, b)
		}
	}
}

func TestAppendFrame_LastFrameLeavesHeaderRoom(t *testing.T) {
	p := newPartition(t)
	msg := make([]byte, 4)
	// a 16 byte frame ending at size-16 still fits
	p.Reserve(testPartitionSize - 32)
	if got := (logbuffer.Appender{}).AppendFrame(p, msg, 1); got != testPartitionSize-16 {
		t.Fatalf("expected tail %d, got %d", testPartitionSize-16, got)
	}
	if got := (logbuffer.Appender{}).AppendFrame(p, msg, 1); got != logbuffer.ResultPaddingAtEndOfPartition {
		t.Fatalf("expected padding result, got %d", got)
	}
	if got := (logbuffer.Appender{}).AppendFrame(p, msg, 1); got != logbuffer.ResultEndOfPartition {
		t.Fatalf("expected end of partition for later writer, got %d", got)
	}
}

func TestClaim_CommitAndAbort(t *testing.T) {
	p := newPartition(t)
	buf := p.Data()

	var claim logbuffer.ClaimedFragment
	completed := 0
	newTail := logbuffer.Appender{}.Claim(p, &claim, 5, 7, func() { completed++ })
	if newTail != logbuffer.AlignedFramedLength(5) {
		t.Fatalf("unexpected tail %d", newTail)
	}
	if got := logbuffer.LoadLength(buf, 0); got != -int32(logbuffer.FramedLength(5)) {
		t.Fatalf("claimed frame must carry negative length, got %d", got)
	}
	if claim.Length() != 5 || claim.Offset() != logbuffer.HeaderLength {
		t.Fatalf("unexpected claim view offset=%d length=%d", claim.Offset(), claim.Length())
	}
	copy(claim.Payload(), "hello")

	if err := claim.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := logbuffer.LoadLength(buf, 0); got != int32(logbuffer.FramedLength(5)) {
		t.Fatalf("expected committed length, got %d", got)
	}
	if string(buf[logbuffer.HeaderLength:logbuffer.HeaderLength+5]) != "hello" {
		t.Fatalf("payload not written")
	}
	if err := claim.Commit(); err != logbuffer.ErrNotClaimed {
		t.Fatalf("expected ErrNotClaimed on second commit, got %v", err)
	}

	second := logbuffer.Appender{}.Claim(p, &claim, 5, 7, func() { completed++ })
	if err := claim.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if got := logbuffer.FrameTypeAt(buf, newTail); got != logbuffer.TypePadding {
		t.Fatalf("aborted claim must be padding, got %s", got)
	}
	if got := logbuffer.LoadLength(buf, newTail); got != int32(logbuffer.FramedLength(5)) {
		t.Fatalf("aborted claim must be committed, got %d", got)
	}
	if completed != 2 {
		t.Fatalf("expected 2 completions, got %d", completed)
	}
	if second != 2*logbuffer.AlignedFramedLength(5) {
		t.Fatalf("unexpected second tail %d", second)
	}
}

func TestClaim_EndOfPartition(t *testing.T) {
	p := newPartition(t)
	p.Reserve(testPartitionSize - 16)

	var claim logbuffer.ClaimedFragment
	result := logbuffer.Appender{}.Claim(p, &claim, 64, 1, nil)
	if result != logbuffer.ResultPaddingAtEndOfPartition {
		t.Fatalf("expected padding result, got %d", result)
	}
	if claim.IsClaimed() {
		t.Fatalf("claim must stay unwrapped at partition end")
	}
}

func TestAppendFrame_ConcurrentWriters(t *testing.T) {
	lb := newLogBuffer(t, 3, 64*1024, 0)
	p := lb.Partition(0)

	const writers, perWriter = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(streamID int32) {
			defer wg.Done()
			msg := bytes.Repeat([]byte{byte(streamID)}, 9)
			for i := 0; i < perWriter; i++ {
				if r := (logbuffer.Appender{}).AppendFrame(p, msg, streamID); r < 0 {
					t.Errorf("unexpected end of partition")
					return
				}
			}
		}(int32(w))
	}
	wg.Wait()

	buf := p.Data()
	counts := make(map[int32]int)
	offset := 0
	for offset < p.Tail() {
		length := logbuffer.LoadLength(buf, offset)
		if length <= 0 {
			t.Fatalf("uncommitted frame at %d", offset)
		}
		id := logbuffer.StreamIDAt(buf, offset)
		payload := buf[logbuffer.MessageOffset(offset) : offset+int(length)]
		if !bytes.Equal(payload, bytes.Repeat([]byte{byte(id)}, 9)) {
			t.Fatalf("torn frame at %d: stream %d payload %v", offset, id, payload)
		}
		counts[id]++
		offset += logbuffer.AlignedLength(int(length))
	}
	for w := 0; w < writers; w++ {
		if counts[int32(w)] != perWriter {
			t.Fatalf("stream %d: expected %d frames, got %d", w, perWriter, counts[int32(w)])
		}
	}
}
