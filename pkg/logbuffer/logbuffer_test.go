package logbuffer_test

import (
	"errors"
	"testing"

	"github.com/downfa11-org/go-dispatcher/pkg/alloc"
	"github.com/downfa11-org/go-dispatcher/pkg/logbuffer"
)

func TestNew_RejectsInvalidLayout(t *testing.T) {
	tests := []struct {
		name           string
		raw            int
		partitionCount int
		partitionSize  int
		maxFrame       int
		want           error
	}{
		{"two partitions", 2048, 2, 1024, 128, logbuffer.ErrInvalidLayout},
		{"unaligned size", 3 * 1028, 3, 1028, 128, logbuffer.ErrInvalidLayout},
		{"frame too long", 3 * 1024, 3, 1024, 1024, logbuffer.ErrInvalidLayout},
		{"buffer too small", 2048, 3, 1024, 128, logbuffer.ErrBufferTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := logbuffer.New(alloc.Heap(tt.raw), tt.partitionCount, tt.partitionSize, 0, tt.maxFrame)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLogBuffer_PartitionMapping(t *testing.T) {
	lb := newLogBuffer(t, 3, testPartitionSize, 7)

	if lb.ActivePartitionID() != 7 || lb.InitialPartitionID() != 7 {
		t.Fatalf("expected active and initial id 7, got %d %d", lb.ActivePartitionID(), lb.InitialPartitionID())
	}
	if lb.Partition(7) != lb.Partition(1) || lb.Partition(7) != lb.Partition(10) {
		t.Fatalf("logical ids must map modulo partition count")
	}
	if lb.Partition(7).Status() != logbuffer.StatusActive {
		t.Fatalf("initial partition must be active, got %s", lb.Partition(7).Status())
	}
	if lb.Partition(8).Status() != logbuffer.StatusClean {
		t.Fatalf("other partitions start clean, got %s", lb.Partition(8).Status())
	}
}

func TestLogBuffer_OnActivePartitionFilled(t *testing.T) {
	lb := newLogBuffer(t, 3, testPartitionSize, 0)

	if !lb.OnActivePartitionFilled(0) {
		t.Fatalf("expected the first caller to advance the active partition")
	}
	if lb.ActivePartitionID() != 1 {
		t.Fatalf("expected active partition 1, got %d", lb.ActivePartitionID())
	}
	if got := lb.Partition(1).Status(); got != logbuffer.StatusActive {
		t.Fatalf("next partition must be active, got %s", got)
	}
	if got := lb.Partition(2).Status(); got != logbuffer.StatusNeedsCleaning {
		t.Fatalf("partition two ahead must need cleaning, got %s", got)
	}
	if lb.OnActivePartitionFilled(0) {
		t.Fatalf("a stale id must not advance the partition again")
	}
	if lb.ActivePartitionID() != 1 {
		t.Fatalf("stale call moved active partition to %d", lb.ActivePartitionID())
	}
}

func TestLogBuffer_CleanPartitions(t *testing.T) {
	lb := newLogBuffer(t, 3, testPartitionSize, 0)
	p := lb.Partition(2)
	logbuffer.Appender{}.AppendFrame(p, []byte("stale"), 1)

	if got := lb.CleanPartitions(0); got != 0 {
		t.Fatalf("nothing flagged, cleaned %d", got)
	}

	p.MarkNeedsCleaning()
	if got := lb.CleanPartitions(0); got != 1 {
		t.Fatalf("expected one partition cleaned, got %d", got)
	}
	if p.Tail() != 0 || p.Status() != logbuffer.StatusClean {
		t.Fatalf("expected reset partition, tail=%d status=%s", p.Tail(), p.Status())
	}
	for i, b := range p.Data() {
		if b != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
	}
}

func TestLogBuffer_CleanPartitionsKeepsReaderPartition(t *testing.T) {
	lb := newLogBuffer(t, 3, testPartitionSize, 0)
	reading := lb.Partition(0)
	logbuffer.Appender{}.AppendFrame(reading, []byte("unread"), 1)

	// logical partition 3 shares its memory with partition 0
	lb.Partition(3).MarkNeedsCleaning()
	if got := lb.CleanPartitions(0); got != 0 {
		t.Fatalf("partition of the reader must be kept, cleaned %d", got)
	}
	if reading.Status() != logbuffer.StatusNeedsCleaning || logbuffer.LoadLength(reading.Data(), 0) <= 0 {
		t.Fatalf("unread frame lost, status=%s", reading.Status())
	}

	// the reader moved on to partition 1
	if got := lb.CleanPartitions(1); got != 1 {
		t.Fatalf("expected the released partition cleaned, got %d", got)
	}
	if reading.Tail() != 0 || reading.Status() != logbuffer.StatusClean {
		t.Fatalf("expected reset partition, tail=%d status=%s", reading.Tail(), reading.Status())
	}
}

func TestLogBuffer_CloseOnce(t *testing.T) {
	raw := alloc.Heap(3 * testPartitionSize)
	lb, err := logbuffer.New(raw, 3, testPartitionSize, 0, 64)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := lb.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := lb.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !lb.IsClosed() || raw.Bytes() != nil {
		t.Fatalf("expected released buffer")
	}
}

func TestPartition_TailClamped(t *testing.T) {
	p := newPartition(t)
	p.Reserve(testPartitionSize + 100)
	if p.Tail() != testPartitionSize {
		t.Fatalf("expected tail clamped to %d, got %d", testPartitionSize, p.Tail())
	}
}
