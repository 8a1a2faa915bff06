package inspect_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/downfa11-org/go-dispatcher/pkg/alloc"
	"github.com/downfa11-org/go-dispatcher/pkg/inspect"
	"github.com/downfa11-org/go-dispatcher/pkg/logbuffer"
)

const partitionSize = 4096

func writeLog(t *testing.T, raw *alloc.Buffer) {
	t.Helper()
	lb, err := logbuffer.New(raw, 3, partitionSize, 0, partitionSize/4)
	if err != nil {
		t.Fatalf("failed to create log buffer: %v", err)
	}

	var appender logbuffer.Appender
	p0 := lb.Partition(0)
	for range 3 {
		appender.AppendFrame(p0, []byte("0123456789"), 1)
	}
	logbuffer.SetFlags(p0.Data(), 0, logbuffer.FlagFailed)
	var claim logbuffer.ClaimedFragment
	appender.Claim(p0, &claim, 16, 1, nil)
	appender.AppendFrame(p0, []byte("after claim"), 1)

	p1 := lb.Partition(1)
	var batch logbuffer.ClaimedBatch
	appender.ClaimBatch(p1, 1, &batch, 2, 20, nil)
	for range 2 {
		if _, err := batch.NextFragment(10, 2); err != nil {
			t.Fatalf("next fragment: %v", err)
		}
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("commit batch: %v", err)
	}
}

func TestInspect_CountsFrames(t *testing.T) {
	raw := alloc.Heap(3 * partitionSize)
	writeLog(t, raw)

	report, err := inspect.Inspect(bytes.NewReader(raw.Bytes()), partitionSize, 3)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}

	p0 := report.Partitions[0]
	if p0.Messages != 4 || p0.Reserved != 1 || p0.Failed != 1 || p0.Corrupt {
		t.Fatalf("unexpected partition 0 report %+v", p0)
	}
	if want := 3*10 + 11; p0.PayloadSize != want {
		t.Fatalf("expected payload %d, got %d", want, p0.PayloadSize)
	}

	p1 := report.Partitions[1]
	if p1.Messages != 2 || p1.BatchBegins != 1 || p1.BatchEnds != 1 || p1.Paddings != 1 {
		t.Fatalf("unexpected partition 1 report %+v", p1)
	}
	if want := logbuffer.Align(logbuffer.BatchReservation(2, 20), logbuffer.FrameAlignment); p1.BytesUsed != want {
		t.Fatalf("expected %d bytes used, got %d", want, p1.BytesUsed)
	}

	if p2 := report.Partitions[2]; p2.BytesUsed != 0 || p2.Messages != 0 {
		t.Fatalf("expected empty partition 2, got %+v", p2)
	}
	if total := report.Totals(); total.Messages != 6 {
		t.Fatalf("expected 6 messages in total, got %d", total.Messages)
	}
}

func TestInspect_CorruptLength(t *testing.T) {
	raw := alloc.Heap(3 * partitionSize)
	logbuffer.StoreLength(raw.Bytes(), 0, partitionSize*2)

	report, err := inspect.Inspect(bytes.NewReader(raw.Bytes()), partitionSize, 3)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if !report.Partitions[0].Corrupt {
		t.Fatalf("expected corrupt partition")
	}
}

func TestInspect_InvalidLayout(t *testing.T) {
	if _, err := inspect.Inspect(bytes.NewReader(nil), 100, 3); !errors.Is(err, logbuffer.ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout, got %v", err)
	}
	if _, err := inspect.Inspect(bytes.NewReader(nil), partitionSize, 0); !errors.Is(err, logbuffer.ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout, got %v", err)
	}
}

func TestInspectFile_MappedBuffer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mapped files need mmap")
	}
	path := filepath.Join(t.TempDir(), "dispatcher.buf")
	raw, err := alloc.MappedFile(path, 3*partitionSize)
	if err != nil {
		t.Fatalf("MappedFile failed: %v", err)
	}
	defer raw.Close()
	writeLog(t, raw)

	// the shared mapping is visible to a second reader while live
	report, err := inspect.InspectFile(path, 3)
	if err != nil {
		t.Fatalf("InspectFile failed: %v", err)
	}
	if report.PartitionSize != partitionSize {
		t.Fatalf("expected partition size %d, got %d", partitionSize, report.PartitionSize)
	}
	if total := report.Totals(); total.Messages != 6 {
		t.Fatalf("expected 6 messages, got %d", total.Messages)
	}

	var out bytes.Buffer
	inspect.Render(&out, report)
	if !strings.Contains(out.String(), "total") || !strings.Contains(out.String(), "3 partitions") {
		t.Fatalf("unexpected render output:\n%s", out.String())
	}

	if _, err := inspect.InspectFile(path, 5); !errors.Is(err, logbuffer.ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout for a wrong partition count, got %v", err)
	}
}
