package inspect

import (
	"fmt"
	"io"

	"github.com/downfa11-org/go-dispatcher/pkg/alloc"
	"github.com/downfa11-org/go-dispatcher/pkg/logbuffer"
	"golang.org/x/exp/mmap"
)

// PartitionReport summarises the frames found in one partition.
type PartitionReport struct {
	Index       int
	Messages    int
	Paddings    int
	Reserved    int
	Failed      int
	BatchBegins int
	BatchEnds   int
	PayloadSize int
	BytesUsed   int
	// Corrupt is set when a frame length points past the partition end.
	Corrupt bool
}

type Report struct {
	PartitionSize  int
	PartitionCount int
	Partitions     []PartitionReport
}

// Totals sums the per partition counters.
func (r *Report) Totals() PartitionReport {
	total := PartitionReport{Index: -1}
	for _, p := range r.Partitions {
		total.Messages += p.Messages
		total.Paddings += p.Paddings
		total.Reserved += p.Reserved
		total.Failed += p.Failed
		total.BatchBegins += p.BatchBegins
		total.BatchEnds += p.BatchEnds
		total.PayloadSize += p.PayloadSize
		total.BytesUsed += p.BytesUsed
		total.Corrupt = total.Corrupt || p.Corrupt
	}
	return total
}

// Inspect walks every partition of a log buffer image frame by frame,
// stopping at the first unwritten frame.
func Inspect(r io.ReaderAt, partitionSize, partitionCount int) (*Report, error) {
	if partitionSize < 2*logbuffer.HeaderLength || partitionSize%logbuffer.FrameAlignment != 0 {
		return nil, fmt.Errorf("%w: partition size %d", logbuffer.ErrInvalidLayout, partitionSize)
	}
	if partitionCount <= 0 {
		return nil, fmt.Errorf("%w: partition count %d", logbuffer.ErrInvalidLayout, partitionCount)
	}

	// frame words are read atomically and need an aligned copy
	scratch := alloc.Heap(partitionSize)
	defer scratch.Close()
	buf := scratch.Bytes()

	report := &Report{PartitionSize: partitionSize, PartitionCount: partitionCount}
	for i := range partitionCount {
		if _, err := r.ReadAt(buf, int64(i)*int64(partitionSize)); err != nil && err != io.EOF {
			return nil, fmt.Errorf("read partition %d: %w", i, err)
		}
		report.Partitions = append(report.Partitions, scanPartition(i, buf))
	}
	return report, nil
}

func scanPartition(index int, buf []byte) PartitionReport {
	p := PartitionReport{Index: index}
	size := len(buf)

	offset := 0
	for offset+logbuffer.HeaderLength <= size {
		length := int(logbuffer.LoadLength(buf, offset))
		if length == 0 {
			break
		}
		reserved := length < 0
		if reserved {
			length = -length
		}
		aligned := logbuffer.AlignedLength(length)
		if length < logbuffer.HeaderLength || offset+aligned > size {
			p.Corrupt = true
			break
		}

		switch {
		case reserved:
			p.Reserved++
		case logbuffer.FrameTypeAt(buf, offset) == logbuffer.TypePadding:
			p.Paddings++
		default:
			p.Messages++
			p.PayloadSize += logbuffer.MessageLength(length)
			flags := logbuffer.FlagsAt(buf, offset)
			if logbuffer.IsFailed(flags) {
				p.Failed++
			}
			if logbuffer.IsBatchBegin(flags) {
				p.BatchBegins++
			}
			if logbuffer.IsBatchEnd(flags) {
				p.BatchEnds++
			}
		}
		offset += aligned
	}
	p.BytesUsed = offset
	return p
}

// InspectFile maps a mapped-file log buffer read only and inspects it.
func InspectFile(path string, partitionCount int) (*Report, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap open failed: %w", err)
	}
	defer r.Close()

	if partitionCount <= 0 {
		return nil, fmt.Errorf("%w: partition count %d", logbuffer.ErrInvalidLayout, partitionCount)
	}
	if r.Len()%partitionCount != 0 {
		return nil, fmt.Errorf("%w: file of %d bytes is not %d equal partitions", logbuffer.ErrInvalidLayout, r.Len(), partitionCount)
	}
	return Inspect(r, r.Len()/partitionCount, partitionCount)
}

// Render prints report as a table.
func Render(w io.Writer, report *Report) {
	fmt.Fprintf(w, "\n🔎 LOG BUFFER [%d partitions x %d bytes]\n", report.PartitionCount, report.PartitionSize)
	fmt.Fprintf(w, "-------------------------------------------------------------------------------\n")
	fmt.Fprintf(w, " %-9s %8s %8s %8s %8s %8s %8s %10s %8s\n",
		"partition", "messages", "padding", "reserved", "failed", "batch+", "batch-", "payload", "used%")
	for _, p := range report.Partitions {
		renderRow(w, fmt.Sprintf("%d", p.Index), p, report.PartitionSize)
	}
	fmt.Fprintf(w, "-------------------------------------------------------------------------------\n")
	renderRow(w, "total", report.Totals(), report.PartitionSize*report.PartitionCount)
}

func renderRow(w io.Writer, label string, p PartitionReport, capacity int) {
	used := 0.0
	if capacity > 0 {
		used = float64(p.BytesUsed) * 100 / float64(capacity)
	}
	corrupt := ""
	if p.Corrupt {
		corrupt = " ⚠️ corrupt frame"
	}
	fmt.Fprintf(w, " %-9s %8d %8d %8d %8d %8d %8d %10d %7.1f%%%s\n",
		label, p.Messages, p.Paddings, p.Reserved, p.Failed, p.BatchBegins, p.BatchEnds, p.PayloadSize, used, corrupt)
}
