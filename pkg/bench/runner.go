package bench

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/go-dispatcher/pkg/config"
	"github.com/downfa11-org/go-dispatcher/pkg/dispatcher"
	"github.com/downfa11-org/go-dispatcher/pkg/logbuffer"
	"github.com/downfa11-org/go-dispatcher/util"
	"github.com/google/uuid"
)

// idleWait bounds how long a client sleeps when it has no signal to wait for.
const idleWait = time.Millisecond

type BenchmarkRunner struct {
	Dispatcher config.DispatcherConfig
	Bench      config.BenchConfig
	RunID      string
	// Registry, when set, owns the bench dispatcher for the length of a run.
	Registry   *dispatcher.Registry
}

type Result struct {
	RunID         string
	Mode          dispatcher.Mode
	WriteMode     string
	ReadMode      string
	Compression   string
	Producers     int
	Subscriptions int
	Messages      int
	MessageSize   int
	FrameSize     int
	Duration      time.Duration
	Throughput    float64
	Retries       int64
	Delivered     []int
	OutOfOrder    int64
	Corrupt       int64
}

func NewBenchmarkRunner(d config.DispatcherConfig, b config.BenchConfig) *BenchmarkRunner {
	d.Normalize()
	b.Normalize()
	runID := uuid.NewString()
	// the bench owns its subscriptions
	d.Subscriptions = nil
	d.Name = "bench-" + runID[:8]
	if d.MaxSubscriptions < b.Subscriptions {
		d.MaxSubscriptions = b.Subscriptions
	}
	return &BenchmarkRunner{Dispatcher: d, Bench: b, RunID: runID}
}

// NewRegistryRunner benches a dispatcher shaped like the one the registry
// hosts under name, opened through the registry.
func NewRegistryRunner(r *dispatcher.Registry, name string, b config.BenchConfig) *BenchmarkRunner {
	runner := NewBenchmarkRunner(r.Config(name), b)
	runner.Registry = r
	return runner
}

func (b *BenchmarkRunner) openDispatcher() (*dispatcher.Dispatcher, func(), error) {
	if b.Registry == nil {
		d, err := dispatcher.New(b.Dispatcher)
		if err != nil {
			return nil, nil, err
		}
		return d, func() { d.Close() }, nil
	}

	d, err := b.Registry.Create(b.Dispatcher)
	if err != nil {
		return nil, nil, err
	}
	return d, func() {
		if err := b.Registry.Close(b.Dispatcher.Name); err != nil {
			util.Warn("⚠️ Closing bench dispatcher %s: %v", b.Dispatcher.Name, err)
		}
	}, nil
}

// Run starts the producers and subscriptions and waits until every
// subscription received every message or the bench timeout expires.
func (b *BenchmarkRunner) Run(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(b.Bench.TimeoutMS)*time.Millisecond)
	defer cancel()

	d, release, err := b.openDispatcher()
	if err != nil {
		return nil, err
	}
	defer release()

	messagesPerProducer := b.Bench.Messages / b.Bench.Producers
	total := messagesPerProducer * b.Bench.Producers

	sample, err := encodeMessage(0, int(b.Bench.MessageSize), b.Bench.Compression)
	if err != nil {
		return nil, err
	}
	frameSize := len(sample)
	if frameSize > d.MaxFrameLength() {
		return nil, fmt.Errorf("%w: message of %d bytes, max frame length %d", dispatcher.ErrFrameTooLong, frameSize, d.MaxFrameLength())
	}
	blockSize := max(int(b.Bench.BlockSize), logbuffer.AlignedFramedLength(frameSize))
	if b.Bench.WriteMode == "batch" {
		reserved := logbuffer.Align(logbuffer.BatchReservation(b.Bench.BatchSize, b.Bench.BatchSize*frameSize), logbuffer.FrameAlignment)
		if reserved > logbuffer.AlignedFramedLength(d.MaxFrameLength()) {
			return nil, fmt.Errorf("%w: batch of %d messages needs %d bytes", dispatcher.ErrFrameTooLong, b.Bench.BatchSize, reserved)
		}
		blockSize = max(blockSize, reserved)
	}

	streams := make([]int32, b.Bench.Producers)
	streamIndex := make(map[int32]int, len(streams))
	for i := range streams {
		streams[i] = util.StreamID(fmt.Sprintf("%s-producer-%d", b.RunID, i))
		if _, dup := streamIndex[streams[i]]; dup {
			return nil, fmt.Errorf("stream id collision for producer %d", i)
		}
		streamIndex[streams[i]] = i
	}

	consumers := make([]*benchConsumer, b.Bench.Subscriptions)
	for i := range consumers {
		sub, err := d.OpenSubscription(fmt.Sprintf("bench-sub-%d", i))
		if err != nil {
			return nil, err
		}
		consumers[i] = newBenchConsumer(d.Name(), sub, b.Bench, streamIndex, total, blockSize)
	}

	util.Info("🧪 Bench %s: %d producer(s) [%s] x %d message(s), %d subscription(s) [%s], mode=%s",
		b.RunID, b.Bench.Producers, b.Bench.WriteMode, messagesPerProducer, b.Bench.Subscriptions, b.Bench.ReadMode, d.Mode())

	var retries atomic.Int64
	start := time.Now()

	var cWg sync.WaitGroup
	for _, c := range consumers {
		cWg.Add(1)
		go func() {
			defer cWg.Done()
			c.run(ctx)
		}()
	}

	var pWg sync.WaitGroup
	var mu sync.Mutex
	var producerErrors []error
	for i := range b.Bench.Producers {
		pWg.Add(1)
		go func() {
			defer pWg.Done()
			p := &benchProducer{
				d:        d,
				bench:    b.Bench,
				streamID: streams[i],
				messages: messagesPerProducer,
				retries:  &retries,
			}
			if err := p.run(ctx); err != nil {
				mu.Lock()
				producerErrors = append(producerErrors, fmt.Errorf("producer %d error: %w", i, err))
				mu.Unlock()
				cancel()
			}
		}()
	}
	pWg.Wait()
	cWg.Wait()
	duration := time.Since(start)

	if len(producerErrors) > 0 {
		util.Error("❌ Producer Phase Failed: %d/%d producers", len(producerErrors), b.Bench.Producers)
		return nil, producerErrors[0]
	}

	result := &Result{
		RunID:         b.RunID,
		Mode:          d.Mode(),
		WriteMode:     b.Bench.WriteMode,
		ReadMode:      b.Bench.ReadMode,
		Compression:   b.Bench.Compression,
		Producers:     b.Bench.Producers,
		Subscriptions: b.Bench.Subscriptions,
		Messages:      total,
		MessageSize:   int(b.Bench.MessageSize),
		FrameSize:     frameSize,
		Duration:      duration,
		Throughput:    float64(total) / duration.Seconds(),
		Retries:       retries.Load(),
	}
	for _, c := range consumers {
		result.Delivered = append(result.Delivered, c.received)
		result.OutOfOrder += c.outOfOrder
		result.Corrupt += c.corrupt
		if c.received < total {
			return result, fmt.Errorf("subscription %s received %d/%d messages: %w", c.sub.Name(), c.received, total, ctx.Err())
		}
	}
	return result, nil
}

func (r *Result) Print(w io.Writer) {
	fmt.Fprintf(w, "\n🧪 BENCHMARK RESULT [%s] 🧪\n", r.Mode)
	fmt.Fprintf(w, "-------------------------------------\n")
	fmt.Fprintf(w, " Run           : %s\n", r.RunID)
	fmt.Fprintf(w, " Write / Read  : %s / %s\n", r.WriteMode, r.ReadMode)
	fmt.Fprintf(w, " Compression   : %s\n", r.Compression)
	fmt.Fprintf(w, " Producers     : %d\n", r.Producers)
	fmt.Fprintf(w, " Subscriptions : %d\n", r.Subscriptions)
	fmt.Fprintf(w, " Total Messages: %d (%d bytes, %d framed)\n", r.Messages, r.MessageSize, r.FrameSize)
	fmt.Fprintf(w, " Delivered     : %v\n", r.Delivered)
	fmt.Fprintf(w, " Retries       : %d\n", r.Retries)
	fmt.Fprintf(w, " Out of order  : %d\n", r.OutOfOrder)
	fmt.Fprintf(w, " Corrupt       : %d\n", r.Corrupt)
	fmt.Fprintf(w, " Duration      : %v\n", r.Duration)
	fmt.Fprintf(w, " Throughput    : %.2f msg/sec\n", r.Throughput)
	fmt.Fprintf(w, "-------------------------------------\n")
}
