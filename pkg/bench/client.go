package bench

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/go-dispatcher/pkg/config"
	"github.com/downfa11-org/go-dispatcher/pkg/dispatcher"
	"github.com/downfa11-org/go-dispatcher/pkg/logbuffer"
	"github.com/downfa11-org/go-dispatcher/pkg/metrics"
	"github.com/downfa11-org/go-dispatcher/util"
)

// messageHeaderSize covers the sequence number and the send timestamp.
const messageHeaderSize = 16

// encodeMessage builds a bench payload: sequence, send time in unix nanos,
// then filler bytes derived from the sequence so readers can detect torn
// frames.
func encodeMessage(seq uint64, size int, compression string) ([]byte, error) {
	size = max(size, messageHeaderSize)
	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf, seq)
	binary.LittleEndian.PutUint64(buf[8:], uint64(time.Now().UnixNano()))
	for i := messageHeaderSize; i < size; i++ {
		buf[i] = byte(seq)
	}
	return util.CompressPayload(buf, compression)
}

func decodeMessage(data []byte, compression string) (seq uint64, sentAt time.Time, ok bool, err error) {
	raw, err := util.DecompressPayload(data, compression)
	if err != nil {
		return 0, time.Time{}, false, err
	}
	if len(raw) < messageHeaderSize {
		return 0, time.Time{}, false, nil
	}
	seq = binary.LittleEndian.Uint64(raw)
	sentAt = time.Unix(0, int64(binary.LittleEndian.Uint64(raw[8:])))
	for _, b := range raw[messageHeaderSize:] {
		if b != byte(seq) {
			return seq, sentAt, false, nil
		}
	}
	return seq, sentAt, true, nil
}

type benchProducer struct {
	d        *dispatcher.Dispatcher
	bench    config.BenchConfig
	streamID int32
	messages int
	retries  *atomic.Int64

	claim    logbuffer.ClaimedFragment
	batch    logbuffer.ClaimedBatch
	notifier *dispatcher.Notifier
}

func (p *benchProducer) run(ctx context.Context) error {
	p.notifier = dispatcher.NewNotifier()
	p.d.RegisterProducer(p.notifier)
	defer p.d.RemoveProducer(p.notifier)

	size := int(p.bench.MessageSize)
	for seq := 0; seq < p.messages; {
		count := 1
		if p.bench.WriteMode == "batch" {
			count = min(p.bench.BatchSize, p.messages-seq)
		}
		msgs := make([][]byte, count)
		for i := range msgs {
			msg, err := encodeMessage(uint64(seq+i), size, p.bench.Compression)
			if err != nil {
				return err
			}
			msgs[i] = msg
		}

		var write func() (int64, error)
		switch p.bench.WriteMode {
		case "claim":
			write = func() (int64, error) { return p.writeClaim(msgs[0]) }
		case "batch":
			write = func() (int64, error) { return p.writeBatch(msgs) }
		default:
			write = func() (int64, error) { return p.d.Offer(msgs[0], p.streamID) }
		}
		if err := p.publish(ctx, write); err != nil {
			return err
		}
		seq += count
	}
	return nil
}

// publish retries write until it lands, waiting for the publisher limit to
// move whenever the subscriptions are a full window behind.
func (p *benchProducer) publish(ctx context.Context, write func() (int64, error)) error {
	for {
		pos, err := write()
		if err != nil {
			return err
		}
		switch pos {
		case dispatcher.OfferRolled:
			continue
		case dispatcher.OfferRetry:
			p.retries.Add(1)
			if err := wait(ctx, p.notifier); err != nil {
				return err
			}
			continue
		}
		return nil
	}
}

func (p *benchProducer) writeClaim(msg []byte) (int64, error) {
	pos, err := p.d.Claim(&p.claim, len(msg), p.streamID)
	if err != nil || pos <= 0 {
		return pos, err
	}
	copy(p.claim.Payload(), msg)
	return pos, p.claim.Commit()
}

func (p *benchProducer) writeBatch(msgs [][]byte) (int64, error) {
	total := 0
	for _, m := range msgs {
		total += len(m)
	}
	pos, err := p.d.ClaimBatch(&p.batch, len(msgs), total)
	if err != nil || pos <= 0 {
		return pos, err
	}
	for _, m := range msgs {
		if _, err := p.batch.NextFragment(len(m), p.streamID); err != nil {
			if abortErr := p.batch.Abort(); abortErr != nil {
				util.Error("❌ Failed to abort batch: %v", abortErr)
			}
			return 0, fmt.Errorf("fill batch: %w", err)
		}
		copy(p.batch.Fragment(), m)
	}
	return pos, p.batch.Commit()
}

type benchConsumer struct {
	dispatcherName string
	sub            *dispatcher.Subscription
	bench          config.BenchConfig
	streamIndex    map[int32]int
	total          int
	blockSize      int

	block      dispatcher.BlockPeek
	next       []uint64
	received   int
	outOfOrder int64
	corrupt    int64
}

func newBenchConsumer(dispatcherName string, sub *dispatcher.Subscription, bench config.BenchConfig, streamIndex map[int32]int, total, blockSize int) *benchConsumer {
	return &benchConsumer{
		dispatcherName: dispatcherName,
		sub:            sub,
		bench:          bench,
		streamIndex:    streamIndex,
		total:          total,
		blockSize:      blockSize,
		next:           make([]uint64, len(streamIndex)),
	}
}

func (c *benchConsumer) run(ctx context.Context) {
	notifier := dispatcher.NewNotifier()
	c.sub.RegisterConsumer(notifier)
	defer c.sub.RemoveConsumer(notifier)

	for c.received < c.total {
		if c.read() > 0 {
			continue
		}
		if err := wait(ctx, notifier); err != nil {
			util.Warn("⚠️ Subscription %s stopped after %d/%d messages: %v", c.sub.Name(), c.received, c.total, err)
			return
		}
	}
	util.Debug("%s finished reading %d/%d messages.", c.sub, c.received, c.total)
}

func (c *benchConsumer) read() int {
	switch c.bench.ReadMode {
	case "peek":
		return c.sub.PeekAndConsume(c, c.bench.FragmentLimit)
	case "block":
		if c.sub.PeekBlock(&c.block, c.blockSize, false) == 0 {
			return 0
		}
		c.block.ForEach(func(payload []byte, streamID int32) bool {
			c.onMessage(payload, streamID)
			return true
		})
		n := c.block.FragmentCount()
		if err := c.block.MarkCompleted(); err != nil {
			util.Error("❌ Failed to complete block: %v", err)
		}
		return n
	default:
		return c.sub.Poll(c, c.bench.FragmentLimit)
	}
}

func (c *benchConsumer) OnFragment(buf []byte, offset, length int, streamID int32, _ bool) dispatcher.FragmentResult {
	c.onMessage(buf[offset:offset+length], streamID)
	return dispatcher.ConsumeFragment
}

func (c *benchConsumer) onMessage(payload []byte, streamID int32) {
	c.received++

	seq, sentAt, ok, err := decodeMessage(payload, c.bench.Compression)
	if err != nil || !ok {
		c.corrupt++
		return
	}
	metrics.PushDelivery(c.dispatcherName, time.Since(sentAt).Seconds())

	idx, known := c.streamIndex[streamID]
	if !known {
		c.corrupt++
		return
	}
	if seq != c.next[idx] {
		c.outOfOrder++
	}
	c.next[idx] = seq + 1
}

func wait(ctx context.Context, n *dispatcher.Notifier) error {
	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-n.C():
	case <-timer.C:
	}
	return nil
}
