package dispatcher

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/go-dispatcher/pkg/alloc"
	"github.com/downfa11-org/go-dispatcher/pkg/config"
	"github.com/downfa11-org/go-dispatcher/pkg/logbuffer"
	"github.com/downfa11-org/go-dispatcher/pkg/metrics"
	"github.com/downfa11-org/go-dispatcher/util"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OfferRetry is returned when the write could not happen right now:
	// either the publisher limit was reached or the partition had no room
	// left for a padding frame. Retry after the subscriptions caught up.
	OfferRetry int64 = logbuffer.ResultEndOfPartition
	// OfferRolled is returned when the write closed the active partition
	// with a padding frame. Retry immediately.
	OfferRolled int64 = logbuffer.ResultPaddingAtEndOfPartition
)

type Mode string

const (
	ModePubSub   Mode = config.ModePubSub
	ModePipeline Mode = config.ModePipeline
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", config.ModePubSub, "pub_sub", "pub-sub":
		return ModePubSub, nil
	case config.ModePipeline:
		return ModePipeline, nil
	default:
		return "", fmt.Errorf("unknown dispatcher mode %q", s)
	}
}

// Dispatcher publishes frames into a partitioned log buffer and hands them
// to its subscriptions. Writers never block: when the slowest subscription
// falls a log window behind, writes are rejected with OfferRetry until the
// conductor raises the publisher limit again.
type Dispatcher struct {
	name string
	mode Mode

	logBuffer       *logbuffer.LogBuffer
	appender        logbuffer.Appender
	partitionSize   int
	logWindowLength int
	maxFrameLength  int

	publisherPosition *AtomicPosition
	publisherLimit    *AtomicPosition
	producers         conditions
	updatingLimit     atomic.Bool

	mu               sync.Mutex // subscription management
	subscriptions    atomic.Pointer[[]*Subscription]
	nextID           int
	maxSubscriptions int

	wakeCh    chan struct{}
	done      chan struct{}
	interval  time.Duration
	closed    atomic.Bool
	closeOnce sync.Once
	shutdown  sync.WaitGroup

	backpressure  prometheus.Counter
	rollovers     prometheus.Counter
	cleaned       prometheus.Counter
	positionGauge prometheus.Gauge
	limitGauge    prometheus.Gauge
}

// New allocates the log buffer described by cfg, opens the configured
// static subscriptions and starts the conductor.
func New(cfg config.DispatcherConfig) (*Dispatcher, error) {
	cfg.Normalize()

	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	kind, err := alloc.ParseKind(cfg.Allocation)
	if err != nil {
		return nil, err
	}

	partitionSize := cfg.PartitionSize()
	raw, err := alloc.Allocate(kind, partitionSize*cfg.PartitionCount, cfg.MappedFilePath)
	if err != nil {
		return nil, fmt.Errorf("allocate buffer for dispatcher %s: %w", cfg.Name, err)
	}
	lb, err := logbuffer.New(raw, cfg.PartitionCount, partitionSize, cfg.InitialPartitionID, int(cfg.MaxFrameLength))
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("create log buffer for dispatcher %s: %w", cfg.Name, err)
	}

	initial := logbuffer.Position(cfg.InitialPartitionID, 0)
	d := &Dispatcher{
		name:              cfg.Name,
		mode:              mode,
		logBuffer:         lb,
		partitionSize:     partitionSize,
		logWindowLength:   int(cfg.LogWindowLength),
		maxFrameLength:    int(cfg.MaxFrameLength),
		publisherPosition: NewAtomicPosition(initial),
		publisherLimit:    NewAtomicPosition(initial),
		maxSubscriptions:  cfg.MaxSubscriptions,
		wakeCh:            make(chan struct{}, 1),
		done:              make(chan struct{}),
		interval:          time.Duration(cfg.ConductorIntervalMS) * time.Millisecond,
		backpressure:      metrics.BackpressureTotal.WithLabelValues(cfg.Name),
		rollovers:         metrics.PartitionRollovers.WithLabelValues(cfg.Name),
		cleaned:           metrics.PartitionsCleaned.WithLabelValues(cfg.Name),
		positionGauge:     metrics.PublisherPosition.WithLabelValues(cfg.Name),
		limitGauge:        metrics.PublisherLimit.WithLabelValues(cfg.Name),
	}
	d.subscriptions.Store(&[]*Subscription{})
	d.positionGauge.Set(float64(initial))

	for _, name := range cfg.Subscriptions {
		if _, err := d.OpenSubscription(name); err != nil {
			d.Close()
			return nil, err
		}
	}
	d.UpdatePublisherLimit()

	d.shutdown.Add(1)
	go func() {
		defer d.shutdown.Done()
		d.conductorLoop()
	}()

	util.Info("🚀 Dispatcher %s started [mode=%s, partitions=%d x %d bytes, window=%d, allocation=%s]",
		d.name, d.mode, cfg.PartitionCount, partitionSize, d.logWindowLength, kind)
	if kind == alloc.KindFile {
		util.Info("Dispatcher %s buffer mapped at %s", d.name, cfg.MappedFilePath)
	}
	return d, nil
}

func (d *Dispatcher) Name() string                    { return d.name }
func (d *Dispatcher) Mode() Mode                      { return d.mode }
func (d *Dispatcher) LogBuffer() *logbuffer.LogBuffer { return d.logBuffer }
func (d *Dispatcher) MaxFrameLength() int             { return d.maxFrameLength }
func (d *Dispatcher) PublisherPosition() int64        { return d.publisherPosition.Get() }
func (d *Dispatcher) PublisherLimit() int64           { return d.publisherLimit.Get() }
func (d *Dispatcher) IsClosed() bool                  { return d.closed.Load() }

// Offer copies msg into a new frame. It returns the publisher position
// after the frame, OfferRetry or OfferRolled.
func (d *Dispatcher) Offer(msg []byte, streamID int32) (int64, error) {
	if err := d.checkLength(len(msg)); err != nil {
		return 0, err
	}
	partitionID, partition, ok := d.activePartition(logbuffer.AlignedFramedLength(len(msg)))
	if !ok {
		return OfferRetry, nil
	}

	newTail := d.appender.AppendFrame(partition, msg, streamID)
	position := d.onAppended(partitionID, newTail, len(msg))
	if position > 0 {
		d.signalSubscriptions()
	}
	return position, nil
}

// Claim reserves a frame of length payload bytes. The frame becomes visible
// to subscriptions once claim is committed.
func (d *Dispatcher) Claim(claim *logbuffer.ClaimedFragment, length int, streamID int32) (int64, error) {
	if err := d.checkLength(length); err != nil {
		return 0, err
	}
	partitionID, partition, ok := d.activePartition(logbuffer.AlignedFramedLength(length))
	if !ok {
		return OfferRetry, nil
	}

	newTail := d.appender.Claim(partition, claim, length, streamID, d.signalSubscriptions)
	return d.onAppended(partitionID, newTail, length), nil
}

// ClaimBatch reserves room for fragmentCount fragments carrying batchLength
// payload bytes in total. The fragments become visible together once batch
// is committed.
func (d *Dispatcher) ClaimBatch(batch *logbuffer.ClaimedBatch, fragmentCount, batchLength int) (int64, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}
	if fragmentCount <= 0 || batchLength < 0 {
		return 0, fmt.Errorf("%w: batch of %d fragments with %d bytes", ErrInvalidLength, fragmentCount, batchLength)
	}
	reserved := logbuffer.Align(logbuffer.BatchReservation(fragmentCount, batchLength), logbuffer.FrameAlignment)
	if reserved > logbuffer.AlignedFramedLength(d.maxFrameLength) {
		return 0, fmt.Errorf("%w: batch needs %d bytes, max frame length is %d", ErrFrameTooLong, reserved, d.maxFrameLength)
	}
	partitionID, partition, ok := d.activePartition(reserved)
	if !ok {
		return OfferRetry, nil
	}

	newTail := d.appender.ClaimBatch(partition, partitionID, batch, fragmentCount, batchLength, d.signalSubscriptions)
	return d.onAppended(partitionID, newTail, batchLength), nil
}

func (d *Dispatcher) checkLength(length int) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if length < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	if length > d.maxFrameLength {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLong, length, d.maxFrameLength)
	}
	return nil
}

// activePartition returns the partition to write to, or false when a frame
// of alignedLength bytes would end past the publisher limit.
func (d *Dispatcher) activePartition(alignedLength int) (int, *logbuffer.Partition, bool) {
	limit := d.publisherLimit.Get()
	partitionID := d.logBuffer.ActivePartitionID()
	partition := d.logBuffer.Partition(partitionID)
	if logbuffer.Position(partitionID, partition.Tail()+alignedLength) > limit {
		d.backpressure.Inc()
		return 0, nil, false
	}
	return partitionID, partition, true
}

func (d *Dispatcher) onAppended(partitionID, result, length int) int64 {
	switch {
	case result > 0:
		position := logbuffer.Position(partitionID, result)
		if d.publisherPosition.ProposeMax(position) {
			d.positionGauge.Set(float64(position))
		}
		metrics.PushOffer(d.name, length)
		return position
	case result == logbuffer.ResultPaddingAtEndOfPartition:
		if d.logBuffer.OnActivePartitionFilled(partitionID) {
			d.rollovers.Inc()
			util.Debug("Dispatcher %s rolled over to partition %d", d.name, partitionID+1)
		}
		// the padding frame is readable, let subscriptions move past it
		if d.publisherPosition.ProposeMax(logbuffer.Position(partitionID+1, 0)) {
			d.positionGauge.Set(float64(logbuffer.Position(partitionID+1, 0)))
		}
		d.signalSubscriptions()
		d.wakeConductor()
		return OfferRolled
	default:
		return OfferRetry
	}
}

func (d *Dispatcher) signalSubscriptions() {
	subs := *d.subscriptions.Load()
	if len(subs) == 0 {
		return
	}
	if d.mode == ModePipeline {
		subs[0].signalConsumers()
		return
	}
	for _, s := range subs {
		s.signalConsumers()
	}
}

// RegisterProducer adds a condition signalled whenever the publisher limit
// moves forward.
func (d *Dispatcher) RegisterProducer(cond Condition) {
	d.producers.register(cond)
}

func (d *Dispatcher) RemoveProducer(cond Condition) {
	d.producers.remove(cond)
}

// UpdatePublisherLimit recomputes how far writers may run ahead of the
// subscriptions and returns the current limit. Partitions flagged for
// cleaning are reset before a limit that reaches into them is published.
func (d *Dispatcher) UpdatePublisherLimit() int64 {
	if !d.updatingLimit.CompareAndSwap(false, true) {
		return d.publisherLimit.Get()
	}
	defer d.updatingLimit.Store(false)

	base := d.limitBase()
	if n := d.logBuffer.CleanPartitions(logbuffer.PartitionID(base)); n > 0 {
		d.cleaned.Add(float64(n))
		util.Debug("Dispatcher %s cleaned %d partition(s)", d.name, n)
	}

	partitionID := logbuffer.PartitionID(base)
	offset := logbuffer.PartitionOffset(base) + d.logWindowLength
	if offset >= d.partitionSize {
		partitionID++
		offset = d.logWindowLength
	}

	limit := logbuffer.Position(partitionID, offset)
	if d.publisherLimit.ProposeMax(limit) {
		d.limitGauge.Set(float64(limit))
		d.producers.signal()
	}
	return d.publisherLimit.Get()
}

func (d *Dispatcher) limitBase() int64 {
	subs := *d.subscriptions.Load()
	if len(subs) == 0 {
		return max(0, d.publisherPosition.Get())
	}
	if d.mode == ModePipeline {
		return subs[len(subs)-1].Position()
	}
	base := subs[0].Position()
	for _, s := range subs[1:] {
		base = min(base, s.Position())
	}
	return base
}

func (d *Dispatcher) wakeConductor() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) conductorLoop() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.wakeCh:
			d.UpdatePublisherLimit()
		case <-ticker.C:
			d.UpdatePublisherLimit()
		case <-d.done:
			return
		}
	}
}

// OpenSubscription adds a subscription. An empty name gets a generated one.
// In pub/sub mode the subscription starts at the publisher position; in
// pipeline mode it becomes the last stage and starts where the previous
// stage currently is.
func (d *Dispatcher) OpenSubscription(name string) (*Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return nil, ErrClosed
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "sub-" + uuid.NewString()
	}

	subs := *d.subscriptions.Load()
	for _, s := range subs {
		if s.name == name {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscription, name)
		}
	}
	if len(subs) >= d.maxSubscriptions {
		return nil, fmt.Errorf("%w: %d", ErrSubscriptionLimit, d.maxSubscriptions)
	}

	limit := d.publisherPosition
	if d.mode == ModePipeline && len(subs) > 0 {
		limit = subs[len(subs)-1].position
	}
	position := NewAtomicPosition(limit.Get())

	sub := newSubscription(d.nextID, name, d.name, d.logBuffer, position, limit, nil)
	sub.onConsumed = func() { d.onSubscriptionConsumed(sub) }
	d.nextID++

	next := append(append(make([]*Subscription, 0, len(subs)+1), subs...), sub)
	d.subscriptions.Store(&next)

	util.Info("✅ Opened %s on dispatcher %s at position %d", sub, d.name, position.Get())
	d.wakeConductor()
	return sub, nil
}

func (d *Dispatcher) onSubscriptionConsumed(sub *Subscription) {
	d.wakeConductor()
	if d.mode != ModePipeline {
		return
	}
	subs := *d.subscriptions.Load()
	for i, s := range subs {
		if s == sub && i+1 < len(subs) {
			subs[i+1].signalConsumers()
			return
		}
	}
}

// Subscription returns the open subscription with the given name or nil.
func (d *Dispatcher) Subscription(name string) *Subscription {
	for _, s := range *d.subscriptions.Load() {
		if s.name == name {
			return s
		}
	}
	return nil
}

// Subscriptions returns the open subscriptions in pipeline order.
func (d *Dispatcher) Subscriptions() []*Subscription {
	subs := *d.subscriptions.Load()
	return append([]*Subscription(nil), subs...)
}

// CloseSubscription removes sub. In pipeline mode the following stage is
// relinked to the stage before it.
func (d *Dispatcher) CloseSubscription(sub *Subscription) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := *d.subscriptions.Load()
	idx := -1
	for i, s := range subs {
		if s == sub {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, sub.name)
	}

	if d.mode == ModePipeline && idx+1 < len(subs) {
		limit := d.publisherPosition
		if idx > 0 {
			limit = subs[idx-1].position
		}
		subs[idx+1].limit.Store(limit)
		subs[idx+1].signalConsumers()
	}

	next := make([]*Subscription, 0, len(subs)-1)
	next = append(next, subs[:idx]...)
	next = append(next, subs[idx+1:]...)
	d.subscriptions.Store(&next)

	sub.close()
	metrics.ForgetSubscription(d.name, sub.name)
	util.Info("Closed %s on dispatcher %s", sub, d.name)
	d.wakeConductor()
	return nil
}

// Close stops the conductor, closes every subscription and releases the
// buffer. Readers and writers must be stopped before: partition memory may
// be unmapped.
func (d *Dispatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed.Store(true)
		subs := *d.subscriptions.Load()
		d.subscriptions.Store(&[]*Subscription{})
		d.mu.Unlock()

		close(d.done)
		d.shutdown.Wait()

		for _, s := range subs {
			s.close()
			metrics.ForgetSubscription(d.name, s.name)
		}
		if err = d.logBuffer.Close(); err != nil {
			util.Error("❌ Failed to release buffer of dispatcher %s: %v", d.name, err)
		}
		util.Info("Dispatcher %s closed", d.name)
	})
	return err
}

func (d *Dispatcher) String() string {
	return fmt.Sprintf("Dispatcher [name=%s, mode=%s, position=%d, limit=%d]",
		d.name, d.mode, d.publisherPosition.Get(), d.publisherLimit.Get())
}
