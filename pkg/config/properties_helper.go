package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/downfa11-org/go-dispatcher/pkg/alloc"
	"github.com/downfa11-org/go-dispatcher/pkg/logbuffer"
	"github.com/downfa11-org/go-dispatcher/util"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBufferSize       = 16 << 20
	MinPartitionSize        = 4 << 10
	DefaultPartitionCount   = 3
	DefaultConductorMS      = 10
	DefaultMaxSubscriptions = 16
	DefaultExporterPort     = 9100

	ModePubSub   = "pubsub"
	ModePipeline = "pipeline"
)

// ByteSize is a byte count that also accepts "64k" or "16MB" in files.
type ByteSize int

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var i int
	if err := value.Decode(&i); err == nil {
		*b = ByteSize(i)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("size must be an integer or a string such as 64k or 16MB")
	}
	n, err := util.ParseSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var i int
	if err := json.Unmarshal(data, &i); err == nil {
		*b = ByteSize(i)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("size must be an integer or a string such as 64k or 16MB")
	}
	n, err := util.ParseSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

func (cfg *Config) Normalize() {
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = DefaultExporterPort
	}

	cfg.Dispatcher.Normalize()
	for i := range cfg.Dispatchers {
		d := &cfg.Dispatchers[i]
		if strings.TrimSpace(d.Name) == "" {
			d.Name = fmt.Sprintf("dispatcher-%d", i)
		}
		d.Normalize()
	}

	cfg.Bench.Normalize()
}

func (d *DispatcherConfig) Normalize() {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		d.Name = "default"
	}
	if d.PartitionCount < DefaultPartitionCount {
		d.PartitionCount = DefaultPartitionCount
	}
	if d.BufferSize <= 0 {
		d.BufferSize = DefaultBufferSize
	}
	if d.PartitionSize() < MinPartitionSize {
		util.Warn("buffer_size %d too small for %d partitions, raising to %d", d.BufferSize, d.PartitionCount, MinPartitionSize*d.PartitionCount)
		d.BufferSize = ByteSize(MinPartitionSize * d.PartitionCount)
	}
	if d.InitialPartitionID < 0 {
		d.InitialPartitionID = 0
	}

	partitionSize := d.PartitionSize()
	if d.LogWindowLength < 3*logbuffer.FrameAlignment || int(d.LogWindowLength) > partitionSize/2 {
		d.LogWindowLength = ByteSize(partitionSize / 4)
	}
	d.LogWindowLength &^= logbuffer.FrameAlignment - 1
	if d.MaxFrameLength <= 0 {
		d.MaxFrameLength = ByteSize(partitionSize / 16)
	}
	// a framed message must fit into one window
	if maxFrame := d.LogWindowLength - logbuffer.HeaderLength; d.MaxFrameLength > maxFrame {
		d.MaxFrameLength = maxFrame
	}

	d.Mode = strings.ToLower(strings.TrimSpace(d.Mode))
	switch d.Mode {
	case ModePubSub, ModePipeline:
	case "", "pub_sub", "pub-sub":
		d.Mode = ModePubSub
	default:
		util.Warn("Invalid mode '%s', defaulting to '%s'", d.Mode, ModePubSub)
		d.Mode = ModePubSub
	}

	if d.ConductorIntervalMS <= 0 {
		d.ConductorIntervalMS = DefaultConductorMS
	}

	kind, err := alloc.ParseKind(d.Allocation)
	if err != nil {
		util.Warn("Invalid allocation '%s', defaulting to '%s'", d.Allocation, alloc.KindHeap)
		kind = alloc.KindHeap
	}
	d.Allocation = string(kind)
	if kind == alloc.KindFile && strings.TrimSpace(d.MappedFilePath) == "" {
		d.MappedFilePath = defaultMappedFilePath(d.Name)
	}

	if d.MaxSubscriptions <= 0 {
		d.MaxSubscriptions = DefaultMaxSubscriptions
	}
	if len(d.Subscriptions) > d.MaxSubscriptions {
		d.MaxSubscriptions = len(d.Subscriptions)
	}
}

func (b *BenchConfig) Normalize() {
	if b.Producers <= 0 {
		b.Producers = 1
	}
	if b.Subscriptions <= 0 {
		b.Subscriptions = 1
	}
	if b.Messages <= 0 {
		b.Messages = 100000
	}
	if b.MessageSize <= 0 {
		b.MessageSize = 128
	}
	b.WriteMode = strings.ToLower(strings.TrimSpace(b.WriteMode))
	switch b.WriteMode {
	case "offer", "claim", "batch":
	default:
		b.WriteMode = "offer"
	}
	b.ReadMode = strings.ToLower(strings.TrimSpace(b.ReadMode))
	switch b.ReadMode {
	case "poll", "peek", "block":
	default:
		b.ReadMode = "poll"
	}
	if b.BatchSize <= 0 {
		b.BatchSize = 8
	}
	if b.FragmentLimit <= 0 {
		b.FragmentLimit = 64
	}
	if b.BlockSize <= 0 {
		b.BlockSize = 64 << 10
	}
	if !util.ValidCodec(b.Compression) {
		util.Warn("Invalid compression '%s', defaulting to 'none'", b.Compression)
		b.Compression = "none"
	}
	if b.Compression == "" {
		b.Compression = "none"
	}
	if b.TimeoutMS <= 0 {
		b.TimeoutMS = 60000
	}
}

func defaultMappedFilePath(name string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("dispatcher-%s-%s.buf", name, uuid.NewString()))
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DISPATCHER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = util.ParseLogLevel(v)
	}
	overrideEnvBool(&cfg.EnableExporter, "DISPATCHER_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "DISPATCHER_EXPORTER_PORT")
	overrideEnvSize(&cfg.Dispatcher.BufferSize, "DISPATCHER_BUFFER_SIZE")
	overrideEnvInt(&cfg.Dispatcher.PartitionCount, "DISPATCHER_PARTITION_COUNT")
	overrideEnvString(&cfg.Dispatcher.Mode, "DISPATCHER_MODE")
	overrideEnvString(&cfg.Dispatcher.Allocation, "DISPATCHER_ALLOCATION")
	overrideEnvString(&cfg.Dispatcher.MappedFilePath, "DISPATCHER_MAPPED_FILE")
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvSize(target *ByteSize, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := util.ParseSize(v); err == nil {
			*target = ByteSize(n)
		}
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}
