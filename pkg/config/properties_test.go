package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/downfa11-org/go-dispatcher/pkg/config"
	"github.com/downfa11-org/go-dispatcher/pkg/logbuffer"
	"github.com/downfa11-org/go-dispatcher/util"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Normalize()

	d := cfg.Dispatcher
	if d.Name != "default" {
		t.Errorf("Name default incorrect: %q", d.Name)
	}
	if d.PartitionCount != 3 {
		t.Errorf("PartitionCount default incorrect: %d", d.PartitionCount)
	}
	if d.BufferSize != config.DefaultBufferSize {
		t.Errorf("BufferSize default incorrect: %d", d.BufferSize)
	}
	ps := d.PartitionSize()
	if ps%8 != 0 || ps*3 > config.DefaultBufferSize {
		t.Errorf("PartitionSize incorrect: %d", ps)
	}
	if int(d.LogWindowLength) != ps/4 {
		t.Errorf("LogWindowLength default incorrect: %d", d.LogWindowLength)
	}
	if int(d.MaxFrameLength) != ps/16 {
		t.Errorf("MaxFrameLength default incorrect: %d", d.MaxFrameLength)
	}
	if d.Mode != config.ModePubSub || d.Allocation != "heap" {
		t.Errorf("Mode/Allocation default incorrect: %s/%s", d.Mode, d.Allocation)
	}
	if cfg.ExporterPort != config.DefaultExporterPort {
		t.Errorf("ExporterPort default incorrect: %d", cfg.ExporterPort)
	}
	if cfg.Bench.WriteMode != "offer" || cfg.Bench.ReadMode != "poll" || cfg.Bench.Compression != "none" {
		t.Errorf("Bench defaults incorrect: %+v", cfg.Bench)
	}
}

func TestNormalizeConstraints(t *testing.T) {
	d := config.DispatcherConfig{
		BufferSize:       1024,
		PartitionCount:   1,
		LogWindowLength:  1 << 30,
		MaxFrameLength:   1 << 30,
		Mode:             "Round-Robin",
		Allocation:       "tape",
		MaxSubscriptions: 1,
		Subscriptions:    []string{"a", "b"},
	}
	d.Normalize()

	if d.PartitionCount != 3 {
		t.Errorf("PartitionCount must be raised to 3, got %d", d.PartitionCount)
	}
	if d.PartitionSize() < config.MinPartitionSize {
		t.Errorf("PartitionSize must be raised, got %d", d.PartitionSize())
	}
	if int(d.LogWindowLength) != d.PartitionSize()/4 {
		t.Errorf("oversized window must reset, got %d", d.LogWindowLength)
	}
	if d.MaxFrameLength+logbuffer.HeaderLength > d.LogWindowLength {
		t.Errorf("framed MaxFrameLength %d exceeds window %d", d.MaxFrameLength, d.LogWindowLength)
	}
	if d.Mode != config.ModePubSub || d.Allocation != "heap" {
		t.Errorf("invalid mode/allocation not reset: %s/%s", d.Mode, d.Allocation)
	}
	if d.MaxSubscriptions != 2 {
		t.Errorf("MaxSubscriptions must cover static subscriptions, got %d", d.MaxSubscriptions)
	}
}

func TestNormalizeFrameFitsWindow(t *testing.T) {
	tests := []struct {
		window, maxFrame         config.ByteSize
		wantWindow, wantMaxFrame config.ByteSize
	}{
		{2048, 2048, 2048, 2036},
		{2045, 4000, 2040, 2028},
		{1024, 100, 1024, 100},
		{8, 100, 1024, 100},
	}

	for _, tt := range tests {
		d := config.DispatcherConfig{
			BufferSize:      3 * 4096,
			PartitionCount:  3,
			LogWindowLength: tt.window,
			MaxFrameLength:  tt.maxFrame,
		}
		d.Normalize()

		if d.LogWindowLength != tt.wantWindow || d.MaxFrameLength != tt.wantMaxFrame {
			t.Errorf("window %d / max frame %d: got %d / %d, want %d / %d",
				tt.window, tt.maxFrame, d.LogWindowLength, d.MaxFrameLength, tt.wantWindow, tt.wantMaxFrame)
		}
		if logbuffer.AlignedFramedLength(int(d.MaxFrameLength)) > int(d.LogWindowLength) {
			t.Errorf("a max frame of %d does not fit window %d", d.MaxFrameLength, d.LogWindowLength)
		}
	}
}

func TestNormalizeMappedFilePath(t *testing.T) {
	d := config.DispatcherConfig{Name: "send", Allocation: "mmap"}
	d.Normalize()

	if d.Allocation != "file" {
		t.Fatalf("expected file allocation, got %s", d.Allocation)
	}
	if !strings.Contains(filepath.Base(d.MappedFilePath), "dispatcher-send-") {
		t.Fatalf("unexpected default path %s", d.MappedFilePath)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatcher.yaml")
	body := `
log_level: warn
dispatcher:
  buffer_size: 3MB
  mode: pipeline
  subscriptions: [log-appender, stream-processor]
dispatchers:
  - name: receive
    buffer_size: 96k
bench:
  write_mode: batch
  compression: lz4
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	defer util.SetLevel(util.LogLevelInfo)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogLevel != util.LogLevelWarn || util.Level() != util.LogLevelWarn {
		t.Errorf("log level not applied: %v", cfg.LogLevel)
	}
	if cfg.Dispatcher.BufferSize != 3<<20 || cfg.Dispatcher.Mode != config.ModePipeline {
		t.Errorf("dispatcher defaults not read: %+v", cfg.Dispatcher)
	}
	if cfg.Bench.WriteMode != "batch" || cfg.Bench.Compression != "lz4" {
		t.Errorf("bench not read: %+v", cfg.Bench)
	}

	recv := cfg.DispatcherConfig("receive")
	if recv.BufferSize != 96<<10 || recv.Mode != config.ModePubSub {
		t.Errorf("named dispatcher not read: %+v", recv)
	}
	send := cfg.DispatcherConfig("send")
	if send.Name != "send" || send.Mode != config.ModePipeline || len(send.Subscriptions) != 2 {
		t.Errorf("defaults not applied to unnamed dispatcher: %+v", send)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatcher.json")
	body := `{"log_level":"debug","dispatcher":{"buffer.size":"12MB","partition.count":4}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	defer util.SetLevel(util.LogLevelInfo)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Dispatcher.BufferSize != 12<<20 || cfg.Dispatcher.PartitionCount != 4 {
		t.Errorf("json not read: %+v", cfg.Dispatcher)
	}
	if cfg.Dispatcher.PartitionSize() != (12<<20)/4 {
		t.Errorf("unexpected partition size %d", cfg.Dispatcher.PartitionSize())
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("DISPATCHER_PARTITION_COUNT", "5")
	t.Setenv("DISPATCHER_BUFFER_SIZE", "5MB")

	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Dispatcher.PartitionCount != 5 || cfg.Dispatcher.BufferSize != 5<<20 {
		t.Errorf("env overrides not applied: %+v", cfg.Dispatcher)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
