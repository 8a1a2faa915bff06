package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/downfa11-org/go-dispatcher/pkg/alloc"
	"github.com/downfa11-org/go-dispatcher/util"
	"gopkg.in/yaml.v3"
)

// DispatcherConfig describes one log buffer and its publisher settings.
type DispatcherConfig struct {
	Name               string   `yaml:"name" json:"name"`
	BufferSize         ByteSize `yaml:"buffer_size" json:"buffer.size"`
	PartitionCount     int      `yaml:"partition_count" json:"partition.count"`
	InitialPartitionID int      `yaml:"initial_partition_id" json:"initial.partition.id"`
	LogWindowLength    ByteSize `yaml:"log_window_length" json:"log.window.length"`
	MaxFrameLength     ByteSize `yaml:"max_frame_length" json:"max.frame.length"`
	Mode               string   `yaml:"mode" json:"mode"`

	// Conductor
	ConductorIntervalMS int `yaml:"conductor_interval_ms" json:"conductor.interval.ms"`

	// Backing memory
	Allocation     string `yaml:"allocation" json:"allocation"`
	MappedFilePath string `yaml:"mapped_file_path" json:"mapped.file.path"`

	// Subscriptions
	MaxSubscriptions int      `yaml:"max_subscriptions" json:"max.subscriptions"`
	Subscriptions    []string `yaml:"subscriptions" json:"subscriptions"`
}

// BenchConfig drives the in-process throughput benchmark.
type BenchConfig struct {
	Producers     int      `yaml:"producers" json:"producers"`
	Subscriptions int      `yaml:"subscriptions" json:"subscriptions"`
	Messages      int      `yaml:"messages" json:"messages"`
	MessageSize   ByteSize `yaml:"message_size" json:"message.size"`
	WriteMode     string   `yaml:"write_mode" json:"write.mode"`
	ReadMode      string   `yaml:"read_mode" json:"read.mode"`
	BatchSize     int      `yaml:"batch_size" json:"batch.size"`
	FragmentLimit int      `yaml:"fragment_limit" json:"fragment.limit"`
	BlockSize     ByteSize `yaml:"block_size" json:"block.size"`
	Compression   string   `yaml:"compression" json:"compression"`
	TimeoutMS     int      `yaml:"timeout_ms" json:"timeout.ms"`
}

// Config is the process wide configuration.
type Config struct {
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`
	EnableExporter bool          `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter.port"`

	// Dispatcher holds the defaults every named dispatcher starts from.
	Dispatcher  DispatcherConfig   `yaml:"dispatcher" json:"dispatcher"`
	Dispatchers []DispatcherConfig `yaml:"dispatchers" json:"dispatchers"`

	Bench BenchConfig `yaml:"bench" json:"bench"`
}

// LoadConfig reads path (YAML, or JSON for *.json), applies environment
// overrides and normalizes the result. An empty path falls back to
// CONFIG_PATH and then to pure defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{LogLevel: util.LogLevelInfo}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if strings.HasSuffix(path, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)
	return cfg, nil
}

// DispatcherConfig returns the settings for the named dispatcher: the
// matching entry of Dispatchers, or the defaults renamed.
func (cfg *Config) DispatcherConfig(name string) DispatcherConfig {
	for _, d := range cfg.Dispatchers {
		if d.Name == name {
			return d
		}
	}
	d := cfg.Dispatcher
	d.Subscriptions = append([]string(nil), cfg.Dispatcher.Subscriptions...)
	d.Name = name
	if d.Allocation == string(alloc.KindFile) {
		d.MappedFilePath = defaultMappedFilePath(name)
	}
	return d
}

// PartitionSize is the per partition share of the buffer, frame aligned.
func (d *DispatcherConfig) PartitionSize() int {
	if d.PartitionCount <= 0 {
		return 0
	}
	return (int(d.BufferSize) / d.PartitionCount) &^ 7
}
