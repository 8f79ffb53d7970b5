package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"GoKmerSpectra/internal/model"
)

const (
	BackendHost = "host"
	BackendNone = "none"

	OvercommitClamp  = "clamp"
	OvercommitStrict = "strict"
)

// EngineConfig holds the settings of the counting stage itself.
type EngineConfig struct {
	NumDevices      int     `yaml:"num_devices"`
	ThresholdMin    uint32  `yaml:"threshold_min"`
	ScratchPath     string  `yaml:"scratch_path"`
	QueueSize       int     `yaml:"queue_size"`
	OutputQueueSize int     `yaml:"output_queue_size"`
	ResultBatchSize int     `yaml:"result_batch_size"`
	Confidence      float64 `yaml:"confidence"`
}

// DeviceConfig describes the counting devices offered by the backend.
type DeviceConfig struct {
	Backend     string `yaml:"backend"`
	Available   int    `yaml:"available"`
	MaxCapacity uint64 `yaml:"max_capacity"`
	MinCapacity uint64 `yaml:"min_capacity"`
	Overcommit  string `yaml:"overcommit"`
}

// NegotiatorConfig tunes how file k-mers are split between devices.
type NegotiatorConfig struct {
	Smoothing float64 `yaml:"smoothing"`
	MinRatio  float64 `yaml:"min_ratio"`
	CacheSize int     `yaml:"cache_size"`
}

type KMerConfig struct {
	K int `yaml:"k"`
}

type EstimatesConfig struct {
	Path string `yaml:"path"`
}

// IngestConfig holds the NATS settings for incoming k-mer batches.
type IngestConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type TextWriterConfig struct {
	RootPath string `yaml:"root_path"`
}

type GobWriterConfig struct {
	RootPath string `yaml:"root_path"`
}

type NATSWriterConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type AMQPWriterConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// WriterDef defines a single result writer from the config file.
type WriterDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	Text       TextWriterConfig `yaml:"text"`
	Gob        GobWriterConfig  `yaml:"gob"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSWriterConfig `yaml:"nats"`
	AMQP       AMQPWriterConfig `yaml:"amqp"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	GRPCAddr   string `yaml:"grpc_addr"`
}

type LogConfig struct {
	Level int `yaml:"level"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Device     DeviceConfig     `yaml:"device"`
	Negotiator NegotiatorConfig `yaml:"negotiator"`
	KMer       KMerConfig       `yaml:"kmer"`
	Estimates  EstimatesConfig  `yaml:"estimates"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Writers    []WriterDef      `yaml:"writers"`
	API        APIConfig        `yaml:"api"`
	Log        LogConfig        `yaml:"log"`
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.NumDevices == 0 {
		c.Engine.NumDevices = 1
	}
	if c.Engine.ScratchPath == "" {
		c.Engine.ScratchPath = os.TempDir()
	}
	if c.Engine.QueueSize == 0 {
		c.Engine.QueueSize = 64
	}
	if c.Engine.OutputQueueSize == 0 {
		c.Engine.OutputQueueSize = 256
	}
	if c.Engine.Confidence == 0 {
		c.Engine.Confidence = 0.9
	}
	if c.Device.Backend == "" {
		c.Device.Backend = BackendHost
	}
	if c.Device.Available == 0 {
		c.Device.Available = c.Engine.NumDevices
	}
	if c.Device.MaxCapacity == 0 {
		c.Device.MaxCapacity = 1 << 24
	}
	if c.Device.MinCapacity == 0 {
		c.Device.MinCapacity = 1024
	}
	if c.Device.Overcommit == "" {
		c.Device.Overcommit = OvercommitClamp
	}
	if c.Negotiator.Smoothing == 0 {
		c.Negotiator.Smoothing = 0.5
	}
	if c.Negotiator.MinRatio == 0 {
		c.Negotiator.MinRatio = 0.01
	}
	if c.Negotiator.CacheSize == 0 {
		c.Negotiator.CacheSize = 1024
	}
	if c.KMer.K == 0 {
		c.KMer.K = 31
	}
	if c.Ingest.SubjectPrefix == "" {
		c.Ingest.SubjectPrefix = "kmc.batches"
	}
}

// Validate reports settings that can never work. Every error wraps
// model.ErrConfiguration.
func (c *Config) Validate() error {
	switch {
	case c.Engine.NumDevices < 1:
		return fmt.Errorf("%w: num_devices must be positive, got %d", model.ErrConfiguration, c.Engine.NumDevices)
	case c.Engine.Confidence <= 0 || c.Engine.Confidence > 1:
		return fmt.Errorf("%w: confidence must be in (0,1], got %g", model.ErrConfiguration, c.Engine.Confidence)
	case c.Engine.ResultBatchSize < 0:
		return fmt.Errorf("%w: result_batch_size must not be negative", model.ErrConfiguration)
	case c.Device.Backend != BackendHost && c.Device.Backend != BackendNone:
		return fmt.Errorf("%w: unknown device backend %q", model.ErrConfiguration, c.Device.Backend)
	case c.Device.MinCapacity > c.Device.MaxCapacity:
		return fmt.Errorf("%w: min_capacity %d exceeds max_capacity %d", model.ErrConfiguration, c.Device.MinCapacity, c.Device.MaxCapacity)
	case c.Device.Overcommit != OvercommitClamp && c.Device.Overcommit != OvercommitStrict:
		return fmt.Errorf("%w: unknown overcommit policy %q", model.ErrConfiguration, c.Device.Overcommit)
	case c.Negotiator.Smoothing <= 0 || c.Negotiator.Smoothing > 1:
		return fmt.Errorf("%w: smoothing must be in (0,1], got %g", model.ErrConfiguration, c.Negotiator.Smoothing)
	case c.Negotiator.MinRatio <= 0 || c.Negotiator.MinRatio > 1:
		return fmt.Errorf("%w: min_ratio must be in (0,1], got %g", model.ErrConfiguration, c.Negotiator.MinRatio)
	case c.KMer.K < 1 || c.KMer.K > model.MaxK:
		return fmt.Errorf("%w: k must be in [1,%d], got %d", model.ErrConfiguration, model.MaxK, c.KMer.K)
	case c.Ingest.Enabled && c.Ingest.NATSURL == "":
		return fmt.Errorf("%w: ingest is enabled but nats_url is empty", model.ErrConfiguration)
	}
	return nil
}
