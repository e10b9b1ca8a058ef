// Package config loads and validates the sigstream daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "250ms" or "2s", or from bare integer nanoseconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: bad duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: bad duration value")
	}
	*d = Duration(n)
	return nil
}

type Config struct {
	Capture   CaptureConfig   `yaml:"capture"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Transport TransportConfig `yaml:"transport"`
	Store     StoreConfig     `yaml:"store"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

type CaptureConfig struct {
	// Dir holds session files; also the directory transfers resolve
	// against when no explicit file is named.
	Dir          string `yaml:"dir"`
	SampleRateHz uint32 `yaml:"sample_rate_hz"`
	// BatchSize samples are accumulated before the batch is handed to the
	// recorder.
	BatchSize int `yaml:"batch_size"`
	// QueueDepth bounds the batches queued between sink and recorder.
	// When full, the oldest unflushed batch is dropped.
	QueueDepth int `yaml:"queue_depth"`
	// HeaderFlushEvery rewrites the session header after this many batches.
	HeaderFlushEvery int `yaml:"header_flush_every"`
}

type TransferConfig struct {
	MaxFramePayload   int      `yaml:"max_frame_payload"`
	RetryCeiling      int      `yaml:"retry_ceiling"`
	BackoffBase       Duration `yaml:"backoff_base"`
	BackoffMax        Duration `yaml:"backoff_max"`
	CreditWait        Duration `yaml:"credit_wait"`
	CommandQueueDepth int      `yaml:"command_queue_depth"`
}

type TransportConfig struct {
	// Addr is the remote collector, host:port.
	Addr         string `yaml:"addr"`
	CreditWindow int    `yaml:"credit_window"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Capture.Dir == "" {
		c.Capture.Dir = "./data/sessions"
	}
	if c.Capture.SampleRateHz == 0 {
		c.Capture.SampleRateHz = 1000
	}
	if c.Capture.BatchSize == 0 {
		c.Capture.BatchSize = 64
	}
	if c.Capture.QueueDepth == 0 {
		c.Capture.QueueDepth = 16
	}
	if c.Capture.HeaderFlushEvery == 0 {
		c.Capture.HeaderFlushEvery = 8
	}
	if c.Transfer.MaxFramePayload == 0 {
		c.Transfer.MaxFramePayload = 4096
	}
	if c.Transfer.RetryCeiling == 0 {
		c.Transfer.RetryCeiling = 5
	}
	if c.Transfer.BackoffBase == 0 {
		c.Transfer.BackoffBase = Duration(100 * time.Millisecond)
	}
	if c.Transfer.BackoffMax == 0 {
		c.Transfer.BackoffMax = Duration(2 * time.Second)
	}
	if c.Transfer.CreditWait == 0 {
		c.Transfer.CreditWait = Duration(500 * time.Millisecond)
	}
	if c.Transfer.CommandQueueDepth == 0 {
		c.Transfer.CommandQueueDepth = 16
	}
	if c.Transport.CreditWindow == 0 {
		c.Transport.CreditWindow = 8
	}
	if c.Store.Path == "" {
		c.Store.Path = "./data/sigstream.db"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Transport.Addr == "" {
		return fmt.Errorf("transport.addr is required")
	}
	if c.Capture.BatchSize < 1 {
		return fmt.Errorf("capture.batch_size must be positive")
	}
	if c.Capture.QueueDepth < 1 {
		return fmt.Errorf("capture.queue_depth must be positive")
	}
	if c.Transfer.MaxFramePayload < 1 {
		return fmt.Errorf("transfer.max_frame_payload must be positive")
	}
	if c.Transfer.RetryCeiling < 1 {
		return fmt.Errorf("transfer.retry_ceiling must be positive")
	}
	if c.Transfer.BackoffBase > c.Transfer.BackoffMax {
		return fmt.Errorf("transfer.backoff_base exceeds backoff_max")
	}
	return nil
}
