// Package config holds the run configuration: defaults from IPCBENCH_*
// environment variables, overridden by command-line flags, then validated
// once before anything is created.
package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/pkg/shm"
	"github.com/srediag/ipcbench/pkg/transport"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "IPCBENCH"

// Limits enforced by Validate.
const (
	MaxWorkers = 1024
	MaxMsgSize = 1 << 20
	// MaxTrackedMessages bounds producers × messages, the bit count of each
	// consumer's seen set.
	MaxTrackedMessages = 1 << 30
)

// Execution modes.
const (
	ModeProcess   = "process"
	ModeGoroutine = "goroutine"
)

// Config is one benchmark run. It is immutable after Validate.
type Config struct {
	Producers    uint32         `envconfig:"PRODUCERS" default:"2" json:"producers"`
	Consumers    uint32         `envconfig:"CONSUMERS" default:"2" json:"consumers"`
	Messages     uint32         `envconfig:"MESSAGES" default:"10000" json:"messages_per_producer"`
	MsgSize      uint32         `envconfig:"MSG_SIZE" default:"32" json:"msg_size"`
	RingCapacity uint32         `envconfig:"SLOTS" default:"64" json:"ring_capacity"`
	Transport    transport.Kind `envconfig:"TRANSPORT" default:"shm" json:"transport"`
	Mode         string         `envconfig:"MODE" default:"process" json:"mode"`
	Checksum     bool           `envconfig:"CHECKSUM" default:"false" json:"checksum"`
	ShmDir       string         `envconfig:"SHM_DIR" json:"shm_dir,omitempty"`
	MetricsAddr  string         `envconfig:"METRICS_ADDR" json:"-"`
	LogLevel     string         `envconfig:"LOG_LEVEL" default:"warn" json:"log_level"`
	Verbose      bool           `envconfig:"VERBOSE" default:"false" json:"-"`
}

// Load reads the environment defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to load config: %w", api.ErrUsage, err)
	}
	return &cfg, nil
}

// Default returns the built-in defaults, ignoring the environment.
func Default() *Config {
	return &Config{
		Producers:    2,
		Consumers:    2,
		Messages:     10000,
		MsgSize:      32,
		RingCapacity: 64,
		Transport:    transport.KindShm,
		Mode:         ModeProcess,
		LogLevel:     "warn",
	}
}

// Validate checks the configuration. Every error wraps api.ErrUsage.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", api.ErrUsage, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Producers == 0 || c.Producers > MaxWorkers {
		return fmt.Errorf("producers must be in [1, %d], got %d", MaxWorkers, c.Producers)
	}
	if c.Consumers == 0 || c.Consumers > MaxWorkers {
		return fmt.Errorf("consumers must be in [1, %d], got %d", MaxWorkers, c.Consumers)
	}
	if c.Messages == 0 {
		return fmt.Errorf("messages per producer must be positive")
	}
	if total := uint64(c.Producers) * uint64(c.Messages); total > MaxTrackedMessages {
		return fmt.Errorf("producers × messages = %d exceeds %d", total, MaxTrackedMessages)
	}
	if c.MsgSize == 0 || c.MsgSize > MaxMsgSize {
		return fmt.Errorf("msg size must be in [1, %d], got %d", MaxMsgSize, c.MsgSize)
	}

	kind, err := transport.ParseKind(string(c.Transport))
	if err != nil {
		return err
	}
	c.Transport = kind
	switch kind {
	case transport.KindPipe:
		if err := transport.ValidateFrameSize(c.MsgSize); err != nil {
			return err
		}
	case transport.KindShm:
		if c.RingCapacity == 0 || c.RingCapacity > shm.MaxCapacity {
			return fmt.Errorf("ring capacity must be in [1, %d], got %d", shm.MaxCapacity, c.RingCapacity)
		}
	}

	switch mode := strings.ToLower(c.Mode); mode {
	case ModeProcess, ModeGoroutine:
		c.Mode = mode
	default:
		return fmt.Errorf("unknown mode %q (want process or goroutine)", c.Mode)
	}
	return nil
}

// Expected returns the number of real messages in the run.
func (c *Config) Expected() uint64 {
	return uint64(c.Producers) * uint64(c.Messages)
}
