package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full formloop configuration document.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Backend     BackendConfig     `yaml:"backend" validate:"required"`
	Sequencer   SequencerConfig   `yaml:"sequencer,omitempty"`
	Logging     LoggingConfig     `yaml:"logging,omitempty"`
	Persistence PersistenceConfig `yaml:"persistence,omitempty"`
	Telemetry   TelemetryConfig   `yaml:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP ingress.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty" validate:"omitempty,hostname_port"`
}

// BackendConfig configures the plugin API client.
type BackendConfig struct {
	BaseURL        string   `yaml:"base_url" validate:"required,http_url"`
	RequestTimeout Duration `yaml:"request_timeout,omitempty" validate:"omitempty,min=0"`
	RetryMax       int      `yaml:"retry_max,omitempty" validate:"omitempty,min=0,max=10"`
}

// SequencerConfig tunes the evaluation cycle.
type SequencerConfig struct {
	// SettleDelay is the pause after a readiness signal before dynamic
	// values are fetched, letting dependent state stabilise.
	SettleDelay Duration `yaml:"settle_delay,omitempty" validate:"omitempty,min=0"`

	// SignalTimeout bounds the wait for a readiness signal so a missing
	// signal can never stall the queue forever.
	SignalTimeout Duration `yaml:"signal_timeout,omitempty" validate:"omitempty,min=0"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=auto json console"`
}

// PersistenceConfig enables snapshotting published state to disk.
type PersistenceConfig struct {
	// Path to the bbolt database file. Empty disables persistence.
	Path string `yaml:"path,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	// Endpoint of the OTLP gRPC collector. Empty disables tracing.
	Endpoint    string `yaml:"endpoint,omitempty" validate:"omitempty,hostname_port"`
	ServiceName string `yaml:"service_name,omitempty"`
}

// Duration wraps time.Duration so YAML accepts strings like "500ms".
type Duration time.Duration

// UnmarshalYAML decodes either a duration string or an integer number of
// seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// Std converts back to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults used when the document omits a value.
const (
	DefaultListenAddr     = "127.0.0.1:8787"
	DefaultSettleDelay    = 500 * time.Millisecond
	DefaultSignalTimeout  = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultRetryMax       = 2
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "auto"
	DefaultServiceName    = "formloop"
)

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Sequencer.SettleDelay == 0 {
		c.Sequencer.SettleDelay = Duration(DefaultSettleDelay)
	}
	if c.Sequencer.SignalTimeout == 0 {
		c.Sequencer.SignalTimeout = Duration(DefaultSignalTimeout)
	}
	if c.Backend.RequestTimeout == 0 {
		c.Backend.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.Backend.RetryMax == 0 {
		c.Backend.RetryMax = DefaultRetryMax
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}
