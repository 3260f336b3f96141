package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/policymonitor"
	"github.com/eclipse-edc/Connector-sub001/transfer"
)

// envPrefix namespaces every environment override.
const envPrefix = "CONNECTOR_"

// Config is the connector binary configuration. It is read from a YAML
// file, then overridden from CONNECTOR_* environment variables.
type Config struct {
	Engine        connector.Config    `yaml:"engine" envPrefix:"ENGINE_"`
	Store         StoreConfig         `yaml:"store" envPrefix:"STORE_"`
	Dispatch      DispatchConfig      `yaml:"dispatch" envPrefix:"DISPATCH_"`
	Transfer      TransferConfig      `yaml:"transfer" envPrefix:"TRANSFER_"`
	PolicyMonitor PolicyMonitorConfig `yaml:"policy_monitor" envPrefix:"POLICY_MONITOR_"`
	Log           LogConfig           `yaml:"log" envPrefix:"LOG_"`
	Telemetry     TelemetryConfig     `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// StoreConfig selects and addresses the persistence backend.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, redis, mongo.
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN is the driver-specific address: a file path for sqlite, a
	// connection URL for postgres, redis and mongo.
	DSN string `yaml:"dsn" env:"DSN"`
	// Database names the mongo database.
	Database string `yaml:"database" env:"DATABASE"`
}

// DispatchConfig tunes the HTTP dispatcher.
type DispatchConfig struct {
	Protocol     string        `yaml:"protocol" env:"PROTOCOL"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxTries     uint          `yaml:"max_tries" env:"MAX_TRIES"`
	RetryInitial time.Duration `yaml:"retry_initial" env:"RETRY_INITIAL"`
	RetryMax     time.Duration `yaml:"retry_max" env:"RETRY_MAX"`
	// Rate is messages per second per counterparty. Zero disables it.
	Rate        float64 `yaml:"rate" env:"RATE"`
	Burst       int     `yaml:"burst" env:"BURST"`
	MaxInFlight int     `yaml:"max_in_flight" env:"MAX_IN_FLIGHT"`
}

// TransferConfig tunes transfer processes.
type TransferConfig struct {
	CheckInterval time.Duration `yaml:"check_interval" env:"CHECK_INTERVAL"`
}

// PolicyMonitorConfig tunes policy monitors.
type PolicyMonitorConfig struct {
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// LogConfig selects the root logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig enables OTLP trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	Insecure     bool   `yaml:"insecure" env:"INSECURE"`
	ServiceName  string `yaml:"service_name" env:"SERVICE_NAME"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Engine: connector.DefaultConfig(),
		Store:  StoreConfig{Driver: "sqlite", DSN: "connector.db", Database: "connector"},
		Dispatch: DispatchConfig{
			Protocol:     "dataspace-protocol-http",
			Timeout:      10 * time.Second,
			MaxTries:     3,
			RetryInitial: 200 * time.Millisecond,
			RetryMax:     5 * time.Second,
		},
		Transfer:      TransferConfig{CheckInterval: transfer.DefaultCheckInterval},
		PolicyMonitor: PolicyMonitorConfig{Interval: policymonitor.DefaultInterval},
		Log:           LogConfig{Level: "info", Format: "text"},
		Telemetry:     TelemetryConfig{ServiceName: "connector"},
	}
}

// LoadConfig reads path (optional) over the defaults, then applies
// environment overrides, then validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field, joined into one error.
func (c Config) Validate() error {
	var errs []error
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres", "redis":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store: dsn is required for driver %q", c.Store.Driver))
		}
	case "mongo":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store: dsn is required for driver \"mongo\""))
		}
		if c.Store.Database == "" {
			errs = append(errs, errors.New("store: database is required for driver \"mongo\""))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}

	if c.Dispatch.Protocol == "" {
		errs = append(errs, errors.New("dispatch: protocol is required"))
	}
	if c.Dispatch.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("dispatch: timeout must be positive, got %s", c.Dispatch.Timeout))
	}
	if c.Dispatch.MaxTries == 0 {
		errs = append(errs, errors.New("dispatch: max_tries must be positive"))
	}
	if c.Dispatch.Rate < 0 || c.Dispatch.Burst < 0 || c.Dispatch.MaxInFlight < 0 {
		errs = append(errs, errors.New("dispatch: rate, burst and max_in_flight must not be negative"))
	}
	if c.Transfer.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("transfer: check_interval must be positive, got %s", c.Transfer.CheckInterval))
	}
	if c.PolicyMonitor.Interval <= 0 {
		errs = append(errs, fmt.Errorf("policy_monitor: interval must be positive, got %s", c.PolicyMonitor.Interval))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log: format must be text or json, got %q", c.Log.Format))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", connector.ErrInvalidConfig, errors.Join(errs...))
}
