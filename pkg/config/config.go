// Package config loads and validates the terravet application
// configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/terravet/terravet/pkg/policy"
	"github.com/terravet/terravet/pkg/stores"
	"github.com/terravet/terravet/pkg/telemetry"
)

// DefaultPath is where Load looks when no explicit path is given.
const DefaultPath = "terravet.yaml"

// Config is the top-level application configuration.
type Config struct {
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Store       StoreConfig       `yaml:"store"`
	Audit       AuditConfig       `yaml:"audit"`
	Remediation RemediationConfig `yaml:"remediation"`
	Policies    PoliciesConfig    `yaml:"policies"`
}

// TelemetryConfig mirrors the telemetry package configuration in YAML form.
type TelemetryConfig struct {
	Environment string `yaml:"environment" validate:"omitempty,oneof=development staging production"`

	Logging struct {
		Level        string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
		Format       string `yaml:"format" validate:"omitempty,oneof=console json"`
		Output       string `yaml:"output"`
		EnableCaller bool   `yaml:"enable_caller"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled      bool    `yaml:"enabled"`
		Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
		Endpoint     string  `yaml:"endpoint"`
		SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
		Insecure     bool    `yaml:"insecure"`
	} `yaml:"tracing"`

	Metrics struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listen_address"`
		Path          string `yaml:"path"`
	} `yaml:"metrics"`
}

// StoreConfig configures the SQLite-backed template store.
type StoreConfig struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

// AuditConfig holds defaults applied to every audit run.
type AuditConfig struct {
	Provider string `yaml:"provider" validate:"required"`
	Region   string `yaml:"region" validate:"required"`
	SkipCost bool   `yaml:"skip_cost"`
}

// RemediationConfig tunes fix planning.
type RemediationConfig struct {
	SuggestTimeout time.Duration `yaml:"suggest_timeout" validate:"gte=0"`
}

// PoliciesConfig controls which checks run.
type PoliciesConfig struct {
	// Disabled lists policy codes that are switched off.
	Disabled []string `yaml:"disabled"`

	// Paths lists extra policy files (Rego) loaded alongside the
	// built-in set.
	Paths []string `yaml:"paths"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}

	cfg.Telemetry.Environment = "development"
	cfg.Telemetry.Logging.Level = "info"
	cfg.Telemetry.Logging.Format = "console"
	cfg.Telemetry.Logging.Output = "stderr"
	cfg.Telemetry.Tracing.Exporter = "stdout"
	cfg.Telemetry.Tracing.SamplingRate = 1.0
	cfg.Telemetry.Tracing.Insecure = true
	cfg.Telemetry.Metrics.ListenAddress = ":9090"
	cfg.Telemetry.Metrics.Path = "/metrics"

	cfg.Store.Path = "terravet.db"

	cfg.Audit.Provider = "aws"
	cfg.Audit.Region = "us-east-1"

	return cfg
}

// Load reads the configuration at path, layered over defaults. An empty
// path falls back to DefaultPath; if that file does not exist the
// defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration using struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// TelemetrySettings converts the YAML form into the telemetry package's
// runtime configuration.
func (c *Config) TelemetrySettings(serviceVersion string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = serviceVersion
	tc.Environment = c.Telemetry.Environment

	tc.Logging.Level = c.Telemetry.Logging.Level
	tc.Logging.Format = c.Telemetry.Logging.Format
	tc.Logging.Output = c.Telemetry.Logging.Output
	tc.Logging.EnableCaller = c.Telemetry.Logging.EnableCaller

	tc.Tracing.Enabled = c.Telemetry.Tracing.Enabled
	tc.Tracing.Exporter = c.Telemetry.Tracing.Exporter
	tc.Tracing.Endpoint = c.Telemetry.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Telemetry.Tracing.SamplingRate
	tc.Tracing.Insecure = c.Telemetry.Tracing.Insecure

	tc.Metrics.Enabled = c.Telemetry.Metrics.Enabled
	tc.Metrics.ListenAddress = c.Telemetry.Metrics.ListenAddress
	tc.Metrics.Path = c.Telemetry.Metrics.Path

	return tc
}

// StoreSettings converts the YAML form into the store configuration.
func (c *Config) StoreSettings() stores.Config {
	return stores.Config{
		Path:            c.Store.Path,
		MaxOpenConns:    c.Store.MaxOpenConns,
		MaxIdleConns:    c.Store.MaxIdleConns,
		ConnMaxLifetime: c.Store.ConnMaxLifetime,
	}
}

// Activation builds the per-policy on/off map from the disabled list.
func (c *Config) Activation() policy.Activation {
	if len(c.Policies.Disabled) == 0 {
		return nil
	}
	act := policy.Activation{}
	for _, code := range c.Policies.Disabled {
		act[code] = false
	}
	return act
}
