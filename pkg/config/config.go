package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by Config.Backend.
const (
	BackendSim    = "sim"
	BackendSerial = "serial"
)

// DefaultFilename is looked up in the home directory when no path is given.
const DefaultFilename = ".gattsd.yaml"

// SerialConfig describes the UART used by the serialization backend.
type SerialConfig struct {
	Port        string        `yaml:"port" json:"port"`
	Baud        int           `yaml:"baud" json:"baud" default:"1000000"`
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout" default:"100ms"`
}

// Config holds application configuration
type Config struct {
	LogLevel        logrus.Level  `yaml:"log_level" json:"log_level"`
	Backend         string        `yaml:"backend" json:"backend" default:"sim"`
	OutputFormat    string        `yaml:"output_format" json:"output_format" default:"text"` // text, json, cbor
	Workers         int           `yaml:"workers" json:"workers" default:"1"`
	QueueDepth      int           `yaml:"queue_depth" json:"queue_depth" default:"64"`
	HistorySize     uint32        `yaml:"history_size" json:"history_size" default:"128"`
	ResponseTimeout time.Duration `yaml:"response_timeout" json:"response_timeout" default:"2s"`
	Serial          SerialConfig  `yaml:"serial" json:"serial"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path means
// ~/.gattsd.yaml, which may be absent.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	optional := path == ""
	if optional {
		path = "~/" + DefaultFilename
	}
	filename, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	blob, err := os.ReadFile(filename)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(blob, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return cfg, nil
}

// Validate checks the fields that have a closed set of values.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSim:
	case BackendSerial:
		if c.Serial.Port == "" {
			return fmt.Errorf("backend %q requires serial.port", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	switch c.OutputFormat {
	case "text", "json", "cbor":
	default:
		return fmt.Errorf("unknown output format %q", c.OutputFormat)
	}

	if c.Workers < 0 || c.QueueDepth < 0 {
		return fmt.Errorf("workers and queue_depth must not be negative")
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
