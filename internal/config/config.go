// Package config handles converter configuration loading and management.
package config

import (
	"fmt"

	"github.com/Faultbox/stc2gii/pkg/formats"
)

// Config holds all converter settings.
type Config struct {
	Conversion ConversionConfig `yaml:"conversion"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ConversionConfig holds the scale factors and output encoding.
type ConversionConfig struct {
	ScaleValues      float64 `yaml:"scale_values"`      // Multiplier for time series values
	ScaleCoordinates float64 `yaml:"scale_coordinates"` // Multiplier for vertex coordinates, meters to mm by default
	Encoding         string  `yaml:"encoding"`          // GIFTI DataArray encoding
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Conversion: ConversionConfig{
			ScaleValues:      1.0,
			ScaleCoordinates: 1e3,
			Encoding:         string(formats.EncodingGZipBase64),
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// GIFTIEncoding returns the configured encoding, validated.
func (c *Config) GIFTIEncoding() (formats.GIFTIEncoding, error) {
	return formats.ParseGIFTIEncoding(c.Conversion.Encoding)
}

// Validate checks values that cannot be caught by YAML decoding.
func (c *Config) Validate() error {
	if _, err := c.GIFTIEncoding(); err != nil {
		return fmt.Errorf("conversion.encoding: %w", err)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	return nil
}
