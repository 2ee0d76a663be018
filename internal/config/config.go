// Package config holds engine configuration: the YAML config file, the
// per-stage trace toggles read from the environment, and slog setup.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config is the engine configuration file.
type Config struct {
	// Workers bounds the fan-out width for per-source and per-column work.
	// Zero means runtime.GOMAXPROCS(0).
	Workers int `yaml:"workers"`

	// MaxRows caps each table's row slots. Zero means uncapped.
	MaxRows int `yaml:"max_rows"`

	// Journal is an optional SQLite path where completed rounds are recorded.
	Journal string `yaml:"journal,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{Workers: runtime.GOMAXPROCS(0)}
}

// Load reads a config file. Unknown fields are rejected so typos surface.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data on top of Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("max_rows must be >= 0, got %d", c.MaxRows)
	}
	return nil
}
