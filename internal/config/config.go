// Package config loads vtharness settings.
//
// Precedence is flags > environment > file > defaults. Flags are applied by
// the CLI after Load returns.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvEngine   = "VTHARNESS_ENGINE"
	EnvDB       = "VTHARNESS_DB"
	EnvProject  = "VTHARNESS_PROJECT"
	EnvDataset  = "VTHARNESS_DATASET"
	EnvParallel = "VTHARNESS_PARALLEL"
)

// Defaults.
const (
	DefaultEngine    = "sqlite"
	DefaultDBPath    = "vtharness.db"
	DefaultParallel  = 4
	DefaultBatchSize = 1000
)

// Config is the file format.
type Config struct {
	// Engine is "sqlite" or "bigquery".
	Engine string `yaml:"engine"`
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db"`
	// Project and Dataset locate BigQuery tables.
	Project string `yaml:"project"`
	Dataset string `yaml:"dataset"`
	// Parallel bounds concurrently running cases.
	Parallel int `yaml:"parallel"`
	// NoSuffix disables per-run table suffixes.
	NoSuffix bool `yaml:"no_suffix"`
	// MetricsOut is a Prometheus textfile written after a suite run.
	MetricsOut string `yaml:"metrics_out"`

	Pipeline PipelineConfig `yaml:"pipeline"`
}

// PipelineConfig tunes the local runner.
type PipelineConfig struct {
	BatchSize         int  `yaml:"batch_size"`
	OmitEmptyCalls    bool `yaml:"omit_empty_calls"`
	AllowIncompatible bool `yaml:"allow_incompatible"`
	ParallelFileReads int  `yaml:"parallel_file_reads"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Engine:   DefaultEngine,
		DBPath:   DefaultDBPath,
		Parallel: DefaultParallel,
		Pipeline: PipelineConfig{BatchSize: DefaultBatchSize},
	}
}

// Load reads path (optional when empty) over the defaults and applies
// environment overrides. The result is not validated, so callers can layer
// flags on top before calling Validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode rejects unknown keys. An empty file keeps the defaults.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvEngine); ok && v != "" {
		c.Engine = v
	}
	if v, ok := lookup(EnvDB); ok && v != "" {
		c.DBPath = v
	}
	if v, ok := lookup(EnvProject); ok && v != "" {
		c.Project = v
	}
	if v, ok := lookup(EnvDataset); ok && v != "" {
		c.Dataset = v
	}
	if v, ok := lookup(EnvParallel); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvParallel, v, err)
		}
		c.Parallel = n
	}
	return nil
}

// Validate checks the combined settings.
func (c *Config) Validate() error {
	switch c.Engine {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("engine sqlite requires db")
		}
	case "bigquery":
		if c.Project == "" || c.Dataset == "" {
			return fmt.Errorf("engine bigquery requires project and dataset")
		}
	default:
		return fmt.Errorf("unknown engine %q (want sqlite or bigquery)", c.Engine)
	}
	if c.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", c.Parallel)
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline.batch_size must be at least 1, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.ParallelFileReads < 0 {
		return fmt.Errorf("pipeline.parallel_file_reads must not be negative")
	}
	return nil
}
